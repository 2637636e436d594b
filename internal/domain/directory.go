package domain

import "time"

// Directory rows are owned by the compliance application (users, teams,
// courses, checklists). The engine only reads them to resolve recipients.

// EducationDue is an incomplete safety-education assignment.
type EducationDue struct {
	UserID     string
	Email      string
	UserName   string
	CourseName string
	DueDate    time.Time
}

// TeamLeader is the leader of a team that has not recorded a toolbox
// meeting (TBM) for the day in question.
type TeamLeader struct {
	UserID   string
	Email    string
	UserName string
	TeamName string
}

// InspectionDue is an assigned checklist inspection not yet completed.
type InspectionDue struct {
	UserID        string
	Email         string
	UserName      string
	ChecklistName string
	DueDate       time.Time
}

// ApprovalPending is an approval request waiting on an approver.
type ApprovalPending struct {
	UserID        string
	Email         string
	UserName      string
	DocumentTitle string
	RequestedAt   time.Time
}
