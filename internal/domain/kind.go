package domain

import (
	"fmt"
	"strings"
)

// Kind is the closed set of notification types. Each kind maps to exactly one
// template and one recipient resolver.
type Kind string

const (
	KindEducationReminder  Kind = "EDUCATION_REMINDER"
	KindTBMReminder        Kind = "TBM_REMINDER"
	KindInspectionReminder Kind = "INSPECTION_REMINDER"
	KindApprovalReminder   Kind = "APPROVAL_REMINDER"
)

var allKinds = []Kind{
	KindEducationReminder,
	KindTBMReminder,
	KindInspectionReminder,
	KindApprovalReminder,
}

// Kinds returns all known kinds in a stable order.
func Kinds() []Kind {
	return append([]Kind(nil), allKinds...)
}

// ParseKind accepts the upper-case kind name (case-insensitive, surrounding
// whitespace ignored).
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	if k.Valid() {
		return k, nil
	}
	return "", fmt.Errorf("unknown notification kind %q", s)
}

func (k Kind) Valid() bool {
	for _, v := range allKinds {
		if k == v {
			return true
		}
	}
	return false
}

func (k Kind) String() string { return string(k) }
