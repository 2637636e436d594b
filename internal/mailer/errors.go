package mailer

import "errors"

var (
	ErrNoRecipient = errors.New("email must have at least one recipient")
	ErrNoSubject   = errors.New("email must have a subject")
	ErrNoContent   = errors.New("email must have HTML content")
)
