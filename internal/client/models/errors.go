package models

import "fmt"

// ValidationError reports a malformed resource or write request. It is raised
// before any network call.
type ValidationError struct {
	Field string
	Msg   string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Msg
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SetupError reports that crypto state (the user's private key) has not been
// installed yet.
type SetupError struct {
	Msg string
	Err error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("setup error: %s: %v", e.Msg, e.Err)
	}
	return "setup error: " + e.Msg
}

func (e *SetupError) Unwrap() error { return e.Err }

// InvalidAttachmentPayloadError reports a downloaded full-size attachment
// whose content hash does not match the recorded one.
type InvalidAttachmentPayloadError struct {
	AttachmentID string
	Title        string
}

func (e *InvalidAttachmentPayloadError) Error() string {
	return fmt.Sprintf("attachment payload integrity check failed: id=%s title=%q", e.AttachmentID, e.Title)
}
