package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNoUser indicates the session has no reviewer attached.
	ErrNoUser = errors.New("no user")
	// ErrUserRequired indicates a set_user call without name or email.
	ErrUserRequired = errors.New("name and email required")
	// ErrInvalidEmail indicates an email address without a local part or domain.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrBadRow indicates a row number that cannot address the roster.
	ErrBadRow = errors.New("bad row")
	// ErrNotFound indicates the row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyCompleted indicates the row was submitted by someone else.
	ErrAlreadyCompleted = errors.New("already completed")
	// ErrLockedByOther indicates another reviewer holds the claim.
	ErrLockedByOther = errors.New("locked by another reviewer")
	// ErrNotSubmitted indicates an update for a row with no submission.
	ErrNotSubmitted = errors.New("not submitted")
	// ErrEmailMismatch indicates an update by someone other than the submitter.
	ErrEmailMismatch = errors.New("email mismatch")
	// ErrMissingOutcome indicates the prediction has no outcome selected.
	ErrMissingOutcome = errors.New("outcome is required")
	// ErrInvalidOutcome indicates an outcome other than 0 or 1.
	ErrInvalidOutcome = errors.New("outcome must be 0 or 1")
	// ErrMissingConfidence indicates the prediction has no confidence selected.
	ErrMissingConfidence = errors.New("confidence is required")
	// ErrInvalidConfidence indicates an unknown confidence label.
	ErrInvalidConfidence = errors.New("invalid confidence")
	// ErrInvalidSNOT22 indicates a SNOT-22 score outside 0-110.
	ErrInvalidSNOT22 = errors.New("snot22 must be between 0 and 110")
	// ErrInvalidClaimTTL indicates a negative claim lifetime.
	ErrInvalidClaimTTL = errors.New("claim ttl must not be negative")
	// ErrEmptyRoster indicates an import with no patient rows.
	ErrEmptyRoster = errors.New("roster has no rows")
)

// IsConflict reports whether err is a claim or ownership conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyCompleted) ||
		errors.Is(err, ErrLockedByOther) ||
		errors.Is(err, ErrNotSubmitted) ||
		errors.Is(err, ErrEmailMismatch)
}

// IsValidation reports whether err is a prediction or request validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrUserRequired) ||
		errors.Is(err, ErrInvalidEmail) ||
		errors.Is(err, ErrBadRow) ||
		errors.Is(err, ErrMissingOutcome) ||
		errors.Is(err, ErrInvalidOutcome) ||
		errors.Is(err, ErrMissingConfidence) ||
		errors.Is(err, ErrInvalidConfidence) ||
		errors.Is(err, ErrInvalidSNOT22) ||
		errors.Is(err, ErrEmptyRoster)
}
