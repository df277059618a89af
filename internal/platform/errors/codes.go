package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Token errors
	CodeTokenInvalid          Code = "TOKEN_INVALID"
	CodeTokenMissingNoteClaim Code = "TOKEN_MISSING_NOTE_CLAIM"
	CodeTokenScopeMismatch    Code = "TOKEN_SCOPE_MISMATCH"

	// Admission errors
	CodeAdmissionMissingNoteID    Code = "ADMISSION_MISSING_NOTE_ID"
	CodeAdmissionMissingToken     Code = "ADMISSION_MISSING_TOKEN"
	CodeAdmissionCapacityExceeded Code = "ADMISSION_CAPACITY_EXCEEDED"

	// Session errors
	CodeSessionClosed       Code = "SESSION_CLOSED"
	CodeParticipantNotFound Code = "PARTICIPANT_NOT_FOUND"
	CodeCursorInvalid       Code = "CURSOR_INVALID"

	// Storage errors
	CodeNotFound           Code = "NOT_FOUND"
	CodeStorageUnavailable Code = "STORAGE_UNAVAILABLE"
)
