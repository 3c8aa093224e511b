package models

import "errors"

// Error taxonomy. Validation and not-found errors surface to the caller and
// are never retried; conflicts are treated as successful no-ops by the
// operations that can raise them; anything else is assumed transient and
// safe to retry under the idempotency guarantees.
var (
	ErrInvalidKind           = errors.New("unsupported job kind")
	ErrMissingIdempotencyKey = errors.New("idempotency key is required")
	ErrInvalidStage          = errors.New("stage not in allow-list")
	ErrCaseNotFound          = errors.New("enforcement case not found")
	ErrJobNotFound           = errors.New("job not found")
	ErrTaskNotFound          = errors.New("task not found")
	ErrMissingPlaintiff      = errors.New("case has no associated plaintiff")
	ErrInvalidOutcome        = errors.New("unsupported call outcome")
)
