package services

import "errors"

var (
	// ErrGenerating is the retryable signal: another request holds the
	// synthesis lock, or generation hit a transient failure. Callers answer
	// 202 with a retry hint, never a failure.
	ErrGenerating = errors.New("generating")

	// ErrNoSubject: no explicit subject, no subject state, no mapped interest.
	ErrNoSubject = errors.New("no subject resolved")

	// ErrNotReady: the subject has no curriculum mapping or synthesis
	// produced an empty path. Retryable after onboarding, not fatal.
	ErrNotReady = errors.New("learning path not ready")

	// ErrInvalidFormat: the generator returned output that does not decode
	// into a lesson. Transient; self-corrects on retry.
	ErrInvalidFormat = errors.New("generator returned invalid format")

	// ErrUsageLimit: upstream quota exhausted.
	ErrUsageLimit = errors.New("usage limit exceeded")
)
