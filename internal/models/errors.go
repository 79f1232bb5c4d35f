package models

import "errors"

// Error taxonomy shared by the core. Wrap with fmt.Errorf("%w: ...") and test
// with errors.Is.
var (
	// ErrValidation marks missing or out-of-range identifiers and inputs.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an absent plant, plan, action, disease or token.
	ErrNotFound = errors.New("not found")
	// ErrUpstreamUnavailable marks a forecast or generation call that failed.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrGenerationMalformed marks generated output that failed structural validation.
	ErrGenerationMalformed = errors.New("generation malformed")
	// ErrTokenExpired marks a completion token past its expiry.
	ErrTokenExpired = errors.New("completion token expired")
	// ErrTokenAlreadyUsed marks a completion token that was already redeemed.
	ErrTokenAlreadyUsed = errors.New("completion token already used")
)
