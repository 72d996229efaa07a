package cipher

import "errors"

// Sentinel cipher errors. ErrAuthenticationFailure deliberately carries no
// detail about why verification failed.
var (
	ErrNotInitialized        = errors.New("cipher: key not initialized")
	ErrAlreadyInitialized    = errors.New("cipher: key already initialized")
	ErrMalformedInput        = errors.New("cipher: sealed blob too short")
	ErrAuthenticationFailure = errors.New("cipher: message authentication failed")
	ErrInvalidEncoding       = errors.New("cipher: plaintext is not valid utf-8")
)
