package campaign

import "errors"

var (
	ErrNotFound          = errors.New("campaign not found")
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid campaign status transition")
	ErrInvalidRequest    = errors.New("invalid discovery request")
)
