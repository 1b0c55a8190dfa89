package exception

import "errors"

// Connection errors
var (
	ErrBootstrap        = errors.New("bootstrap: cannot obtain connection parameters")
	ErrConnectExhausted = errors.New("connect: attempts exhausted")
	ErrInResponseError  = errors.New("there is an error in response error field")
	ErrExtractorReused  = errors.New("extractor: extract already called")
	ErrMalformedFrame   = errors.New("extractor: malformed frame")
)
