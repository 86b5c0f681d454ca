package serving

import "errors"

var (
	ErrNoSink           = errors.New("serving: no element sink configured")
	ErrNoHandler        = errors.New("serving: servlet has no handler")
	ErrNoMiddleware     = errors.New("serving: filter has no middleware")
	ErrInvalidPattern   = errors.New("serving: invalid servlet pattern")
	ErrRouteBuild       = errors.New("serving: router rebuild failed")
	ErrDuplicateElement = errors.New("serving: element name already installed")
)
