package whiteboard

import "errors"

// ErrUnknownContext is returned when a registration names a context that
// has no active model or serving context.
var ErrUnknownContext = errors.New("whiteboard: unknown context")
