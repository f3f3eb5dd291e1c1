package monitoring

import "errors"

// ErrUnknownTag indicates a tag with no configured thresholds.
var ErrUnknownTag = errors.New("monitoring: unknown tag")
