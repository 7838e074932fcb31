package retriever

import "errors"

// ErrInvalidArgument marks caller mistakes (bad option values, refused modes)
// as opposed to backend failures. Wrap it with %w so callers can errors.Is.
var ErrInvalidArgument = errors.New("invalid argument")
