package memory

import "errors"

// ErrNotFound is returned when an update targets a missing record.
var ErrNotFound = errors.New("record not found")
