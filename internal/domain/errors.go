package domain

import "errors"

// ErrFatalConfiguration marks errors that make every further document fail the
// same way (missing or rejected credentials, unusable settings). A run that hits
// one must stop instead of skipping documents.
var ErrFatalConfiguration = errors.New("fatal configuration error")
