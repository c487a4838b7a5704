package repository

import "errors"

// Repository errors
var (
	// ErrUnknownDriver indicates an unsupported database driver was configured.
	ErrUnknownDriver = errors.New("unknown database driver")
)

// DefaultActionLogLimit is used when ListRecent is called without a positive limit.
const DefaultActionLogLimit = 20
