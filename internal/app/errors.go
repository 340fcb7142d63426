package service

import "errors"

// Sentinel kinds for service errors.
var (
	ErrStorageConnect = errors.New("storage connect failed")
	ErrNotStarted     = errors.New("service not started")
	ErrUnknownDriver  = errors.New("unknown storage driver")
)
