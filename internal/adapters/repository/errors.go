package repository

import (
	"errors"
	"fmt"
)

// Sentinel kinds for repository errors.
var (
	ErrNotFound     = errors.New("calculation not found")
	ErrStorage      = errors.New("storage failure")
	ErrInvalidLimit = errors.New("invalid list limit")
)

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
