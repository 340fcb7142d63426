package repository

import (
	"time"
)

// Defaults shared by store implementations.
const (
	DefaultCollection       = "calculations"
	defaultOperationTimeout = 5 * time.Second
)

// Option configures a store.
type Option func(*settings)

type settings struct {
	collection string
	timeout    time.Duration
	now        func() time.Time
}

func newSettings(opts []Option) settings {
	s := settings{
		collection: DefaultCollection,
		timeout:    defaultOperationTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// WithCollection sets the collection name (Mongo only).
func WithCollection(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.collection = name
		}
	}
}

// WithOperationTimeout bounds each storage call.
func WithOperationTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// timestamp returns the current time truncated to what the document store
// keeps, so a record read back equals the one returned at creation.
func (s settings) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}
