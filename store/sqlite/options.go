package sqlite

import "log/slog"

type options struct {
	logger *slog.Logger
}

type Option func(*options)

// WithLogger sets the logger used while opening and migrating.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}
