package platform

import "log/slog"

// Options holds construction dependencies.
type Options struct {
	Config *Config
	Logger *slog.Logger
}

// Option configures platform construction.
type Option func(*Options)

// WithConfig sets the configuration.
func WithConfig(cfg *Config) Option {
	return func(o *Options) { o.Config = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}
