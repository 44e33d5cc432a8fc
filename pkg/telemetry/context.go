package telemetry

import (
	"context"
	"errors"
	"io"
)

// Telemetry bundles the logger, tracer, metrics and progress events of
// one process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

// New creates a telemetry bundle. Logs go to logOut when it is non-nil,
// otherwise to cfg.Logging.Output.
func New(cfg *Config, logOut io.Writer) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		logger *Logger
		err    error
	)
	if logOut != nil {
		logger = NewLoggerWithWriter(cfg.Logging, logOut)
	} else {
		logger, err = NewLogger(cfg.Logging)
		if err != nil {
			return nil, err
		}
	}

	tracer, err := NewTracerWithWriter(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, logOut)
	if err != nil {
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: NewMetrics(cfg.Metrics),
		Events:  NewEventPublisher(cfg.Events),
		Config:  cfg,
	}, nil
}

// Nop returns a bundle that records nothing. Events are delivered
// synchronously so subscribers can still observe them.
func Nop() *Telemetry {
	return &Telemetry{
		Logger:  NewNopLogger(),
		Tracer:  NewNopTracer(),
		Metrics: &Metrics{},
		Events:  NewEventPublisher(EventsConfig{Enabled: true}),
		Config:  DefaultConfig(),
	}
}

// WithContext adds the logger to the context.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(ctx)
}

// Shutdown flushes spans and writes the metrics textfile.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Tracer.Shutdown(ctx),
		t.Metrics.WriteTextfile(),
	)
}
