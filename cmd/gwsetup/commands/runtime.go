package commands

import (
	"context"
	"time"

	"github.com/openfroyo/gatewaysetup/pkg/config"
	"github.com/openfroyo/gatewaysetup/pkg/engine"
	"github.com/openfroyo/gatewaysetup/pkg/providers"
	"github.com/openfroyo/gatewaysetup/pkg/providers/aws"
	"github.com/openfroyo/gatewaysetup/pkg/providers/probe"
	"github.com/openfroyo/gatewaysetup/pkg/providers/shell"
	"github.com/openfroyo/gatewaysetup/pkg/telemetry"
)

// runtime is what every command needs after flags are parsed.
type runtime struct {
	cfg    *config.Config
	lookup func(string) (string, bool)
	tel    *telemetry.Telemetry
}

func (app *App) load(opts *globalOptions) (*runtime, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, exitWith(ExitInvalid, err)
	}
	if opts.logFormat != "" {
		cfg.Telemetry.LogFormat = opts.logFormat
	}

	tel, err := telemetry.New(cfg.TelemetryConfig(app.Version, opts.debug), app.Stderr)
	if err != nil {
		return nil, exitWith(ExitInvalid, engine.NewConfigurationError("invalid telemetry settings", err))
	}

	lookup, err := cfg.LookupEnv()
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, exitWith(ExitInvalid, err)
	}

	return &runtime{cfg: cfg, lookup: lookup, tel: tel}, nil
}

func (rt *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.tel.Shutdown(ctx); err != nil {
		rt.tel.Logger.WithError(err).Warn("failed to flush telemetry")
	}
}

// DefaultAdapters routes aws.* and s3.* to the AWS SDK, shell.* to local
// commands and endpoint.* to the probe adapter.
func DefaultAdapters(ctx context.Context, cfg *config.Config, lookup func(string) (string, bool)) (engine.ServiceAdapter, error) {
	awsAdapter, err := aws.New(ctx, aws.Options{
		Region:     cfg.AWS.Region,
		Profile:    cfg.AWS.Profile,
		S3Endpoint: cfg.AWS.S3Endpoint,
	})
	if err != nil {
		return nil, err
	}

	env := map[string]string{"AWS_REGION": cfg.AWS.Region}
	if cfg.AWS.Profile != "" {
		env["AWS_PROFILE"] = cfg.AWS.Profile
	}

	router := providers.NewRouter().
		MustRegister("aws", awsAdapter).
		MustRegister("s3", awsAdapter).
		MustRegister("shell", shell.New(shell.Options{Lookup: lookup, Env: env})).
		MustRegister("endpoint", probe.New())
	return router, nil
}
