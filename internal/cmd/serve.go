package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/3leaps/hpbatch/internal/config"
	"github.com/3leaps/hpbatch/internal/observability"
	"github.com/3leaps/hpbatch/internal/server"
	"github.com/3leaps/hpbatch/internal/server/handlers"
	"github.com/3leaps/hpbatch/pkg/monitor"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the status server",
	Long: `Run an HTTP server exposing job status for dashboards and probes.

Endpoints:
  GET /health, /health/live, /health/ready, /health/startup
  GET /version
  GET /v1/summary?user=&prefix=&recent=
  GET /metrics

The server queries the scheduler on every /v1/summary request; nothing is
cached between requests.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveUser string

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("host", "localhost", "Address to listen on")
	f.Int("port", 8080, "Port to listen on (0 picks a free port)")
	f.StringVarP(&serveUser, "user", "u", "", "Default job owner for /v1/summary")
	f.String("prefix", monitor.DefaultPrefix, "Default job name filter for /v1/summary")

	_ = viper.BindPFlag("server.host", f.Lookup("host"))
	_ = viper.BindPFlag("server.port", f.Lookup("port"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := currentConfig()
	if err != nil {
		return err
	}

	prefix := cfg.Monitor.Prefix
	if f := cmd.Flags().Lookup("prefix"); f != nil && f.Changed {
		prefix = f.Value.String()
	}
	user, err := config.ResolveUser(serveUser, cfg)
	if err != nil {
		// Requests can still name ?user=.
		observability.CLILogger.Warn("No default user; /v1/summary requires ?user=", zap.Error(err))
		user = ""
	}

	client, err := newSchedulerClient(cfg)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid scheduler settings", err)
	}
	agg := monitor.New(client,
		monitor.WithRecentLimit(cfg.Monitor.Recent),
		monitor.WithLogger(observability.CLILogger))
	metrics := observability.DefaultMetrics()

	handlers.InitHealthManager(versionInfo.Version)
	registerHealthCheckers(handlers.GetHealthManager(), cfg, metrics)

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithSummary(agg, user, prefix),
		server.WithMetrics(metrics),
		server.WithLogger(observability.CLILogger),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout))

	observability.CLILogger.Info("Starting status server",
		zap.String("addr", srv.Addr()),
		zap.String("default_user", user),
		zap.String("default_prefix", prefix))

	if err := srv.Run(ctx, cfg.Server.ShutdownTimeout, nil); err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Status server failed", err)
	}
	return nil
}

func registerHealthCheckers(m *handlers.HealthManager, cfg *config.Config, metrics *observability.Metrics) {
	identity := GetAppIdentity()
	if identity == nil {
		identity = &AppIdentity{BinaryName: rootCmd.Name(), EnvPrefix: config.EnvPrefix, ConfigName: config.ConfigName}
	}
	m.RegisterChecker("identity", identityHealthChecker{
		binaryName: identity.BinaryName,
		envPrefix:  identity.EnvPrefix,
		configName: identity.ConfigName,
	})
	m.RegisterChecker("scheduler", binaryHealthChecker{
		binaries: []string{cfg.Scheduler.Squeue, cfg.Scheduler.Sacct},
		lookPath: exec.LookPath,
	})
	m.RegisterChecker("metrics", metricsHealthChecker{metrics: metrics})
}

type identityHealthChecker struct {
	binaryName string
	envPrefix  string
	configName string
}

func (c identityHealthChecker) CheckHealth(context.Context) error {
	switch {
	case c.binaryName == "":
		return errors.New("app identity missing binary name")
	case c.envPrefix == "":
		return errors.New("app identity missing env prefix")
	case c.configName == "":
		return errors.New("app identity missing config name")
	}
	return nil
}

// binaryHealthChecker fails when a scheduler command is not on PATH. It
// does not run the commands; /v1/summary does that per request.
type binaryHealthChecker struct {
	binaries []string
	lookPath func(string) (string, error)
}

func (c binaryHealthChecker) CheckHealth(ctx context.Context) error {
	var missing []string
	for _, b := range c.binaries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if strings.TrimSpace(b) == "" {
			continue
		}
		if _, err := c.lookPath(b); err != nil {
			missing = append(missing, b)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("scheduler commands not found: %s", strings.Join(missing, ", "))
	}
	return nil
}

type metricsHealthChecker struct {
	metrics *observability.Metrics
}

func (c metricsHealthChecker) CheckHealth(context.Context) error {
	if c.metrics == nil || c.metrics.Registry == nil {
		return errors.New("metrics registry not initialized")
	}
	if _, err := c.metrics.Registry.Gather(); err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	return nil
}
