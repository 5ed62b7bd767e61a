package cmd

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/chatrelay/cli/config"
	"github.com/pithecene-io/chatrelay/log"
	"github.com/pithecene-io/chatrelay/metrics"
	"github.com/pithecene-io/chatrelay/relay"
)

// ServeCommand returns the serve command, which runs the relay.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the relay HTTP server",
		Flags: []cli.Flag{
			ConfigFlag(),
			LogLevelFlag(),
			&cli.StringFlag{
				Name:  "listen",
				Usage: "Listen address (overrides relay.listen and PORT)",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid config: %v", err), exitConfigError)
	}
	setString(c, "listen", &cfg.Relay.Listen)

	logger, err := newLogger(c, cfg, "relay")
	if err != nil {
		return cli.Exit(err.Error(), exitConfigError)
	}
	defer logger.Sync()

	ln, err := net.Listen("tcp", cfg.Relay.Listen)
	if err != nil {
		return cli.Exit(fmt.Sprintf("listen %s: %v", cfg.Relay.Listen, err), exitFailure)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runServe(ctx, cfg, logger, ln); err != nil {
		return cli.Exit(fmt.Sprintf("relay failed: %v", err), exitFailure)
	}
	return nil
}

// runServe serves the relay on ln until ctx is done, then logs the final
// counters.
func runServe(ctx context.Context, cfg *config.Config, logger *log.Logger, ln net.Listener) error {
	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	relayCfg := cfg.RelayConfig()
	if err := relayCfg.Validate(); err != nil {
		// Requests fail until the variables are provided.
		logger.Warn("relay configuration incomplete", map[string]any{"error": err.Error()})
	}

	collector := metrics.NewCollector("relay", "", "")
	fwd := relay.NewForwarder(relayCfg, logger, collector)
	router := relay.NewRouter(relay.RouterConfig{Forwarder: fwd, Logger: logger})
	srv := relay.NewServer(ln.Addr().String(), router, logger, cfg.Relay.ShutdownTimeout.Duration)

	err := srv.Serve(ctx, ln)
	logger.Info("relay stopped", collector.Snapshot().Fields())
	return err
}
