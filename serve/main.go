// Command ghostlined is the ghostline completion service.
// It listens on a Unix domain socket (or a TCP address) for suggestion
// requests from editors, gathers context, and returns AI-generated code.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/Paranoid-AF/ghostline"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "ghostlined",
		Usage:   "Serve inline code suggestions to editors",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Usage:   "log every request and response",
				Sources: cli.EnvVars("GHOSTLINE_VERBOSE"),
			},
			&cli.StringFlag{
				Name:    "socket",
				Usage:   "Unix socket path (default: config, then $XDG_RUNTIME_DIR/ghostline.sock)",
				Sources: cli.EnvVars("GHOSTLINE_SOCKET"),
			},
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "TCP address to listen on instead of a Unix socket, e.g. 127.0.0.1:7311",
				Sources: cli.EnvVars("GHOSTLINE_LISTEN"),
			},
		},
		Action: run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	level := slog.LevelInfo
	if cmd.Bool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := ghostline.LoadConfig()
	if err != nil {
		slog.Warn("failed to load config, using defaults", "error", err)
		cfg = ghostline.DefaultConfig()
	}
	for _, w := range ghostline.ValidateConfig(cfg) {
		slog.Warn("config", "warning", w)
	}

	network, address := listenAddress(cfg, cmd.String("socket"), cmd.String("listen"))
	slog.Info("starting", "network", network, "address", address)

	srv, err := NewServer(network, address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve() }()
	slog.Info("ready")

	select {
	case err := <-errCh:
		srv.Close()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		slog.Info("shutting down")
		srv.Close()
		return nil
	}
}

// listenAddress picks the listener: an explicit TCP address wins, then an
// explicit socket path, then the configured TCP address, then the resolved
// socket path.
func listenAddress(cfg *ghostline.Config, socket, listen string) (network, address string) {
	switch {
	case listen != "":
		return "tcp", listen
	case socket != "":
		return "unix", socket
	case cfg != nil && cfg.Service.Listen != "":
		return "tcp", cfg.Service.Listen
	default:
		return "unix", ghostline.ResolveSocketPath(cfg)
	}
}
