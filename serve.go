package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/filevault/internal/audit"
	"github.com/tonimelisma/filevault/internal/auth"
	"github.com/tonimelisma/filevault/internal/config"
	"github.com/tonimelisma/filevault/internal/events"
	"github.com/tonimelisma/filevault/internal/server"
	"github.com/tonimelisma/filevault/internal/session"
	"github.com/tonimelisma/filevault/internal/transfer"
	"github.com/tonimelisma/filevault/internal/vault"
)

type serveFlags struct {
	port      int
	uploadDir string
	host      string
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the vault web server",
		Long: `Run the vault web server until interrupted.

If the config file does not exist and stdin is a terminal, the first-run
setup from "filevault init" runs before the server starts.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, serveOverrides(cmd, &flags))
		},
	}

	cmd.Flags().IntVar(&flags.port, "port", 0, "listen port (overrides PORT)")
	cmd.Flags().StringVar(&flags.uploadDir, "upload-dir", "", "vault directory (overrides UPLOAD_DIR)")
	cmd.Flags().StringVar(&flags.host, "host", "", "bind host (overrides HOST)")

	return cmd
}

// serveOverrides passes only flags the user explicitly set.
func serveOverrides(cmd *cobra.Command, flags *serveFlags) config.CLIOverrides {
	cli := config.CLIOverrides{ConfigPath: flagConfigPath}

	if cmd.Flags().Changed("port") {
		cli.Port = &flags.port
	}

	if cmd.Flags().Changed("upload-dir") {
		cli.UploadDir = &flags.uploadDir
	}

	if cmd.Flags().Changed("host") {
		cli.Host = &flags.host
	}

	return cli
}

func runServe(cmd *cobra.Command, cli config.CLIOverrides) error {
	env := config.ReadEnvOverrides()

	cfg, err := resolveOrSetup(cmd, env, cli)
	if err != nil {
		return err
	}

	logger := buildLogger(cfg)

	ctx, stop := shutdownContext(cmd.Context(), logger)
	defer stop()

	if cfg.PIDFile != "" {
		release, lockErr := lockPIDFile(cfg.PIDFile)
		if lockErr != nil {
			return lockErr
		}
		defer release()
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Addr(), err)
	}

	statusf(flagQuiet, "Serving %s on http://%s\n", cfg.UploadDir, ln.Addr())

	return a.run(ctx, ln)
}

// resolveOrSetup resolves config, running interactive setup first when the
// file is missing and a person is at the keyboard.
func resolveOrSetup(cmd *cobra.Command, env config.EnvOverrides, cli config.CLIOverrides) (*config.Config, error) {
	bootLogger := buildLogger(nil)

	cfg, err := config.Resolve(env, cli, bootLogger)
	if err == nil {
		return cfg, nil
	}

	if !errors.Is(err, config.ErrNoConfig) {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return nil, fmt.Errorf("%w (run \"filevault init\" to create one)", err)
	}

	path := config.ResolveConfigPath(env, cli)
	statusf(flagQuiet, "No config file at %s, starting first-run setup.\n", path)

	if err := runSetup(os.Stdin, cmd.OutOrStdout(), path, false); err != nil {
		return nil, err
	}

	cfg, err = config.Resolve(env, cli, bootLogger)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	return cfg, nil
}

// app holds the long-lived collaborators of a running server.
type app struct {
	server  *server.Server
	watcher *events.Watcher
	closers []io.Closer
	logger  *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	limiter := transfer.NewBandwidthLimiter(cfg.BandwidthBytesPerSec(), logger)
	sessions := session.NewStore(cfg.SessionTTL(), logger)
	engine := transfer.NewEngine(sessions, limiter, logger)

	v, err := vault.New(cfg.UploadDir, engine, logger)
	if err != nil {
		return nil, err
	}

	opts := server.Options{
		Vault:         v,
		Sessions:      sessions,
		Credentials:   auth.NewCredentials(cfg.Credentials),
		Cookies:       auth.NewCookieCodec(cfg.SecretKey, false),
		Logger:        logger,
		StaticDir:     cfg.StaticDir,
		MaxUploadSize: cfg.MaxUploadBytes(),
	}

	if cfg.AuditDB != "" {
		store, openErr := audit.Open(ctx, cfg.AuditDB, logger)
		if openErr != nil {
			return nil, openErr
		}

		a.closers = append(a.closers, store)
		opts.Audit = store
	}

	if cfg.WatchEvents {
		hub := events.NewHub(logger)
		opts.Hub = hub
		a.watcher = events.NewWatcher(v.Root(), hub, logger)
	}

	a.server, err = server.New(opts)
	if err != nil {
		a.Close()

		return nil, err
	}

	return a, nil
}

// run serves on ln and, when enabled, watches the vault until ctx is done.
func (a *app) run(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.server.Serve(gctx, ln) })

	if a.watcher != nil {
		g.Go(func() error {
			// Live updates are optional; a failed watch leaves the server up.
			if err := a.watcher.Run(gctx); err != nil {
				a.logger.Warn("live change events disabled", slog.String("error", err.Error()))
			}

			return nil
		})
	}

	return g.Wait()
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("closing resource", slog.String("error", err.Error()))
		}
	}
}
