package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/conneroisu/larrix/internal/build"
	"github.com/conneroisu/larrix/internal/config"
	"github.com/conneroisu/larrix/internal/dev"
	"github.com/conneroisu/larrix/internal/errors"
	"github.com/conneroisu/larrix/internal/livereload"
	"github.com/conneroisu/larrix/internal/server"
	"github.com/conneroisu/larrix/internal/watcher"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 5 * time.Second

var devCmd = &cobra.Command{
	Use:     "dev",
	Aliases: []string{"d", "serve"},
	Short:   "Build, serve and live-reload the extension",
	Long: `Build the output directory without an archive, inject the live-reload
client into the background script, serve the output over HTTP and rebuild
on every change under src.

Examples:
  larrix dev                      # Serve on the configured host and port
  larrix dev --port 8080          # Serve on a specific port
  larrix dev --host 0.0.0.0       # Listen on all interfaces`,
	Args: cobra.NoArgs,
	RunE: runDev,
}

var (
	devPort int
	devHost string
)

func init() {
	rootCmd.AddCommand(devCmd)

	devCmd.Flags().IntVarP(&devPort, "port", "p", 0, "Port to listen on (default from config, 0 picks a free port when set explicitly)")
	devCmd.Flags().StringVar(&devHost, "host", "", "Host to bind to (default from config)")
}

// serverAddress applies the --host and --port flags over the configuration.
func serverAddress(flags *pflag.FlagSet, cfg *config.Config) (string, int, error) {
	host, port := cfg.Server.Host, cfg.Server.Port
	if flags.Changed("host") {
		host = devHost
	}
	if flags.Changed("port") {
		port = devPort
	}
	if host == "" {
		return "", 0, errors.NewConfigError(errors.CodeConfigInvalid, "host cannot be empty", nil)
	}
	if port < 0 || port > 65535 {
		return "", 0, errors.NewConfigError(errors.CodeConfigInvalid,
			fmt.Sprintf("port %d is out of range (0-65535)", port), nil)
	}
	return host, port, nil
}

func runDev(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	host, port, err := serverAddress(cmd.Flags(), cfg)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	report := newReporter(cmd.OutOrStdout(), false)

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fsys := afero.NewOsFs()
	hub := livereload.NewHub(logger)
	srv := server.New(server.Config{Host: host, Port: port, Root: cfg.Paths.Output}, fsys, hub, logger)

	// Bind first so the injected client points at the port actually in use.
	addr, err := srv.Listen()
	if err != nil {
		return errors.NewInternalError(errors.CodeServeFailed, "starting development server", err)
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}

	injector, err := livereload.NewInjector(fsys, livereload.EventsURL(host, port), logger)
	if err != nil {
		_ = srv.Shutdown(context.Background())
		return errors.NewInternalError(errors.CodeInjectFailed, "rendering live-reload client", err)
	}
	pipeline := build.NewPipeline(fsys, build.Project{
		Descriptor: cfg.Descriptor(),
		Source:     cfg.Paths.Source,
		Output:     cfg.Paths.Output,
	})
	session := dev.NewSession(fsys, pipeline, injector, hub, logger)

	report.NewLine()
	report.Step("dev", "Performing initial build...")
	if err := session.InitialBuild(ctx, build.Options{Reporter: report.Quiet(), Logger: logger}); err != nil {
		_ = srv.Shutdown(context.Background())
		return err
	}

	fw, err := watcher.NewFileWatcher(cfg.Paths.Source, logger)
	if err != nil {
		_ = srv.Shutdown(context.Background())
		return errors.NewFileSystemError(errors.CodeStageFailed, "watching source directory", err).WithPath(cfg.Paths.Source)
	}
	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		_ = srv.Shutdown(context.Background())
		return errors.NewFileSystemError(errors.CodeStageFailed, "watching source directory", err).WithPath(cfg.Paths.Source)
	}

	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		session.Run(ctx, fw.Events())
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start(ctx) }()

	report.Step("dev", "Watching for file changes in "+cfg.Paths.Source+" directory...")
	report.Step("dev", "Server running at http://"+net.JoinHostPort(host, strconv.Itoa(port)))
	report.NewLine()

	var result error
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			result = errors.NewInternalError(errors.CodeServeFailed, "development server stopped", err)
		}
	}

	report.NewLine()
	report.Step("dev", "Shutting down development server...")

	_ = fw.Stop()
	<-sessionDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && result == nil {
		result = errors.NewInternalError(errors.CodeServeFailed, "shutting down development server", err)
	}

	summary := session.Metrics().Snapshot()
	logger.Info(context.Background(), "Development session summary", summary.LogFields()...)
	if summary.Total > 0 {
		report.Step("dev", fmt.Sprintf("%d rebuilds, %d failed, average %s",
			summary.Total, summary.Failed, summary.AverageDuration.Round(time.Millisecond)))
	}

	report.Success("Development server stopped.")
	return result
}
