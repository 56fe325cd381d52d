// Package cmd provides the larrix command-line interface.
//
// Configuration is read from larrix.yml in the working directory, the file
// named by --config, or the file named by LARRIX_CONFIG_FILE. Individual
// keys can be overridden with LARRIX_<SECTION>_<KEY> environment variables,
// for example LARRIX_SERVER_PORT=8080.
package cmd

import (
	"context"
	"io"
	"os"

	"github.com/conneroisu/larrix/internal/config"
	"github.com/conneroisu/larrix/internal/errors"
	"github.com/conneroisu/larrix/internal/logging"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "larrix",
	Short: "Build and live-reload browser extensions",
	Long: `Larrix builds browser extensions from a src directory and a project
descriptor, generating manifest.json and a distributable archive.

Quick Start:
  larrix init my-extension        Create a new project
  larrix dev                      Build, serve and live-reload
  larrix build                    Build dist and the zip archive`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is larrix.yml, can also use LARRIX_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error)")
}

// loadConfig reads the project configuration from the working directory.
func loadConfig() (*config.Config, error) {
	v := viper.New()
	config.Setup(v, cfgFile)
	return config.Load(afero.NewOsFs(), v)
}

// newLogger builds the structured logger for cfg. The --log-level flag wins
// over the configured level.
func newLogger(cfg *config.Config, out io.Writer) (logging.Logger, error) {
	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}
	parsed, err := logging.ParseLevel(level)
	if err != nil {
		return nil, errors.NewConfigError(errors.CodeConfigInvalid, "invalid log level", err)
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  parsed,
		Format: cfg.Logging.Format,
		Output: out,
	}), nil
}

func newReporter(out io.Writer, quiet bool) *logging.Reporter {
	return logging.NewReporter(out, quiet, colorEnabled(out))
}

func colorEnabled(out io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
