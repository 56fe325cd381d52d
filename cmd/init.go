package cmd

import (
	"os"

	"github.com/conneroisu/larrix/internal/errors"
	"github.com/conneroisu/larrix/internal/logging"
	"github.com/conneroisu/larrix/internal/scaffold"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init <name>",
	Aliases: []string{"i"},
	Short:   "Create a new extension project",
	Long: `Create a new extension project in ./<name> with a background script,
a content script, a popup and a larrix.yml descriptor.

Examples:
  larrix init my-extension        # Create ./my-extension
  larrix init my-extension --force  # Overwrite existing files`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)

	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "Overwrite existing files")
}

func runInit(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errors.NewConfigError(errors.CodeConfigInvalid, "project name is required", nil)
	}
	dir, err := os.Getwd()
	if err != nil {
		return errors.NewFileSystemError(errors.CodeStageFailed, "resolving working directory", err)
	}

	level := logging.LevelInfo
	if logLevel != "" {
		if level, err = logging.ParseLevel(logLevel); err != nil {
			return errors.NewConfigError(errors.CodeConfigInvalid, "invalid log level", err)
		}
	}
	logger := logging.NewLogger(&logging.LoggerConfig{Level: level, Format: "text", Output: cmd.ErrOrStderr()})

	generator := scaffold.NewGenerator(afero.NewOsFs(), logger)
	_, err = generator.Init(commandContext(cmd), scaffold.Options{
		Name:     args[0],
		Dir:      dir,
		Force:    initForce,
		Reporter: newReporter(cmd.OutOrStdout(), false),
	})
	if err != nil {
		return err
	}

	report := newReporter(cmd.OutOrStdout(), false)
	report.Step("init", "Next steps:")
	report.Step("init", "  cd "+args[0])
	report.Step("init", "  larrix dev")
	return nil
}
