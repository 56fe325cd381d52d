package cmd

import (
	"github.com/conneroisu/larrix/internal/build"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build dist and the extension archive",
	Long: `Rebuild the output directory from src, generate manifest.json and
write <name>-<version>.zip.

Examples:
  larrix build                    # Build dist and the archive
  larrix build --no-archive       # Only stage dist
  larrix build --output out       # Build to a specific output directory`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

var (
	buildOutput    string
	buildNoArchive bool
	buildQuiet     bool
)

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "Output directory (default from config)")
	buildCmd.Flags().BoolVar(&buildNoArchive, "no-archive", false, "Skip writing the zip archive")
	buildCmd.Flags().BoolVarP(&buildQuiet, "quiet", "q", false, "Suppress build output")
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	output := cfg.Paths.Output
	if buildOutput != "" {
		output = buildOutput
	}

	pipeline := build.NewPipeline(afero.NewOsFs(), build.Project{
		Descriptor:  cfg.Descriptor(),
		Source:      cfg.Paths.Source,
		Output:      output,
		ArchivePath: cfg.ArchivePath(),
	})
	ctx := commandContext(cmd)
	_, err = pipeline.Build(ctx, build.Options{
		Archive:  !buildNoArchive,
		Reporter: newReporter(cmd.OutOrStdout(), buildQuiet),
		Logger:   logger,
	})
	logger.Debug(ctx, "Build metrics", pipeline.Metrics().Snapshot().LogFields()...)
	return err
}
