package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/conneroisu/larrix/internal/version"
	"github.com/spf13/cobra"
)

var (
	versionFormat   string
	versionShort    bool
	versionDetailed bool
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display the larrix version, commit, build time, Go version and platform.

Examples:
  larrix version                # Show version and commit
  larrix version --detailed     # Show every field
  larrix version --format json  # Output as JSON`,
	Args: cobra.NoArgs,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show the version number only")
	versionCmd.Flags().BoolVar(&versionDetailed, "detailed", false, "Show detailed version information")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	info := version.Get()
	out := cmd.OutOrStdout()

	switch versionFormat {
	case "json":
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding version: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	case "text":
		switch {
		case versionShort:
			_, err := fmt.Fprintln(out, info.Version)
			return err
		case versionDetailed:
			_, err := fmt.Fprintln(out, info.Detailed())
			return err
		default:
			_, err := fmt.Fprintln(out, info.Short())
			return err
		}
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", versionFormat)
	}
}
