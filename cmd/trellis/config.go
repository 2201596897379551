package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

var configShowSource bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration utilities",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long:  `Show the effective configuration after merging defaults, config file, and environment variables, and the application model file it points at.`,
	Example: `  # Show effective configuration
  trellis config show

  # Show where the config and model files were resolved from
  trellis config show --source`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configShowSource {
			if configPath != "" {
				fmt.Printf("Config file: %s\n", configPath)
			} else {
				fmt.Println("Config file: (none, using defaults)")
			}
			fmt.Printf("Model file:  %s\n\n", describeModelPath(cfg.Model))
		}

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

// describeModelPath resolves the configured model path to an absolute one
// and reports whether the file exists, so a misconfigured model location
// is visible before migrate or doctor trip over it.
func describeModelPath(path string) string {
	if path == "" {
		return "(not configured)"
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	if _, err := os.Stat(abs); err != nil {
		return abs + " (missing)"
	}
	return abs
}

func init() {
	configShowCmd.Flags().BoolVar(&configShowSource, "source", false, "show where config and model files were resolved from")
	configCmd.AddCommand(configShowCmd)
}
