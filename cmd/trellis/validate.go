package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/trellisdb/trellis/internal/cli"
	"github.com/trellisdb/trellis/pkg/model"
)

var validateModel string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate an application model",
	Long:  `Validate an application model file: attribute types, relation declarations and search filter paths.`,
	Example: `  # Validate a specific model file
  trellis validate --model models/crm.yaml

  # Validate using config file settings
  trellis validate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Resolve model path: flag > config > default
		modelPath := resolveString(validateModel, cfg.Model)

		if _, err := os.Stat(modelPath); err != nil {
			return cli.ModelParseError(fmt.Sprintf("model not found: %s", modelPath), nil)
		}

		app, err := model.LoadApplicationFile(modelPath)
		if err != nil {
			return cli.ModelParseError("parsing model", err)
		}

		if !quiet {
			fmt.Printf("Model is valid. Found %d entities:\n", len(app.Entities))
			for i := range app.Entities {
				e := &app.Entities[i]
				fmt.Printf("  - %s (%d attributes, %d relations)\n",
					e.Name, len(e.Attributes), len(app.RelationsOf(e.Name)))
			}
		}

		return nil
	},
}

func init() {
	validateCmd.Flags().StringVar(&validateModel, "model", "", "path to the application model file")
}
