package main

import (
	"fmt"
	"os"

	"github.com/krisarmstrong/bacnet-go/pkg/config"
	"github.com/krisarmstrong/bacnet-go/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	validateVerbose bool
	validateJSON    bool
)

var validateCmd = &cobra.Command{
	Use:   "validate <config-file>",
	Short: "Validate a node configuration file",
	Long: `Validate a node configuration file for errors and warnings.

This command checks the device identity, datalink settings, address-cache
capacity, and static bindings for consistency.

Exit codes:
  0 - Configuration is valid
  1 - Configuration has errors`,
	Example: `  # Validate a configuration file
  bacnetd validate node.yaml

  # Verbose output with details
  bacnetd validate node.yaml --verbose

  # JSON output for CI/CD pipeline
  bacnetd validate node.yaml --json > validation-results.json

  # Use in a CI/CD script
  if bacnetd validate node.yaml; then
    echo "Config is valid, deploying..."
  else
    echo "Config validation failed!"
    exit 1
  fi`,
	Args: cobra.ExactArgs(1),
	Run:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVarP(&validateVerbose, "verbose", "v", false, "Show detailed validation information")
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Output validation results as JSON")
}

func runValidate(cmd *cobra.Command, args []string) {
	configFile := args[0]

	// Check if file exists
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		logging.Error("Configuration file not found: %s", configFile)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		logging.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	// Validate configuration
	validator := config.NewValidator(configFile)
	result := validator.Validate(cfg)

	// Output results
	if validateJSON {
		jsonOutput, err := result.ToJSON()
		if err != nil {
			logging.Error("Failed to generate JSON output: %v", err)
			os.Exit(1)
		}
		fmt.Println(jsonOutput)
	} else {
		if result.HasErrors() || result.HasWarnings() {
			fmt.Println(result.Format())
		} else {
			logging.Success("Configuration is valid: %s", configFile)
			if validateVerbose {
				fmt.Printf("\nDevice instance: %d (%s)\n", cfg.Device.Instance, cfg.Device.Name)
				fmt.Printf("Static bindings: %d\n", len(cfg.StaticBindings))
			}
		}
	}

	// Exit with appropriate code
	if !result.Valid {
		os.Exit(1)
	}
}
