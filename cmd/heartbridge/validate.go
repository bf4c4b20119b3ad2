package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/heartbridge"
	"github.com/jpalmerr/heartbridge/config"
)

// validateCmd validates a config file without starting the bridge.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a heartbridge configuration file without starting the bridge.

This command parses the YAML, expands environment variables, applies
defaults, and checks every option the bridge would be built with.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  heartbridge validate -c config.yaml
  heartbridge validate -c config.yaml --print`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	validateCmd.Flags().Bool("print", false, "print the effective configuration as YAML")
	_ = validateCmd.MarkFlagRequired("config")
}

func runValidate(cmd *cobra.Command, args []string) error {
	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// run the SDK validation too, so a file that loads but builds a bad
	// option is still rejected
	if _, err := heartbridge.New(config.BuildOptions(cfg, nil)...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	session := cfg.SessionID
	if session == "" {
		session = "(none, waiting for /api/session)"
	}

	fmt.Printf("Config is valid!\n")
	fmt.Printf("  Port:       %d\n", cfg.HTTPPort())
	fmt.Printf("  Session:    %s\n", session)
	fmt.Printf("  OSC target: %s:%d\n", cfg.OSC.Host, cfg.OSC.Port)
	fmt.Printf("  Cooldown:   %s\n", cfg.Cooldown())

	if printEffective, _ := cmd.Flags().GetBool("print"); printEffective {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		fmt.Printf("---\n%s", out)
	}

	return nil
}
