package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradehost/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate, validate or show configuration",
	Long: `Manage tradehost configuration files.

Subcommands:
  init     - Write a default configuration file
  validate - Load and check the configuration
  show     - Print the effective configuration as YAML

Examples:
  tradehost config init -o tradehost.yaml
  tradehost config validate -c tradehost.yaml
  TRADEHOST_ACCOUNT_BALANCE=5000 tradehost config show -c tradehost.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigValidate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitOutput string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "tradehost.yaml", "output config file path")
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	if err := config.Default().SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Created default configuration: %s\n", configInitOutput)
	fmt.Fprintln(out, "\nEdit the file and run with:")
	fmt.Fprintf(out, "  tradehost backtest -c %s\n", configInitOutput)
	return nil
}

// runConfigValidate only reports: setup already failed on a bad file.
func runConfigValidate(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	src := cfgFile
	if src == "" {
		src = "(defaults)"
	}
	fmt.Fprintf(out, "✓ Configuration valid: %s\n", src)
	fmt.Fprintf(out, "  Account:  %.2f %s, 1:%d\n", cfg.Account.Balance, cfg.Account.Currency, cfg.Account.Leverage)
	fmt.Fprintf(out, "  Strategy: %s on %v %s\n", cfg.Strategy.Name, cfg.Backtest.Symbols, cfg.Backtest.TimeFrame)
	fmt.Fprintf(out, "  Journal:  %s %s\n", cfg.Journal.Type, cfg.Journal.Path)
	return nil
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	data, err := config.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
