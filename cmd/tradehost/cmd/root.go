package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/tradehost/config"
	"github.com/rustyeddy/tradehost/internal/logging"
)

var (
	cfgFile  string
	logLevel string

	loader *config.Loader
	cfg    *config.Config
	log    = zerolog.Nop()
	logOut io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "tradehost",
	Short: "Host trading strategies against a backtest or a live terminal",
	Long: `Tradehost runs trading strategies on top of a broker that validates
every order the way a trade server does.

It provides tools for:
  - Backtesting strategies on historical bars (CSV, OANDA or Dukascopy)
  - Running strategies live through a terminal bridge or on paper
  - Journaling deals, equity curves and run summaries
  - Downloading OANDA candles or Dukascopy ticks to CSV

Settings come from --config (YAML, JSON or TOML) and TRADEHOST_* variables.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) {
		if logOut != nil {
			_ = logOut.Close()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: built-in defaults)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "trace, debug, info, warn or error")
}

// setup loads the configuration and the logger once flags are parsed.
// Flags a command marks with bindings override the file.
func setup(cmd *cobra.Command, _ []string) error {
	var err error
	loader, err = config.NewLoader(cfgFile)
	if err != nil {
		return err
	}
	v := loader.Viper()
	if logLevel != "" {
		v.Set("log.level", logLevel)
	}
	for key, name := range bindings[cmd] {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	if cfg, err = loader.Load(); err != nil {
		return err
	}
	log, logOut, err = logging.New(cfg.Log)
	return err
}

// bindings maps config keys to the flags that override them, per command.
var bindings = map[*cobra.Command]map[string]string{}

func bind(cmd *cobra.Command, key, flag string) {
	if bindings[cmd] == nil {
		bindings[cmd] = map[string]string{}
	}
	bindings[cmd][key] = flag
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
