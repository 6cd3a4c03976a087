package cmd

import (
	"fmt"

	"github.com/rustyeddy/tradehost/backtest"
	"github.com/rustyeddy/tradehost/config"
	"github.com/rustyeddy/tradehost/dukascopy"
	"github.com/rustyeddy/tradehost/journal"
	"github.com/rustyeddy/tradehost/oanda"
)

func openJournal(c config.JournalConfig) (journal.Journal, error) {
	switch c.Type {
	case "sqlite":
		return journal.NewSQLite(c.Path)
	case "csv":
		return journal.NewCSV(c.Path)
	case "none":
		return journal.Nop{}, nil
	}
	return nil, fmt.Errorf("unknown journal type %q", c.Type)
}

func openSQLite() (*journal.SQLite, error) {
	if cfg.Journal.Type != "sqlite" {
		return nil, fmt.Errorf("journal queries need a sqlite journal, configured %q", cfg.Journal.Type)
	}
	return journal.NewSQLite(cfg.Journal.Path)
}

func oandaClient() (*oanda.Client, error) {
	practice, err := oanda.Environment(cfg.OANDA.Env)
	if err != nil {
		return nil, err
	}
	if cfg.OANDA.Token == "" {
		return nil, oanda.ErrMissingToken
	}
	return oanda.NewClient(cfg.OANDA.Token, practice,
		oanda.WithAccount(cfg.OANDA.AccountID),
		oanda.WithLogger(log.With().Str("component", "oanda").Logger()),
	), nil
}

func dukascopyClient() *dukascopy.Client {
	return dukascopy.NewClient(
		dukascopy.WithCache(cfg.Data.Cache),
		dukascopy.WithWorkers(cfg.Data.Workers),
		dukascopy.WithInstruments(cfg.InstrumentMap()),
		dukascopy.WithLogger(log.With().Str("component", "dukascopy").Logger()),
	)
}

// barLoader returns the bar source named source and a dataset label.
func barLoader(source string) (backtest.Loader, string, error) {
	switch source {
	case "dukascopy":
		return dukascopyClient(), "dukascopy", nil
	case "oanda":
		c, err := oandaClient()
		if err != nil {
			return nil, "", err
		}
		return c, "oanda:" + cfg.OANDA.Env, nil
	default:
		l := backtest.NewCSVLoader(cfg.Data.Dir)
		if cfg.Data.Pattern != "" {
			l.Pattern = cfg.Data.Pattern
		}
		return l, cfg.Data.Dir, nil
	}
}
