package journal

const Schema = `
CREATE TABLE IF NOT EXISTS deals (
	run_id TEXT NOT NULL,
	deal_id INTEGER NOT NULL,
	order_id INTEGER NOT NULL,
	position_id INTEGER NOT NULL,
	symbol TEXT NOT NULL,
	time DATETIME NOT NULL,
	type TEXT NOT NULL,
	entry TEXT NOT NULL,
	price REAL NOT NULL,
	volume REAL NOT NULL,
	commission REAL NOT NULL,
	swap REAL NOT NULL,
	profit REAL NOT NULL,
	PRIMARY KEY (run_id, deal_id)
);

CREATE TABLE IF NOT EXISTS equity (
	run_id TEXT NOT NULL,
	time DATETIME NOT NULL,
	balance REAL NOT NULL,
	equity REAL NOT NULL,
	margin_used REAL NOT NULL,
	margin_free REAL NOT NULL,
	margin_level REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS backtest_runs (
	run_id TEXT PRIMARY KEY,
	created DATETIME NOT NULL,
	strategy TEXT NOT NULL,
	symbols TEXT NOT NULL,
	timeframe TEXT NOT NULL,
	dataset TEXT NOT NULL,
	config BLOB,
	start_time DATETIME NOT NULL,
	end_time DATETIME NOT NULL,
	trades INTEGER NOT NULL,
	wins INTEGER NOT NULL,
	losses INTEGER NOT NULL,
	start_balance REAL NOT NULL,
	end_balance REAL NOT NULL,
	net_profit REAL NOT NULL,
	return_pct REAL NOT NULL,
	win_rate REAL NOT NULL,
	profit_factor REAL NOT NULL,
	max_dd_pct REAL NOT NULL,
	sharpe REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_deals_time ON deals(time);
CREATE INDEX IF NOT EXISTS idx_equity_run_time ON equity(run_id, time);
`
