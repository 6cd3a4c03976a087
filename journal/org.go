package journal

import (
	"fmt"
	"io"
	"text/template"
	"time"
)

var orgFuncs = template.FuncMap{
	"orTime": func(t time.Time) time.Time {
		if t.IsZero() {
			return time.Now()
		}
		return t
	},
	"price": func(x float64) string { return fmt.Sprintf("%.5f", x) },
	"money": func(x float64) string { return fmt.Sprintf("%.2f", x) },
}

var orgTemplate = template.Must(template.New("run").Funcs(orgFuncs).Parse(`* BACKTEST: {{.Run.Strategy}} {{.Run.Symbols}} {{.Run.TimeFrame}}
:PROPERTIES:
:RUN_ID:      {{.Run.RunID}}
:STRATEGY:    {{.Run.Strategy}}
:TIMEFRAME:   {{.Run.TimeFrame}}
:SYMBOLS:     {{.Run.Symbols}}
:DATASET:     {{if .Run.Dataset}}{{.Run.Dataset}}{{else}}(dataset?){{end}}
:START_DATE:  {{.Run.Start.Format "2006-01-02"}}
:END_DATE:    {{.Run.End.Format "2006-01-02"}}
:START_BAL:   {{money .Run.StartBalance}}
:END_BAL:     {{money .Run.EndBalance}}
:NET_PROFIT:  {{money .Run.NetProfit}}
:RETURN_PCT:  {{money .Run.ReturnPct}}
:MAX_DD_PCT:  {{money .Run.MaxDDPct}}
:TRADES:      {{.Run.Trades}}
:WINS:        {{.Run.Wins}}
:LOSSES:      {{.Run.Losses}}
:PROFIT_FAC:  {{money .Run.ProfitFactor}}
:SHARPE:      {{printf "%.3f" .Run.Sharpe}}
:CREATED:     [{{(orTime .Run.Created).Format "2006-01-02 Mon 15:04"}}]
:END:
{{- if .Deals}}

** Deals
| Time | Deal | Position | Type | Entry | Volume | Price | Profit |
|------+------+----------+------+-------+--------+-------+--------|
{{- range .Deals}}
| {{.Time.UTC.Format "2006-01-02 15:04"}} | {{.DealID}} | {{.PositionID}} | {{.Type}} | {{.Entry}} | {{.Volume}} | {{price .Price}} | {{money .Profit}} |
{{- end}}
{{- end}}
`))

// WriteOrg renders r and its deals as an Org-mode block.
func WriteOrg(w io.Writer, r BacktestRun, deals []DealRecord) error {
	return orgTemplate.Execute(w, struct {
		Run   BacktestRun
		Deals []DealRecord
	}{r, deals})
}

// PrintRun writes a plain text summary of r.
func PrintRun(w io.Writer, r BacktestRun) {
	fmt.Fprintln(w, "==================================================")
	fmt.Fprintln(w, " Backtest Result")
	fmt.Fprintln(w, "==================================================")

	fmt.Fprintf(w, "Run ID:        %s\n", r.RunID)
	fmt.Fprintf(w, "Created:       %s\n", r.Created.Format(time.RFC3339))
	fmt.Fprintf(w, "Strategy:      %s\n", r.Strategy)
	fmt.Fprintf(w, "Symbols:       %s\n", r.Symbols)
	fmt.Fprintf(w, "Timeframe:     %s\n", r.TimeFrame)
	if r.Dataset != "" {
		fmt.Fprintf(w, "Dataset:       %s\n", r.Dataset)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Period")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start:         %s\n", r.Start.Format(time.RFC3339))
	fmt.Fprintf(w, "End:           %s\n", r.End.Format(time.RFC3339))

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Trade Statistics")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Trades:        %d\n", r.Trades)
	fmt.Fprintf(w, "Wins:          %d\n", r.Wins)
	fmt.Fprintf(w, "Losses:        %d\n", r.Losses)
	fmt.Fprintf(w, "Win Rate:      %.2f%%\n", r.WinRate)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Account Performance")
	fmt.Fprintln(w, "--------------------------------------------------")
	fmt.Fprintf(w, "Start Balance: %.2f\n", r.StartBalance)
	fmt.Fprintf(w, "End Balance:   %.2f\n", r.EndBalance)
	fmt.Fprintf(w, "Net Profit:    %.2f\n", r.NetProfit)
	fmt.Fprintf(w, "Return:        %.2f%%\n", r.ReturnPct)
	if r.ProfitFactor > 0 {
		fmt.Fprintf(w, "Profit Factor: %.2f\n", r.ProfitFactor)
	}
	if r.MaxDDPct > 0 {
		fmt.Fprintf(w, "Max Drawdown:  %.2f%%\n", r.MaxDDPct)
	}
	fmt.Fprintf(w, "Sharpe:        %.3f\n", r.Sharpe)
	fmt.Fprintln(w)
}
