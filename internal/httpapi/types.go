// Package httpapi serves stored backtest runs, signals and cached daily bars
// as a read-only JSON API.
package httpapi

// MetricsJSON is the JSON representation of a run's performance metrics.
type MetricsJSON struct {
	InitialCapital   float64 `json:"initialCapital"`
	FinalValue       float64 `json:"finalValue"`
	TotalReturn      float64 `json:"totalReturn"`
	AnnualizedReturn float64 `json:"annualizedReturn"`
	Volatility       float64 `json:"volatility"`
	SharpeRatio      float64 `json:"sharpeRatio"`
	MaxDrawdown      float64 `json:"maxDrawdown"`
	TotalTrades      int     `json:"totalTrades"`
	WinTrades        int     `json:"winTrades"`
	LoseTrades       int     `json:"loseTrades"`
	WinRate          float64 `json:"winRate"`
	AvgWin           float64 `json:"avgWin"`
	AvgLoss          float64 `json:"avgLoss"`
	ProfitFactor     float64 `json:"profitFactor"`
	AvgHoldingDays   float64 `json:"avgHoldingDays"`
}

// RunJSON is one stored backtest run.
type RunJSON struct {
	ID          string      `json:"id"`
	Strategy    string      `json:"strategy"`
	Variant     string      `json:"variant,omitempty"`
	Status      string      `json:"status"`
	CreatedAt   string      `json:"createdAt"` // RFC 3339
	SignalCount int         `json:"signalCount"`
	Params      string      `json:"params,omitempty"` // YAML
	Metrics     MetricsJSON `json:"metrics"`
}

// RunsResponse is the response for the run listing.
type RunsResponse struct {
	Runs []RunJSON `json:"runs"`
}

// TradeJSON is one closed position. Dates are YYYY-MM-DD.
type TradeJSON struct {
	Symbol      string  `json:"symbol"`
	EntryDate   string  `json:"entryDate"`
	ExitDate    string  `json:"exitDate"`
	EntryPrice  float64 `json:"entryPrice"`
	ExitPrice   float64 `json:"exitPrice"`
	Quantity    int64   `json:"quantity"`
	ReturnPct   float64 `json:"returnPct"`
	HoldingDays int     `json:"holdingDays"`
	ExitReason  string  `json:"exitReason"`
	Profit      float64 `json:"profit"`
}

// TradesResponse is the trade log of one run.
type TradesResponse struct {
	RunID  string      `json:"runId"`
	Trades []TradeJSON `json:"trades"`
}

// EquityPointJSON is one day of the equity curve.
type EquityPointJSON struct {
	Date           string  `json:"date"`
	PortfolioValue float64 `json:"portfolioValue"`
	DailyReturn    float64 `json:"dailyReturn"`
}

// EquityResponse is the equity curve of one run.
type EquityResponse struct {
	RunID  string            `json:"runId"`
	Points []EquityPointJSON `json:"points"`
}

// SignalJSON is one stored entry signal.
type SignalJSON struct {
	Symbol         string  `json:"symbol"`
	Date           string  `json:"date"`
	TriggerDate    string  `json:"triggerDate"`
	TriggerPrice   float64 `json:"triggerPrice"`
	ReferencePrice float64 `json:"referencePrice"`
	VolumeRatio    float64 `json:"volumeRatio"`
}

// SignalsResponse lists the signals stored for a strategy.
type SignalsResponse struct {
	Strategy string       `json:"strategy"`
	Signals  []SignalJSON `json:"signals"`
}

// BarJSON is one cached daily bar. PctChange is null for an instrument's
// first bar; TurnoverRate is null when the source has no turnover.
type BarJSON struct {
	Date         string   `json:"date"`
	Open         float64  `json:"open"`
	High         float64  `json:"high"`
	Low          float64  `json:"low"`
	Close        float64  `json:"close"`
	Volume       int64    `json:"volume"`
	Amount       float64  `json:"amount"`
	PctChange    *float64 `json:"pctChange"`
	Amplitude    float64  `json:"amplitude"`
	TurnoverRate *float64 `json:"turnoverRate"`
}

// BarsResponse is the recent daily history of one instrument.
type BarsResponse struct {
	Symbol string    `json:"symbol"`
	Bars   []BarJSON `json:"bars"`
}
