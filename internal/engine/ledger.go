package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"limitup/internal/config"
	"limitup/internal/domain"
	"limitup/internal/util"
)

// Reasons an open request is rejected, and the error for closing an
// instrument that is not held.
var (
	ErrMaxPositions     = errors.New("max positions reached")
	ErrAlreadyOpen      = errors.New("position already open")
	ErrInvalidPrice     = errors.New("market price must be positive")
	ErrZeroQuantity     = errors.New("target notional buys less than one lot")
	ErrInsufficientCash = errors.New("insufficient cash")
	ErrNoPosition       = errors.New("no open position")
)

// Ledger is the cash account and open-position table of one backtest run.
// Open and Close are the only operations that move cash or positions. A
// Ledger is not safe for concurrent use; each run owns its own.
type Ledger struct {
	cfg       config.Backtest
	cash      float64
	positions map[string]*domain.Position
	prices    map[string]float64 // last known close per held symbol
	log       *slog.Logger
}

// NewLedger creates a ledger holding cfg.InitialCapital in cash.
func NewLedger(cfg config.Backtest, logger *slog.Logger) *Ledger {
	return &Ledger{
		cfg:       cfg,
		cash:      cfg.InitialCapital,
		positions: make(map[string]*domain.Position),
		prices:    make(map[string]float64),
		log:       util.OrDefault(logger),
	}
}

// Cash returns the uninvested balance.
func (l *Ledger) Cash() float64 { return l.cash }

// Len returns the number of open positions.
func (l *Ledger) Len() int { return len(l.positions) }

// Position returns a copy of the open position for symbol.
func (l *Ledger) Position(symbol string) (domain.Position, bool) {
	p, ok := l.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Symbols returns the held symbols in ascending order.
func (l *Ledger) Symbols() []string {
	out := make([]string, 0, len(l.positions))
	for sym := range l.positions {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Open buys a lot-rounded quantity of symbol sized at PositionSizeFraction of
// current cash. It reports false, leaving the ledger untouched, when the
// order is rejected.
func (l *Ledger) Open(symbol string, price float64, date time.Time) bool {
	pos, err := l.open(symbol, price, date)
	if err != nil {
		l.log.Debug("order rejected", "symbol", symbol, "date", date.Format(time.DateOnly), "reason", err)
		return false
	}
	l.log.Debug("opening position",
		"symbol", symbol,
		"date", date.Format(time.DateOnly),
		"price", pos.EntryPrice,
		"quantity", pos.Quantity,
		"cost", pos.Cost,
	)
	return true
}

func (l *Ledger) open(symbol string, price float64, date time.Time) (*domain.Position, error) {
	if len(l.positions) >= l.cfg.MaxPositions {
		return nil, ErrMaxPositions
	}
	if _, held := l.positions[symbol]; held {
		return nil, ErrAlreadyOpen
	}
	if price <= 0 {
		return nil, ErrInvalidPrice
	}

	target := l.cash * l.cfg.PositionSizeFraction
	exec := price * (1 + l.cfg.SlippageFraction)
	lots := math.Floor(target / exec / float64(l.cfg.LotSize))
	qty := int64(lots) * l.cfg.LotSize
	if qty <= 0 {
		return nil, ErrZeroQuantity
	}

	cost := exec * float64(qty) * (1 + l.cfg.CommissionFraction)
	if cost > l.cash {
		return nil, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, cost, l.cash)
	}

	l.cash -= cost
	pos := &domain.Position{
		Symbol:       symbol,
		EntryPrice:   exec,
		EntryDate:    domain.Date(date),
		Quantity:     qty,
		Cost:         cost,
		HighestPrice: exec,
	}
	l.positions[symbol] = pos
	l.prices[symbol] = price
	return pos, nil
}

// Close sells the whole position in symbol and returns the resulting trade.
func (l *Ledger) Close(symbol string, price float64, date time.Time, reason domain.ExitReason) (domain.Trade, error) {
	pos, ok := l.positions[symbol]
	if !ok {
		return domain.Trade{}, fmt.Errorf("closing %s: %w", symbol, ErrNoPosition)
	}

	exec := price * (1 - l.cfg.SlippageFraction)
	proceeds := exec * float64(pos.Quantity) * (1 - l.cfg.CommissionFraction)
	l.cash += proceeds

	trade := domain.Trade{
		Symbol:      symbol,
		EntryDate:   pos.EntryDate,
		ExitDate:    domain.Date(date),
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   exec,
		Quantity:    pos.Quantity,
		ReturnPct:   (exec - pos.EntryPrice) / pos.EntryPrice,
		HoldingDays: util.CalendarDays(pos.EntryDate, date),
		ExitReason:  reason,
		Profit:      proceeds - pos.Cost,
	}
	delete(l.positions, symbol)
	delete(l.prices, symbol)

	l.log.Debug("closing position",
		"symbol", symbol,
		"date", trade.ExitDate.Format(time.DateOnly),
		"reason", reason,
		"return_pct", trade.ReturnPct,
		"profit", trade.Profit,
	)
	return trade, nil
}

// Mark records the latest known close for a held symbol. Marks for symbols
// not held are ignored.
func (l *Ledger) Mark(symbol string, price float64) {
	if _, ok := l.positions[symbol]; ok {
		l.prices[symbol] = price
	}
}

// Review runs the risk controller against the held position in symbol at
// price, letting it update the position's peak and arming state.
func (l *Ledger) Review(symbol string, price float64, date time.Time, rc *RiskController) (Decision, error) {
	pos, ok := l.positions[symbol]
	if !ok {
		return Decision{}, fmt.Errorf("reviewing %s: %w", symbol, ErrNoPosition)
	}
	return rc.Evaluate(pos, price, date), nil
}

// Value returns cash plus every open position at its last known close.
// Positions are summed in symbol order so the result is reproducible.
func (l *Ledger) Value() float64 {
	v := l.cash
	for _, sym := range l.Symbols() {
		v += float64(l.positions[sym].Quantity) * l.prices[sym]
	}
	return v
}
