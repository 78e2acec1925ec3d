package engine

import (
	"math"
	"time"

	"limitup/internal/config"
	"limitup/internal/domain"
	"limitup/internal/util"
)

// RiskState is the per-position exit state.
type RiskState int

const (
	StateActive RiskState = iota
	StateArmed
	StateClosed
)

func (s RiskState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateArmed:
		return "armed"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Decision is the outcome of one daily risk evaluation. Reason is set only
// when State is StateClosed.
type Decision struct {
	State  RiskState
	Reason domain.ExitReason
}

// Exit reports whether the position must be closed today.
func (d Decision) Exit() bool { return d.State == StateClosed }

// RiskController decides each day whether an open position exits. Rules are
// checked in priority order and the first match wins:
//
//   - stop-loss: return at or below StopLossPct.
//   - take-profit: once return has reached TakeProfitTriggerPct, a pullback
//     from the peak of at least |TakeProfitFallbackPct|.
//   - time-stop: held for MaxHoldingDays calendar days or more.
type RiskController struct {
	stopLoss float64
	trigger  float64
	fallback float64
	maxHold  int
}

// NewRiskController creates a RiskController from the backtest parameters.
func NewRiskController(cfg config.Backtest) *RiskController {
	return &RiskController{
		stopLoss: cfg.StopLossPct,
		trigger:  cfg.TakeProfitTriggerPct,
		fallback: math.Abs(cfg.TakeProfitFallbackPct),
		maxHold:  cfg.MaxHoldingDays,
	}
}

// Evaluate updates pos with the day's closing price and returns the decision.
// It raises HighestPrice and sets TakeProfitArmed; it never clears either.
func (rc *RiskController) Evaluate(pos *domain.Position, price float64, date time.Time) Decision {
	if price > pos.HighestPrice {
		pos.HighestPrice = price
	}

	ret := (price - pos.EntryPrice) / pos.EntryPrice
	if ret <= rc.stopLoss {
		return Decision{State: StateClosed, Reason: domain.ExitStopLoss}
	}

	if ret >= rc.trigger {
		pos.TakeProfitArmed = true
	}
	if pos.TakeProfitArmed {
		drawdown := (pos.HighestPrice - price) / pos.HighestPrice
		if drawdown >= rc.fallback {
			return Decision{State: StateClosed, Reason: domain.ExitTakeProfit}
		}
	}

	if util.CalendarDays(pos.EntryDate, date) >= rc.maxHold {
		return Decision{State: StateClosed, Reason: domain.ExitTimeStop}
	}

	if pos.TakeProfitArmed {
		return Decision{State: StateArmed}
	}
	return Decision{State: StateActive}
}
