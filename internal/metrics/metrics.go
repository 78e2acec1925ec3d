// Package metrics reduces a run's trade log and equity curve to summary
// performance statistics.
package metrics

import (
	"math"

	"limitup/internal/config"
	"limitup/internal/domain"
)

// Compute returns the performance metrics of a completed run. An empty trade
// log yields a zero Metrics value. Degenerate inputs such as zero variance or
// no losing trades produce 0 for the affected metric.
func Compute(trades []domain.Trade, equity []domain.EquityPoint, cfg config.Backtest) domain.Metrics {
	if len(trades) == 0 {
		return domain.Metrics{}
	}

	m := domain.Metrics{
		InitialCapital: cfg.InitialCapital,
		FinalValue:     cfg.InitialCapital,
		TotalTrades:    len(trades),
	}
	if n := len(equity); n > 0 {
		m.FinalValue = equity[n-1].PortfolioValue
	}
	if cfg.InitialCapital > 0 {
		m.TotalReturn = (m.FinalValue - cfg.InitialCapital) / cfg.InitialCapital
	}

	periods := float64(cfg.TradingDaysPerYear)
	m.AnnualizedReturn = annualize(m.TotalReturn, len(equity), periods)

	returns := make([]float64, len(equity))
	for i, p := range equity {
		returns[i] = p.DailyReturn
	}
	m.Volatility, m.SharpeRatio = volatilityAndSharpe(returns, cfg.RiskFreeRate, periods)
	m.MaxDrawdown = MaxDrawdown(equity)

	var winSum, lossSum float64
	var holding int
	for _, t := range trades {
		if t.ReturnPct > 0 {
			m.WinTrades++
			winSum += t.ReturnPct
		} else {
			m.LoseTrades++
			lossSum += t.ReturnPct
		}
		holding += t.HoldingDays
	}
	m.WinRate = float64(m.WinTrades) / float64(m.TotalTrades)
	m.AvgHoldingDays = float64(holding) / float64(m.TotalTrades)
	if m.WinTrades > 0 {
		m.AvgWin = winSum / float64(m.WinTrades)
	}
	if m.LoseTrades > 0 {
		m.AvgLoss = lossSum / float64(m.LoseTrades)
	}
	if m.LoseTrades > 0 && m.AvgLoss != 0 {
		m.ProfitFactor = math.Abs(m.AvgWin/m.AvgLoss) * float64(m.WinTrades) / float64(m.LoseTrades)
	}
	return m
}

// annualize compounds total over points/periods years. A total loss of 100%
// or more annualizes to -1.
func annualize(total float64, points int, periods float64) float64 {
	if periods <= 0 {
		return 0
	}
	years := float64(points) / periods
	if years <= 0 {
		return 0
	}
	if total <= -1 {
		return -1
	}
	return math.Pow(1+total, 1/years) - 1
}

// volatilityAndSharpe annualizes the population standard deviation of the
// daily returns and the mean excess return over it.
func volatilityAndSharpe(returns []float64, riskFree, periods float64) (float64, float64) {
	if len(returns) < 2 {
		return 0, 0
	}
	scale := math.Sqrt(periods)

	_, sd := meanStd(returns)
	vol := sd * scale

	excess := make([]float64, len(returns))
	daily := riskFree / periods
	for i, r := range returns {
		excess[i] = r - daily
	}
	mean, esd := meanStd(excess)
	if esd == 0 {
		return vol, 0
	}
	return vol, mean / esd * scale
}

func meanStd(xs []float64) (float64, float64) {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))

	var ss float64
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return mean, math.Sqrt(ss / float64(len(xs)))
}

// MaxDrawdown returns the most negative fractional decline from a running
// peak of portfolio value. It is 0 for fewer than two points.
func MaxDrawdown(equity []domain.EquityPoint) float64 {
	if len(equity) < 2 {
		return 0
	}
	var peak, worst float64
	for i, p := range equity {
		if i == 0 || p.PortfolioValue > peak {
			peak = p.PortfolioValue
		}
		if peak <= 0 {
			continue
		}
		if dd := (p.PortfolioValue - peak) / peak; dd < worst {
			worst = dd
		}
	}
	return worst
}
