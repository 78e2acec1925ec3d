package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"limitup/internal/domain"
	"limitup/internal/store"
	"limitup/internal/util"
)

const (
	defaultRunLimit    = 50
	defaultSignalLimit = 500
	defaultBarDays     = 120
	maxBarDays         = 500
)

// Server serves the results API.
type Server struct {
	runs   store.RunStore
	bars   store.BarStore
	market string
	log    *slog.Logger

	// Stored runs never change, so their headers are cached by id.
	cache sync.Map // id → RunJSON
}

// NewServer creates a Server over the given stores. bars may be nil, in
// which case the bar endpoint answers 404.
func NewServer(runs store.RunStore, bars store.BarStore, market string, logger *slog.Logger) *Server {
	return &Server{
		runs:   runs,
		bars:   bars,
		market: market,
		log:    util.OrDefault(logger),
	}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/runs", s.handleRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleRun)
	mux.HandleFunc("GET /api/runs/{id}/trades", s.handleTrades)
	mux.HandleFunc("GET /api/runs/{id}/equity", s.handleEquity)
	mux.HandleFunc("GET /api/signals/{strategy}", s.handleSignals)
	mux.HandleFunc("GET /api/bars/{symbol}", s.handleBars)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(w, r, "limit", defaultRunLimit)
	if !ok {
		return
	}
	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.fail(w, "listing runs", err)
		return
	}
	resp := RunsResponse{Runs: make([]RunJSON, 0, len(runs))}
	for i := range runs {
		resp.Runs = append(resp.Runs, convertRun(&runs[i]))
	}
	writeJSON(w, resp)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, run)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	trades, err := s.runs.ListTrades(r.Context(), run.ID)
	if err != nil {
		s.fail(w, "listing trades", err)
		return
	}
	resp := TradesResponse{RunID: run.ID, Trades: make([]TradeJSON, 0, len(trades))}
	for _, t := range trades {
		resp.Trades = append(resp.Trades, TradeJSON{
			Symbol:      t.Symbol,
			EntryDate:   t.EntryDate.Format(time.DateOnly),
			ExitDate:    t.ExitDate.Format(time.DateOnly),
			EntryPrice:  t.EntryPrice,
			ExitPrice:   t.ExitPrice,
			Quantity:    t.Quantity,
			ReturnPct:   t.ReturnPct,
			HoldingDays: t.HoldingDays,
			ExitReason:  string(t.ExitReason),
			Profit:      t.Profit,
		})
	}
	writeJSON(w, resp)
}

func (s *Server) handleEquity(w http.ResponseWriter, r *http.Request) {
	run, ok := s.lookup(w, r)
	if !ok {
		return
	}
	points, err := s.runs.ListEquity(r.Context(), run.ID)
	if err != nil {
		s.fail(w, "listing equity", err)
		return
	}
	resp := EquityResponse{RunID: run.ID, Points: make([]EquityPointJSON, 0, len(points))}
	for _, p := range points {
		resp.Points = append(resp.Points, EquityPointJSON{
			Date:           p.Date.Format(time.DateOnly),
			PortfolioValue: p.PortfolioValue,
			DailyReturn:    p.DailyReturn,
		})
	}
	writeJSON(w, resp)
}

func (s *Server) handleSignals(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.runs.(store.SignalStore)
	if !ok {
		writeError(w, http.StatusNotFound, "signals are not stored")
		return
	}
	limit, ok := intParam(w, r, "limit", defaultSignalLimit)
	if !ok {
		return
	}
	strategy := r.PathValue("strategy")
	signals, err := ss.ListSignals(r.Context(), strategy, limit)
	if err != nil {
		s.fail(w, "listing signals", err)
		return
	}
	resp := SignalsResponse{Strategy: strategy, Signals: make([]SignalJSON, 0, len(signals))}
	for _, sig := range signals {
		resp.Signals = append(resp.Signals, SignalJSON{
			Symbol:         sig.Symbol,
			Date:           sig.Date.Format(time.DateOnly),
			TriggerDate:    sig.TriggerDate.Format(time.DateOnly),
			TriggerPrice:   sig.TriggerPrice,
			ReferencePrice: sig.ReferencePrice,
			VolumeRatio:    sig.VolumeRatio,
		})
	}
	writeJSON(w, resp)
}

// handleBars returns the last ?days= bars (default 120, at most 500) up to
// ?end= (default today).
func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	if s.bars == nil {
		writeError(w, http.StatusNotFound, "bar cache not configured")
		return
	}
	symbol := strings.ToUpper(r.PathValue("symbol"))

	days, ok := intParam(w, r, "days", defaultBarDays)
	if !ok {
		return
	}
	days = min(days, maxBarDays)

	end := time.Now().UTC()
	if e := r.URL.Query().Get("end"); e != "" {
		t, err := time.Parse(time.DateOnly, e)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end date")
			return
		}
		end = t
	}

	bars, err := s.bars.ReadBars(r.Context(), symbol, s.market, time.Time{}, end)
	if err != nil {
		s.fail(w, "reading bars", err)
		return
	}
	if len(bars) > days {
		bars = bars[len(bars)-days:]
	}

	resp := BarsResponse{Symbol: symbol, Bars: make([]BarJSON, 0, len(bars))}
	for _, b := range bars {
		resp.Bars = append(resp.Bars, BarJSON{
			Date:         b.Date.Format(time.DateOnly),
			Open:         b.Open,
			High:         b.High,
			Low:          b.Low,
			Close:        b.Close,
			Volume:       b.Volume,
			Amount:       b.Amount,
			PctChange:    b.PctChange,
			Amplitude:    b.Amplitude,
			TurnoverRate: b.TurnoverRate,
		})
	}
	writeJSON(w, resp)
}

// lookup resolves the {id} path value to a stored run, writing a 404 when it
// does not exist.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (RunJSON, bool) {
	id := r.PathValue("id")
	if cached, ok := s.cache.Load(id); ok {
		return cached.(RunJSON), true
	}

	run, err := s.runs.GetRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run "+id+" not found")
		return RunJSON{}, false
	}
	if err != nil {
		s.fail(w, "loading run", err)
		return RunJSON{}, false
	}

	rj := convertRun(run)
	s.cache.Store(id, rj)
	return rj, true
}

func (s *Server) fail(w http.ResponseWriter, msg string, err error) {
	s.log.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, msg)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func convertRun(r *store.Run) RunJSON {
	return RunJSON{
		ID:          r.ID,
		Strategy:    r.Strategy,
		Variant:     r.Variant,
		Status:      r.Status,
		CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
		SignalCount: r.SignalCount,
		Params:      r.Params,
		Metrics:     convertMetrics(r.Metrics),
	}
}

func convertMetrics(m domain.Metrics) MetricsJSON {
	return MetricsJSON{
		InitialCapital:   m.InitialCapital,
		FinalValue:       m.FinalValue,
		TotalReturn:      m.TotalReturn,
		AnnualizedReturn: m.AnnualizedReturn,
		Volatility:       m.Volatility,
		SharpeRatio:      m.SharpeRatio,
		MaxDrawdown:      m.MaxDrawdown,
		TotalTrades:      m.TotalTrades,
		WinTrades:        m.WinTrades,
		LoseTrades:       m.LoseTrades,
		WinRate:          m.WinRate,
		AvgWin:           m.AvgWin,
		AvgLoss:          m.AvgLoss,
		ProfitFactor:     m.ProfitFactor,
		AvgHoldingDays:   m.AvgHoldingDays,
	}
}

// intParam parses a positive integer query parameter, writing a 400 when it
// is malformed.
func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		writeError(w, http.StatusBadRequest, "invalid "+name+" parameter")
		return 0, false
	}
	return n, true
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
