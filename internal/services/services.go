package services

import (
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/tradebridge/internal/model"
)

// FundingManager tracks account funding.
type FundingManager struct {
	logger *slog.Logger
}

// NewFundingManager creates a FundingManager.
func NewFundingManager(logger *slog.Logger) *FundingManager {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "funding")
	logger.Info("funding manager initialized")
	return &FundingManager{logger: logger}
}

// RiskManager enforces risk limits.
type RiskManager struct {
	logger *slog.Logger
}

// NewRiskManager creates a RiskManager.
func NewRiskManager(logger *slog.Logger) *RiskManager {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "risk")
	logger.Info("risk manager initialized")
	return &RiskManager{logger: logger}
}

// EvaluationSystem scores strategy results.
type EvaluationSystem struct {
	logger *slog.Logger
}

// NewEvaluationSystem creates an EvaluationSystem.
func NewEvaluationSystem(logger *slog.Logger) *EvaluationSystem {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "evaluation")
	logger.Info("evaluation system initialized")
	return &EvaluationSystem{logger: logger}
}

// StrategyStats contains strategy manager counters.
type StrategyStats struct {
	MarketUpdates    int64
	StatusUpdates    int64
	LastSymbol       string
	LastStrategyID   string
	LastStrategyStat string
	LastUpdate       time.Time
}

// StrategyManager receives market data and strategy status reports.
type StrategyManager struct {
	logger *slog.Logger

	mu    sync.Mutex
	stats StrategyStats
}

// NewStrategyManager creates a StrategyManager.
func NewStrategyManager(logger *slog.Logger) *StrategyManager {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "strategy")
	logger.Info("strategy manager initialized")
	return &StrategyManager{logger: logger}
}

// OnMarketUpdate handles a market data quote.
func (s *StrategyManager) OnMarketUpdate(d model.MarketData) {
	s.mu.Lock()
	s.stats.MarketUpdates++
	s.stats.LastSymbol = d.Symbol
	s.stats.LastUpdate = time.Now()
	s.mu.Unlock()

	s.logger.Debug("market update",
		"symbol", d.Symbol,
		"bid", d.Bid,
		"ask", d.Ask,
	)
}

// OnStatusUpdate handles a strategy status report.
func (s *StrategyManager) OnStatusUpdate(r model.StatusReport) {
	s.mu.Lock()
	s.stats.StatusUpdates++
	s.stats.LastStrategyID = r.StrategyID
	s.stats.LastStrategyStat = r.Status
	s.stats.LastUpdate = time.Now()
	s.mu.Unlock()

	s.logger.Info("strategy status",
		"strategy_id", r.StrategyID,
		"status", r.Status,
		"message", r.Message,
	)
}

// Stats returns current counters.
func (s *StrategyManager) Stats() StrategyStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// PerformanceStats contains performance manager counters.
type PerformanceStats struct {
	MarketUpdates int64
	MaxSpread     float64
}

// PerformanceManager observes market data for performance tracking.
type PerformanceManager struct {
	logger *slog.Logger

	mu    sync.Mutex
	stats PerformanceStats
}

// NewPerformanceManager creates a PerformanceManager.
func NewPerformanceManager(logger *slog.Logger) *PerformanceManager {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "performance")
	logger.Info("performance manager initialized")
	return &PerformanceManager{logger: logger}
}

// OnMarketUpdate handles a market data quote.
func (p *PerformanceManager) OnMarketUpdate(d model.MarketData) {
	p.mu.Lock()
	p.stats.MarketUpdates++
	if spread := d.Spread(); spread > p.stats.MaxSpread {
		p.stats.MaxSpread = spread
	}
	p.mu.Unlock()

	p.logger.Debug("market update", "symbol", d.Symbol, "spread", d.Spread())
}

// Stats returns current counters.
func (p *PerformanceManager) Stats() PerformanceStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}
