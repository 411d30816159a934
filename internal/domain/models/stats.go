package models

import "time"

type DailyStats struct {
	Date          string  `json:"date"`
	TotalTrades   int     `json:"total_trades"`
	ClosedTrades  int     `json:"closed_trades"`
	OpenTrades    int     `json:"open_trades"`
	WinningTrades int     `json:"winning_trades"`
	LosingTrades  int     `json:"losing_trades"`
	WinRate       float64 `json:"win_rate"` // percent
	TotalPnL      float64 `json:"total_pnl"`
	AvgPnL        float64 `json:"avg_pnl"`
	BestTrade     *Trade  `json:"best_trade,omitempty"`
	WorstTrade    *Trade  `json:"worst_trade,omitempty"`
}

type StrategyStats struct {
	Strategy string `json:"strategy"`
	DailyStats
}

// PerformanceSummary covers the in-memory trade log.
type PerformanceSummary struct {
	TotalTrades  int     `json:"total_trades"`
	ClosedTrades int     `json:"closed_trades"`
	Wins         int     `json:"wins"`
	Losses       int     `json:"losses"`
	WinRate      float64 `json:"win_rate"` // fraction
	TotalPnL     float64 `json:"total_pnl"`
	AvgPnL       float64 `json:"avg_pnl"`
}

type TickReport struct {
	Started         time.Time         `json:"started"`
	Candidates      int               `json:"candidates"`
	Evaluated       int               `json:"evaluated"`
	Recommendations int               `json:"recommendations"`
	Opened          []Trade           `json:"opened"`
	Rejected        map[string]string `json:"rejected"`
	Errors          map[string]string `json:"errors"`
}

func NewTickReport(at time.Time) *TickReport {
	return &TickReport{
		Started:  at,
		Rejected: make(map[string]string),
		Errors:   make(map[string]string),
	}
}

type RebalanceReport struct {
	Started   time.Time         `json:"started"`
	Positions int               `json:"positions"`
	Closed    []Trade           `json:"closed"`
	Pending   []string          `json:"pending"`
	Errors    map[string]string `json:"errors"`
}

func NewRebalanceReport(at time.Time) *RebalanceReport {
	return &RebalanceReport{Started: at, Errors: make(map[string]string)}
}

type TrainingReport struct {
	Started  time.Time          `json:"started"`
	Symbols  int                `json:"symbols"`
	Samples  int                `json:"samples"`
	Trained  []string           `json:"trained"`
	Accuracy map[string]float64 `json:"accuracy"`
	Failed   map[string]string  `json:"failed"`
}

func NewTrainingReport(at time.Time) *TrainingReport {
	return &TrainingReport{
		Started:  at,
		Accuracy: make(map[string]float64),
		Failed:   make(map[string]string),
	}
}
