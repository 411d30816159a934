package models

import "time"

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionHold Action = "HOLD"
)

// Vote is one specialist's opinion on one symbol.
type Vote struct {
	Specialist string  `json:"specialist"`
	Signal     int     `json:"signal"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale"`
	// Abstained marks a vote that carries no weight (failure, timeout).
	Abstained bool `json:"abstained,omitempty"`
}

// Recommendation is the ensemble's aggregated decision for a symbol.
type Recommendation struct {
	Symbol     string    `json:"symbol"`
	Signal     int       `json:"signal"`
	Confidence float64   `json:"confidence"`
	Action     Action    `json:"action"`
	Price      float64   `json:"price"`
	BuyVotes   int       `json:"buy_votes"`
	Responding int       `json:"responding"`
	Votes      []Vote    `json:"votes"`
	Time       time.Time `json:"time"`
}

func (r Recommendation) IsBuy() bool { return r.Action == ActionBuy }
