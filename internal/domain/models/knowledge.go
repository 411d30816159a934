package models

import "time"

// KnowledgeEntry records what a specialist learned in one training run.
type KnowledgeEntry struct {
	Date         time.Time          `json:"date"`
	Specialist   string             `json:"specialist"`
	TopFeatures  map[string]float64 `json:"top_features"`
	TestAccuracy float64            `json:"test_accuracy"`
	Insight      string             `json:"insight"`
}

type Headline struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	Headline  string    `json:"headline"`
	Summary   string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

type SocialPost struct {
	Symbol    string    `json:"symbol"`
	Text      string    `json:"text"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
