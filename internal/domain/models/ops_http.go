package models

// Requests for the operator HTTP endpoints.

type TradesQuery struct {
	From     string `query:"from" json:"from"`
	To       string `query:"to" json:"to"`
	Symbol   string `query:"symbol" json:"symbol" validate:"omitempty,max=16"`
	Status   string `query:"status" json:"status" validate:"omitempty,oneof=OPEN CLOSED"`
	Strategy string `query:"strategy" json:"strategy"`
	Side     string `query:"side" json:"side" validate:"omitempty,oneof=BUY SELL"`
}

type StatsQuery struct {
	Date     string `query:"date" json:"date" validate:"omitempty,datetime=2006-01-02"`
	Strategy string `query:"strategy" json:"strategy"`
}

type KnowledgeQuery struct {
	N int `query:"n" json:"n" default:"20" validate:"gte=1,lte=1000"`
}

type AnalyticsQuery struct {
	Symbol string `query:"symbol" json:"symbol" validate:"omitempty,max=16"`
	From   string `query:"from" json:"from"`
	To     string `query:"to" json:"to"`
	Limit  int    `query:"limit" json:"limit" default:"500" validate:"gte=1,lte=5000"`
}

type JobRequest struct {
	Name string `param:"name" json:"name" validate:"required,oneof=train trade rebalance"`
}
