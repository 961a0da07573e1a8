package domain

// AssistantMetrics is the aggregated snapshot returned by
// GET /v1/metrics/assistant. Values are cumulative since process start.
type AssistantMetrics struct {
	TotalTurns          int64   `json:"total_turns"`
	ErrorRate           float64 `json:"error_rate"`
	AvgTokensPerTurn    float64 `json:"avg_tokens_per_turn"`
	EstimatedCostUsd    float64 `json:"estimated_cost_usd"`
	RetrievalCacheRate  float64 `json:"retrieval_cache_hit_rate"`
	OnboardingCompleted int64   `json:"onboarding_completed_total"`
	Period              string  `json:"period"`
}
