package models

// Usage accrues token counts for one model call or the cumulative total
// across a session. Grounded on the teacher's internal/usage package, which
// tracked the same four counters for cost reporting.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
}

// Add accumulates another Usage delta in place.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheWriteTokens += other.CacheWriteTokens
}

// ModelPrice is the per-million-token price for one model, used by the
// Budget Tracker to turn a Usage delta into a USD cost delta.
type ModelPrice struct {
	InputPerMTok      float64 `yaml:"input_per_mtok"`
	OutputPerMTok     float64 `yaml:"output_per_mtok"`
	CacheReadPerMTok  float64 `yaml:"cache_read_per_mtok"`
	CacheWritePerMTok float64 `yaml:"cache_write_per_mtok"`
}

// CostUSD returns the USD cost of a Usage delta at this price.
func (p ModelPrice) CostUSD(u Usage) float64 {
	const mtok = 1_000_000.0
	return float64(u.InputTokens)*p.InputPerMTok/mtok +
		float64(u.OutputTokens)*p.OutputPerMTok/mtok +
		float64(u.CacheReadTokens)*p.CacheReadPerMTok/mtok +
		float64(u.CacheWriteTokens)*p.CacheWritePerMTok/mtok
}
