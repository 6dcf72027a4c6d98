package models

// TokenUsage accumulates provider token counts across the iterations of a
// single request. Cached covers both cache reads and cache creation.
type TokenUsage struct {
	Input  int64 `json:"input"`
	Output int64 `json:"output"`
	Cached int64 `json:"cached"`
}

// Add accumulates another usage sample into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.Cached += other.Cached
}

// Total returns the combined token count.
func (u TokenUsage) Total() int64 {
	return u.Input + u.Output + u.Cached
}
