package store

import "time"

// Run is the stored summary of one analysis run.
type Run struct {
	ID         string        `json:"id"`
	Dataset    string        `json:"dataset,omitempty"`
	Epsilon    float64       `json:"epsilon"`
	Iterations int           `json:"iterations"`
	Delta      float64       `json:"delta"`
	Converged  bool          `json:"converged"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Reviewers  int           `json:"reviewers"`
	Products   int           `json:"products"`
}

// QueryOpts holds filters for run listings.
type QueryOpts struct {
	Dataset       string
	OnlyConverged bool
	Since         time.Time
	Limit         int
}
