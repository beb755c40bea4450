package fraudeagle

import "errors"

var (
	// ErrInvalidEpsilon is returned when epsilon is outside the open interval (0, 0.5).
	ErrInvalidEpsilon = errors.New("epsilon must be in (0, 0.5)")
	// ErrInvalidLabel is returned for a label value outside its domain.
	ErrInvalidLabel = errors.New("invalid label")
	// ErrInvalidRating is returned for a rating outside [0, 1].
	ErrInvalidRating = errors.New("rating must be in [0, 1]")
	// ErrNoReview is returned when a reviewer/product pair has no review.
	ErrNoReview = errors.New("no review")
	// ErrForeignNode is returned when a node is nil or belongs to another graph.
	ErrForeignNode = errors.New("node does not belong to this graph")
)
