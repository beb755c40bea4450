package fraudeagle

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Reviewer is a user node. Its belief is derived on demand from the messages
// its products send it.
type Reviewer struct {
	graph *ReviewGraph
	name  string
}

// Name returns the reviewer's name.
func (r *Reviewer) Name() string { return r.name }

func (r *Reviewer) String() string {
	if r == nil {
		return "<nil>"
	}
	return r.name
}

// AnomalousScore returns the belief that r is a fraud:
//
//	b(y) = phi(y) * prod over reviewed products of m(p->r)(y)
//	score = b(fraud) / (b(honest) + b(fraud))
//
// computed in log space. A reviewer with no reviews scores 0.5.
func (r *Reviewer) AnomalousScore() float64 {
	var b [2]float64
	for _, l := range userLabels {
		b[l] = PhiU(l) + r.graph.prodMessageFromProducts(r, nil, l)
	}
	return math.Exp(b[Fraud] - floats.LogSumExp(b[:]))
}

// Product is a product node.
type Product struct {
	graph *ReviewGraph
	name  string
}

// Name returns the product's name.
func (p *Product) Name() string { return p.name }

func (p *Product) String() string {
	if p == nil {
		return "<nil>"
	}
	return p.name
}

// Summary returns the mean rating of p weighted by each reviewer's trust,
// 1 - AnomalousScore. When every weight is zero the plain mean is returned.
func (p *Product) Summary() (float64, error) {
	reviewers := p.graph.reviewersOf[p]
	if len(reviewers) == 0 {
		return 0, fmt.Errorf("summary of %s: %w", p.name, ErrNoReview)
	}
	ratings := make([]float64, len(reviewers))
	weights := make([]float64, len(reviewers))
	for i, r := range reviewers {
		ratings[i] = p.graph.reviews[edgeKey{r, p}].rating
		weights[i] = 1 - r.AnomalousScore()
	}
	if floats.Sum(weights) == 0 {
		return stat.Mean(ratings, nil), nil
	}
	return stat.Mean(ratings, weights), nil
}
