// Package fraudeagle implements the Fraud Eagle algorithm: loopy belief
// propagation over a bipartite reviewer/product graph that estimates, for
// each reviewer, the probability of being a fraud and, for each product, a
// trust-weighted rating summary.
//
// A ReviewGraph is not safe for concurrent use. Build it, call Update until
// the returned delta is small enough, then read scores and summaries.
package fraudeagle

import (
	"fmt"
	"log/slog"
	"math"
)

// Option configures a ReviewGraph.
type Option func(*ReviewGraph)

// WithLogger sets the logger used for per-update diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(g *ReviewGraph) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithWorkers spreads the per-edge computations of each phase over n
// goroutines. Values below 2 keep the engine sequential.
func WithWorkers(n int) Option {
	return func(g *ReviewGraph) {
		if n > 1 {
			g.workers = n
		} else {
			g.workers = 1
		}
	}
}

type edgeKey struct {
	reviewer *Reviewer
	product  *Product
}

type reviewerLabel struct {
	reviewer *Reviewer
	label    UserLabel
}

type productLabel struct {
	product *Product
	label   ProductLabel
}

// ReviewGraph is the bipartite graph of reviewers, products and reviews
// together with the hyperparameter epsilon.
type ReviewGraph struct {
	epsilon float64
	workers int
	logger  *slog.Logger

	// logPsi[review][user][product] = log(psi(user, product, review, epsilon))
	logPsi [2][2][2]float64

	reviewers   []*Reviewer
	products    []*Product
	reviews     map[edgeKey]*Review
	productsOf  map[*Reviewer][]*Product
	reviewersOf map[*Product][]*Reviewer

	// Sums of incoming log messages per node and label, filled lazily and
	// cleared whenever a message changes.
	fromProducts map[reviewerLabel]float64
	fromUsers    map[productLabel]float64
}

// New returns an empty graph. epsilon must lie in the open interval (0, 0.5);
// it is never clamped.
func New(epsilon float64, opts ...Option) (*ReviewGraph, error) {
	if !validEpsilon(epsilon) {
		return nil, fmt.Errorf("new review graph: %w, got %v", ErrInvalidEpsilon, epsilon)
	}
	g := &ReviewGraph{
		epsilon:      epsilon,
		workers:      1,
		logger:       slog.New(slog.DiscardHandler),
		reviews:      make(map[edgeKey]*Review),
		productsOf:   make(map[*Reviewer][]*Product),
		reviewersOf:  make(map[*Product][]*Reviewer),
		fromProducts: make(map[reviewerLabel]float64),
		fromUsers:    make(map[productLabel]float64),
	}
	for _, r := range [...]ReviewLabel{Plus, Minus} {
		for _, u := range userLabels {
			for _, p := range productLabels {
				g.logPsi[r][u][p] = math.Log(psi(u, p, r, epsilon))
			}
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Epsilon returns the hyperparameter the graph was built with.
func (g *ReviewGraph) Epsilon() float64 { return g.epsilon }

// NewReviewer adds a reviewer. Names are not required to be unique: every
// call creates a distinct node.
func (g *ReviewGraph) NewReviewer(name string) *Reviewer {
	r := &Reviewer{graph: g, name: name}
	g.reviewers = append(g.reviewers, r)
	return r
}

// NewProduct adds a product. Every call creates a distinct node.
func (g *ReviewGraph) NewProduct(name string) *Product {
	p := &Product{graph: g, name: name}
	g.products = append(g.products, p)
	return p
}

// AddReview adds a review from r to p with a rating in [0, 1]. A second review
// for the same pair replaces the first one, messages included.
func (g *ReviewGraph) AddReview(r *Reviewer, p *Product, rating float64) (*Review, error) {
	if err := g.own(r, p); err != nil {
		return nil, fmt.Errorf("add review: %w", err)
	}
	if !(rating >= 0 && rating <= 1) {
		return nil, fmt.Errorf("add review %s -> %s: %w, got %v", r.name, p.name, ErrInvalidRating, rating)
	}

	review := NewReview(rating)
	review.owner = g
	key := edgeKey{r, p}
	if _, ok := g.reviews[key]; !ok {
		g.productsOf[r] = append(g.productsOf[r], p)
		g.reviewersOf[p] = append(g.reviewersOf[p], r)
	}
	g.reviews[key] = review
	g.clearCaches()
	return review, nil
}

// Reviewers returns every reviewer in insertion order.
func (g *ReviewGraph) Reviewers() []*Reviewer {
	return append([]*Reviewer(nil), g.reviewers...)
}

// Products returns every product in insertion order.
func (g *ReviewGraph) Products() []*Product {
	return append([]*Product(nil), g.products...)
}

// Size returns the number of reviewers, products and reviews.
func (g *ReviewGraph) Size() (reviewers, products, reviews int) {
	return len(g.reviewers), len(g.products), len(g.reviews)
}

// ReviewersOf returns the reviewers of p in the order their reviews were added.
func (g *ReviewGraph) ReviewersOf(p *Product) []*Reviewer {
	return append([]*Reviewer(nil), g.reviewersOf[p]...)
}

// ProductsOf returns the products r reviewed in the order the reviews were added.
func (g *ReviewGraph) ProductsOf(r *Reviewer) []*Product {
	return append([]*Product(nil), g.productsOf[r]...)
}

// ReviewOf returns the review r wrote about p.
func (g *ReviewGraph) ReviewOf(r *Reviewer, p *Product) (*Review, error) {
	review, ok := g.reviews[edgeKey{r, p}]
	if !ok {
		return nil, fmt.Errorf("review of %v -> %v: %w", r, p, ErrNoReview)
	}
	return review, nil
}

// ProdMessageFromUsers returns the log of the product of the messages sent to
// p for label l by all its reviewers except r. A nil r excludes nobody.
func (g *ReviewGraph) ProdMessageFromUsers(r *Reviewer, p *Product, l ProductLabel) (float64, error) {
	if !l.Valid() {
		return 0, fmt.Errorf("prod message from users: %w", ErrInvalidLabel)
	}
	if p == nil || p.graph != g {
		return 0, fmt.Errorf("prod message from users: %w", ErrForeignNode)
	}
	var excluded *Review
	if r != nil {
		review, err := g.ReviewOf(r, p)
		if err != nil {
			return 0, err
		}
		excluded = review
	}
	return g.prodMessageFromUsers(p, excluded, l), nil
}

// ProdMessageFromProducts returns the log of the product of the messages sent
// to r for label l by all the products it reviewed except p. A nil p excludes
// nothing.
func (g *ReviewGraph) ProdMessageFromProducts(r *Reviewer, p *Product, l UserLabel) (float64, error) {
	if !l.Valid() {
		return 0, fmt.Errorf("prod message from products: %w", ErrInvalidLabel)
	}
	if r == nil || r.graph != g {
		return 0, fmt.Errorf("prod message from products: %w", ErrForeignNode)
	}
	var excluded *Review
	if p != nil {
		review, err := g.ReviewOf(r, p)
		if err != nil {
			return 0, err
		}
		excluded = review
	}
	return g.prodMessageFromProducts(r, excluded, l), nil
}

// prodMessageFromUsers subtracts the excluded review's message from the cached
// total; the total is a sum of logs, so removing a factor is a subtraction.
func (g *ReviewGraph) prodMessageFromUsers(p *Product, excluded *Review, l ProductLabel) float64 {
	total := g.totalFromUsers(p, l)
	if excluded != nil {
		total -= excluded.userToProduct[l]
	}
	return total
}

func (g *ReviewGraph) prodMessageFromProducts(r *Reviewer, excluded *Review, l UserLabel) float64 {
	total := g.totalFromProducts(r, l)
	if excluded != nil {
		total -= excluded.productToUser[l]
	}
	return total
}

func (g *ReviewGraph) totalFromUsers(p *Product, l ProductLabel) float64 {
	key := productLabel{p, l}
	if v, ok := g.fromUsers[key]; ok {
		return v
	}
	var sum float64
	for _, r := range g.reviewersOf[p] {
		sum += g.reviews[edgeKey{r, p}].userToProduct[l]
	}
	g.fromUsers[key] = sum
	return sum
}

func (g *ReviewGraph) totalFromProducts(r *Reviewer, l UserLabel) float64 {
	key := reviewerLabel{r, l}
	if v, ok := g.fromProducts[key]; ok {
		return v
	}
	var sum float64
	for _, p := range g.productsOf[r] {
		sum += g.reviews[edgeKey{r, p}].productToUser[l]
	}
	g.fromProducts[key] = sum
	return sum
}

func (g *ReviewGraph) clearCaches() {
	clear(g.fromProducts)
	clear(g.fromUsers)
}

func (g *ReviewGraph) own(r *Reviewer, p *Product) error {
	if r == nil || r.graph != g {
		return fmt.Errorf("reviewer %v: %w", r, ErrForeignNode)
	}
	if p == nil || p.graph != g {
		return fmt.Errorf("product %v: %w", p, ErrForeignNode)
	}
	return nil
}
