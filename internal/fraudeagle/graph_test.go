package fraudeagle

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEpsilon = 0.1

func newTestGraph(t *testing.T, opts ...Option) *ReviewGraph {
	t.Helper()
	g, err := New(testEpsilon, opts...)
	require.NoError(t, err)
	return g
}

func mustReview(t *testing.T, g *ReviewGraph, r *Reviewer, p *Product, rating float64) *Review {
	t.Helper()
	review, err := g.AddReview(r, p, rating)
	require.NoError(t, err)
	return review
}

func setUserToProduct(t *testing.T, rv *Review, good, bad float64) {
	t.Helper()
	require.NoError(t, rv.UpdateUserToProduct(Good, math.Log(good)))
	require.NoError(t, rv.UpdateUserToProduct(Bad, math.Log(bad)))
}

func setProductToUser(t *testing.T, rv *Review, honest, fraud float64) {
	t.Helper()
	require.NoError(t, rv.UpdateProductToUser(Honest, math.Log(honest)))
	require.NoError(t, rv.UpdateProductToUser(Fraud, math.Log(fraud)))
}

func TestNew_RejectsEpsilon(t *testing.T) {
	for _, eps := range []float64{0, 0.5, -0.1, 0.7, math.NaN(), math.Inf(1)} {
		g, err := New(eps)
		assert.Nil(t, g)
		assert.ErrorIs(t, err, ErrInvalidEpsilon, "eps=%v", eps)
	}
	g, err := New(0.25)
	require.NoError(t, err)
	assert.Equal(t, 0.25, g.Epsilon())
}

func TestEditGraph(t *testing.T) {
	g := newTestGraph(t)
	r := g.NewReviewer("test-reviewer")
	p := g.NewProduct("test-product")
	assert.Equal(t, "test-reviewer", r.Name())
	assert.Equal(t, "test-product", p.String())
	assert.Equal(t, []*Reviewer{r}, g.Reviewers())
	assert.Equal(t, []*Product{p}, g.Products())

	review := mustReview(t, g, r, p, 0.8)
	assert.Equal(t, 0.8, review.Rating())
	got, err := g.ReviewOf(r, p)
	require.NoError(t, err)
	assert.Same(t, review, got)

	reviewers, products, reviews := g.Size()
	assert.Equal(t, 1, reviewers)
	assert.Equal(t, 1, products)
	assert.Equal(t, 1, reviews)
}

func TestAddReview_Rejects(t *testing.T) {
	g := newTestGraph(t)
	other := newTestGraph(t)
	r := g.NewReviewer("r")
	p := g.NewProduct("p")

	_, err := g.AddReview(other.NewReviewer("x"), p, 0.5)
	assert.ErrorIs(t, err, ErrForeignNode)
	_, err = g.AddReview(r, nil, 0.5)
	assert.ErrorIs(t, err, ErrForeignNode)
	for _, rating := range []float64{-0.01, 1.01, math.NaN()} {
		_, err = g.AddReview(r, p, rating)
		assert.ErrorIs(t, err, ErrInvalidRating)
	}

	_, _, reviews := g.Size()
	assert.Zero(t, reviews)
	assert.Empty(t, g.ProductsOf(r))
}

func TestAddReview_DuplicatePairOverwrites(t *testing.T) {
	g := newTestGraph(t)
	r := g.NewReviewer("r")
	p := g.NewProduct("p")
	first := mustReview(t, g, r, p, 0.1)
	second := mustReview(t, g, r, p, 0.9)

	got, err := g.ReviewOf(r, p)
	require.NoError(t, err)
	assert.Same(t, second, got)
	assert.NotSame(t, first, got)
	assert.Len(t, g.ProductsOf(r), 1)
	assert.Len(t, g.ReviewersOf(p), 1)
}

func TestNewReviewer_DuplicateNamesAreDistinct(t *testing.T) {
	g := newTestGraph(t)
	a := g.NewReviewer("same")
	b := g.NewReviewer("same")
	assert.NotSame(t, a, b)
	assert.Len(t, g.Reviewers(), 2)
}

type sampleGraph struct {
	graph     *ReviewGraph
	reviewers []*Reviewer
	products  []*Product
	reviews   map[[2]int]*Review
}

// newSampleGraph builds reviewer-0 -> product-{0,1,2} and reviewer-1 -> product-{1,2}.
func newSampleGraph(t *testing.T, rng *rand.Rand, opts ...Option) sampleGraph {
	t.Helper()
	g := newTestGraph(t, opts...)
	s := sampleGraph{graph: g, reviews: make(map[[2]int]*Review)}
	for i := 0; i < 2; i++ {
		s.reviewers = append(s.reviewers, g.NewReviewer(fmt.Sprintf("reviewer-%d", i)))
	}
	for j := 0; j < 3; j++ {
		s.products = append(s.products, g.NewProduct(fmt.Sprintf("product-%d", j)))
	}
	for i, r := range s.reviewers {
		for j := i; j < len(s.products); j++ {
			s.reviews[[2]int{i, j}] = mustReview(t, g, r, s.products[j], rng.Float64())
		}
	}
	return s
}

func TestRetrieval(t *testing.T) {
	s := newSampleGraph(t, rand.New(rand.NewPCG(1, 2)))
	g := s.graph

	assert.Equal(t, s.reviewers[:1], g.ReviewersOf(s.products[0]))
	assert.Equal(t, s.reviewers, g.ReviewersOf(s.products[1]))
	assert.Equal(t, s.reviewers, g.ReviewersOf(s.products[2]))
	assert.Equal(t, s.products, g.ProductsOf(s.reviewers[0]))
	assert.Equal(t, s.products[1:], g.ProductsOf(s.reviewers[1]))

	for i, r := range s.reviewers {
		for j, p := range s.products {
			got, err := g.ReviewOf(r, p)
			want, ok := s.reviews[[2]int{i, j}]
			if !ok {
				assert.ErrorIs(t, err, ErrNoReview)
				continue
			}
			require.NoError(t, err)
			assert.Same(t, want, got)
		}
	}
}

func TestProdMessageFromUsers(t *testing.T) {
	g := newTestGraph(t)
	reviewers := []*Reviewer{g.NewReviewer("reviewer-0"), g.NewReviewer("reviewer-1"), g.NewReviewer("reviewer-2")}
	p := g.NewProduct("product-0")
	setUserToProduct(t, mustReview(t, g, reviewers[0], p, 0.3), 0.4, 0.6)
	setUserToProduct(t, mustReview(t, g, reviewers[1], p, 0.6), 0.6, 0.4)
	setUserToProduct(t, mustReview(t, g, reviewers[2], p, 0.9), 0.8, 0.2)

	tests := []struct {
		name     string
		reviewer *Reviewer
		label    ProductLabel
		want     float64
	}{
		{"exclude reviewer-0", reviewers[0], Good, 0.6 * 0.8},
		{"exclude reviewer-1", reviewers[1], Bad, 0.6 * 0.2},
		{"all good", nil, Good, 0.4 * 0.6 * 0.8},
		{"all bad", nil, Bad, 0.6 * 0.4 * 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := g.ProdMessageFromUsers(tt.reviewer, p, tt.label)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, math.Exp(got), 1e-9)
		})
	}

	_, err := g.ProdMessageFromUsers(g.NewReviewer("stranger"), p, Good)
	assert.ErrorIs(t, err, ErrNoReview)
	_, err = g.ProdMessageFromUsers(nil, p, ProductLabel(4))
	assert.ErrorIs(t, err, ErrInvalidLabel)
}

func TestProdMessageFromProducts(t *testing.T) {
	g := newTestGraph(t)
	r := g.NewReviewer("reviewer-0")
	products := []*Product{g.NewProduct("product-0"), g.NewProduct("product-1"), g.NewProduct("product-2")}
	setProductToUser(t, mustReview(t, g, r, products[0], 0.1), 0.4, 0.6)
	setProductToUser(t, mustReview(t, g, r, products[1], 0.5), 0.6, 0.4)
	setProductToUser(t, mustReview(t, g, r, products[2], 0.7), 0.8, 0.2)

	got, err := g.ProdMessageFromProducts(r, products[0], Honest)
	require.NoError(t, err)
	assert.InDelta(t, 0.6*0.8, math.Exp(got), 1e-9)

	got, err = g.ProdMessageFromProducts(r, products[1], Fraud)
	require.NoError(t, err)
	assert.InDelta(t, 0.6*0.2, math.Exp(got), 1e-9)

	got, err = g.ProdMessageFromProducts(r, nil, Honest)
	require.NoError(t, err)
	assert.InDelta(t, 0.4*0.6*0.8, math.Exp(got), 1e-9)

	got, err = g.ProdMessageFromProducts(r, nil, Fraud)
	require.NoError(t, err)
	assert.InDelta(t, 0.6*0.4*0.2, math.Exp(got), 1e-9)
}

func TestCachesFollowManualUpdates(t *testing.T) {
	g := newTestGraph(t)
	r := g.NewReviewer("r")
	p := g.NewProduct("p")
	review := mustReview(t, g, r, p, 1)

	before, err := g.ProdMessageFromProducts(r, nil, Honest)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(0.5), before, 1e-12)

	setProductToUser(t, review, 0.9, 0.1)
	after, err := g.ProdMessageFromProducts(r, nil, Honest)
	require.NoError(t, err)
	assert.InDelta(t, math.Log(0.9), after, 1e-12)
}

func TestUserToProductMessage(t *testing.T) {
	g := newTestGraph(t)
	r := g.NewReviewer("reviewer-0")
	products := []*Product{g.NewProduct("product-0"), g.NewProduct("product-1"), g.NewProduct("product-2")}
	r0 := mustReview(t, g, r, products[0], 1)
	r1 := mustReview(t, g, r, products[1], 0)
	r2 := mustReview(t, g, r, products[2], 1)
	setUserToProduct(t, r0, 0.4, 0.6)
	setProductToUser(t, r0, 0.3, 0.7)
	setProductToUser(t, r1, 0.6, 0.4)
	setProductToUser(t, r2, 0.8, 0.2)

	psiOf := func(u UserLabel, p ProductLabel) float64 {
		v, err := Psi(u, p, Plus, testEpsilon)
		require.NoError(t, err)
		return v
	}
	// Products of the other messages to the reviewer, times the constant prior 2.
	wantGood := 0.6*0.8*2*psiOf(Honest, Good) + 0.4*0.2*2*psiOf(Fraud, Good)
	wantBad := 0.6*0.8*2*psiOf(Honest, Bad) + 0.4*0.2*2*psiOf(Fraud, Bad)

	assert.InDelta(t, wantGood, math.Exp(g.userToProduct(r, r0, Good)), 1e-9)
	assert.InDelta(t, wantBad, math.Exp(g.userToProduct(r, r0, Bad)), 1e-9)
}

func TestProductToUserMessage(t *testing.T) {
	g := newTestGraph(t)
	reviewers := []*Reviewer{g.NewReviewer("reviewer-0"), g.NewReviewer("reviewer-1"), g.NewReviewer("reviewer-2")}
	p := g.NewProduct("product-0")
	r0 := mustReview(t, g, reviewers[0], p, 1)
	r1 := mustReview(t, g, reviewers[1], p, 0)
	r2 := mustReview(t, g, reviewers[2], p, 1)
	setProductToUser(t, r0, 0.4, 0.6)
	setUserToProduct(t, r0, 0.3, 0.7)
	setUserToProduct(t, r1, 0.6, 0.4)
	setUserToProduct(t, r2, 0.8, 0.2)

	psiOf := func(u UserLabel, pl ProductLabel) float64 {
		v, err := Psi(u, pl, Plus, testEpsilon)
		require.NoError(t, err)
		return v
	}
	wantHonest := 0.6*0.8*2*psiOf(Honest, Good) + 0.4*0.2*2*psiOf(Honest, Bad)
	wantFraud := 0.6*0.8*2*psiOf(Fraud, Good) + 0.4*0.2*2*psiOf(Fraud, Bad)

	assert.InDelta(t, wantHonest, math.Exp(g.productToUser(p, r0, Honest)), 1e-9)
	assert.InDelta(t, wantFraud, math.Exp(g.productToUser(p, r0, Fraud)), 1e-9)
}

func TestUpdate_EmptyGraph(t *testing.T) {
	g := newTestGraph(t)
	g.NewReviewer("lonely")
	assert.Zero(t, g.Update())
}

func TestUpdate_NormalizesMessages(t *testing.T) {
	s := newSampleGraph(t, rand.New(rand.NewPCG(3, 4)))
	s.graph.Update()
	for _, rv := range s.reviews {
		good, _ := rv.UserToProduct(Good)
		bad, _ := rv.UserToProduct(Bad)
		assert.InDelta(t, 1.0, math.Exp(good)+math.Exp(bad), 1e-9)
		honest, _ := rv.ProductToUser(Honest)
		fraud, _ := rv.ProductToUser(Fraud)
		assert.InDelta(t, 1.0, math.Exp(honest)+math.Exp(fraud), 1e-9)
	}
}

func TestUpdate_PhaseBSeesPhaseA(t *testing.T) {
	g := newTestGraph(t)
	reviewers := []*Reviewer{g.NewReviewer("a"), g.NewReviewer("b")}
	p := g.NewProduct("p")
	q := g.NewProduct("q")
	mustReview(t, g, reviewers[0], p, 1)
	mustReview(t, g, reviewers[1], p, 0)
	mustReview(t, g, reviewers[0], q, 0)

	// Fill the product-side cache with pre-update totals.
	_, err := g.ProdMessageFromUsers(nil, p, Good)
	require.NoError(t, err)
	g.Update()

	// Recompute phase B by hand from the messages phase A left behind.
	rb, _ := g.ReviewOf(reviewers[1], p)
	ra, _ := g.ReviewOf(reviewers[0], p)
	var raw [2]float64
	for _, u := range UserLabels() {
		var terms [2]float64
		for _, pl := range ProductLabels() {
			v, _ := Psi(u, pl, rb.Evaluation(), testEpsilon)
			terms[pl] = math.Log(v) + PhiP(pl) + ra.userToProduct[pl]
		}
		raw[u] = math.Log(math.Exp(terms[0]) + math.Exp(terms[1]))
	}
	norm := math.Log(math.Exp(raw[0]) + math.Exp(raw[1]))
	got, _ := rb.ProductToUser(Fraud)
	assert.InDelta(t, raw[Fraud]-norm, got, 1e-9)
}

func TestUpdate_Converges(t *testing.T) {
	s := newSampleGraph(t, rand.New(rand.NewPCG(5, 6)))
	const threshold = 1e-7

	var diff float64
	for i := 0; i < 10000; i++ {
		diff = s.graph.Update()
		if diff < threshold {
			// One more round at the fixpoint changes nothing by more than the threshold.
			assert.Less(t, s.graph.Update(), threshold)
			return
		}
	}
	t.Fatalf("update difference did not converge: %v", diff)
}

func TestUpdate_ParallelMatchesSequential(t *testing.T) {
	seq := newSampleGraph(t, rand.New(rand.NewPCG(7, 8)))
	par := newSampleGraph(t, rand.New(rand.NewPCG(7, 8)), WithWorkers(4))

	for i := 0; i < 25; i++ {
		assert.Equal(t, seq.graph.Update(), par.graph.Update(), "round %d", i)
	}
	for i, r := range seq.reviewers {
		assert.Equal(t, r.AnomalousScore(), par.reviewers[i].AnomalousScore())
	}
}
