package fraudeagle

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const histogramBins = 10

// edgeTask is one review visited by a phase. raw holds the unnormalized log
// messages computed for the receiver's two labels.
type edgeTask struct {
	reviewer *Reviewer
	product  *Product
	review   *Review
	raw      [2]float64
}

// Update runs one round of belief propagation and returns the largest
// absolute change, in probability space, of any message in the round.
//
// Messages from reviewers to products are recomputed first, for every review,
// from the product-to-reviewer messages of the previous round:
//
//	m(u->p)(yp) = a1 * sum over yu of psi(yu, yp) * phiU(yu) * prod over p' != p of m(p'->u)(yu)
//
// Messages from products to reviewers are then recomputed from the
// reviewer-to-product messages just produced:
//
//	m(p->u)(yu) = a3 * sum over yp of psi(yu, yp) * phiP(yp) * prod over u' != u of m(u'->p)(yp)
//
// a1 and a3 normalize each pair so the two probabilities sum to one. Callers
// iterate until the returned delta falls below a threshold of their choice.
func (g *ReviewGraph) Update() float64 {
	diffs := make([]float64, 0, 4*len(g.reviews))

	tasks := g.userToProductTasks()
	g.compute(tasks, g.computeUserToProduct)
	for i := range tasks {
		diffs = applyNormalized(&tasks[i].review.userToProduct, tasks[i].raw, diffs)
	}
	// Phase B must see the messages written above, not totals cached before them.
	g.clearCaches()

	tasks = g.productToUserTasks()
	g.compute(tasks, g.computeProductToUser)
	for i := range tasks {
		diffs = applyNormalized(&tasks[i].review.productToUser, tasks[i].raw, diffs)
	}
	g.clearCaches()

	if len(diffs) == 0 {
		return 0
	}
	g.logHistogram(diffs)
	return floats.Max(diffs)
}

func (g *ReviewGraph) userToProductTasks() []edgeTask {
	tasks := make([]edgeTask, 0, len(g.reviews))
	for _, r := range g.reviewers {
		for _, p := range g.productsOf[r] {
			tasks = append(tasks, edgeTask{reviewer: r, product: p, review: g.reviews[edgeKey{r, p}]})
		}
	}
	return tasks
}

func (g *ReviewGraph) productToUserTasks() []edgeTask {
	tasks := make([]edgeTask, 0, len(g.reviews))
	for _, p := range g.products {
		for _, r := range g.reviewersOf[p] {
			tasks = append(tasks, edgeTask{reviewer: r, product: p, review: g.reviews[edgeKey{r, p}]})
		}
	}
	return tasks
}

// computeUserToProduct fills t.raw with log m(u->p)(yp) for both product labels.
func (g *ReviewGraph) computeUserToProduct(t *edgeTask) {
	for _, pl := range productLabels {
		t.raw[pl] = g.userToProduct(t.reviewer, t.review, pl)
	}
}

// computeProductToUser fills t.raw with log m(p->u)(yu) for both user labels.
func (g *ReviewGraph) computeProductToUser(t *edgeTask) {
	for _, ul := range userLabels {
		t.raw[ul] = g.productToUser(t.product, t.review, ul)
	}
}

// userToProduct returns the unnormalized log message from the reviewer of
// review to its product for label pl.
func (g *ReviewGraph) userToProduct(r *Reviewer, review *Review, pl ProductLabel) float64 {
	var terms [2]float64
	for _, ul := range userLabels {
		terms[ul] = g.logPsi[review.Evaluation()][ul][pl] + PhiU(ul) + g.prodMessageFromProducts(r, review, ul)
	}
	return floats.LogSumExp(terms[:])
}

// productToUser returns the unnormalized log message from the product of
// review to its reviewer for label ul.
func (g *ReviewGraph) productToUser(p *Product, review *Review, ul UserLabel) float64 {
	var terms [2]float64
	for _, pl := range productLabels {
		terms[pl] = g.logPsi[review.Evaluation()][ul][pl] + PhiP(pl) + g.prodMessageFromUsers(p, review, pl)
	}
	return floats.LogSumExp(terms[:])
}

// compute runs fn over every task. With more than one worker the cached
// totals are filled up front so the workers only read shared state.
func (g *ReviewGraph) compute(tasks []edgeTask, fn func(*edgeTask)) {
	if g.workers <= 1 || len(tasks) < 2 {
		for i := range tasks {
			fn(&tasks[i])
		}
		return
	}

	g.warmCaches()
	chunk := (len(tasks) + g.workers - 1) / g.workers
	var eg errgroup.Group
	eg.SetLimit(g.workers)
	for start := 0; start < len(tasks); start += chunk {
		part := tasks[start:min(start+chunk, len(tasks))]
		eg.Go(func() error {
			for i := range part {
				fn(&part[i])
			}
			return nil
		})
	}
	_ = eg.Wait() // workers never fail
}

func (g *ReviewGraph) warmCaches() {
	for _, r := range g.reviewers {
		for _, l := range userLabels {
			g.totalFromProducts(r, l)
		}
	}
	for _, p := range g.products {
		for _, l := range productLabels {
			g.totalFromUsers(p, l)
		}
	}
}

// applyNormalized normalizes raw so that exp(raw[0]) + exp(raw[1]) = 1,
// records the change of both labels and overwrites msg.
func applyNormalized(msg *[2]float64, raw [2]float64, diffs []float64) []float64 {
	s := floats.LogSumExp(raw[:])
	for l := range raw {
		updated := raw[l] - s
		diffs = append(diffs, math.Abs(math.Exp(msg[l])-math.Exp(updated)))
		msg[l] = updated
	}
	return diffs
}

// logHistogram logs the distribution of message changes of one round.
func (g *ReviewGraph) logHistogram(diffs []float64) {
	if !g.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	sorted := append([]float64(nil), diffs...)
	sort.Float64s(sorted)
	lo, top := sorted[0], sorted[len(sorted)-1]
	if lo == top {
		g.logger.Debug("update differentials", "messages", len(diffs), "all", lo)
		return
	}
	hi := math.Nextafter(top, math.Inf(1))
	dividers := floats.Span(make([]float64, histogramBins+1), lo, hi)
	dividers[histogramBins] = hi
	counts := stat.Histogram(nil, dividers, sorted, nil)

	var b strings.Builder
	for i, c := range counts {
		fmt.Fprintf(&b, "\n  %g-%g: %d", dividers[i], dividers[i+1], int(c))
	}
	g.logger.Debug("update differentials"+b.String(), "messages", len(diffs), "max", top)
}
