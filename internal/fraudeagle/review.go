package fraudeagle

import (
	"fmt"
	"math"
)

var logHalf = math.Log(0.5)

// Review is the edge from a reviewer to a product. It carries the rating and
// the two log-domain messages exchanged along the edge, one per direction,
// each defined over the receiver's label domain.
type Review struct {
	rating float64

	userToProduct [2]float64 // indexed by ProductLabel
	productToUser [2]float64 // indexed by UserLabel

	// owner is nil for reviews created outside a graph.
	owner *ReviewGraph
}

// NewReview returns a detached review with uniform messages.
func NewReview(rating float64) *Review {
	return &Review{
		rating:        rating,
		userToProduct: [2]float64{logHalf, logHalf},
		productToUser: [2]float64{logHalf, logHalf},
	}
}

// Rating returns the normalized rating in [0, 1].
func (rv *Review) Rating() float64 { return rv.rating }

// Evaluation returns Plus when the rating is at least 0.5 and Minus otherwise.
func (rv *Review) Evaluation() ReviewLabel {
	if rv.rating >= 0.5 {
		return Plus
	}
	return Minus
}

// UserToProduct returns log m(u->p)(label).
func (rv *Review) UserToProduct(label ProductLabel) (float64, error) {
	if !label.Valid() {
		return 0, fmt.Errorf("user to product message for %d: %w", label, ErrInvalidLabel)
	}
	return rv.userToProduct[label], nil
}

// ProductToUser returns log m(p->u)(label).
func (rv *Review) ProductToUser(label UserLabel) (float64, error) {
	if !label.Valid() {
		return 0, fmt.Errorf("product to user message for %d: %w", label, ErrInvalidLabel)
	}
	return rv.productToUser[label], nil
}

// UpdateUserToProduct overwrites log m(u->p)(label). The value is stored as
// given; the caller is responsible for normalizing the pair.
func (rv *Review) UpdateUserToProduct(label ProductLabel, value float64) error {
	if !label.Valid() {
		return fmt.Errorf("update user to product message for %d: %w", label, ErrInvalidLabel)
	}
	rv.userToProduct[label] = value
	rv.invalidate()
	return nil
}

// UpdateProductToUser overwrites log m(p->u)(label) without normalizing.
func (rv *Review) UpdateProductToUser(label UserLabel, value float64) error {
	if !label.Valid() {
		return fmt.Errorf("update product to user message for %d: %w", label, ErrInvalidLabel)
	}
	rv.productToUser[label] = value
	rv.invalidate()
	return nil
}

// invalidate drops the owner's message-product caches, which may include this
// review's old value.
func (rv *Review) invalidate() {
	if rv.owner != nil {
		rv.owner.clearCaches()
	}
}
