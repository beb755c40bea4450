package fraudeagle

import "fmt"

// Psi is the likelihood that a reviewer with label u writes a review with
// polarity r about a product with label p.
//
//	review +      good     bad          review -      good     bad
//	honest        1-eps    eps          honest        eps      1-eps
//	fraud         2eps     1-2eps       fraud         1-2eps   2eps
func Psi(u UserLabel, p ProductLabel, r ReviewLabel, epsilon float64) (float64, error) {
	if !u.Valid() || !p.Valid() || !r.Valid() {
		return 0, fmt.Errorf("psi(%d, %d, %d): %w", u, p, r, ErrInvalidLabel)
	}
	if !validEpsilon(epsilon) {
		return 0, fmt.Errorf("psi: %w, got %v", ErrInvalidEpsilon, epsilon)
	}
	return psi(u, p, r, epsilon), nil
}

// psi assumes every argument has already been validated.
func psi(u UserLabel, p ProductLabel, r ReviewLabel, epsilon float64) float64 {
	agree := (p == Good) == (r == Plus)
	switch {
	case u == Honest && agree:
		return 1 - epsilon
	case u == Honest:
		return epsilon
	case agree:
		return 2 * epsilon
	default:
		return 1 - 2*epsilon
	}
}

func validEpsilon(epsilon float64) bool {
	// Written so that NaN fails.
	return epsilon > 0 && epsilon < 0.5
}
