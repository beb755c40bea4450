package fraudeagle

// ReviewLabel is the polarity of a review.
type ReviewLabel int

const (
	// Plus marks a review whose rating is at least 0.5.
	Plus ReviewLabel = iota
	// Minus marks a review whose rating is below 0.5.
	Minus
)

// ProductLabel is the hidden quality label of a product.
type ProductLabel int

const (
	Good ProductLabel = iota
	Bad
)

// UserLabel is the hidden honesty label of a reviewer.
type UserLabel int

const (
	Honest UserLabel = iota
	Fraud
)

var (
	productLabels = [...]ProductLabel{Good, Bad}
	userLabels    = [...]UserLabel{Honest, Fraud}
)

// ProductLabels returns the product label domain in a fixed order.
func ProductLabels() []ProductLabel { return productLabels[:] }

// UserLabels returns the user label domain in a fixed order.
func UserLabels() []UserLabel { return userLabels[:] }

// Valid reports whether l is Plus or Minus.
func (l ReviewLabel) Valid() bool { return l == Plus || l == Minus }

// Valid reports whether l is Good or Bad.
func (l ProductLabel) Valid() bool { return l == Good || l == Bad }

// Valid reports whether l is Honest or Fraud.
func (l UserLabel) Valid() bool { return l == Honest || l == Fraud }

func (l ReviewLabel) String() string {
	switch l {
	case Plus:
		return "plus"
	case Minus:
		return "minus"
	}
	return "invalid"
}

func (l ProductLabel) String() string {
	switch l {
	case Good:
		return "good"
	case Bad:
		return "bad"
	}
	return "invalid"
}

func (l UserLabel) String() string {
	switch l {
	case Honest:
		return "honest"
	case Fraud:
		return "fraud"
	}
	return "invalid"
}
