package fraudeagle

import "math"

var log2 = math.Log(2)

// PhiU is the log prior of a reviewer label. The prior weight is the size of
// the label domain, so it is log(2) for every label and cancels on
// normalization.
func PhiU(UserLabel) float64 { return log2 }

// PhiP is the log prior of a product label, log(2) for every label.
func PhiP(ProductLabel) float64 { return log2 }
