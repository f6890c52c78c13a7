package rank

import "math"

// Wilson score interval constants for 95% confidence (z = 1.96).
const (
	z         = 1.96
	zSquared  = 3.8416
	zSqHalf   = 1.9208
	zSqFourth = 0.9604
)

// LowerBound computes the lower bound of the Wilson score interval for the
// observed up/down split. It ranks a well-sampled 60/40 idea above a 6/4 one
// with the same ratio: few votes pull the bound toward zero regardless of how
// good the raw ratio looks.
//
// Undefined for zero votes; callers must filter those out first (the top
// strategy's up > down filter already does).
func LowerBound(up, down int) float64 {
	n := float64(up + down)
	if n == 0 {
		return 0
	}
	pHat := float64(up) / n
	return (pHat + zSqHalf/n - z*math.Sqrt(pHat*(1-pHat)/n+zSqFourth/(n*n))) / (1 + zSquared/n)
}
