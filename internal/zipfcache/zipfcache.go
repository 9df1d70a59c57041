// Package zipfcache precomputes draws from a discrete Zipf distribution so
// the packet writer's hot send path never pays for a fresh draw. A cache of
// size M = 30*n (the original harness's choice) is filled once at startup
// using Hormann & Derflinger's rejection-inversion method (not Devroye's
// rejection algorithm), then served circularly.
package zipfcache

import (
	"math"

	"github.com/AltraMayor/net-eval/internal/rand64"
)

// Cache holds precomputed Zipf(s) draws over 1..n, and a circular cursor.
type Cache struct {
	samples []int64
	cursor  int
}

// DefaultSizeFactor is the original harness's multiplier: cache size =
// factor * n.
const DefaultSizeFactor = 30

// New precomputes size draws from the discrete Zipf distribution over
// 1..n with exponent s (s == 1 is the conventional default), using rng as
// the draw source. Every draw is in [1, n].
func New(size int, s float64, n int64, rng *rand64.State) *Cache {
	c := &Cache{samples: make([]int64, size)}
	for i := range c.samples {
		c.samples[i] = devroyeZipf(s, n, rng)
	}
	return c
}

// Sample returns the next entry in circular order.
func (c *Cache) Sample() int64 {
	v := c.samples[c.cursor]
	c.cursor = (c.cursor + 1) % len(c.samples)
	return v
}

// devroyeZipf draws one sample from the discrete Zipf(s) distribution over
// 1..n via rejection-inversion (Hormann & Derflinger), the standard way to
// sample a monotone discrete law without building its full CDF -- the
// "published rejection method" spec.md refers to. It is well-behaved at
// s == 1, where the naive continuous-envelope formula would divide by
// zero; helper1/helper2 below are its Taylor-expanded removable
// singularities. For s == 0 the distribution is uniform over 1..n.
func devroyeZipf(s float64, n int64, rng *rand64.State) int64 {
	if s == 0 {
		return rng.Sample1N(n)
	}

	nf := float64(n)
	hIntegralN := hIntegral(nf+0.5, s)
	hIntegralX1 := hIntegral(1.5, s) - 1
	sMax := 2 - hIntegralInverse(hIntegral(2.5, s)-h(2, s), s)

	for {
		u := hIntegralN + rng.Float64()*(hIntegralX1-hIntegralN)
		x := hIntegralInverse(u, s)

		k := int64(x + 0.5)
		if k < 1 {
			k = 1
		} else if k > n {
			k = n
		}

		if float64(k)-x <= sMax || u >= hIntegral(float64(k)+0.5, s)-h(float64(k), s) {
			return k
		}
	}
}

func hIntegral(x, exponent float64) float64 {
	logX := math.Log(x)
	return helper2((1-exponent)*logX) * logX
}

func h(x, exponent float64) float64 {
	return math.Exp(-exponent * math.Log(x))
}

func hIntegralInverse(x, exponent float64) float64 {
	t := x * (1 - exponent)
	if t < -1 {
		t = -1
	}
	return math.Exp(helper1(t) * x)
}

func helper1(x float64) float64 {
	if math.Abs(x) > 1e-8 {
		return math.Log1p(x) / x
	}
	return 1 - x*(0.5-x*((1.0/3.0)-x*0.25))
}

func helper2(x float64) float64 {
	if math.Abs(x) > 1e-8 {
		return math.Expm1(x) / x
	}
	return 1 + x*0.5*(1+x*(1.0/3.0)*(1+x*0.25))
}
