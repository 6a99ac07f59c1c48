package match

import (
	"math"
	"time"
)

// xorshift32 is the deterministic RNG behind bot behavior. Seeding from
// "matchId:difficulty:botId" keeps every replica's simulation identical.
type xorshift32 struct {
	state uint32
}

func newXorshift32(seed string) *xorshift32 {
	// FNV-1a folds the seed string into the 32-bit state.
	var h uint32 = 2166136261
	for i := 0; i < len(seed); i++ {
		h ^= uint32(seed[i])
		h *= 16777619
	}
	if h == 0 {
		h = 0x9e3779b9
	}
	return &xorshift32{state: h}
}

func (r *xorshift32) next() uint32 {
	x := r.state
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	r.state = x
	return x
}

// float64 returns a uniform value in [0, 1).
func (r *xorshift32) float64() float64 {
	return float64(r.next()) / float64(1<<32)
}

// uniform returns a value in [lo, hi).
func (r *xorshift32) uniform(lo, hi float64) float64 {
	return lo + (hi-lo)*r.float64()
}

// intn returns a value in [0, n).
func (r *xorshift32) intn(n int) int {
	if n <= 0 {
		return 0
	}
	return int(r.float64() * float64(n))
}

// normal samples a standard normal via Box-Muller.
func (r *xorshift32) normal() float64 {
	u1 := r.float64()
	for u1 == 0 {
		u1 = r.float64()
	}
	u2 := r.float64()
	return math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
}

// lognormal samples exp(mu + sigma*Z) seconds.
func (r *xorshift32) lognormal(mu, sigma float64) float64 {
	return math.Exp(mu + sigma*r.normal())
}

// gamma samples via Marsaglia-Tsang; shape < 1 uses the boost step.
func (r *xorshift32) gamma(shape, scale float64) float64 {
	if shape <= 0 || scale <= 0 {
		return math.Inf(1)
	}
	if shape < 1 {
		u := r.float64()
		for u == 0 {
			u = r.float64()
		}
		return r.gamma(shape+1, scale) * math.Pow(u, 1/shape)
	}
	d := shape - 1.0/3.0
	c := 1 / math.Sqrt(9*d)
	for {
		x := r.normal()
		v := 1 + c*x
		if v <= 0 {
			continue
		}
		v = v * v * v
		u := r.float64()
		if u < 1-0.0331*x*x*x*x {
			return d * v * scale
		}
		if u > 0 && math.Log(u) < 0.5*x*x+d*(1-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

// Distribution names accepted for bot completion times.
const (
	DistLognormal = "lognormal"
	DistGamma     = "gamma"
)

// BotTimeParams are the completion-time parameters for one difficulty.
type BotTimeParams struct {
	Mu    float64
	Sigma float64
	Shape float64
	Scale float64
}

// sampleCompletion draws the bot's planned completion time. Missing or
// invalid parameters yield +Inf, meaning the bot never wins by timer. The
// sample is clamped to maxDuration minus the safety margin.
func sampleCompletion(rng *xorshift32, dist string, params BotTimeParams, ok bool, maxDuration time.Duration) time.Duration {
	if !ok {
		return time.Duration(math.MaxInt64)
	}
	var seconds float64
	switch dist {
	case DistGamma:
		seconds = rng.gamma(params.Shape, params.Scale)
	default:
		if params.Sigma <= 0 {
			return time.Duration(math.MaxInt64)
		}
		seconds = rng.lognormal(params.Mu, params.Sigma)
	}
	if math.IsInf(seconds, 1) || math.IsNaN(seconds) || seconds <= 0 {
		return time.Duration(math.MaxInt64)
	}
	sampled := time.Duration(seconds * float64(time.Second))
	limit := maxDuration - 30*time.Second
	if sampled > limit {
		sampled = limit
	}
	return sampled
}

// Bot simulation cadence bounds.
const (
	botCodeTickMin = 1 * time.Second
	botCodeTickMax = 60 * time.Second
	botTestTickMin = 500 * time.Second
	botTestTickMax = 1000 * time.Second
	botMaxLines    = 75
)

// botCodeTick returns the next code-update delay and the lines to add (1-2).
func botCodeTick(rng *xorshift32) (time.Duration, int) {
	delay := time.Duration(rng.uniform(float64(botCodeTickMin), float64(botCodeTickMax)))
	return delay, 1 + rng.intn(2)
}

// botTestTick returns the next test-progress delay and cases to add (0-2).
func botTestTick(rng *xorshift32) (time.Duration, int) {
	delay := time.Duration(rng.uniform(float64(botTestTickMin), float64(botTestTickMax)))
	return delay, rng.intn(3)
}
