package rating

import (
	"math"
	"sort"
)

// Config holds the rating constants. Defaults mirror production values.
type Config struct {
	KFactor       int
	GaussianSigma float64
	// Target ELO per difficulty bucket, e.g. Easy:1200 Medium:1500 Hard:2000.
	DifficultyTargets map[string]float64
	MultiplierScale   float64
	MultiplierMin     float64
	MultiplierMax     float64
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		KFactor:       32,
		GaussianSigma: 250,
		DifficultyTargets: map[string]float64{
			DifficultyEasy:   1200,
			DifficultyMedium: 1500,
			DifficultyHard:   2000,
		},
		MultiplierScale: 1000,
		MultiplierMin:   0.5,
		MultiplierMax:   2.0,
	}
}

// Difficulty buckets.
const (
	DifficultyEasy   = "Easy"
	DifficultyMedium = "Medium"
	DifficultyHard   = "Hard"
)

// Engine computes difficulty selection weights and ELO settlements.
// All methods are pure.
type Engine struct {
	config Config
}

// NewEngine creates an engine with the provided config, filling zero fields
// from defaults.
func NewEngine(config Config) *Engine {
	def := DefaultConfig()
	if config.KFactor == 0 {
		config.KFactor = def.KFactor
	}
	if config.GaussianSigma == 0 {
		config.GaussianSigma = def.GaussianSigma
	}
	if len(config.DifficultyTargets) == 0 {
		config.DifficultyTargets = def.DifficultyTargets
	}
	if config.MultiplierScale == 0 {
		config.MultiplierScale = def.MultiplierScale
	}
	if config.MultiplierMin == 0 {
		config.MultiplierMin = def.MultiplierMin
	}
	if config.MultiplierMax == 0 {
		config.MultiplierMax = def.MultiplierMax
	}
	return &Engine{config: config}
}

// ProblemDifficultyProbabilities returns normalized Gaussian weights for each
// difficulty bucket around the players' average rating.
func (e *Engine) ProblemDifficultyProbabilities(avgRating float64) map[string]float64 {
	weights := make(map[string]float64, len(e.config.DifficultyTargets))
	total := 0.0
	for diff, target := range e.config.DifficultyTargets {
		d := avgRating - target
		w := math.Exp(-(d * d) / (2 * e.config.GaussianSigma * e.config.GaussianSigma))
		weights[diff] = w
		total += w
	}
	if total == 0 {
		// All weights underflowed; fall back to a uniform draw.
		for diff := range weights {
			weights[diff] = 1.0 / float64(len(weights))
		}
		return weights
	}
	for diff := range weights {
		weights[diff] /= total
	}
	return weights
}

// SelectDifficultyByProbability draws a bucket by inverse CDF over a stable
// (sorted) iteration order of the keys. roll must be in [0,1). Rounding
// residue falls back to Medium.
func (e *Engine) SelectDifficultyByProbability(probs map[string]float64, roll float64) string {
	keys := make([]string, 0, len(probs))
	for k := range probs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	cumulative := 0.0
	for _, k := range keys {
		cumulative += probs[k]
		if roll < cumulative {
			return k
		}
	}
	return DifficultyMedium
}

// TargetElo returns the problem target ELO for a difficulty bucket.
func (e *Engine) TargetElo(difficulty string) float64 {
	if target, ok := e.config.DifficultyTargets[difficulty]; ok {
		return target
	}
	return e.config.DifficultyTargets[DifficultyMedium]
}

// DifficultyMultiplier scales rating deltas by the gap between the player and
// the problem, clamped to [min, max].
func (e *Engine) DifficultyMultiplier(playerRating, problemElo float64) float64 {
	m := 1 + (problemElo-playerRating)/e.config.MultiplierScale
	if m < e.config.MultiplierMin {
		m = e.config.MultiplierMin
	}
	if m > e.config.MultiplierMax {
		m = e.config.MultiplierMax
	}
	return m
}

// ApplyDifficultyAdjustment rounds a base delta scaled by a multiplier.
func ApplyDifficultyAdjustment(baseChange, multiplier float64) int {
	return int(math.Round(baseChange * multiplier))
}

// Change captures one player's settlement.
type Change struct {
	OldRating int
	NewRating int
	Delta     int
}

func expectedScore(own, opponent float64) float64 {
	return 1 / (1 + math.Pow(10, (opponent-own)/400))
}

func (e *Engine) settle(rating, opponent, problemElo, actual float64) Change {
	expected := expectedScore(rating, opponent)
	base := float64(e.config.KFactor) * (actual - expected)
	delta := ApplyDifficultyAdjustment(base, e.DifficultyMultiplier(rating, problemElo))
	old := int(rating)
	return Change{OldRating: old, NewRating: old + delta, Delta: delta}
}

// SettleDecisive computes both sides of a decisive outcome. Each side is
// independently adjusted by its own multiplier against the problem ELO.
func (e *Engine) SettleDecisive(winnerRating, loserRating, problemElo float64) (winner, loser Change) {
	winner = e.settle(winnerRating, loserRating, problemElo, 1)
	loser = e.settle(loserRating, winnerRating, problemElo, 0)
	return winner, loser
}

// SettleDraw computes both sides of a draw (actual = 0.5 for both).
func (e *Engine) SettleDraw(rating1, rating2, problemElo float64) (first, second Change) {
	first = e.settle(rating1, rating2, problemElo, 0.5)
	second = e.settle(rating2, rating1, problemElo, 0.5)
	return first, second
}
