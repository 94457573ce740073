package model

import (
	"strings"
	"unicode"
)

// Scorer rates one prediction against its reference. Scores are in [0, 1].
type Scorer interface {
	Name() string
	Score(prediction, reference string) float64
}

// ScorerFunc adapts a function into a named Scorer.
type ScorerFunc struct {
	name string
	fn   func(prediction, reference string) float64
}

// NewScorerFunc creates a named scorer.
func NewScorerFunc(name string, fn func(prediction, reference string) float64) ScorerFunc {
	return ScorerFunc{name: name, fn: fn}
}

// Name implements Scorer.
func (s ScorerFunc) Name() string { return s.name }

// Score implements Scorer.
func (s ScorerFunc) Score(prediction, reference string) float64 { return s.fn(prediction, reference) }

// ExactMatch scores 1 when the normalized prediction equals the reference.
func ExactMatch() Scorer {
	return NewScorerFunc("exact_match", func(p, r string) float64 {
		if normalize(p) == normalize(r) {
			return 1
		}
		return 0
	})
}

// Contains scores 1 when the normalized prediction contains the reference.
func Contains() Scorer {
	return NewScorerFunc("contains", func(p, r string) float64 {
		if strings.Contains(normalize(p), normalize(r)) {
			return 1
		}
		return 0
	})
}

// TokenF1 is the harmonic mean of token precision and recall.
func TokenF1() Scorer {
	return NewScorerFunc("token_f1", func(p, r string) float64 {
		pt, rt := strings.Fields(normalize(p)), strings.Fields(normalize(r))
		if len(pt) == 0 || len(rt) == 0 {
			if len(pt) == len(rt) {
				return 1
			}
			return 0
		}
		counts := map[string]int{}
		for _, t := range rt {
			counts[t]++
		}
		common := 0
		for _, t := range pt {
			if counts[t] > 0 {
				counts[t]--
				common++
			}
		}
		if common == 0 {
			return 0
		}
		precision := float64(common) / float64(len(pt))
		recall := float64(common) / float64(len(rt))
		return 2 * precision * recall / (precision + recall)
	})
}

// normalize lower-cases, strips punctuation and collapses whitespace.
func normalize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
