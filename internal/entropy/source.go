// Package entropy provides the random sources behind simulation jitter and noise.
// Every source yields floats in [0, 1); the climate engine only ever sees the
// Source interface so tests can pin it to a constant.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	mrand "math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// Source yields random floats in [0, 1).
type Source interface {
	Float64() float64
}

// Jitter returns a uniform perturbation in [-amp, amp] drawn from src.
// A nil source yields no perturbation.
func Jitter(src Source, amp float64) float64 {
	if src == nil || amp == 0 {
		return 0
	}
	return (src.Float64()*2 - 1) * amp
}

// Rand is a seeded pseudo-random source. Not safe for concurrent use.
type Rand struct {
	rng *mrand.Rand
}

// NewRand creates a pseudo-random source. Seed 0 picks a random seed.
func NewRand(seed int64) *Rand {
	if seed == 0 {
		seed = int64(cryptoRandFloat() * math.MaxInt64)
	}
	return &Rand{rng: mrand.New(mrand.NewSource(seed))}
}

// Float64 returns the next value in [0, 1).
func (r *Rand) Float64() float64 {
	return r.rng.Float64()
}

// Simplex walks a line through 2-D simplex noise, so successive values drift
// instead of jumping. Each call advances the walk by Step.
type Simplex struct {
	noise opensimplex.Noise
	pos   float64
	lane  float64
	Step  float64
}

// NewSimplex creates a smooth noise source. Seed 0 picks a random seed.
func NewSimplex(seed int64) *Simplex {
	if seed == 0 {
		seed = int64(cryptoRandFloat() * math.MaxInt64)
	}
	return &Simplex{
		noise: opensimplex.NewNormalized(seed),
		lane:  float64(seed%997) + 0.5,
		Step:  0.37,
	}
}

// Float64 returns the next value in [0, 1).
func (s *Simplex) Float64() float64 {
	s.pos += s.Step
	v := s.noise.Eval2(s.pos, s.lane)
	if v < 0 {
		return 0
	}
	if v >= 1 {
		return math.Nextafter(1, 0)
	}
	return v
}

// Constant always returns the same value. Constant(0.5) disables jitter.
type Constant float64

// Float64 returns the constant.
func (c Constant) Float64() float64 {
	return float64(c)
}

// Crypto reads from crypto/rand.
type Crypto struct{}

// Float64 returns a value in [0, 1).
func (Crypto) Float64() float64 {
	return cryptoRandFloat()
}

// cryptoRandFloat generates a random float64 using crypto/rand.
func cryptoRandFloat() float64 {
	var buf [8]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		// This should never happen but return 0.5 as a safe default.
		return 0.5
	}
	// Use only 53 bits for a uniform float64 in [0, 1).
	n := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(n) / float64(1<<53)
}

// Source kinds accepted by FromName.
const (
	KindRand      = "rand"
	KindSimplex   = "simplex"
	KindCrypto    = "crypto"
	KindRandomOrg = "randomorg"
)

// Kinds lists every source name FromName understands.
func Kinds() []string {
	return []string{KindRand, KindSimplex, KindCrypto, KindRandomOrg}
}

// FromName builds the named source. An empty name means KindRand.
// KindRandomOrg without a key degrades to crypto/rand.
func FromName(kind string, seed int64, randomOrgKey string) (Source, error) {
	switch kind {
	case "", KindRand:
		return NewRand(seed), nil
	case KindSimplex:
		return NewSimplex(seed), nil
	case KindCrypto:
		return Crypto{}, nil
	case KindRandomOrg:
		if c := NewClient(randomOrgKey); c != nil {
			return c, nil
		}
		return Crypto{}, nil
	default:
		return nil, fmt.Errorf("unknown noise source %q", kind)
	}
}
