// Package identity is hcom's CVCV name allocator and hook-to-instance
// resolver (spec §4.2).
package identity

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"math/rand"
	"sort"
	"strings"
)

const (
	consonants = "bcdfgklmnprstvz"
	vowels     = "aeiou"
)

// goldNames is a curated pool of names with strong aesthetic scores; the
// allocator prefers these under softmax sampling without monopolizing them
// (spec §4.2). Kept intentionally small and hand-picked rather than
// algorithmically derived. Allocate only samples from allCVCV, so entries
// not spelled from the consonants and vowels above (such as "wizo", "juno"
// or "dreo") are never allocated.
var goldNames = []string{
	"kivo", "zaro", "nemi", "tavo", "luna", "pelo", "rasi", "sumo",
	"dreo", "falu", "gibo", "hano", "jomi", "kelu", "mira", "nodo",
	"pumi", "rilo", "seta", "tuki", "velo", "wizo", "yomi", "zulu",
	"cavo", "dino", "feru", "goli", "hazi", "juno", "kemo", "lavi",
}

// bannedNames can never be allocated: they collide with CLI verbs or other
// reserved words a bare @mention must not accidentally match (spec §9).
var bannedNames = map[string]bool{
	"send": true, "listen": true, "start": true, "stop": true, "kill": true,
	"list": true, "reset": true, "events": true, "daemon": true, "sub": true,
	"unsub": true, "all": true, "self": true, "none": true,
}

// Allocator samples CVCV names, softmax-weighted toward the gold pool,
// rejecting banned tokens and names within Hamming distance 1 of any
// currently live name.
type Allocator struct {
	rng *rand.Rand
}

// NewAllocator builds an Allocator. seed is typically time-derived by the
// caller; tests pass a fixed seed for determinism.
func NewAllocator(seed int64) *Allocator {
	return &Allocator{rng: rand.New(rand.NewSource(seed))}
}

// allCVCV enumerates every 4-letter consonant-vowel-consonant-vowel string.
func allCVCV() []string {
	out := make([]string, 0, len(consonants)*len(vowels)*len(consonants)*len(vowels))
	for _, c1 := range consonants {
		for _, v1 := range vowels {
			for _, c2 := range consonants {
				for _, v2 := range vowels {
					out = append(out, string([]rune{c1, v1, c2, v2}))
				}
			}
		}
	}
	return out
}

// score rates a candidate name's aesthetic/availability weight: gold names
// score highest, names sharing a consonant pair with a gold name score
// slightly above baseline, everything else scores at baseline.
func score(name string, gold map[string]bool) float64 {
	if gold[name] {
		return 3.0
	}
	for g := range gold {
		if name[0] == g[0] && name[2] == g[2] {
			return 1.4
		}
	}
	return 1.0
}

// hamming1 reports whether a and b (same length) differ in at most one
// position.
func hamming1(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	diff := 0
	for i := 0; i < len(a); i++ {
		if a[i] != b[i] {
			diff++
			if diff > 1 {
				return false
			}
		}
	}
	return true
}

// conflicts reports whether candidate is banned or within Hamming distance
// 1 of any name in live.
func conflicts(candidate string, live []string) bool {
	if bannedNames[candidate] {
		return true
	}
	for _, l := range live {
		if hamming1(candidate, l) {
			return true
		}
	}
	return false
}

// Allocate samples a fresh name, softmax-weighted by temperature toward the
// gold pool, avoiding every name in live (case-insensitive) and any name
// within Hamming distance 1 of one. Falls back to a greedy linear scan over
// the full CVCV enumeration if sampling can't find a free slot within a
// bounded number of attempts — spec's required fallback for a saturated
// pool.
func (a *Allocator) Allocate(live []string, temperature float64) string {
	if temperature <= 0 {
		temperature = 1.0
	}
	lower := make([]string, len(live))
	for i, l := range live {
		lower[i] = strings.ToLower(l)
	}
	gold := make(map[string]bool, len(goldNames))
	for _, g := range goldNames {
		gold[g] = true
	}

	candidates := allCVCV()
	weights := make([]float64, len(candidates))
	var total float64
	for i, c := range candidates {
		w := math.Exp(score(c, gold) / temperature)
		weights[i] = w
		total += w
	}

	const maxAttempts = 200
	for attempt := 0; attempt < maxAttempts; attempt++ {
		r := a.rng.Float64() * total
		var cum float64
		for i, w := range weights {
			cum += w
			if r <= cum {
				if !conflicts(candidates[i], lower) {
					return candidates[i]
				}
				break
			}
		}
	}

	// Softmax sampling exhausted its budget (a near-saturated pool); fall
	// back to a deterministic scan so allocation always terminates.
	sorted := append([]string(nil), candidates...)
	sort.Strings(sorted)
	for _, c := range sorted {
		if !conflicts(c, lower) {
			return c
		}
	}
	return ""
}

// HashToName deterministically derives a 4-letter CVCV name from an
// arbitrary string, for device short IDs (spec §4.2). Unlike Allocate, this
// never samples or checks for live-name conflicts — callers needing
// uniqueness (e.g. the device ID file) cache the first result themselves.
func HashToName(s string) string {
	sum := sha256.Sum256([]byte(s))
	n := binary.BigEndian.Uint64(sum[:8])

	c1 := consonants[n%uint64(len(consonants))]
	n /= uint64(len(consonants))
	v1 := vowels[n%uint64(len(vowels))]
	n /= uint64(len(vowels))
	c2 := consonants[n%uint64(len(consonants))]
	n /= uint64(len(consonants))
	v2 := vowels[n%uint64(len(vowels))]

	return string([]byte{c1, v1, c2, v2})
}
