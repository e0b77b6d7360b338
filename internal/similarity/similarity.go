// Package similarity holds the pure string and geo scoring primitives used
// by the matcher. No I/O, no state.
package similarity

import (
	"math"
	"strings"
	"unicode"
)

// NormalizeName lowercases, strips everything outside [a-z0-9 ], collapses
// runs of whitespace and trims. Idempotent.
func NormalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// JaroWinkler returns the Jaro similarity of a and b boosted by the Winkler
// prefix bonus (up to 4 leading common characters, weight 0.1 per character).
// Equal strings score 1.0; strings with no matching characters score 0.0.
func JaroWinkler(a, b string) float64 {
	j := jaro(a, b)
	prefix := 0
	for i := 0; i < len(a) && i < len(b) && i < 4; i++ {
		if a[i] != b[i] {
			break
		}
		prefix++
	}
	return j + float64(prefix)*0.1*(1-j)
}

func jaro(a, b string) float64 {
	if a == b {
		return 1.0
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0.0
	}

	window := max(la, lb)/2 - 1
	if window < 0 {
		window = 0
	}

	aMatched := make([]bool, la)
	bMatched := make([]bool, lb)
	matches := 0
	for i := 0; i < la; i++ {
		lo := i - window
		if lo < 0 {
			lo = 0
		}
		hi := i + window + 1
		if hi > lb {
			hi = lb
		}
		for k := lo; k < hi; k++ {
			if bMatched[k] || a[i] != b[k] {
				continue
			}
			aMatched[i] = true
			bMatched[k] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0.0
	}

	// Transpositions: matched characters compared in original order.
	transpositions := 0
	k := 0
	for i := 0; i < la; i++ {
		if !aMatched[i] {
			continue
		}
		for !bMatched[k] {
			k++
		}
		if a[i] != b[k] {
			transpositions++
		}
		k++
	}
	t := float64(transpositions) / 2.0

	m := float64(matches)
	return (m/float64(la) + m/float64(lb) + (m-t)/m) / 3.0
}

const earthRadiusKm = 6371.0

// HaversineKm is the great-circle distance in kilometers between two points.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
}

func rad(deg float64) float64 { return deg * math.Pi / 180 }
