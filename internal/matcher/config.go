package matcher

import "time"

// Config gathers every weight and threshold of the resolution pipeline in
// one place. The defaults mirror production tuning; all of them are plain
// data so deployments can swap in learned weights without touching control
// flow.
type Config struct {
	// Embedding (RAG) stage.
	TopK               int     // vector-search candidates considered
	SimilarityFloor    float64 // candidates below this similarity are dropped
	EmbeddingWeight    float64
	LocationWeight     float64
	NameWeight         float64
	AcceptThreshold    float64 // total score needed to accept a RAG match
	AdvertiseThreshold float64 // total score needed to advertise cross-provider

	// GPS fallback stage.
	GeoRadiusKm           float64
	GeoLimit              int
	GeoProximityBonus     float64 // added when candidate is within GeoBonusWithinKm
	GeoBonusWithinKm      float64
	GeoAcceptThreshold    float64
	GeoAdvertiseThreshold float64

	// Canonical enrichment: a matched record may backfill missing canonical
	// fields only when it carries a cross-reference id or its confidence
	// clears this floor.
	EnrichConfidence float64

	// Slug disambiguation retry cap; exhaustion is a fatal config error.
	SlugMaxAttempts int

	CacheTTL time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TopK:               10,
		SimilarityFloor:    0.70,
		EmbeddingWeight:    0.40,
		LocationWeight:     0.30,
		NameWeight:         0.30,
		AcceptThreshold:    0.80,
		AdvertiseThreshold: 0.99,

		GeoRadiusKm:           0.5,
		GeoLimit:              10,
		GeoProximityBonus:     0.20,
		GeoBonusWithinKm:      0.1,
		GeoAcceptThreshold:    0.95,
		GeoAdvertiseThreshold: 0.98,

		EnrichConfidence: 0.99,

		SlugMaxAttempts: 1000,

		CacheTTL: 15 * time.Minute,
	}
}

// Distance bands for the RAG location sub-score. A record without
// coordinates scores the neutral 0.50.
const (
	locationNeutral = 0.50
)

var locationBands = []struct {
	withinKm float64
	score    float64
}{
	{0.05, 1.00},
	{0.10, 0.95},
	{0.50, 0.75},
	{1.00, 0.50},
}

func locationScore(distKm float64) float64 {
	for _, b := range locationBands {
		if distKm < b.withinKm {
			return b.score
		}
	}
	return 0.0
}
