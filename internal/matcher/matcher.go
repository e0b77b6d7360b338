// Package matcher implements the multi-stage hotel identity resolution
// pipeline: mapping-cache lookup, embedding similarity with weighted
// multi-signal scoring, then a geo+name fallback.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"staymatch/internal/adapters/observability"
	"staymatch/internal/domain"
	"staymatch/internal/similarity"
)

type Matcher struct {
	store domain.CanonicalStore
	index domain.VectorIndex
	embed domain.Embedder
	cache domain.Cache
	cfg   Config
}

func New(store domain.CanonicalStore, index domain.VectorIndex, embed domain.Embedder, cache domain.Cache, cfg Config) *Matcher {
	return &Matcher{store: store, index: index, embed: embed, cache: cache, cfg: cfg}
}

// MappingKey is the cache key for one provider hotel pair.
func MappingKey(providerID, providerHotelID string) string {
	return fmt.Sprintf("mapping:%s:%s", providerID, providerHotelID)
}

// Match resolves one provider record to a canonical hotel. A no_match
// outcome is a first-class result, not an error; errors mean a collaborator
// (embedding service, vector index, store) failed and no guess is returned.
// Match never creates canonical hotels — creation is the Factory's explicit,
// auditable act.
func (m *Matcher) Match(ctx context.Context, rec domain.ProviderHotelRecord) (domain.MatchResult, error) {
	if strings.TrimSpace(rec.Name) == "" {
		return domain.MatchResult{}, fmt.Errorf("%w: missing name", domain.ErrInvalidRecord)
	}

	// Stage 1: cache, then the mapping table it projects.
	if res, ok, err := m.matchCached(ctx, rec); err != nil {
		return domain.MatchResult{}, err
	} else if ok {
		observability.ObserveMatch(string(domain.MatchMethodCache))
		return res, nil
	}

	// Stage 2: cross-reference short-circuit + embedding similarity.
	res, err := m.matchRAG(ctx, rec)
	if err != nil {
		return domain.MatchResult{}, err
	}
	if res.Matched() {
		observability.ObserveMatch(string(domain.MatchMethodRAG))
		return res, nil
	}
	ragCandidates := res.CandidateCount

	// Stage 3: geo+name fallback, only when the record has coordinates.
	if rec.HasCoords() {
		res, err = m.matchGPS(ctx, rec)
		if err != nil {
			return domain.MatchResult{}, err
		}
		if res.Matched() {
			observability.ObserveMatch(string(domain.MatchMethodGPS))
			return res, nil
		}
	}

	observability.ObserveMatch(string(domain.MatchMethodNone))
	return domain.MatchResult{Method: domain.MatchMethodNone, CandidateCount: ragCandidates}, nil
}

// matchCached checks the mapping cache and, on a cache miss, the persistent
// mapping table (the cache is a rebuildable projection of it, so a table hit
// is still the cache path and repopulates the cache). Cache errors are
// treated as misses; store errors propagate.
func (m *Matcher) matchCached(ctx context.Context, rec domain.ProviderHotelRecord) (domain.MatchResult, bool, error) {
	key := MappingKey(rec.ProviderID, rec.ProviderHotelID)

	var mp domain.ProviderMapping
	if ok, _ := m.cache.Get(ctx, key, &mp); ok {
		return cachedResult(mp), true, nil
	}

	mp, err := m.store.GetMapping(ctx, rec.ProviderID, rec.ProviderHotelID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.MatchResult{}, false, nil
	}
	if err != nil {
		return domain.MatchResult{}, false, fmt.Errorf("get mapping: %w", err)
	}
	_ = m.cache.Set(ctx, key, mp, int(m.cfg.CacheTTL.Seconds()))
	return cachedResult(mp), true, nil
}

func cachedResult(mp domain.ProviderMapping) domain.MatchResult {
	id := mp.CanonicalHotelID
	return domain.MatchResult{
		CanonicalID:     &id,
		Confidence:      mp.MatchConfidence,
		Method:          domain.MatchMethodCache,
		ShouldAdvertise: mp.IncludeInAds,
	}
}

func (m *Matcher) matchRAG(ctx context.Context, rec domain.ProviderHotelRecord) (domain.MatchResult, error) {
	// A shared industry cross-reference id is certain identity; resolve it
	// against the store before spending an embedding call.
	if rec.CrossReferenceID != "" {
		h, err := m.store.GetCanonicalHotelByCrossRef(ctx, rec.CrossReferenceID)
		switch {
		case err == nil:
			if err := m.persist(ctx, rec, h.ID, 1.0, domain.MatchMethodRAG, true); err != nil {
				return domain.MatchResult{}, err
			}
			id := h.ID
			return domain.MatchResult{
				CanonicalID:     &id,
				Confidence:      1.0,
				Method:          domain.MatchMethodRAG,
				ShouldAdvertise: true,
				NameScore:       1.0,
			}, nil
		case !errors.Is(err, domain.ErrNotFound):
			return domain.MatchResult{}, fmt.Errorf("cross-reference lookup: %w", err)
		}
	}

	vec, err := m.embed.Embed(ctx, ComparisonText(rec))
	if err != nil {
		return domain.MatchResult{}, fmt.Errorf("embedding service: %w", err)
	}
	cands, err := m.index.Search(ctx, vec, m.cfg.SimilarityFloor, m.cfg.TopK)
	if err != nil {
		return domain.MatchResult{}, fmt.Errorf("vector search: %w", err)
	}

	norm := similarity.NormalizeName(rec.Name)
	var best *domain.Candidate
	var bestTotal, bestLoc, bestName float64
	for i := range cands {
		c := &cands[i]
		loc := m.candidateLocationScore(rec, c)
		name := nameScore(norm, c)
		total := m.cfg.EmbeddingWeight*c.Similarity +
			m.cfg.LocationWeight*loc +
			m.cfg.NameWeight*name
		// Ties keep the first candidate in store order.
		if best == nil || total > bestTotal {
			best, bestTotal, bestLoc, bestName = c, total, loc, name
		}
	}

	if best == nil || bestTotal < m.cfg.AcceptThreshold {
		log.Debug().
			Str("provider", rec.ProviderID).
			Str("provider_hotel_id", rec.ProviderHotelID).
			Int("candidates", len(cands)).
			Float64("best", bestTotal).
			Msg("rag stage below threshold")
		return domain.MatchResult{Method: domain.MatchMethodNone, CandidateCount: len(cands)}, nil
	}

	observability.ObserveMatchScore("rag", bestTotal)
	advertise := bestTotal >= m.cfg.AdvertiseThreshold
	if err := m.persist(ctx, rec, best.ID, bestTotal, domain.MatchMethodRAG, advertise); err != nil {
		return domain.MatchResult{}, err
	}
	id := best.ID
	return domain.MatchResult{
		CanonicalID:     &id,
		Confidence:      bestTotal,
		Method:          domain.MatchMethodRAG,
		ShouldAdvertise: advertise,
		EmbeddingScore:  best.Similarity,
		LocationScore:   bestLoc,
		NameScore:       bestName,
		CandidateCount:  len(cands),
	}, nil
}

func (m *Matcher) matchGPS(ctx context.Context, rec domain.ProviderHotelRecord) (domain.MatchResult, error) {
	cands, err := m.store.GeoRadiusSearch(ctx, *rec.Lat, *rec.Lon, m.cfg.GeoRadiusKm, m.cfg.GeoLimit)
	if err != nil {
		return domain.MatchResult{}, fmt.Errorf("geo search: %w", err)
	}

	norm := similarity.NormalizeName(rec.Name)
	var best *domain.Candidate
	var bestScore, bestName, bestLoc float64
	for i := range cands {
		c := &cands[i]
		if c.Lat == nil || c.Lon == nil {
			continue
		}
		name := nameScore(norm, c)
		score := name
		loc := 0.0
		if similarity.HaversineKm(*rec.Lat, *rec.Lon, *c.Lat, *c.Lon) < m.cfg.GeoBonusWithinKm {
			loc = m.cfg.GeoProximityBonus
			score += loc
		}
		if best == nil || score > bestScore {
			best, bestScore, bestName, bestLoc = c, score, name, loc
		}
	}

	if best == nil || bestScore < m.cfg.GeoAcceptThreshold {
		return domain.MatchResult{Method: domain.MatchMethodNone, CandidateCount: len(cands)}, nil
	}

	observability.ObserveMatchScore("gps", bestScore)
	advertise := bestScore >= m.cfg.GeoAdvertiseThreshold
	confidence := bestScore
	if confidence > 1.0 {
		confidence = 1.0 // name score plus proximity bonus can exceed 1
	}
	if err := m.persist(ctx, rec, best.ID, confidence, domain.MatchMethodGPS, advertise); err != nil {
		return domain.MatchResult{}, err
	}
	id := best.ID
	return domain.MatchResult{
		CanonicalID:     &id,
		Confidence:      confidence,
		Method:          domain.MatchMethodGPS,
		ShouldAdvertise: advertise,
		LocationScore:   bestLoc,
		NameScore:       bestName,
		CandidateCount:  len(cands),
	}, nil
}

// persist writes the accepted mapping to the store and refreshes the cache.
// Concurrent workers converging on the same key write the same canonical id,
// so last-write-wins is convergent.
func (m *Matcher) persist(ctx context.Context, rec domain.ProviderHotelRecord, canonicalID int64, confidence float64, method domain.MatchMethod, advertise bool) error {
	mp := domain.ProviderMapping{
		CanonicalHotelID: canonicalID,
		ProviderID:       rec.ProviderID,
		ProviderHotelID:  rec.ProviderHotelID,
		MatchConfidence:  confidence,
		MatchMethod:      method,
		IncludeInAds:     advertise,
		RawProviderData:  rec.RawJSON,
	}
	if err := m.store.UpsertMapping(ctx, mp); err != nil {
		return fmt.Errorf("upsert mapping: %w", err)
	}
	_ = m.cache.Set(ctx, MappingKey(rec.ProviderID, rec.ProviderHotelID), mp, int(m.cfg.CacheTTL.Seconds()))
	return m.enrichCanonical(ctx, rec, canonicalID, confidence)
}

// enrichCanonical backfills missing canonical fields from a trusted matched
// record (one carrying a cross-reference id, or matched at or above the
// enrichment confidence floor). A record sharing the industry code with a
// canonical row that lacks one promotes the row to certain identity:
// cross_reference_id set, confidence 1.0, ad-approvable. Only empty fields
// are filled, so repeated matches converge to a no-op.
func (m *Matcher) enrichCanonical(ctx context.Context, rec domain.ProviderHotelRecord, canonicalID int64, confidence float64) error {
	if rec.CrossReferenceID == "" && confidence < m.cfg.EnrichConfidence {
		return nil
	}

	h, err := m.store.GetCanonicalHotel(ctx, canonicalID)
	if err != nil {
		return fmt.Errorf("load canonical for enrichment: %w", err)
	}

	changed := false
	if rec.CrossReferenceID != "" && h.CrossReferenceID == "" {
		h.CrossReferenceID = rec.CrossReferenceID
		h.MatchConfidence = 1.0
		h.AdApprovable = true
		changed = true
	}
	if h.Lat == nil && rec.HasCoords() {
		h.Lat, h.Lon = rec.Lat, rec.Lon
		changed = true
	}
	if h.Description == nil && rec.Description != nil {
		h.Description = rec.Description
		changed = true
	}
	if h.Stars == nil && rec.Stars != nil {
		h.Stars = rec.Stars
		changed = true
	}
	if !changed {
		return nil
	}

	if err := m.store.UpdateCanonicalHotel(ctx, h); err != nil {
		return fmt.Errorf("enrich canonical: %w", err)
	}
	log.Info().
		Int64("canonical_id", canonicalID).
		Str("provider", rec.ProviderID).
		Bool("cross_ref_backfilled", h.CrossReferenceID == rec.CrossReferenceID && rec.CrossReferenceID != "").
		Msg("canonical hotel enriched")
	return nil
}

func (m *Matcher) candidateLocationScore(rec domain.ProviderHotelRecord, c *domain.Candidate) float64 {
	if !rec.HasCoords() || c.Lat == nil || c.Lon == nil {
		return locationNeutral
	}
	return locationScore(similarity.HaversineKm(*rec.Lat, *rec.Lon, *c.Lat, *c.Lon))
}

// nameScore short-circuits exact normalized matches to 1.0, otherwise
// Jaro-Winkler on normalized names.
func nameScore(normRecord string, c *domain.Candidate) float64 {
	cn := c.NormalizedName
	if cn == "" {
		cn = similarity.NormalizeName(c.Name)
	}
	if normRecord == cn {
		return 1.0
	}
	return similarity.JaroWinkler(normRecord, cn)
}

// ComparisonText builds the embedding input from the record's identifying
// fields, skipping empties.
func ComparisonText(rec domain.ProviderHotelRecord) string {
	parts := make([]string, 0, 5)
	for _, p := range []string{rec.Name, rec.Address, rec.City, strVal(rec.State), rec.Country} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	return strings.Join(parts, ", ")
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
