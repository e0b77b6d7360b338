// Package app wires the matching pipeline, the canonical factory, and the
// merger into the operations the HTTP layer and the ingestor call.
package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"staymatch/internal/adapters/provider"
	"staymatch/internal/domain"
	"staymatch/internal/matcher"
	"staymatch/internal/merger"
)

// Resolver resolves one provider record to a canonical identity.
type Resolver interface {
	Resolve(ctx context.Context, rec domain.ProviderHotelRecord) (domain.MatchResult, error)
}

// ResolveService runs the match pipeline and, when no stage accepts, mints a
// new canonical hotel. Every provider record therefore always ends up with a
// canonical identity.
type ResolveService struct {
	matcher *matcher.Matcher
	factory *matcher.Factory
}

func NewResolveService(m *matcher.Matcher, f *matcher.Factory) *ResolveService {
	return &ResolveService{matcher: m, factory: f}
}

func (s *ResolveService) Resolve(ctx context.Context, rec domain.ProviderHotelRecord) (domain.MatchResult, error) {
	res, err := s.matcher.Match(ctx, rec)
	if err != nil {
		return domain.MatchResult{}, err
	}
	if res.Matched() {
		return res, nil
	}

	id, err := s.factory.CreateCanonicalHotel(ctx, rec)
	if err != nil {
		return domain.MatchResult{}, fmt.Errorf("create canonical: %w", err)
	}
	return domain.MatchResult{
		CanonicalID:     &id,
		Confidence:      1.0,
		Method:          domain.MatchMethodInitial,
		ShouldAdvertise: true,
	}, nil
}

// SearchService fans a search out to every configured provider, resolves
// each returned record to its canonical hotel, and merges the groups into
// unified listings.
type SearchService struct {
	clients  []domain.ProviderClient
	resolver Resolver
	store    domain.CanonicalStore
	cache    domain.Cache
	cacheTTL time.Duration
	workers  int64
}

func NewSearchService(clients []domain.ProviderClient, r Resolver, store domain.CanonicalStore, cache domain.Cache, cacheTTL time.Duration, workers int) *SearchService {
	if workers <= 0 {
		workers = 4
	}
	return &SearchService{
		clients:  clients,
		resolver: r,
		store:    store,
		cache:    cache,
		cacheTTL: cacheTTL,
		workers:  int64(workers),
	}
}

// Search queries all providers concurrently. A single provider outage
// degrades the result set instead of failing the search; the search fails
// only when every provider fails or nothing resolves.
func (s *SearchService) Search(ctx context.Context, q domain.SearchQuery) ([]domain.UnifiedListing, error) {
	sem := semaphore.NewWeighted(s.workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var records []domain.ProviderHotelRecord
	failures := 0

	for _, cl := range s.clients {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(cl domain.ProviderClient) {
			defer wg.Done()
			defer sem.Release(1)

			recs, err := cl.Search(ctx, q)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				log.Warn().Str("provider", cl.ProviderID()).Err(err).Msg("provider search failed")
				return
			}
			records = append(records, recs...)
		}(cl)
	}
	wg.Wait()

	if failures == len(s.clients) && len(s.clients) > 0 {
		return nil, fmt.Errorf("all %d providers failed", failures)
	}

	groups := map[int64][]merger.MatchedRecord{}
	order := []int64{}
	var lastResolveErr error
	for _, rec := range records {
		res, err := s.resolver.Resolve(ctx, rec)
		if err != nil {
			lastResolveErr = err
			log.Warn().
				Str("provider", rec.ProviderID).
				Str("provider_hotel_id", rec.ProviderHotelID).
				Err(err).Msg("resolution failed, record dropped")
			continue
		}
		id := *res.CanonicalID
		if _, seen := groups[id]; !seen {
			order = append(order, id)
		}
		groups[id] = append(groups[id], merger.MatchedRecord{Record: rec, Confidence: res.Confidence})
	}

	if len(groups) == 0 && lastResolveErr != nil {
		return nil, lastResolveErr
	}

	listings := make([]domain.UnifiedListing, 0, len(groups))
	for _, id := range order {
		l, err := merger.MergeHotelListings(id, groups[id])
		if err != nil {
			continue
		}
		listings = append(listings, l)
	}
	sort.SliceStable(listings, func(i, j int) bool { return listings[i].Price < listings[j].Price })
	return listings, nil
}

// GetHotelDetails fetches the detail payload from the provider the user is
// booking through, resolves it, and enriches it with the sibling records
// stored for the same canonical hotel.
func (s *SearchService) GetHotelDetails(ctx context.Context, providerID, providerHotelID string) (domain.UnifiedDetails, error) {
	cl := s.clientFor(providerID)
	if cl == nil {
		return domain.UnifiedDetails{}, fmt.Errorf("%w: unknown provider %q", domain.ErrNotFound, providerID)
	}

	rec, rooms, policies, err := cl.GetDetails(ctx, providerHotelID)
	if err != nil {
		return domain.UnifiedDetails{}, fmt.Errorf("provider details: %w", err)
	}

	res, err := s.resolver.Resolve(ctx, rec)
	if err != nil {
		return domain.UnifiedDetails{}, err
	}
	canonicalID := *res.CanonicalID

	mappings, err := s.store.ListMappingsByCanonical(ctx, canonicalID)
	if err != nil {
		return domain.UnifiedDetails{}, fmt.Errorf("list mappings: %w", err)
	}

	var others []merger.MatchedRecord
	for _, m := range mappings {
		if m.ProviderID == providerID && m.ProviderHotelID == providerHotelID {
			continue
		}
		if len(m.RawProviderData) == 0 {
			continue
		}
		sib, err := provider.DecodeRecord(m.ProviderID, m.RawProviderData)
		if err != nil {
			log.Warn().Str("provider", m.ProviderID).Err(err).Msg("stored payload undecodable, sibling skipped")
			continue
		}
		others = append(others, merger.MatchedRecord{Record: sib, Confidence: m.MatchConfidence})
	}

	primary := merger.MatchedRecord{Record: rec, Confidence: res.Confidence}
	return merger.MergeHotelDetails(canonicalID, primary, rooms, policies, others), nil
}

// GetCanonicalHotel serves the canonical entity by slug, cache-first.
func (s *SearchService) GetCanonicalHotel(ctx context.Context, slug string) (domain.CanonicalHotel, error) {
	key := "canonical:slug:" + slug
	var h domain.CanonicalHotel
	if ok, _ := s.cache.Get(ctx, key, &h); ok {
		return h, nil
	}
	h, err := s.store.GetCanonicalHotelBySlug(ctx, slug)
	if err != nil {
		return domain.CanonicalHotel{}, err
	}
	_ = s.cache.Set(ctx, key, h, int(s.cacheTTL.Seconds()))
	return h, nil
}

func (s *SearchService) clientFor(providerID string) domain.ProviderClient {
	for _, cl := range s.clients {
		if cl.ProviderID() == providerID {
			return cl
		}
	}
	return nil
}
