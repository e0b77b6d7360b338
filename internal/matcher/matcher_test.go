package matcher_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"staymatch/internal/domain"
	"staymatch/internal/matcher"
	"staymatch/internal/similarity"
)

// ---- fakes ----

type fakeStore struct {
	hotels   map[int64]domain.CanonicalHotel
	bySlug   map[string]int64
	byXref   map[string]int64
	mappings map[string]domain.ProviderMapping
	nextID   int64
	updates  int // UpdateCanonicalHotel calls

	insertErrOnce error // returned by the next InsertCanonicalHotel, then cleared
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		hotels:   map[int64]domain.CanonicalHotel{},
		bySlug:   map[string]int64{},
		byXref:   map[string]int64{},
		mappings: map[string]domain.ProviderMapping{},
	}
}

func (s *fakeStore) addHotel(h domain.CanonicalHotel) int64 {
	s.nextID++
	h.ID = s.nextID
	s.hotels[h.ID] = h
	s.bySlug[h.Slug] = h.ID
	if h.CrossReferenceID != "" {
		s.byXref[h.CrossReferenceID] = h.ID
	}
	return h.ID
}

func (s *fakeStore) InsertCanonicalHotel(ctx context.Context, h *domain.CanonicalHotel) (int64, error) {
	if s.insertErrOnce != nil {
		err := s.insertErrOnce
		s.insertErrOnce = nil
		return 0, err
	}
	if _, taken := s.bySlug[h.Slug]; taken {
		return 0, domain.ErrDuplicateSlug
	}
	return s.addHotel(*h), nil
}

func (s *fakeStore) UpdateCanonicalHotel(ctx context.Context, h domain.CanonicalHotel) error {
	s.updates++
	s.hotels[h.ID] = h
	if h.CrossReferenceID != "" {
		s.byXref[h.CrossReferenceID] = h.ID
	}
	return nil
}

func (s *fakeStore) UpsertMapping(ctx context.Context, m domain.ProviderMapping) error {
	s.mappings[m.ProviderID+"/"+m.ProviderHotelID] = m
	return nil
}

func (s *fakeStore) GetCanonicalHotel(ctx context.Context, id int64) (domain.CanonicalHotel, error) {
	h, ok := s.hotels[id]
	if !ok {
		return domain.CanonicalHotel{}, domain.ErrNotFound
	}
	return h, nil
}

func (s *fakeStore) GetCanonicalHotelBySlug(ctx context.Context, slug string) (domain.CanonicalHotel, error) {
	id, ok := s.bySlug[slug]
	if !ok {
		return domain.CanonicalHotel{}, domain.ErrNotFound
	}
	return s.hotels[id], nil
}

func (s *fakeStore) GetCanonicalHotelByCrossRef(ctx context.Context, xref string) (domain.CanonicalHotel, error) {
	id, ok := s.byXref[xref]
	if !ok {
		return domain.CanonicalHotel{}, domain.ErrNotFound
	}
	return s.hotels[id], nil
}

func (s *fakeStore) GetMapping(ctx context.Context, providerID, providerHotelID string) (domain.ProviderMapping, error) {
	m, ok := s.mappings[providerID+"/"+providerHotelID]
	if !ok {
		return domain.ProviderMapping{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *fakeStore) ListMappingsByCanonical(ctx context.Context, canonicalID int64) ([]domain.ProviderMapping, error) {
	var out []domain.ProviderMapping
	for _, m := range s.mappings {
		if m.CanonicalHotelID == canonicalID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProviderID < out[j].ProviderID })
	return out, nil
}

func (s *fakeStore) GeoRadiusSearch(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]domain.Candidate, error) {
	var out []domain.Candidate
	for _, h := range s.hotels {
		if h.Lat == nil || h.Lon == nil {
			continue
		}
		if similarity.HaversineKm(lat, lon, *h.Lat, *h.Lon) > radiusKm {
			continue
		}
		out = append(out, domain.Candidate{
			ID: h.ID, Name: h.Name, NormalizedName: h.NormalizedName,
			Lat: h.Lat, Lon: h.Lon, CrossReferenceID: h.CrossReferenceID,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

type fakeIndex struct {
	hits     []domain.Candidate
	upserted map[int64][]float32
}

func (f *fakeIndex) Upsert(ctx context.Context, h domain.CanonicalHotel, vec []float32) error {
	if f.upserted == nil {
		f.upserted = map[int64][]float32{}
	}
	f.upserted[h.ID] = vec
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, vec []float32, floor float64, limit int) ([]domain.Candidate, error) {
	var out []domain.Candidate
	for _, c := range f.hits {
		if c.Similarity >= floor && len(out) < limit {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeCache struct {
	store map[string]domain.ProviderMapping
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	v, ok := c.store[key]
	if !ok {
		return false, nil
	}
	if d, ok := dst.(*domain.ProviderMapping); ok {
		*d = v
	}
	return true, nil
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	if c.store == nil {
		c.store = map[string]domain.ProviderMapping{}
	}
	if m, ok := v.(domain.ProviderMapping); ok {
		c.store[key] = m
	}
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	delete(c.store, key)
	return nil
}

// ---- helpers ----

func pf(f float64) *float64 { return &f }

func record(provider, hotelID, name string) domain.ProviderHotelRecord {
	return domain.ProviderHotelRecord{
		ProviderID:      provider,
		ProviderHotelID: hotelID,
		Name:            name,
		Address:         "1 Main St",
		City:            "Istanbul",
		Country:         "TR",
		Price:           120,
		Currency:        "USD",
	}
}

func newMatcher(store *fakeStore, idx *fakeIndex, emb *fakeEmbedder, cache *fakeCache) *matcher.Matcher {
	return matcher.New(store, idx, emb, cache, matcher.DefaultConfig())
}

// ---- tests ----

func TestMatch_MissingNameFailsFast(t *testing.T) {
	emb := &fakeEmbedder{}
	m := newMatcher(newFakeStore(), &fakeIndex{}, emb, &fakeCache{})

	_, err := m.Match(context.Background(), domain.ProviderHotelRecord{ProviderID: "amadeus", ProviderHotelID: "1"})
	if !errors.Is(err, domain.ErrInvalidRecord) {
		t.Fatalf("expected ErrInvalidRecord, got %v", err)
	}
	if emb.calls != 0 {
		t.Fatalf("embedder called %d times before validation", emb.calls)
	}
}

func TestMatch_CacheHit(t *testing.T) {
	cache := &fakeCache{store: map[string]domain.ProviderMapping{
		matcher.MappingKey("amadeus", "A1"): {
			CanonicalHotelID: 7, MatchConfidence: 0.97,
			MatchMethod: domain.MatchMethodRAG, IncludeInAds: false,
		},
	}}
	emb := &fakeEmbedder{}
	m := newMatcher(newFakeStore(), &fakeIndex{}, emb, cache)

	res, err := m.Match(context.Background(), record("amadeus", "A1", "Grand Hotel"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !res.Matched() || *res.CanonicalID != 7 || res.Method != domain.MatchMethodCache {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Confidence != 0.97 || res.ShouldAdvertise {
		t.Fatalf("cache hit must reuse stored confidence/advertise: %+v", res)
	}
	if emb.calls != 0 {
		t.Fatalf("cache hit must not call the embedder")
	}
}

func TestMatch_StoreMappingServesCacheStage(t *testing.T) {
	store := newFakeStore()
	store.mappings["booking/B9"] = domain.ProviderMapping{
		CanonicalHotelID: 3, ProviderID: "booking", ProviderHotelID: "B9",
		MatchConfidence: 1.0, MatchMethod: domain.MatchMethodInitial, IncludeInAds: true,
	}
	cache := &fakeCache{}
	m := newMatcher(store, &fakeIndex{}, &fakeEmbedder{}, cache)

	res, err := m.Match(context.Background(), record("booking", "B9", "Grand Hotel"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Method != domain.MatchMethodCache || *res.CanonicalID != 3 {
		t.Fatalf("unexpected result: %+v", res)
	}
	// The persistent table hit repopulates the volatile cache.
	if _, ok := cache.store[matcher.MappingKey("booking", "B9")]; !ok {
		t.Fatalf("cache not repopulated from the mapping table")
	}
}

func TestMatch_CrossReferenceIsCertain(t *testing.T) {
	store := newFakeStore()
	id := store.addHotel(domain.CanonicalHotel{
		Name: "Hotel X", NormalizedName: "hotel x", Slug: "hotel-x-istanbul",
		CrossReferenceID: "X1",
	})
	emb := &fakeEmbedder{}
	m := newMatcher(store, &fakeIndex{}, emb, &fakeCache{})

	recA := record("amadeus", "A1", "Hotel X")
	recA.CrossReferenceID = "X1"
	recB := record("booking", "B2", "The X Hotel Istanbul")
	recB.CrossReferenceID = "X1"

	for _, rec := range []domain.ProviderHotelRecord{recA, recB} {
		res, err := m.Match(context.Background(), rec)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if !res.Matched() || *res.CanonicalID != id {
			t.Fatalf("expected canonical %d, got %+v", id, res)
		}
		if res.Confidence != 1.0 || !res.ShouldAdvertise || res.Method != domain.MatchMethodRAG {
			t.Fatalf("cross-reference match must be certain: %+v", res)
		}
	}
	if emb.calls != 0 {
		t.Fatalf("cross-reference hit must not spend an embedding call")
	}
}

func TestMatch_RAGAboveThreshold(t *testing.T) {
	store := newFakeStore()
	id := store.addHotel(domain.CanonicalHotel{
		Name: "Grand Plaza", NormalizedName: "grand plaza", Slug: "grand-plaza-istanbul",
		Lat: pf(41.0), Lon: pf(29.0),
	})
	idx := &fakeIndex{hits: []domain.Candidate{{
		ID: id, Name: "Grand Plaza", NormalizedName: "grand plaza",
		Lat: pf(41.0), Lon: pf(29.0), Similarity: 0.92,
	}}}
	m := newMatcher(store, idx, &fakeEmbedder{}, &fakeCache{})

	rec := record("amadeus", "A1", "Grand Plaza")
	rec.Lat, rec.Lon = pf(41.00027), pf(29.0) // ~30m away

	res, err := m.Match(context.Background(), rec)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Method != domain.MatchMethodRAG || *res.CanonicalID != id {
		t.Fatalf("unexpected result: %+v", res)
	}
	// 0.40*0.92 + 0.30*1.00 + 0.30*1.00 = 0.968: matched but below the
	// advertise bar.
	if res.Confidence < 0.967 || res.Confidence > 0.969 {
		t.Fatalf("total score = %v, want 0.968", res.Confidence)
	}
	if res.ShouldAdvertise {
		t.Fatalf("0.968 must not clear the 0.99 advertise threshold")
	}
	if res.EmbeddingScore != 0.92 || res.LocationScore != 1.0 || res.NameScore != 1.0 {
		t.Fatalf("unexpected breakdown: %+v", res)
	}
	// Accepted matches are persisted for the next lookup.
	if _, err := store.GetMapping(context.Background(), "amadeus", "A1"); err != nil {
		t.Fatalf("mapping not persisted: %v", err)
	}
}

func TestMatch_CrossRefPromotesCanonical(t *testing.T) {
	store := newFakeStore()
	id := store.addHotel(domain.CanonicalHotel{
		Name: "Grand Plaza", NormalizedName: "grand plaza", Slug: "grand-plaza-istanbul",
		Lat: pf(41.0), Lon: pf(29.0),
	})
	idx := &fakeIndex{hits: []domain.Candidate{{
		ID: id, NormalizedName: "grand plaza", Lat: pf(41.0), Lon: pf(29.0), Similarity: 0.92,
	}}}
	m := newMatcher(store, idx, &fakeEmbedder{}, &fakeCache{})

	rec := record("amadeus", "A1", "Grand Plaza")
	rec.Lat, rec.Lon = pf(41.00027), pf(29.0)
	rec.CrossReferenceID = "GX-9" // no canonical row carries it yet

	res, err := m.Match(context.Background(), rec)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	// Scored at 0.968: accepted but under the advertise bar.
	if res.Method != domain.MatchMethodRAG || *res.CanonicalID != id || res.ShouldAdvertise {
		t.Fatalf("unexpected result: %+v", res)
	}

	// The shared industry code promotes the canonical row to certain
	// identity even though the scored match stayed below 0.99.
	h, err := store.GetCanonicalHotel(context.Background(), id)
	if err != nil {
		t.Fatalf("get canonical: %v", err)
	}
	if h.CrossReferenceID != "GX-9" || h.MatchConfidence != 1.0 || !h.AdApprovable {
		t.Fatalf("canonical not promoted: %+v", h)
	}
	if store.updates != 1 {
		t.Fatalf("expected one canonical update, got %d", store.updates)
	}
}

func TestMatch_HighConfidenceFillsMissingFields(t *testing.T) {
	store := newFakeStore()
	id := store.addHotel(domain.CanonicalHotel{
		Name: "Grand Plaza", NormalizedName: "grand plaza", Slug: "grand-plaza",
		Lat: pf(41.0), Lon: pf(29.0),
	})
	idx := &fakeIndex{hits: []domain.Candidate{{
		ID: id, NormalizedName: "grand plaza", Lat: pf(41.0), Lon: pf(29.0), Similarity: 1.0,
	}}}
	m := newMatcher(store, idx, &fakeEmbedder{}, &fakeCache{})

	desc := "Seafront tower with rooftop pool."
	stars := 4
	rec := record("booking", "B3", "Grand Plaza")
	rec.Lat, rec.Lon = pf(41.0), pf(29.0)
	rec.Description, rec.Stars = &desc, &stars

	res, err := m.Match(context.Background(), rec)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Confidence != 1.0 {
		t.Fatalf("expected certain score, got %+v", res)
	}

	h, _ := store.GetCanonicalHotel(context.Background(), id)
	if h.Description == nil || *h.Description != desc || h.Stars == nil || *h.Stars != stars {
		t.Fatalf("missing fields not backfilled: %+v", h)
	}
	// Existing coordinates stay untouched.
	if *h.Lat != 41.0 || *h.Lon != 29.0 {
		t.Fatalf("coordinates overwritten: %+v", h)
	}
}

func TestMatch_BelowEnrichFloorLeavesCanonicalAlone(t *testing.T) {
	store := newFakeStore()
	id := store.addHotel(domain.CanonicalHotel{
		Name: "Grand Plaza", NormalizedName: "grand plaza", Slug: "grand-plaza",
		Lat: pf(41.0), Lon: pf(29.0),
	})
	idx := &fakeIndex{hits: []domain.Candidate{{
		ID: id, NormalizedName: "grand plaza", Lat: pf(41.0), Lon: pf(29.0), Similarity: 0.92,
	}}}
	m := newMatcher(store, idx, &fakeEmbedder{}, &fakeCache{})

	desc := "Unverified marketing copy."
	rec := record("amadeus", "A5", "Grand Plaza")
	rec.Lat, rec.Lon = pf(41.00027), pf(29.0)
	rec.Description = &desc // no cross-reference id, scores 0.968

	res, err := m.Match(context.Background(), rec)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Method != domain.MatchMethodRAG {
		t.Fatalf("unexpected result: %+v", res)
	}
	if store.updates != 0 {
		t.Fatalf("untrusted record must not touch the canonical row, got %d updates", store.updates)
	}
}

func TestMatch_NeutralLocationWithoutCoords(t *testing.T) {
	store := newFakeStore()
	id := store.addHotel(domain.CanonicalHotel{
		Name: "Grand Plaza", NormalizedName: "grand plaza", Slug: "grand-plaza",
	})
	idx := &fakeIndex{hits: []domain.Candidate{{
		ID: id, NormalizedName: "grand plaza", Lat: pf(41.0), Lon: pf(29.0), Similarity: 0.90,
	}}}
	m := newMatcher(store, idx, &fakeEmbedder{}, &fakeCache{})

	res, err := m.Match(context.Background(), record("amadeus", "A2", "Grand Plaza"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	// 0.40*0.90 + 0.30*0.50 + 0.30*1.00 = 0.81
	if res.Method != domain.MatchMethodRAG {
		t.Fatalf("expected rag accept at 0.81, got %+v", res)
	}
	if res.LocationScore != 0.50 {
		t.Fatalf("missing coords must score the neutral 0.50, got %v", res.LocationScore)
	}
}

func TestMatch_GPSFallback(t *testing.T) {
	store := newFakeStore()
	id := store.addHotel(domain.CanonicalHotel{
		Name: "Hotel Bosphorus", NormalizedName: "hotel bosphorus", Slug: "hotel-bosphorus",
		Lat: pf(41.0), Lon: pf(29.0),
	})
	other := store.addHotel(domain.CanonicalHotel{
		Name: "Marina Suites", NormalizedName: "marina suites", Slug: "marina-suites",
	})
	// The vector index only surfaces an unrelated hotel at 0.70 similarity,
	// keeping the embedding stage below its 0.80 acceptance threshold.
	idx := &fakeIndex{hits: []domain.Candidate{{
		ID: other, NormalizedName: "marina suites", Similarity: 0.70,
	}}}
	m := newMatcher(store, idx, &fakeEmbedder{}, &fakeCache{})

	rec := record("booking", "B7", "Hotel Bosphorus")
	rec.Lat, rec.Lon = pf(41.00072), pf(29.0) // ~80m away

	res, err := m.Match(context.Background(), rec)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Method != domain.MatchMethodGPS || *res.CanonicalID != id {
		t.Fatalf("expected gps fallback, got %+v", res)
	}
	// nameScore 1.0 + 0.20 proximity bonus = 1.20, capped to 1.0 and above
	// the 0.98 advertise bar.
	if res.Confidence != 1.0 || !res.ShouldAdvertise {
		t.Fatalf("unexpected gps result: %+v", res)
	}
}

func TestMatch_NoMatchThenCreateThenCacheHit(t *testing.T) {
	store := newFakeStore()
	idx := &fakeIndex{hits: []domain.Candidate{{ID: 99, NormalizedName: "unrelated", Similarity: 0.55}}}
	emb := &fakeEmbedder{}
	cache := &fakeCache{}
	m := newMatcher(store, idx, emb, cache)
	f := matcher.NewFactory(store, idx, emb, cache, matcher.DefaultConfig())

	rec := record("amadeus", "A42", "One Of A Kind Lodge")

	res, err := m.Match(context.Background(), rec)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if res.Matched() || res.Method != domain.MatchMethodNone || res.ShouldAdvertise {
		t.Fatalf("expected no_match, got %+v", res)
	}

	id, err := f.CreateCanonicalHotel(context.Background(), rec)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Round-trip: the same record now resolves via the cache stage.
	res2, err := m.Match(context.Background(), rec)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !res2.Matched() || *res2.CanonicalID != id || res2.Method != domain.MatchMethodCache {
		t.Fatalf("round-trip failed: %+v", res2)
	}

	// And a third call is stable.
	res3, _ := m.Match(context.Background(), rec)
	if *res3.CanonicalID != id || res3.Method != domain.MatchMethodCache {
		t.Fatalf("match not idempotent: %+v", res3)
	}
}

func TestMatch_EmbedderFailurePropagates(t *testing.T) {
	emb := &fakeEmbedder{err: fmt.Errorf("embedding backend down")}
	m := newMatcher(newFakeStore(), &fakeIndex{}, emb, &fakeCache{})

	_, err := m.Match(context.Background(), record("amadeus", "A1", "Grand Hotel"))
	if err == nil {
		t.Fatalf("expected hard error when the embedding service fails")
	}
}

func TestMatch_TieKeepsFirstCandidate(t *testing.T) {
	store := newFakeStore()
	a := store.addHotel(domain.CanonicalHotel{Name: "Twin A", NormalizedName: "twin", Slug: "twin-a"})
	b := store.addHotel(domain.CanonicalHotel{Name: "Twin B", NormalizedName: "twin", Slug: "twin-b"})
	idx := &fakeIndex{hits: []domain.Candidate{
		{ID: a, NormalizedName: "twin", Similarity: 0.9},
		{ID: b, NormalizedName: "twin", Similarity: 0.9},
	}}
	m := newMatcher(store, idx, &fakeEmbedder{}, &fakeCache{})

	res, err := m.Match(context.Background(), record("amadeus", "T1", "Twin"))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if *res.CanonicalID != a {
		t.Fatalf("tie must resolve to first candidate in store order, got %d", *res.CanonicalID)
	}
}
