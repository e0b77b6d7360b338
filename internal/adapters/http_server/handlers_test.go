package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"staymatch/internal/adapters/http_server"
	"staymatch/internal/app"
	"staymatch/internal/domain"
)

type stubClient struct {
	id      string
	records []domain.ProviderHotelRecord
}

func (s *stubClient) ProviderID() string { return s.id }
func (s *stubClient) Search(ctx context.Context, q domain.SearchQuery) ([]domain.ProviderHotelRecord, error) {
	return s.records, nil
}
func (s *stubClient) GetDetails(ctx context.Context, providerHotelID string) (domain.ProviderHotelRecord, []domain.Room, []string, error) {
	for _, r := range s.records {
		if r.ProviderHotelID == providerHotelID {
			return r, nil, nil, nil
		}
	}
	return domain.ProviderHotelRecord{}, nil, nil, domain.ErrNotFound
}

type stubResolver struct {
	id   int64
	err  error
	seen []domain.ProviderHotelRecord
}

func (s *stubResolver) Resolve(ctx context.Context, rec domain.ProviderHotelRecord) (domain.MatchResult, error) {
	s.seen = append(s.seen, rec)
	if s.err != nil {
		return domain.MatchResult{}, s.err
	}
	id := s.id
	return domain.MatchResult{CanonicalID: &id, Confidence: 0.95, Method: domain.MatchMethodRAG}, nil
}

type stubStore struct {
	hotels map[string]domain.CanonicalHotel
}

func (s *stubStore) InsertCanonicalHotel(ctx context.Context, h *domain.CanonicalHotel) (int64, error) {
	return 0, domain.ErrNotFound
}
func (s *stubStore) UpdateCanonicalHotel(ctx context.Context, h domain.CanonicalHotel) error { return nil }
func (s *stubStore) UpsertMapping(ctx context.Context, m domain.ProviderMapping) error       { return nil }
func (s *stubStore) GetCanonicalHotel(ctx context.Context, id int64) (domain.CanonicalHotel, error) {
	return domain.CanonicalHotel{}, domain.ErrNotFound
}
func (s *stubStore) GetCanonicalHotelBySlug(ctx context.Context, slug string) (domain.CanonicalHotel, error) {
	h, ok := s.hotels[slug]
	if !ok {
		return domain.CanonicalHotel{}, domain.ErrNotFound
	}
	return h, nil
}
func (s *stubStore) GetCanonicalHotelByCrossRef(ctx context.Context, xref string) (domain.CanonicalHotel, error) {
	return domain.CanonicalHotel{}, domain.ErrNotFound
}
func (s *stubStore) GetMapping(ctx context.Context, providerID, providerHotelID string) (domain.ProviderMapping, error) {
	return domain.ProviderMapping{}, domain.ErrNotFound
}
func (s *stubStore) ListMappingsByCanonical(ctx context.Context, canonicalID int64) ([]domain.ProviderMapping, error) {
	return nil, nil
}
func (s *stubStore) GeoRadiusSearch(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]domain.Candidate, error) {
	return nil, nil
}

type noopCache struct{}

func (noopCache) Get(ctx context.Context, key string, dst any) (bool, error)   { return false, nil }
func (noopCache) Set(ctx context.Context, key string, v any, ttlSec int) error { return nil }
func (noopCache) Del(ctx context.Context, key string) error                    { return nil }

func newTestServer(t *testing.T, resolver *stubResolver, store *stubStore) *httptest.Server {
	t.Helper()
	clients := []domain.ProviderClient{&stubClient{id: "amadeus", records: []domain.ProviderHotelRecord{{
		ProviderID: "amadeus", ProviderHotelID: "A1", Name: "Grand Plaza",
		City: "Istanbul", Country: "TR", Price: 289, Currency: "USD",
	}}}}
	search := app.NewSearchService(clients, resolver, store, noopCache{}, time.Minute, 2)

	srv := httpserver.New()
	srv.MountHandlers(&httpserver.Handlers{Search: search, Resolve: resolver})
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, &stubResolver{id: 1}, &stubStore{})
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil || resp.StatusCode != 200 {
		t.Fatalf("healthz: %v %v", resp, err)
	}
	resp.Body.Close()
}

func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer(t, &stubResolver{id: 1}, &stubStore{})

	resp, err := http.Get(ts.URL + "/v1/search?city=Istanbul&country=TR")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var listings []struct {
		CanonicalID      int64  `json:"canonicalId"`
		SelectedProvider string `json:"selectedProvider"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listings); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listings) != 1 || listings[0].CanonicalID != 1 || listings[0].SelectedProvider != "amadeus" {
		t.Fatalf("unexpected listings: %+v", listings)
	}
}

func TestSearchEndpoint_RequiresCity(t *testing.T) {
	ts := newTestServer(t, &stubResolver{id: 1}, &stubStore{})
	resp, err := http.Get(ts.URL + "/v1/search")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMatchEndpoint(t *testing.T) {
	resolver := &stubResolver{id: 42}
	ts := newTestServer(t, resolver, &stubStore{})

	body := `{
	  "providerId": "booking",
	  "providerHotelId": "B7",
	  "name": "Grand Plaza",
	  "city": "Istanbul",
	  "country": "TR",
	  "metadata": {"giataId": "GP-001"}
	}`
	resp, err := http.Post(ts.URL+"/v1/match", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var out struct {
		CanonicalID *int64  `json:"canonicalId"`
		Method      string  `json:"method"`
		Confidence  float64 `json:"confidence"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.CanonicalID == nil || *out.CanonicalID != 42 || out.Method != "rag" {
		t.Fatalf("unexpected response: %+v", out)
	}
	// The metadata cross-reference id is lifted before resolution.
	if len(resolver.seen) != 1 || resolver.seen[0].CrossReferenceID != "GP-001" {
		t.Fatalf("resolver saw: %+v", resolver.seen)
	}
}

func TestMatchEndpoint_MissingIdentifiers(t *testing.T) {
	ts := newTestServer(t, &stubResolver{id: 1}, &stubStore{})
	resp, err := http.Post(ts.URL+"/v1/match", "application/json", strings.NewReader(`{"name":"X"}`))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCanonicalEndpoint_ETag(t *testing.T) {
	store := &stubStore{hotels: map[string]domain.CanonicalHotel{
		"grand-plaza-istanbul": {ID: 1, Name: "Grand Plaza", Slug: "grand-plaza-istanbul", City: "Istanbul", Country: "TR"},
	}}
	ts := newTestServer(t, &stubResolver{id: 1}, store)

	resp, err := http.Get(ts.URL + "/v1/canonical/grand-plaza-istanbul")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	resp.Body.Close()
	etag := resp.Header.Get("ETag")
	if resp.StatusCode != 200 || etag == "" {
		t.Fatalf("status=%d etag=%q", resp.StatusCode, etag)
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/v1/canonical/grand-plaza-istanbul", nil)
	req.Header.Set("If-None-Match", etag)
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusNotModified {
		t.Fatalf("status = %d, want 304", resp2.StatusCode)
	}

	resp3, err := http.Get(ts.URL + "/v1/canonical/missing")
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp3.StatusCode)
	}
}
