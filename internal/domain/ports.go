package domain

import "context"

// CanonicalStore is the persistent registry of canonical hotels and the
// provider mapping table.
type CanonicalStore interface {
	// Write paths
	InsertCanonicalHotel(ctx context.Context, h *CanonicalHotel) (int64, error)
	UpdateCanonicalHotel(ctx context.Context, h CanonicalHotel) error
	UpsertMapping(ctx context.Context, m ProviderMapping) error

	// Read paths
	GetCanonicalHotel(ctx context.Context, id int64) (CanonicalHotel, error)
	GetCanonicalHotelBySlug(ctx context.Context, slug string) (CanonicalHotel, error)
	GetCanonicalHotelByCrossRef(ctx context.Context, crossRef string) (CanonicalHotel, error)
	GetMapping(ctx context.Context, providerID, providerHotelID string) (ProviderMapping, error)
	ListMappingsByCanonical(ctx context.Context, canonicalID int64) ([]ProviderMapping, error)
	GeoRadiusSearch(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]Candidate, error)
}

// VectorIndex is the vector-similarity search capability over canonical
// hotel name embeddings.
type VectorIndex interface {
	Upsert(ctx context.Context, h CanonicalHotel, vec []float32) error
	Search(ctx context.Context, vec []float32, floor float64, limit int) ([]Candidate, error)
}

// Embedder turns a hotel's name+address text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cache fronts the provider mapping table for O(1) repeat lookups. It is a
// rebuildable projection: everything in it is reconstructible from the store.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// ProviderClient is the black-box search/detail capability of one inventory
// provider. HTTP and auth plumbing live behind this interface.
type ProviderClient interface {
	ProviderID() string
	Search(ctx context.Context, query SearchQuery) ([]ProviderHotelRecord, error)
	GetDetails(ctx context.Context, providerHotelID string) (ProviderHotelRecord, []Room, []string, error)
}

// SearchQuery is the provider-neutral search input.
type SearchQuery struct {
	City     string
	Country  string
	CheckIn  string
	CheckOut string
	Guests   int
}
