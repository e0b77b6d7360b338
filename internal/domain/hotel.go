package domain

import "time"

// ProviderHotelRecord is one provider's view of a hotel, valid for the
// lifetime of a single search or detail call. Immutable once constructed.
type ProviderHotelRecord struct {
	ProviderID      string
	ProviderHotelID string
	Name            string
	Address         string
	City            string
	State           *string
	Country         string
	Lat, Lon        *float64
	Stars           *int
	Rating          *float64
	Price           float64
	Currency        string
	Images          []string
	Amenities       []string
	Description     *string

	// CrossReferenceID is the industry-standard hotel code when the provider
	// supplies one. Shared codes establish identity with confidence 1.0.
	CrossReferenceID string

	// RawJSON carries the untouched provider payload for re-matching.
	// Well-known fields are pulled out above at the boundary; scoring code
	// never reaches into this blob.
	RawJSON []byte
}

// HasCoords reports whether the record carries usable coordinates.
func (r ProviderHotelRecord) HasCoords() bool { return r.Lat != nil && r.Lon != nil }

// CanonicalHotel is the single deduplicated representation of a physical
// property, independent of which providers listed it.
type CanonicalHotel struct {
	ID             int64
	Name           string
	NormalizedName string // pure function of Name (lowercase alphanumeric)
	Slug           string // globally unique, name+city with numeric suffix
	Lat, Lon       *float64
	City           string
	State          *string
	Country        string
	Stars          *int
	Description    *string
	Images         []string
	Amenities      []string

	// CrossReferenceID, when set, forces MatchConfidence=1.0 and AdApprovable.
	CrossReferenceID string
	MatchConfidence  float64
	ProviderCount    int
	AdApprovable     bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MatchMethod identifies which stage of the pipeline produced a mapping.
type MatchMethod string

const (
	MatchMethodCache   MatchMethod = "cache"
	MatchMethodRAG     MatchMethod = "rag"
	MatchMethodGPS     MatchMethod = "gps"
	MatchMethodInitial MatchMethod = "initial"
	MatchMethodNone    MatchMethod = "no_match"
)

// ProviderMapping links one provider hotel id to a canonical hotel.
// Unique on (ProviderID, ProviderHotelID): re-matching overwrites, never
// duplicates.
type ProviderMapping struct {
	CanonicalHotelID int64
	ProviderID       string
	ProviderHotelID  string
	MatchConfidence  float64
	MatchMethod      MatchMethod
	IncludeInAds     bool
	Verified         bool
	VerifiedBy       *string
	VerifiedAt       *time.Time
	RawProviderData  []byte
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// MatchResult is the transient outcome of Matcher.Match. CanonicalID is nil
// when no stage reached its acceptance threshold.
type MatchResult struct {
	CanonicalID     *int64
	Confidence      float64
	Method          MatchMethod
	ShouldAdvertise bool

	// Diagnostic breakdown of the winning candidate; zero-valued on cache
	// hits and no_match.
	EmbeddingScore float64
	LocationScore  float64
	NameScore      float64
	CandidateCount int
}

// Matched reports whether a canonical identity was resolved.
func (m MatchResult) Matched() bool { return m.CanonicalID != nil }

// Candidate is one canonical hotel returned by vector or geo search,
// carrying just enough to score without a second store round-trip.
type Candidate struct {
	ID               int64
	Name             string
	NormalizedName   string
	Lat, Lon         *float64
	CrossReferenceID string
	Similarity       float64 // vector similarity; zero for geo results
}
