package domain

// Offer is one provider's price for a canonical hotel.
type Offer struct {
	ProviderID string
	Price      float64
	Currency   string
	Confidence float64
}

// TaggedImage is an image URL attributed to the provider that supplied it.
// Primary marks content from the selected/primary provider so UIs can keep
// it visually distinct from enrichment.
type TaggedImage struct {
	URL        string
	ProviderID string
	Primary    bool
}

// UnifiedListing is the display-ready merge of all matched provider records
// for one canonical hotel in a search result. Never persisted.
type UnifiedListing struct {
	CanonicalID      int64
	Name             string
	SelectedProvider string // cheapest offer's provider
	Price            float64
	Currency         string
	Images           []TaggedImage
	Amenities        []string
	Description      string
	AllOffers        []Offer // ascending by price
	PriceSpread      bool    // cheapest vs. most expensive differ by >=10%
	Attribution      map[string]string
}

// UnifiedDetails is the detail-page merge. Rooms and policies come verbatim
// from the primary provider only; enrichment from other trusted providers is
// additive and source-tagged.
type UnifiedDetails struct {
	CanonicalID     int64
	Name            string
	PrimaryProvider string
	Rooms           []Room
	Policies        []string
	Images          []TaggedImage
	Amenities       []string
	Description     string
	AllOffers       []Offer
	Attribution     map[string]string
}

// Room is a bookable unit from the primary provider's detail payload.
type Room struct {
	Name      string
	Occupancy int
	Price     float64
	Currency  string
	RateToken string // provider booking token, passed through untouched
}
