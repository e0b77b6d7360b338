// Package merger combines the provider records matched to one canonical
// hotel into a single display-ready listing or detail view. Pure functions,
// deterministic for a given input order.
package merger

import (
	"errors"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"staymatch/internal/domain"
)

// TrustedConfidence is the floor above which a provider record may
// contribute enrichment content (images, amenities, description). Records
// carrying the industry cross-reference id are trusted regardless.
const TrustedConfidence = 0.99

// PriceSpreadTrigger is the cheapest-vs-most-expensive ratio above which
// callers should render a price-comparison affordance.
const PriceSpreadTrigger = 0.10

// MaxEnrichmentImages caps how many extra images each non-primary provider
// may add to a detail view.
const MaxEnrichmentImages = 3

// MatchedRecord pairs a provider record with the confidence of its mapping
// to the canonical hotel being merged.
type MatchedRecord struct {
	Record     domain.ProviderHotelRecord
	Confidence float64
}

func (m MatchedRecord) trusted() bool {
	return m.Record.CrossReferenceID != "" || m.Confidence >= TrustedConfidence
}

var ErrNoRecords = errors.New("merger: no records")

// MergeHotelListings merges all records matched to one canonical hotel into
// a search-result listing. The cheapest offer selects the provider; content
// comes from trusted records only, with the data-quality winner supplying
// the display name.
func MergeHotelListings(canonicalID int64, records []MatchedRecord) (domain.UnifiedListing, error) {
	if len(records) == 0 {
		return domain.UnifiedListing{}, ErrNoRecords
	}

	offers := make([]domain.Offer, 0, len(records))
	for _, r := range records {
		offers = append(offers, domain.Offer{
			ProviderID: r.Record.ProviderID,
			Price:      r.Record.Price,
			Currency:   r.Record.Currency,
			Confidence: r.Confidence,
		})
	}
	sort.SliceStable(offers, func(i, j int) bool { return offers[i].Price < offers[j].Price })

	cheapest := offers[0]
	spread := false
	if top := offers[len(offers)-1]; cheapest.Price > 0 {
		spread = (top.Price-cheapest.Price)/cheapest.Price >= PriceSpreadTrigger
	}

	trusted := trustedRecords(records)
	primary := records[bestQualityIndex(records)]

	attribution := map[string]string{
		"name":  primary.Record.ProviderID,
		"price": cheapest.ProviderID,
	}

	images := mergeImages(trusted, attribution)
	amenities := mergeAmenities(trusted)
	description := longestDescription(trusted, attribution)

	return domain.UnifiedListing{
		CanonicalID:      canonicalID,
		Name:             primary.Record.Name,
		SelectedProvider: cheapest.ProviderID,
		Price:            cheapest.Price,
		Currency:         cheapest.Currency,
		Images:           images,
		Amenities:        amenities,
		Description:      description,
		AllOffers:        offers,
		PriceSpread:      spread,
		Attribution:      attribution,
	}, nil
}

// MergeHotelDetails merges a detail view. Rooms and policies come verbatim
// from the primary record — the provider the user is about to book through —
// and are never mixed with other providers' inventory. Trusted others add up
// to MaxEnrichmentImages images each, plus amenities and a longer
// description, all source-tagged.
func MergeHotelDetails(canonicalID int64, primary MatchedRecord, rooms []domain.Room, policies []string, others []MatchedRecord) domain.UnifiedDetails {
	attribution := map[string]string{
		"name":     primary.Record.ProviderID,
		"rooms":    primary.Record.ProviderID,
		"policies": primary.Record.ProviderID,
	}

	images := make([]domain.TaggedImage, 0, len(primary.Record.Images))
	seen := map[string]bool{}
	for _, url := range primary.Record.Images {
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		images = append(images, domain.TaggedImage{URL: url, ProviderID: primary.Record.ProviderID, Primary: true})
	}

	amenitySet := map[string]bool{}
	for _, a := range primary.Record.Amenities {
		if t := titleCase(a); t != "" {
			amenitySet[t] = true
		}
	}

	description := strVal(primary.Record.Description)
	attribution["description"] = primary.Record.ProviderID

	offers := []domain.Offer{{
		ProviderID: primary.Record.ProviderID,
		Price:      primary.Record.Price,
		Currency:   primary.Record.Currency,
		Confidence: primary.Confidence,
	}}

	for _, o := range others {
		offers = append(offers, domain.Offer{
			ProviderID: o.Record.ProviderID,
			Price:      o.Record.Price,
			Currency:   o.Record.Currency,
			Confidence: o.Confidence,
		})
		if !o.trusted() {
			continue
		}
		added := 0
		for _, url := range o.Record.Images {
			if url == "" || seen[url] || added == MaxEnrichmentImages {
				continue
			}
			seen[url] = true
			images = append(images, domain.TaggedImage{URL: url, ProviderID: o.Record.ProviderID})
			added++
		}
		for _, a := range o.Record.Amenities {
			if t := titleCase(a); t != "" {
				amenitySet[t] = true
			}
		}
		if d := strVal(o.Record.Description); len(d) > len(description) {
			description = d
			attribution["description"] = o.Record.ProviderID
		}
	}
	sort.SliceStable(offers, func(i, j int) bool { return offers[i].Price < offers[j].Price })

	return domain.UnifiedDetails{
		CanonicalID:     canonicalID,
		Name:            primary.Record.Name,
		PrimaryProvider: primary.Record.ProviderID,
		Rooms:           rooms,
		Policies:        policies,
		Images:          images,
		Amenities:       sortedSet(amenitySet),
		Description:     description,
		AllOffers:       offers,
		Attribution:     attribution,
	}
}

// QualityScore rates how complete a record's content is, used to pick the
// primary source when nothing is being booked yet.
func QualityScore(r domain.ProviderHotelRecord) int {
	score := 0
	if d := strVal(r.Description); len(d) > 50 {
		score += 3
	}
	if len(r.Images) >= 1 {
		score += 2
	}
	if len(r.Images) > 3 {
		score += 2
	}
	if len(r.Amenities) >= 1 {
		score++
	}
	if len(r.Amenities) > 5 {
		score += 2
	}
	if r.Stars != nil {
		score++
	}
	if r.Rating != nil {
		score++
	}
	if r.HasCoords() {
		score++
	}
	return score
}

// bestQualityIndex returns the index of the highest-scoring record; ties go
// to the first seen.
func bestQualityIndex(records []MatchedRecord) int {
	best, bestScore := 0, -1
	for i, r := range records {
		if s := QualityScore(r.Record); s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

func trustedRecords(records []MatchedRecord) []MatchedRecord {
	out := make([]MatchedRecord, 0, len(records))
	for _, r := range records {
		if r.trusted() {
			out = append(out, r)
		}
	}
	return out
}

func mergeImages(trusted []MatchedRecord, attribution map[string]string) []domain.TaggedImage {
	var out []domain.TaggedImage
	seen := map[string]bool{}
	for i, r := range trusted {
		primary := i == 0 // first trusted record's images are primary
		contributed := false
		for _, url := range r.Record.Images {
			if url == "" || seen[url] {
				continue
			}
			seen[url] = true
			out = append(out, domain.TaggedImage{URL: url, ProviderID: r.Record.ProviderID, Primary: primary})
			contributed = true
		}
		if primary && contributed {
			attribution["images"] = r.Record.ProviderID
		}
	}
	return out
}

func mergeAmenities(trusted []MatchedRecord) []string {
	set := map[string]bool{}
	for _, r := range trusted {
		for _, a := range r.Record.Amenities {
			if t := titleCase(a); t != "" {
				set[t] = true
			}
		}
	}
	return sortedSet(set)
}

func longestDescription(trusted []MatchedRecord, attribution map[string]string) string {
	best := ""
	for _, r := range trusted {
		if d := strVal(r.Record.Description); len(d) > len(best) {
			best = d
			attribution["description"] = r.Record.ProviderID
		}
	}
	return best
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// titleCase normalizes an amenity label: each word capitalized, the rest
// lowered, surrounding space trimmed. Rune-aware so labels starting with a
// multi-byte character survive intact.
func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
