package matcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"staymatch/internal/domain"
	"staymatch/internal/similarity"
)

// Factory mints canonical hotels when Match returns no_match. Creation is a
// separate, explicit operation so the Matcher stays a pure query.
type Factory struct {
	store domain.CanonicalStore
	index domain.VectorIndex
	embed domain.Embedder
	cache domain.Cache
	cfg   Config
}

func NewFactory(store domain.CanonicalStore, index domain.VectorIndex, embed domain.Embedder, cache domain.Cache, cfg Config) *Factory {
	return &Factory{store: store, index: index, embed: embed, cache: cache, cfg: cfg}
}

// CreateCanonicalHotel inserts a new canonical entity from the record, with
// its embedding, a store-unique slug, and the first provider mapping
// (method "initial", trusted by construction). Returns the new id.
//
// Slug collisions are resolved by a bounded check-then-insert loop: losing
// the insert race to a concurrent writer just moves on to the next numeric
// suffix. Exhausting the cap is a fatal configuration error.
func (f *Factory) CreateCanonicalHotel(ctx context.Context, rec domain.ProviderHotelRecord) (int64, error) {
	if strings.TrimSpace(rec.Name) == "" {
		return 0, fmt.Errorf("%w: missing name", domain.ErrInvalidRecord)
	}

	vec, err := f.embed.Embed(ctx, ComparisonText(rec))
	if err != nil {
		return 0, fmt.Errorf("embedding service: %w", err)
	}

	base := Slugify(rec.Name, rec.City)
	slug := base
	for attempt := 1; attempt <= f.cfg.SlugMaxAttempts; attempt++ {
		if attempt > 1 {
			slug = suffixSlug(base, attempt)
		}

		if _, err := f.store.GetCanonicalHotelBySlug(ctx, slug); err == nil {
			continue // taken, try next suffix
		} else if !errors.Is(err, domain.ErrNotFound) {
			return 0, fmt.Errorf("slug lookup: %w", err)
		}

		h := f.newHotel(rec, slug)
		id, err := f.store.InsertCanonicalHotel(ctx, &h)
		if errors.Is(err, domain.ErrDuplicateSlug) {
			continue // another writer won the race on this slug
		}
		if err != nil {
			return 0, fmt.Errorf("insert canonical hotel: %w", err)
		}
		h.ID = id

		if err := f.index.Upsert(ctx, h, vec); err != nil {
			return 0, fmt.Errorf("vector upsert: %w", err)
		}

		mp := domain.ProviderMapping{
			CanonicalHotelID: id,
			ProviderID:       rec.ProviderID,
			ProviderHotelID:  rec.ProviderHotelID,
			MatchConfidence:  1.0,
			MatchMethod:      domain.MatchMethodInitial,
			IncludeInAds:     true, // first provider has nothing to disagree with
			RawProviderData:  rec.RawJSON,
		}
		if err := f.store.UpsertMapping(ctx, mp); err != nil {
			return 0, fmt.Errorf("initial mapping: %w", err)
		}
		_ = f.cache.Set(ctx, MappingKey(rec.ProviderID, rec.ProviderHotelID), mp, int(f.cfg.CacheTTL.Seconds()))

		log.Info().
			Int64("canonical_id", id).
			Str("slug", slug).
			Str("provider", rec.ProviderID).
			Msg("canonical hotel created")
		return id, nil
	}

	return 0, fmt.Errorf("%w: base %q after %d attempts", domain.ErrSlugExhausted, base, f.cfg.SlugMaxAttempts)
}

func (f *Factory) newHotel(rec domain.ProviderHotelRecord, slug string) domain.CanonicalHotel {
	return domain.CanonicalHotel{
		Name:             rec.Name,
		NormalizedName:   similarity.NormalizeName(rec.Name),
		Slug:             slug,
		Lat:              rec.Lat,
		Lon:              rec.Lon,
		City:             rec.City,
		State:            rec.State,
		Country:          rec.Country,
		Stars:            rec.Stars,
		Description:      rec.Description,
		Images:           rec.Images,
		Amenities:        rec.Amenities,
		CrossReferenceID: rec.CrossReferenceID,
		MatchConfidence:  1.0,
		ProviderCount:    1,
		AdApprovable:     rec.CrossReferenceID != "",
	}
}

const slugMaxLen = 100

// suffixSlug appends the numeric disambiguation suffix, trimming the base so
// the whole slug stays within slugMaxLen. The base is lowercase ASCII by
// construction, so byte slicing is safe.
func suffixSlug(base string, n int) string {
	suffix := fmt.Sprintf("-%d", n)
	if len(base)+len(suffix) > slugMaxLen {
		base = strings.Trim(base[:slugMaxLen-len(suffix)], "-")
	}
	return base + suffix
}

// Slugify derives the URL-safe base slug from name and city: lowercase,
// hyphen-separated, truncated to 100 chars.
func Slugify(name, city string) string {
	src := strings.ToLower(name + " " + city)
	var b strings.Builder
	b.Grow(len(src))
	lastHyphen := true // suppress leading hyphen
	for _, r := range src {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastHyphen = false
		} else if !lastHyphen {
			b.WriteByte('-')
			lastHyphen = true
		}
	}
	s := strings.Trim(b.String(), "-")
	if len(s) > slugMaxLen {
		s = strings.Trim(s[:slugMaxLen], "-")
	}
	return s
}
