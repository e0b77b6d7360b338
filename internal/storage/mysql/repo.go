// Package mysql persists canonical hotels and provider mappings. MySQL is
// the source of truth; redis and qdrant are rebuildable projections of it.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"

	"staymatch/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}
func valF64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
// nullStr maps "" to NULL so unique indexes on optional columns hold.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

const mysqlErrDuplicate = 1062

// isDuplicate reports whether err is a unique-key violation, optionally on
// a specific index.
func isDuplicate(err error, index string) bool {
	var me *gomysql.MySQLError
	if !errors.As(err, &me) || me.Number != mysqlErrDuplicate {
		return false
	}
	return index == "" || strings.Contains(me.Message, index)
}

func (r *Repo) InsertCanonicalHotel(ctx context.Context, h *domain.CanonicalHotel) (int64, error) {
	imgs, _ := json.Marshal(h.Images)
	amen, _ := json.Marshal(h.Amenities)
	res, err := r.db.ExecContext(ctx, insertCanonicalSQL,
		h.Name,
		h.NormalizedName,
		h.Slug,
		valF64(h.Lat),
		valF64(h.Lon),
		h.City,
		valStr(h.State),
		h.Country,
		valInt(h.Stars),
		valStr(h.Description),
		string(imgs),
		string(amen),
		nullStr(h.CrossReferenceID),
		h.MatchConfidence,
		h.ProviderCount,
		h.AdApprovable,
	)
	if err != nil {
		if isDuplicate(err, "uq_canonical_slug") {
			return 0, domain.ErrDuplicateSlug
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	h.ID = id
	return id, nil
}

func (r *Repo) UpdateCanonicalHotel(ctx context.Context, h domain.CanonicalHotel) error {
	imgs, _ := json.Marshal(h.Images)
	amen, _ := json.Marshal(h.Amenities)
	_, err := r.db.ExecContext(ctx, updateCanonicalSQL,
		h.Name,
		h.NormalizedName,
		valF64(h.Lat),
		valF64(h.Lon),
		h.City,
		valStr(h.State),
		h.Country,
		valInt(h.Stars),
		valStr(h.Description),
		string(imgs),
		string(amen),
		nullStr(h.CrossReferenceID),
		h.MatchConfidence,
		h.AdApprovable,
		h.ID,
	)
	return err
}

func (r *Repo) UpsertMapping(ctx context.Context, m domain.ProviderMapping) error {
	var rawArg any
	if len(m.RawProviderData) > 0 {
		rawArg = string(m.RawProviderData)
	}
	_, err := r.db.ExecContext(ctx, upsertMappingSQL,
		m.CanonicalHotelID,
		m.ProviderID,
		m.ProviderHotelID,
		m.MatchConfidence,
		string(m.MatchMethod),
		m.IncludeInAds,
		m.Verified,
		valStr(m.VerifiedBy),
		m.VerifiedAt,
		rawArg,
	)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, refreshProviderCountSQL, m.CanonicalHotelID, m.CanonicalHotelID)
	return err
}

func (r *Repo) GetCanonicalHotel(ctx context.Context, id int64) (domain.CanonicalHotel, error) {
	return r.scanCanonical(r.db.QueryRowContext(ctx, getCanonicalByIDSQL, id))
}

func (r *Repo) GetCanonicalHotelBySlug(ctx context.Context, slug string) (domain.CanonicalHotel, error) {
	return r.scanCanonical(r.db.QueryRowContext(ctx, getCanonicalBySlugSQL, slug))
}

func (r *Repo) GetCanonicalHotelByCrossRef(ctx context.Context, crossRef string) (domain.CanonicalHotel, error) {
	return r.scanCanonical(r.db.QueryRowContext(ctx, getCanonicalByCrossRefSQL, crossRef))
}

func (r *Repo) scanCanonical(row *sql.Row) (domain.CanonicalHotel, error) {
	var h domain.CanonicalHotel
	var lat, lon sql.NullFloat64
	var state, description, crossRef sql.NullString
	var stars sql.NullInt64
	var imagesJSON, amenitiesJSON []byte

	if err := row.Scan(
		&h.ID,
		&h.Name,
		&h.NormalizedName,
		&h.Slug,
		&lat, &lon,
		&h.City,
		&state,
		&h.Country,
		&stars,
		&description,
		&imagesJSON, &amenitiesJSON,
		&crossRef,
		&h.MatchConfidence,
		&h.ProviderCount,
		&h.AdApprovable,
		&h.CreatedAt,
		&h.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.CanonicalHotel{}, domain.ErrNotFound
		}
		return domain.CanonicalHotel{}, err
	}

	if lat.Valid && lon.Valid {
		la, lo := lat.Float64, lon.Float64
		h.Lat, h.Lon = &la, &lo
	}
	if state.Valid {
		s := state.String
		h.State = &s
	}
	if stars.Valid {
		s := int(stars.Int64)
		h.Stars = &s
	}
	if description.Valid {
		d := description.String
		h.Description = &d
	}
	if crossRef.Valid {
		h.CrossReferenceID = crossRef.String
	}
	_ = json.Unmarshal(imagesJSON, &h.Images)
	_ = json.Unmarshal(amenitiesJSON, &h.Amenities)
	return h, nil
}

type rowScanner interface{ Scan(dest ...any) error }

func scanMapping(row rowScanner) (domain.ProviderMapping, error) {
	var m domain.ProviderMapping
	var method string
	var verifiedBy sql.NullString
	var verifiedAt sql.NullTime
	var raw []byte

	if err := row.Scan(
		&m.CanonicalHotelID,
		&m.ProviderID,
		&m.ProviderHotelID,
		&m.MatchConfidence,
		&method,
		&m.IncludeInAds,
		&m.Verified,
		&verifiedBy,
		&verifiedAt,
		&raw,
		&m.CreatedAt,
		&m.UpdatedAt,
	); err != nil {
		return domain.ProviderMapping{}, err
	}

	m.MatchMethod = domain.MatchMethod(method)
	if verifiedBy.Valid {
		s := verifiedBy.String
		m.VerifiedBy = &s
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		m.VerifiedAt = &t
	}
	if len(raw) > 0 {
		m.RawProviderData = raw
	}
	return m, nil
}

func (r *Repo) GetMapping(ctx context.Context, providerID, providerHotelID string) (domain.ProviderMapping, error) {
	m, err := scanMapping(r.db.QueryRowContext(ctx, getMappingSQL, providerID, providerHotelID))
	if err == sql.ErrNoRows {
		return domain.ProviderMapping{}, domain.ErrNotFound
	}
	return m, err
}

func (r *Repo) ListMappingsByCanonical(ctx context.Context, canonicalID int64) ([]domain.ProviderMapping, error) {
	rows, err := r.db.QueryContext(ctx, listMappingsByCanonicalSQL, canonicalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProviderMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// kmPerDegLat is close enough for a bounding-box prefilter; the exact
// sphere distance does the real cut.
const kmPerDegLat = 111.32

func (r *Repo) GeoRadiusSearch(ctx context.Context, lat, lon, radiusKm float64, limit int) ([]domain.Candidate, error) {
	latDelta := radiusKm / kmPerDegLat
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01
	}
	lonDelta := radiusKm / (kmPerDegLat * cosLat)

	rows, err := r.db.QueryContext(ctx, geoRadiusSQL,
		lon, lat,
		lat-latDelta, lat+latDelta,
		lon-lonDelta, lon+lonDelta,
		radiusKm*1000,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Candidate
	for rows.Next() {
		var c domain.Candidate
		var clat, clon sql.NullFloat64
		var crossRef sql.NullString
		var distM float64
		if err := rows.Scan(&c.ID, &c.Name, &c.NormalizedName, &clat, &clon, &crossRef, &distM); err != nil {
			return nil, err
		}
		if clat.Valid && clon.Valid {
			la, lo := clat.Float64, clon.Float64
			c.Lat, c.Lon = &la, &lo
		}
		if crossRef.Valid {
			c.CrossReferenceID = crossRef.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
