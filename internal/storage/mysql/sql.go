package mysql

const insertCanonicalSQL = `
INSERT INTO canonical_hotels
  (name, normalized_name, slug, lat, lon, city, state, country, stars,
   description, images, amenities, cross_reference_id, match_confidence,
   provider_count, ad_approvable)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const updateCanonicalSQL = `
UPDATE canonical_hotels SET
  name               = ?,
  normalized_name    = ?,
  lat                = ?,
  lon                = ?,
  city               = ?,
  state              = ?,
  country            = ?,
  stars              = ?,
  description        = ?,
  images             = ?,
  amenities          = ?,
  cross_reference_id = ?,
  match_confidence   = ?,
  ad_approvable      = ?,
  updated_at         = CURRENT_TIMESTAMP
WHERE id = ?
`

const upsertMappingSQL = `
INSERT INTO provider_mappings
  (canonical_hotel_id, provider_id, provider_hotel_id, match_confidence,
   match_method, include_in_ads, verified, verified_by, verified_at, raw_provider_data)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
  canonical_hotel_id = VALUES(canonical_hotel_id),
  match_confidence   = VALUES(match_confidence),
  match_method       = VALUES(match_method),
  include_in_ads     = VALUES(include_in_ads),
  verified           = VALUES(verified),
  verified_by        = VALUES(verified_by),
  verified_at        = VALUES(verified_at),
  raw_provider_data  = COALESCE(VALUES(raw_provider_data), provider_mappings.raw_provider_data),
  updated_at         = CURRENT_TIMESTAMP
`

// Kept in sync after every mapping write so the canonical row can answer
// "how many providers list this property" without a join.
const refreshProviderCountSQL = `
UPDATE canonical_hotels
SET provider_count = (SELECT COUNT(*) FROM provider_mappings WHERE canonical_hotel_id = ?)
WHERE id = ?
`

const canonicalColumns = `
  id, name, normalized_name, slug, lat, lon, city, state, country, stars,
  description, images, amenities, cross_reference_id, match_confidence,
  provider_count, ad_approvable, created_at, updated_at
`

const getCanonicalByIDSQL = `SELECT` + canonicalColumns + `FROM canonical_hotels WHERE id = ?`

const getCanonicalBySlugSQL = `SELECT` + canonicalColumns + `FROM canonical_hotels WHERE slug = ?`

const getCanonicalByCrossRefSQL = `SELECT` + canonicalColumns + `FROM canonical_hotels WHERE cross_reference_id = ?`

const getMappingSQL = `
SELECT
  canonical_hotel_id, provider_id, provider_hotel_id, match_confidence,
  match_method, include_in_ads, verified, verified_by, verified_at,
  raw_provider_data, created_at, updated_at
FROM provider_mappings
WHERE provider_id = ? AND provider_hotel_id = ?
`

const listMappingsByCanonicalSQL = `
SELECT
  canonical_hotel_id, provider_id, provider_hotel_id, match_confidence,
  match_method, include_in_ads, verified, verified_by, verified_at,
  raw_provider_data, created_at, updated_at
FROM provider_mappings
WHERE canonical_hotel_id = ?
ORDER BY provider_id, provider_hotel_id
`

// Bounding-box prefilter narrows the scan before the exact sphere distance;
// ST_Distance_Sphere returns meters.
const geoRadiusSQL = `
SELECT
  id, name, normalized_name, lat, lon, cross_reference_id,
  ST_Distance_Sphere(POINT(lon, lat), POINT(?, ?)) AS dist_m
FROM canonical_hotels
WHERE lat IS NOT NULL AND lon IS NOT NULL
  AND lat BETWEEN ? AND ?
  AND lon BETWEEN ? AND ?
HAVING dist_m <= ?
ORDER BY dist_m ASC
LIMIT ?
`
