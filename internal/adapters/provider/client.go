// Package provider is the black-box search/detail client for one inventory
// provider. The wire shape is the provider-neutral JSON our upstream
// connectors emit; auth and retries live here so the engine never sees HTTP.
package provider

import (
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"staymatch/internal/adapters/observability"
	"staymatch/internal/domain"
)

type Client struct {
	providerID string
	base       string
	hc         *http.Client
	key        string
	rl         *rate.Limiter
}

func New(providerID, base, key string, rps int) (*Client, error) {
	if providerID == "" {
		return nil, fmt.Errorf("provider id is required")
	}
	if rps <= 0 {
		rps = 5
	}
	return &Client{
		providerID: providerID,
		base:       strings.TrimRight(base, "/"),
		hc:         &http.Client{Timeout: 20 * time.Second},
		key:        key,
		rl:         rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

func (c *Client) ProviderID() string { return c.providerID }

var (
	ErrNotFound     = errors.New("provider: not found")
	ErrUnauthorized = errors.New("provider: unauthorized")
	ErrForbidden    = errors.New("provider: forbidden")
)

// ---- wire DTOs ----

type hotelDTO struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Address     string         `json:"address"`
	City        string         `json:"city"`
	State       *string        `json:"state,omitempty"`
	Country     string         `json:"country"`
	Latitude    *float64       `json:"latitude,omitempty"`
	Longitude   *float64       `json:"longitude,omitempty"`
	Stars       *int           `json:"starRating,omitempty"`
	Rating      *float64       `json:"rating,omitempty"`
	Price       float64        `json:"price"`
	Currency    string         `json:"currency"`
	Images      []string       `json:"images"`
	Amenities   []string       `json:"amenities"`
	Description *string        `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type roomDTO struct {
	Name      string  `json:"name"`
	Occupancy int     `json:"occupancy"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
	RateToken string  `json:"rateToken"`
}

type detailDTO struct {
	hotelDTO
	Rooms    []roomDTO `json:"rooms"`
	Policies []string  `json:"policies"`
}

// DecodeRecord rebuilds a provider record from a stored raw payload
// snapshot, as written to provider_mappings.raw_provider_data.
func DecodeRecord(providerID string, raw []byte) (domain.ProviderHotelRecord, error) {
	var dto hotelDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return domain.ProviderHotelRecord{}, fmt.Errorf("decode stored payload: %w", err)
	}
	return mapDTO(providerID, dto, raw), nil
}

func (c *Client) mapRecord(dto hotelDTO, raw json.RawMessage) domain.ProviderHotelRecord {
	return mapDTO(c.providerID, dto, raw)
}

// mapDTO pulls the well-known optional fields (cross-reference id) out of
// the loose metadata blob here at the boundary; the rest of the payload
// travels as an opaque snapshot and never reaches scoring code.
func mapDTO(providerID string, dto hotelDTO, raw json.RawMessage) domain.ProviderHotelRecord {
	rec := domain.ProviderHotelRecord{
		ProviderID:      providerID,
		ProviderHotelID: dto.ID,
		Name:            dto.Name,
		Address:         dto.Address,
		City:            dto.City,
		State:           dto.State,
		Country:         dto.Country,
		Lat:             dto.Latitude,
		Lon:             dto.Longitude,
		Stars:           dto.Stars,
		Rating:          dto.Rating,
		Price:           dto.Price,
		Currency:        dto.Currency,
		Images:          dto.Images,
		Amenities:       dto.Amenities,
		Description:     dto.Description,
		RawJSON:         append([]byte(nil), raw...),
	}
	for _, key := range []string{"crossReferenceId", "giataId", "giata_id"} {
		if v, ok := dto.Metadata[key].(string); ok && v != "" {
			rec.CrossReferenceID = v
			break
		}
	}
	return rec
}

// Search runs one availability search against the provider.
func (c *Client) Search(ctx context.Context, q domain.SearchQuery) ([]domain.ProviderHotelRecord, error) {
	v := url.Values{}
	v.Set("city", q.City)
	v.Set("country", q.Country)
	if q.CheckIn != "" {
		v.Set("checkin", q.CheckIn)
	}
	if q.CheckOut != "" {
		v.Set("checkout", q.CheckOut)
	}
	if q.Guests > 0 {
		v.Set("guests", strconv.Itoa(q.Guests))
	}

	var raws []json.RawMessage
	if err := c.get(ctx, fmt.Sprintf("%s/hotels?%s", c.base, v.Encode()), &raws); err != nil {
		return nil, err
	}

	out := make([]domain.ProviderHotelRecord, 0, len(raws))
	for _, raw := range raws {
		var dto hotelDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return nil, fmt.Errorf("decode hotel payload: %w", err)
		}
		out = append(out, c.mapRecord(dto, raw))
	}
	return out, nil
}

// GetDetails fetches the detail payload for one provider hotel, returning
// the record plus the provider-exclusive rooms and policies.
func (c *Client) GetDetails(ctx context.Context, providerHotelID string) (domain.ProviderHotelRecord, []domain.Room, []string, error) {
	var raw json.RawMessage
	if err := c.get(ctx, fmt.Sprintf("%s/hotels/%s", c.base, url.PathEscape(providerHotelID)), &raw); err != nil {
		return domain.ProviderHotelRecord{}, nil, nil, err
	}
	var dto detailDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return domain.ProviderHotelRecord{}, nil, nil, fmt.Errorf("decode detail payload: %w", err)
	}
	rooms := make([]domain.Room, 0, len(dto.Rooms))
	for _, r := range dto.Rooms {
		rooms = append(rooms, domain.Room{
			Name: r.Name, Occupancy: r.Occupancy,
			Price: r.Price, Currency: r.Currency, RateToken: r.RateToken,
		})
	}
	return c.mapRecord(dto.hotelDTO, raw), rooms, dto.Policies, nil
}

// get performs a GET with client-side rate limiting, retries, and JSON
// decode into out. Retries on 429 and transient 5xx, honoring Retry-After
// when provided.
func (c *Client) get(ctx context.Context, rawURL string, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for i := 0; i < 4; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return err
		}
		if c.key != "" {
			req.Header.Set("X-API-Key", c.key)
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "staymatch/1.0")

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if i < 3 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveExternal(c.providerID, "hotels", resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK:
			err := json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			return err

		case http.StatusNoContent:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil

		case http.StatusNotFound:
			resp.Body.Close()
			return ErrNotFound

		case http.StatusUnauthorized:
			resp.Body.Close()
			return ErrUnauthorized

		case http.StatusForbidden:
			resp.Body.Close()
			return ErrForbidden

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("remote %d", resp.StatusCode)
			if i < 3 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}

	return lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns an exponential backoff delay with concurrency-safe jitter.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0
	j := time.Duration(0.5 * f * float64(base))
	return base + j
}
