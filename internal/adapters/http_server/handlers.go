package httpserver

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"staymatch/internal/app"
	"staymatch/internal/domain"
)

type Handlers struct {
	Search  *app.SearchService
	Resolve app.Resolver
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/v1/search", h.search)
	s.mux.Get("/v1/hotels/{provider}/{hotelID}", h.getDetails)
	s.mux.Get("/v1/canonical/{slug}", h.getCanonical)
	s.mux.Post("/v1/match", h.match)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

// ---- response DTOs ----

type offerDTO struct {
	ProviderID string  `json:"providerId"`
	Price      float64 `json:"price"`
	Currency   string  `json:"currency"`
	Confidence float64 `json:"confidence"`
}

type imageDTO struct {
	URL        string `json:"url"`
	ProviderID string `json:"providerId"`
	Primary    bool   `json:"primary,omitempty"`
}

type listingDTO struct {
	CanonicalID      int64             `json:"canonicalId"`
	Name             string            `json:"name"`
	SelectedProvider string            `json:"selectedProvider"`
	Price            float64           `json:"price"`
	Currency         string            `json:"currency"`
	Images           []imageDTO        `json:"images"`
	Amenities        []string          `json:"amenities"`
	Description      string            `json:"description,omitempty"`
	AllOffers        []offerDTO        `json:"allOffers"`
	PriceSpread      bool              `json:"priceSpread"`
	Attribution      map[string]string `json:"attribution"`
}

type roomDTO struct {
	Name      string  `json:"name"`
	Occupancy int     `json:"occupancy"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
	RateToken string  `json:"rateToken"`
}

type detailsDTO struct {
	CanonicalID     int64             `json:"canonicalId"`
	Name            string            `json:"name"`
	PrimaryProvider string            `json:"primaryProvider"`
	Rooms           []roomDTO         `json:"rooms"`
	Policies        []string          `json:"policies"`
	Images          []imageDTO        `json:"images"`
	Amenities       []string          `json:"amenities"`
	Description     string            `json:"description,omitempty"`
	AllOffers       []offerDTO        `json:"allOffers"`
	Attribution     map[string]string `json:"attribution"`
}

type matchResponse struct {
	CanonicalID     *int64  `json:"canonicalId"`
	Confidence      float64 `json:"confidence"`
	Method          string  `json:"method"`
	ShouldAdvertise bool    `json:"shouldAdvertise"`
	EmbeddingScore  float64 `json:"embeddingScore,omitempty"`
	LocationScore   float64 `json:"locationScore,omitempty"`
	NameScore       float64 `json:"nameScore,omitempty"`
	CandidateCount  int     `json:"candidateCount,omitempty"`
}

type canonicalDTO struct {
	ID               int64    `json:"id"`
	Name             string   `json:"name"`
	Slug             string   `json:"slug"`
	Lat              *float64 `json:"lat,omitempty"`
	Lon              *float64 `json:"lon,omitempty"`
	City             string   `json:"city"`
	State            *string  `json:"state,omitempty"`
	Country          string   `json:"country"`
	Stars            *int     `json:"stars,omitempty"`
	Description      *string  `json:"description,omitempty"`
	Images           []string `json:"images"`
	Amenities        []string `json:"amenities"`
	CrossReferenceID string   `json:"crossReferenceId,omitempty"`
	MatchConfidence  float64  `json:"matchConfidence"`
	ProviderCount    int      `json:"providerCount"`
	AdApprovable     bool     `json:"adApprovable"`
}

func toOffers(in []domain.Offer) []offerDTO {
	out := make([]offerDTO, 0, len(in))
	for _, o := range in {
		out = append(out, offerDTO{ProviderID: o.ProviderID, Price: o.Price, Currency: o.Currency, Confidence: o.Confidence})
	}
	return out
}

func toImages(in []domain.TaggedImage) []imageDTO {
	out := make([]imageDTO, 0, len(in))
	for _, i := range in {
		out = append(out, imageDTO{URL: i.URL, ProviderID: i.ProviderID, Primary: i.Primary})
	}
	return out
}

// ---- handlers ----

func (h *Handlers) search(w http.ResponseWriter, r *http.Request) {
	q := domain.SearchQuery{
		City:     r.URL.Query().Get("city"),
		Country:  r.URL.Query().Get("country"),
		CheckIn:  r.URL.Query().Get("checkin"),
		CheckOut: r.URL.Query().Get("checkout"),
	}
	if g := r.URL.Query().Get("guests"); g != "" {
		n, err := strconv.Atoi(g)
		if err != nil || n <= 0 {
			writeProblem(w, http.StatusBadRequest, "Invalid guests", "guests must be a positive integer")
			return
		}
		q.Guests = n
	}
	if strings.TrimSpace(q.City) == "" {
		writeProblem(w, http.StatusBadRequest, "Missing city", "city query parameter is required")
		return
	}

	listings, err := h.Search.Search(r.Context(), q)
	if err != nil {
		log.Error().Err(err).Msg("search failed")
		writeProblem(w, http.StatusBadGateway, "Search Failed", "no provider results available")
		return
	}

	out := make([]listingDTO, 0, len(listings))
	for _, l := range listings {
		out = append(out, listingDTO{
			CanonicalID:      l.CanonicalID,
			Name:             l.Name,
			SelectedProvider: l.SelectedProvider,
			Price:            l.Price,
			Currency:         l.Currency,
			Images:           toImages(l.Images),
			Amenities:        l.Amenities,
			Description:      l.Description,
			AllOffers:        toOffers(l.AllOffers),
			PriceSpread:      l.PriceSpread,
			Attribution:      l.Attribution,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) getDetails(w http.ResponseWriter, r *http.Request) {
	providerID := chi.URLParam(r, "provider")
	hotelID := chi.URLParam(r, "hotelID")

	d, err := h.Search.GetHotelDetails(r.Context(), providerID, hotelID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not Found", "hotel not found")
			return
		}
		log.Error().Err(err).Str("provider", providerID).Msg("details failed")
		writeProblem(w, http.StatusBadGateway, "Details Failed", "provider details unavailable")
		return
	}

	rooms := make([]roomDTO, 0, len(d.Rooms))
	for _, rm := range d.Rooms {
		rooms = append(rooms, roomDTO{Name: rm.Name, Occupancy: rm.Occupancy, Price: rm.Price, Currency: rm.Currency, RateToken: rm.RateToken})
	}
	writeJSON(w, http.StatusOK, detailsDTO{
		CanonicalID:     d.CanonicalID,
		Name:            d.Name,
		PrimaryProvider: d.PrimaryProvider,
		Rooms:           rooms,
		Policies:        d.Policies,
		Images:          toImages(d.Images),
		Amenities:       d.Amenities,
		Description:     d.Description,
		AllOffers:       toOffers(d.AllOffers),
		Attribution:     d.Attribution,
	})
}

func (h *Handlers) getCanonical(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	hotel, err := h.Search.GetCanonicalHotel(r.Context(), slug)
	if err != nil {
		writeProblem(w, http.StatusNotFound, "Not Found", "canonical hotel not found")
		return
	}

	resp := canonicalDTO{
		ID:               hotel.ID,
		Name:             hotel.Name,
		Slug:             hotel.Slug,
		Lat:              hotel.Lat,
		Lon:              hotel.Lon,
		City:             hotel.City,
		State:            hotel.State,
		Country:          hotel.Country,
		Stars:            hotel.Stars,
		Description:      hotel.Description,
		Images:           hotel.Images,
		Amenities:        hotel.Amenities,
		CrossReferenceID: hotel.CrossReferenceID,
		MatchConfidence:  hotel.MatchConfidence,
		ProviderCount:    hotel.ProviderCount,
		AdApprovable:     hotel.AdApprovable,
	}

	etag, body := calcETagAndBody(resp)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write canonical body")
	}
}

// matchRequest is the provider-neutral record shape, same as the provider
// wire format plus the provider id.
type matchRequest struct {
	ProviderID      string         `json:"providerId"`
	ProviderHotelID string         `json:"providerHotelId"`
	Name            string         `json:"name"`
	Address         string         `json:"address"`
	City            string         `json:"city"`
	State           *string        `json:"state,omitempty"`
	Country         string         `json:"country"`
	Latitude        *float64       `json:"latitude,omitempty"`
	Longitude       *float64       `json:"longitude,omitempty"`
	Stars           *int           `json:"starRating,omitempty"`
	Rating          *float64       `json:"rating,omitempty"`
	Price           float64        `json:"price"`
	Currency        string         `json:"currency"`
	Images          []string       `json:"images"`
	Amenities       []string       `json:"amenities"`
	Description     *string        `json:"description,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

func (h *Handlers) match(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", "body unreadable or too large")
		return
	}
	var req matchRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if req.ProviderID == "" || req.ProviderHotelID == "" {
		writeProblem(w, http.StatusBadRequest, "Missing Identifiers", "providerId and providerHotelId are required")
		return
	}

	rec := domain.ProviderHotelRecord{
		ProviderID:      req.ProviderID,
		ProviderHotelID: req.ProviderHotelID,
		Name:            req.Name,
		Address:         req.Address,
		City:            req.City,
		State:           req.State,
		Country:         req.Country,
		Lat:             req.Latitude,
		Lon:             req.Longitude,
		Stars:           req.Stars,
		Rating:          req.Rating,
		Price:           req.Price,
		Currency:        req.Currency,
		Images:          req.Images,
		Amenities:       req.Amenities,
		Description:     req.Description,
		RawJSON:         body,
	}
	for _, key := range []string{"crossReferenceId", "giataId", "giata_id"} {
		if v, ok := req.Metadata[key].(string); ok && v != "" {
			rec.CrossReferenceID = v
			break
		}
	}

	res, err := h.Resolve.Resolve(r.Context(), rec)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRecord) {
			writeProblem(w, http.StatusUnprocessableEntity, "Invalid Record", err.Error())
			return
		}
		log.Error().Err(err).Str("provider", req.ProviderID).Msg("match failed")
		writeProblem(w, http.StatusBadGateway, "Match Failed", "identity resolution unavailable")
		return
	}

	writeJSON(w, http.StatusOK, matchResponse{
		CanonicalID:     res.CanonicalID,
		Confidence:      res.Confidence,
		Method:          string(res.Method),
		ShouldAdvertise: res.ShouldAdvertise,
		EmbeddingScore:  res.EmbeddingScore,
		LocationScore:   res.LocationScore,
		NameScore:       res.NameScore,
		CandidateCount:  res.CandidateCount,
	})
}
