// Package qdrant implements the vector index port on a Qdrant collection.
// Points are keyed by canonical hotel id; payloads carry the fields the
// matcher needs to re-score candidates without a round trip to MySQL.
package qdrant

import (
	"context"
	"fmt"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"

	"staymatch/internal/domain"
)

type Index struct {
	client     *pb.Client
	collection string
	vectorSize uint64
}

// NewIndex connects to Qdrant and ensures the collection exists with a
// cosine-distance vector config of the given size.
func NewIndex(host string, port int, collection string, vectorSize uint64) (*Index, error) {
	client, err := pb.NewClient(&pb.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant at %s:%d: %w", host, port, err)
	}

	idx := &Index{client: client, collection: collection, vectorSize: vectorSize}
	if err := idx.ensureCollection(context.Background()); err != nil {
		return nil, fmt.Errorf("ensure collection %q: %w", collection, err)
	}

	log.Info().Str("host", host).Int("port", port).Str("collection", collection).
		Msg("qdrant index ready")
	return idx, nil
}

func (i *Index) ensureCollection(ctx context.Context) error {
	exists, err := i.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return i.client.CreateCollection(ctx, &pb.CreateCollection{
		CollectionName: i.collection,
		VectorsConfig: pb.NewVectorsConfig(&pb.VectorParams{
			Size:     i.vectorSize,
			Distance: pb.Distance_Cosine,
		}),
	})
}

// Upsert writes (or rewrites) the point for a canonical hotel.
func (i *Index) Upsert(ctx context.Context, h domain.CanonicalHotel, vec []float32) error {
	payload := map[string]any{
		"name":            h.Name,
		"normalized_name": h.NormalizedName,
	}
	if h.Lat != nil {
		payload["lat"] = *h.Lat
	}
	if h.Lon != nil {
		payload["lon"] = *h.Lon
	}
	if h.CrossReferenceID != "" {
		payload["cross_reference_id"] = h.CrossReferenceID
	}

	_, err := i.client.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: i.collection,
		Points: []*pb.PointStruct{{
			Id:      pb.NewIDNum(uint64(h.ID)),
			Vectors: pb.NewVectors(vec...),
			Payload: pb.NewValueMap(payload),
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert hotel %d: %w", h.ID, err)
	}
	return nil
}

// Search returns up to limit candidates whose cosine similarity to vec is at
// least floor, best first.
func (i *Index) Search(ctx context.Context, vec []float32, floor float64, limit int) ([]domain.Candidate, error) {
	points, err := i.client.Query(ctx, &pb.QueryPoints{
		CollectionName: i.collection,
		Query:          pb.NewQuery(vec...),
		Limit:          pb.PtrOf(uint64(limit)),
		ScoreThreshold: pb.PtrOf(float32(floor)),
		WithPayload:    pb.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	out := make([]domain.Candidate, 0, len(points))
	for _, p := range points {
		cand := domain.Candidate{
			ID:         int64(p.GetId().GetNum()),
			Similarity: float64(p.GetScore()),
		}
		payload := p.GetPayload()
		if v, ok := payload["name"]; ok {
			cand.Name = v.GetStringValue()
		}
		if v, ok := payload["normalized_name"]; ok {
			cand.NormalizedName = v.GetStringValue()
		}
		if v, ok := payload["lat"]; ok {
			lat := v.GetDoubleValue()
			cand.Lat = &lat
		}
		if v, ok := payload["lon"]; ok {
			lon := v.GetDoubleValue()
			cand.Lon = &lon
		}
		if v, ok := payload["cross_reference_id"]; ok {
			cand.CrossReferenceID = v.GetStringValue()
		}
		out = append(out, cand)
	}
	return out, nil
}

// Delete removes the point for a canonical hotel.
func (i *Index) Delete(ctx context.Context, canonicalID int64) error {
	_, err := i.client.Delete(ctx, &pb.DeletePoints{
		CollectionName: i.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pb.NewIDNum(uint64(canonicalID))}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete hotel %d: %w", canonicalID, err)
	}
	return nil
}

// Close shuts down the underlying gRPC connection.
func (i *Index) Close() error { return i.client.Close() }
