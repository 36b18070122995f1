package geo

import (
	"context"
	"math"
	"sync"

	"github.com/example/tagalong/internal/models"
)

// Feed is the live position feed: trackers write, the map reads.
type Feed interface {
	Upsert(ctx context.Context, p models.Position) error
	Nearby(ctx context.Context, lat, lon, radiusM float64, limit int) ([]models.Position, error)
}

// Index is an in-memory Feed for local runs without Redis.
type Index struct {
	mu        sync.RWMutex
	positions map[string]models.Position
}

func NewIndex() *Index {
	return &Index{positions: make(map[string]models.Position)}
}

func (g *Index) Upsert(ctx context.Context, p models.Position) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.positions[p.UserID] = p
	return nil
}

// naive scan; the Redis feed handles real load
func (g *Index) Nearby(ctx context.Context, lat, lon, radiusM float64, limit int) ([]models.Position, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	type pair struct {
		p    models.Position
		dist float64
	}
	arr := make([]pair, 0, len(g.positions))
	for _, p := range g.positions {
		dist := Haversine(lat, lon, p.Loc.Lat, p.Loc.Lon)
		if radiusM > 0 && dist > radiusM {
			continue
		}
		arr = append(arr, pair{p, dist})
	}
	// partial selection sort for top-N
	n := limit
	if n > len(arr) {
		n = len(arr)
	}
	for i := 0; i < n; i++ {
		minIdx := i
		for j := i + 1; j < len(arr); j++ {
			if arr[j].dist < arr[minIdx].dist {
				minIdx = j
			}
		}
		arr[i], arr[minIdx] = arr[minIdx], arr[i]
	}
	out := make([]models.Position, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, arr[i].p)
	}
	return out, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
