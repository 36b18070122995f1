package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/tagalong/internal/models"
)

// RedisFeed implements Feed using Redis GEO commands plus a per-user meta
// hash carrying the last ping timestamp.
type RedisFeed struct {
	client *redis.Client
	key    string
}

func NewRedisFeed(addr, password, key string) *RedisFeed {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisFeed{client: c, key: key}
}

func (r *RedisFeed) Upsert(ctx context.Context, p models.Position) error {
	if _, err := r.client.GeoAdd(ctx, r.key,
		&redis.GeoLocation{Longitude: p.Loc.Lon, Latitude: p.Loc.Lat, Name: p.UserID}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(p.UserID),
		map[string]interface{}{"updated": p.Timestamp.Format(time.RFC3339)}).Err()
}

func (r *RedisFeed) Nearby(ctx context.Context, lat, lon, radiusM float64, limit int) ([]models.Position, error) {
	if radiusM <= 0 {
		radiusM = 5000
	}
	res, err := r.client.GeoRadius(ctx, r.key, lon, lat, &redis.GeoRadiusQuery{
		Radius:    radiusM,
		Unit:      "m",
		WithCoord: true,
		WithDist:  true,
		Count:     limit,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.Position, 0, len(res))
	for _, g := range res {
		p := models.Position{UserID: g.Name}
		p.Loc.Lat = g.Latitude
		p.Loc.Lon = g.Longitude
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			if v, ok := m["updated"]; ok {
				if ts, err := time.Parse(time.RFC3339, v); err == nil {
					p.Timestamp = ts
				}
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (r *RedisFeed) Close() error { return r.client.Close() }

func metaKey(id string) string { return "user:meta:" + id }
