package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/tagalong/internal/config"
	"github.com/example/tagalong/internal/models"
)

func testConfig() config.ServerConfig {
	return config.ServerConfig{
		// long intervals keep the background tickers quiet during tests
		ExpiryInterval:    time.Hour,
		CountdownInterval: time.Hour,
		NearbyRadiusM:     5000,
		NearbyLimit:       50,
		WalkingSpeedMps:   1.4,
		CheckoutSecret:    "test-secret",
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stop := s.Start(ctx)
	t.Cleanup(func() {
		stop()
		cancel()
		_ = s.Close()
	})
	return s
}

func seedUsers(t *testing.T, s *Server, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.store.PutUser(context.Background(), &models.User{ID: id, Name: "user " + id}))
	}
}

// do issues a request against the router with header-based identity.
func do(t *testing.T, s *Server, userID, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, "", http.MethodGet, "/api/v1/activities", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestActivityLifecycleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	seedUsers(t, s, "H", "A", "B")

	rec := do(t, s, "H", http.MethodPost, "/api/v1/activities", map[string]any{
		"title": "Study", "limit": 2, "duration_minutes": 20,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[activityView](t, rec)
	require.NotEmpty(t, created.ID)
	require.Equal(t, 1, created.ParticipantCount)
	require.Positive(t, created.RemainingSeconds)
	id := created.ID

	rec = do(t, s, "A", http.MethodGet, "/api/v1/activities", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]activityView](t, rec), 1)

	rec = do(t, s, "A", http.MethodPost, "/api/v1/activities/"+id+"/join", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// joining twice conflicts
	rec = do(t, s, "A", http.MethodPost, "/api/v1/activities/"+id+"/join", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	// limit 2 is exhausted
	rec = do(t, s, "B", http.MethodPost, "/api/v1/activities/"+id+"/join", nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	// non-host cannot end
	rec = do(t, s, "A", http.MethodPost, "/api/v1/activities/"+id+"/end", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, "A", http.MethodPost, "/api/v1/activities/"+id+"/leave", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "H", http.MethodPost, "/api/v1/activities/"+id+"/end", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "H", http.MethodGet, "/api/v1/activities/"+id, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// everyone is free again
	rec = do(t, s, "H", http.MethodGet, "/api/v1/users/me", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[models.User](t, rec)
	require.Nil(t, me.ActiveActivityID)
	require.Nil(t, me.JoinedGroupID)
}

func TestCreateValidationOverHTTP(t *testing.T) {
	s := newTestServer(t)
	seedUsers(t, s, "H")

	rec := do(t, s, "H", http.MethodPost, "/api/v1/activities", map[string]any{
		"title": "", "limit": 0, "duration_minutes": 0,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, "H", http.MethodPost, "/api/v1/activities/nope/join", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckoutFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	seedUsers(t, s, "H", "A")

	rec := do(t, s, "H", http.MethodPost, "/api/v1/activities", map[string]any{
		"title": "Hike", "limit": 3, "duration_minutes": 60, "verified_exit": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[activityView](t, rec).ID

	rec = do(t, s, "A", http.MethodPost, "/api/v1/activities/"+id+"/join", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// only the host can read codes
	rec = do(t, s, "A", http.MethodGet, "/api/v1/activities/"+id+"/checkout-code?participant_id=A", nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s, "H", http.MethodGet, "/api/v1/activities/"+id+"/checkout-code?participant_id=A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	code := decode[map[string]string](t, rec)["code"]
	require.Len(t, code, 6)

	rec = do(t, s, "H", http.MethodPost, "/api/v1/activities/"+id+"/checkout", map[string]any{
		"participant_id": "A", "code": "000000",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	// valid code checks A out; A was the only non-host, so the activity
	// dissolves without an explicit end
	rec = do(t, s, "H", http.MethodPost, "/api/v1/activities/"+id+"/checkout", map[string]any{
		"participant_id": "A", "code": code,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, "H", http.MethodGet, "/api/v1/activities/"+id, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, "H", http.MethodGet, "/api/v1/users/me", nil)
	me := decode[models.User](t, rec)
	require.Nil(t, me.ActiveActivityID)
}

func TestNearbyExcludesCaller(t *testing.T) {
	s := newTestServer(t)
	seedUsers(t, s, "me", "close", "far")

	pings := []models.LocationPing{
		{UserID: "me", Lat: 33.6400, Lon: -117.9190},
		{UserID: "close", Lat: 33.6405, Lon: -117.9190},
		{UserID: "far", Lat: 34.7000, Lon: -118.9000},
	}
	for _, p := range pings {
		b, err := json.Marshal(p)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/internal/locations", bytes.NewReader(b))
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec := do(t, s, "me", http.MethodGet, "/api/v1/users/nearby?lat=33.6400&lon=-117.9190&radius_m=2000", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]nearbyUser](t, rec)
	require.Len(t, got, 1)
	require.Equal(t, "close", got[0].UserID)
	require.Equal(t, "user close", got[0].Name)
}

func TestGetActivityIncludesETA(t *testing.T) {
	s := newTestServer(t)
	seedUsers(t, s, "H")

	rec := do(t, s, "H", http.MethodPost, "/api/v1/activities", map[string]any{
		"title": "Coffee", "limit": 3, "duration_minutes": 20,
		"meeting_point": map[string]float64{"lat": 33.6460, "lon": -117.9190},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[activityView](t, rec).ID

	path := fmt.Sprintf("/api/v1/activities/%s?lat=33.6400&lon=-117.9190", id)
	rec = do(t, s, "H", http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[activityView](t, rec)
	require.NotNil(t, view.ETASeconds)
	// ~667m of latitude at 1.4 m/s is a bit under 8 minutes
	require.InDelta(t, 476, *view.ETASeconds, 60)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := do(t, s, "", http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
