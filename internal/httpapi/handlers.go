package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/tagalong/internal/auth"
	"github.com/example/tagalong/internal/checkout"
	"github.com/example/tagalong/internal/eta"
	"github.com/example/tagalong/internal/lifecycle"
	"github.com/example/tagalong/internal/models"
	"github.com/example/tagalong/internal/store"
)

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func metricsHandler() http.Handler { return promhttp.Handler() }

// activityView is the wire shape for activity reads: the record plus the
// derived countdown and, when the caller sent their position, an ETA to the
// meeting point.
type activityView struct {
	models.Activity
	ParticipantCount int      `json:"participant_count"`
	Remaining        string   `json:"remaining"`
	RemainingSeconds int      `json:"remaining_seconds"`
	ETASeconds       *float64 `json:"eta_seconds,omitempty"`
}

func (s *Server) activityView(a *models.Activity) activityView {
	remaining, label := s.lc.Remaining(a)
	return activityView{
		Activity:         *a,
		ParticipantCount: len(a.ParticipantIDs),
		Remaining:        label,
		RemainingSeconds: int(remaining / time.Second),
	}
}

func (s *Server) handleCreateActivity(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	var in lifecycle.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a, err := s.lc.Create(r.Context(), userID, in)
	if err != nil {
		s.respondLifecycleError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, s.activityView(a))
}

func (s *Server) handleListActivities(w http.ResponseWriter, r *http.Request) {
	activities, err := s.store.ListActivities(r.Context())
	if err != nil {
		s.internalError(w, "list activities", err)
		return
	}
	views := make([]activityView, 0, len(activities))
	for i := range activities {
		views = append(views, s.activityView(&activities[i]))
	}
	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetActivity(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetActivity(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "activity not found")
			return
		}
		s.internalError(w, "get activity", err)
		return
	}
	view := s.activityView(a)

	// optional caller position for an ETA to the meeting point
	q := r.URL.Query()
	if q.Get("lat") != "" && q.Get("lon") != "" {
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
		if errLat == nil && errLon == nil {
			secs := s.estimateETA(models.Coord{Lat: lat, Lon: lon}, a.MeetingPoint)
			view.ETASeconds = &secs
		}
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) estimateETA(from, to models.Coord) float64 {
	if v, ok := s.etaCache.Get(from, to); ok {
		return v
	}
	if s.etaCl != nil {
		if v, err := s.etaCl.EstimateSeconds(from, to); err == nil {
			s.etaCache.Set(from, to, v)
			return v
		}
	}
	return eta.EstimateSeconds(from, to, s.cfg.WalkingSpeedMps)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	if err := s.lc.Join(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		s.respondLifecycleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "joined activity"})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	if err := s.lc.Leave(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		s.respondLifecycleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "you have left the group"})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	if err := s.lc.End(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		s.respondLifecycleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "activity ended"})
}

func (s *Server) handleCheckoutCode(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	participantID := r.URL.Query().Get("participant_id")
	code, err := s.verifier.IssueCode(r.Context(), userID, mux.Vars(r)["id"], participantID)
	if err != nil {
		s.respondLifecycleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"participant_id": participantID, "code": code})
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	var req struct {
		ParticipantID string `json:"participant_id"`
		Code          string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.verifier.Verify(r.Context(), userID, mux.Vars(r)["id"], req.ParticipantID, req.Code); err != nil {
		s.respondLifecycleError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "participant checked out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	s.serveUser(w, r, userID)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	s.serveUser(w, r, mux.Vars(r)["id"])
}

func (s *Server) serveUser(w http.ResponseWriter, r *http.Request, id string) {
	u, err := s.store.GetUser(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		s.internalError(w, "get user", err)
		return
	}
	respondJSON(w, http.StatusOK, u)
}

type nearbyUser struct {
	models.Position
	Name             string  `json:"name,omitempty"`
	ActiveActivityID *string `json:"active_activity_id,omitempty"`
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	callerID, _ := auth.UserID(r.Context())
	q := r.URL.Query()
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	if errLat != nil || errLon != nil {
		respondError(w, http.StatusBadRequest, "lat and lon are required")
		return
	}
	radius := s.cfg.NearbyRadiusM
	if v := q.Get("radius_m"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			radius = f
		}
	}
	limit := s.cfg.NearbyLimit
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	positions, err := s.feed.Nearby(r.Context(), lat, lon, radius, limit)
	if err != nil {
		s.internalError(w, "nearby lookup", err)
		return
	}
	out := make([]nearbyUser, 0, len(positions))
	for _, p := range positions {
		if p.UserID == callerID {
			continue
		}
		n := nearbyUser{Position: p}
		// marker details are best-effort; an unregistered id still shows
		if u, err := s.store.GetUser(r.Context(), p.UserID); err == nil {
			n.Name = u.Name
			n.ActiveActivityID = u.ActiveActivityID
		}
		out = append(out, n)
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleLocationPing(w http.ResponseWriter, r *http.Request) {
	var ping models.LocationPing
	if err := json.NewDecoder(r.Body).Decode(&ping); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if ping.UserID == "" {
		respondError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	if ping.Timestamp == 0 {
		ping.Timestamp = time.Now().UnixMilli()
	}
	if s.pings != nil {
		if err := s.pings.PublishPing(ping); err != nil {
			s.logger.Error("ping publish failed", "user_id", ping.UserID, "error", err)
		}
	}
	p := models.Position{
		UserID:    ping.UserID,
		Loc:       models.Coord{Lat: ping.Lat, Lon: ping.Lon},
		Timestamp: time.UnixMilli(ping.Timestamp),
	}
	if err := s.feed.Upsert(r.Context(), p); err != nil {
		s.internalError(w, "feed upsert", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		respondError(w, http.StatusBadRequest, "upgrade failed")
		return
	}
	s.reg.Add(userID, conn)
	// drain until the peer goes away so the registry stays accurate
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.reg.Remove(userID)
				return
			}
		}
	}()
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) respondLifecycleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrValidation):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, lifecycle.ErrAlreadyInGroup),
		errors.Is(err, lifecycle.ErrActivityFull),
		errors.Is(err, lifecycle.ErrHostCannotLeave):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, lifecycle.ErrNotFound),
		errors.Is(err, lifecycle.ErrUnknownUser),
		errors.Is(err, checkout.ErrNotParticipant):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, lifecycle.ErrNotHost),
		errors.Is(err, checkout.ErrBadCode):
		respondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, checkout.ErrNotEnabled):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.internalError(w, "request failed", err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, "error", err)
	respondError(w, http.StatusInternalServerError, "internal error")
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
