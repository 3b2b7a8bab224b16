package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fieldplan/internal/buildinfo"
	"fieldplan/internal/geo"
	"fieldplan/internal/model"
	"fieldplan/internal/planner"
	"fieldplan/internal/store"
	"fieldplan/internal/webhooks"
)

// OptimizeHandler handles POST /v1/optimize.
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.limiters.allow(r.RemoteAddr) {
		writeProblem(w, http.StatusTooManyRequests, "Rate limited", "optimization runs are rate limited per client", r.URL.Path)
		return
	}
	p := s.getPrincipal(r)
	if !p.CanPlan() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
		return
	}
	var req model.OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateStruct(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
		return
	}

	planning, err := s.Planner.Optimize(r.Context(), req, p.UserID)
	switch {
	case errors.Is(err, planner.ErrInvalidDateRange):
		writeProblem(w, http.StatusBadRequest, "Invalid date range", "dateFrom/dateTo must be YYYY-MM-DD with dateTo >= dateFrom", r.URL.Path)
		return
	case errors.Is(err, model.ErrWeightsInvalid):
		writeProblem(w, http.StatusBadRequest, "Invalid parameter set", err.Error(), r.URL.Path)
		return
	case errors.Is(err, store.ErrNotFound):
		writeProblem(w, http.StatusBadRequest, "Unknown parameter set", req.ParameterSetID, r.URL.Path)
		return
	case err != nil:
		writeProblem(w, http.StatusServiceUnavailable, "Optimization failed", err.Error(), r.URL.Path)
		return
	}

	s.Broker.Publish(planning.ID, SSEEvent{Type: webhooks.EventPlanningCreated, Data: map[string]any{
		"planningId": planning.ID, "score": planning.Score, "slots": len(planning.Slots),
	}})
	s.Pub.Emit(r.Context(), webhooks.EventPlanningCreated, map[string]any{
		"planningId": planning.ID, "score": planning.Score, "slots": len(planning.Slots),
	})
	writeJSON(w, http.StatusOK, planning)
}

// PlanningsHandler handles GET /v1/plannings.
func (s *Server) PlanningsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	status := r.URL.Query().Get("status")
	cursor := r.URL.Query().Get("cursor")
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	items, next, err := s.Store.ListPlannings(r.Context(), status, cursor, limit)
	if err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "List plannings failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
}

// PlanningByIDHandler handles GET /v1/plannings/{id}, POST /v1/plannings/{id}/apply
// and GET /v1/plannings/{id}/events/stream.
func (s *Server) PlanningByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/plannings/")
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	action := strings.Join(parts[1:], "/")

	switch {
	case action == "" && r.Method == http.MethodGet:
		planning, err := s.Store.GetPlanning(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Planning not found", id, r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Get planning failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, planning)
	case action == "apply" && r.Method == http.MethodPost:
		s.applyPlanning(w, r, id)
	case action == "events/stream" && r.Method == http.MethodGet:
		s.streamPlanningEvents(w, r, id)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) applyPlanning(w http.ResponseWriter, r *http.Request, id string) {
	p := s.getPrincipal(r)
	if !p.CanPlan() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "dispatcher or admin required", r.URL.Path)
		return
	}
	planning, updated, already, err := s.Store.ApplyPlanning(r.Context(), id, p.UserID)
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Planning not found", id, r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Apply failed", err.Error(), r.URL.Path)
		return
	}
	if !already {
		s.Broker.Publish(id, SSEEvent{Type: webhooks.EventPlanningApplied, Data: map[string]any{
			"planningId": id, "updated": updated,
		}})
		s.Pub.Emit(r.Context(), webhooks.EventPlanningApplied, map[string]any{
			"planningId": id, "updated": updated,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"planning": planning, "updated": updated, "alreadyApplied": already,
	})
}

// streamPlanningEvents serves SSE until the client goes away.
func (s *Server) streamPlanningEvents(w http.ResponseWriter, r *http.Request, id string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case evt, open := <-ch:
			if !open {
				return
			}
			data, _ := json.Marshal(evt.Data)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
			flusher.Flush()
		}
	}
}

// ParametersHandler handles GET/POST /v1/parameters.
func (s *Server) ParametersHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.Store.ListParameterSets(r.Context())
		if err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "List parameters failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		p := s.getPrincipal(r)
		if !p.IsAdmin() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		var ps model.ParameterSet
		if err := json.NewDecoder(r.Body).Decode(&ps); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		ps.ID = "" // server-assigned
		saved, err := s.Store.SaveParameterSet(r.Context(), ps)
		if errors.Is(err, model.ErrWeightsInvalid) {
			writeProblem(w, http.StatusBadRequest, "Invalid weights", err.Error(), r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Save parameters failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// ParameterByIDHandler handles GET/PUT /v1/parameters/{id}.
func (s *Server) ParameterByIDHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/parameters/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		ps, err := s.Store.GetParameterSet(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Parameter set not found", id, r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Get parameters failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, ps)
	case http.MethodPut:
		p := s.getPrincipal(r)
		if !p.IsAdmin() {
			writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
			return
		}
		var ps model.ParameterSet
		if err := json.NewDecoder(r.Body).Decode(&ps); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		ps.ID = id
		saved, err := s.Store.SaveParameterSet(r.Context(), ps)
		if errors.Is(err, model.ErrWeightsInvalid) {
			writeProblem(w, http.StatusBadRequest, "Invalid weights", err.Error(), r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Save parameters failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// TravelEstimateHandler handles POST /v1/travel/estimate.
func (s *Server) TravelEstimateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req model.TravelEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if err := validateStruct(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid estimate request", err.Error(), r.URL.Path)
		return
	}
	est, err := s.Planner.EstimateTravel(r.Context(), req)
	if errors.Is(err, geo.ErrInvalidCoordinate) {
		writeProblem(w, http.StatusBadRequest, "Invalid coordinate", err.Error(), r.URL.Path)
		return
	}
	if err != nil {
		writeProblem(w, http.StatusServiceUnavailable, "Estimate failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, est)
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions.
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req model.SubscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
			return
		}
		if err := validateStruct(&req); err != nil {
			writeProblem(w, http.StatusBadRequest, "Invalid subscription", err.Error(), r.URL.Path)
			return
		}
		sub, err := s.Store.CreateSubscription(r.Context(), req)
		if err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Create subscription failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, sub)
	case http.MethodGet:
		cursor := r.URL.Query().Get("cursor")
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			fmt.Sscanf(v, "%d", &limit)
		}
		items, next, err := s.Store.ListSubscriptions(r.Context(), cursor, limit)
		if err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "List subscriptions failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "nextCursor": next})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// SubscriptionByIDHandler handles DELETE /v1/subscriptions/{id}.
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	p := s.getPrincipal(r)
	if !p.IsAdmin() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "admin required", r.URL.Path)
		return
	}
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
	if err := s.Store.DeleteSubscription(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Subscription not found", id, r.URL.Path)
			return
		}
		writeProblem(w, http.StatusServiceUnavailable, "Delete subscription failed", err.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if pg, ok := s.Store.(*store.Postgres); ok {
		if err := pg.Ping(r.Context()); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
