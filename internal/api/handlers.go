package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/rewardline/entitle/internal/domain"
)

// ─── Allocation ─────────────────────────────────────────────────────────────

// handleAllocate runs the allocation engine for one member.
// POST /api/users/{userID}/allocations
func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	results, err := s.engine.Allocate(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"results": nonNil(results),
	})
}

// handleEligibility evaluates every asset type without allocating.
// GET /api/users/{userID}/eligibility
func (s *Server) handleEligibility(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	decisions, err := s.engine.Evaluate(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":   userID,
		"decisions": nonNil(decisions),
	})
}

// handleGetAllocation returns one allocation with its violation log.
// GET /api/allocations/{id}
func (s *Server) handleGetAllocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	a, err := s.store.GetAllocation(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	violations, err := s.store.ListViolations(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"allocation": a,
		"violations": nonNil(violations),
	})
}

// ─── Maintenance ────────────────────────────────────────────────────────────

// handleSweep runs a maintenance sweep, optionally for a single allocation.
// POST /api/maintenance/sweep?allocation_id=
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.Sweep(r.Context(), r.URL.Query().Get("allocation_id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res.Details = nonNil(res.Details)
	writeJSON(w, http.StatusOK, res)
}

// handleMaintenanceStatus lists a member's allocations with months remaining.
// GET /api/users/{userID}/maintenance
func (s *Server) handleMaintenanceStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	views, err := s.engine.Status(r.Context(), userID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"user_id":     userID,
		"allocations": nonNil(views),
	})
}

// ─── Inventory ──────────────────────────────────────────────────────────────

// handleInventory lists units, filtered by ?type= and ?status=.
// GET /api/inventory
func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	var filter domain.AssetFilter
	if v := r.URL.Query().Get("type"); v != "" {
		t, err := domain.ParseAssetType(strings.ToUpper(v))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		filter.Type = t
	}
	if v := r.URL.Query().Get("status"); v != "" {
		st, err := parseAssetStatus(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = st
	}

	assets, err := s.store.ListAssets(r.Context(), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assets": nonNil(assets),
		"count":  len(assets),
	})
}

func parseAssetStatus(s string) (domain.AssetStatus, error) {
	switch st := domain.AssetStatus(strings.ToUpper(s)); st {
	case domain.AssetAvailable, domain.AssetAllocated, domain.AssetTransferred:
		return st, nil
	}
	return "", fmt.Errorf("unknown asset status %q", s)
}

// ─── Events ─────────────────────────────────────────────────────────────────

const maxEventLimit = 1000

// handleEvents lists recent lifecycle events from the outbox.
// GET /api/events?limit=
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxEventLimit)
	}

	stored, err := s.store.ListEvents(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": nonNil(stored),
	})
}

// handleEventsLive serves the live lifecycle feed via Server-Sent Events.
// GET /api/events/live
func (s *Server) handleEventsLive(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsub := s.hub.Subscribe()
	defer unsub()

	for {
		select {
		case <-r.Context().Done():
			return
		case data, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: "))
			w.Write(data)
			w.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}

// nonNil keeps empty lists encoded as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
