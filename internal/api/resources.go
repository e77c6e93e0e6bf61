package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/socpm/pmres/internal/domain"
	"github.com/socpm/pmres/internal/infra/resource"
	"github.com/socpm/pmres/internal/infra/sqlite"
)

// ─── Resources (/api/resources) ─────────────────────────────────────────────

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"resources": s.fw.List(),
	})
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	snap, err := s.fw.Get(chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type levelRequest struct {
	Client string        `json:"client"`
	Level  *domain.Level `json:"level"`
}

type releaseRequest struct {
	Client string `json:"client"`
}

// transitionResponse reports the outcome of a request, release or OPP change.
type transitionResponse struct {
	Resource string         `json:"resource"`
	Client   string         `json:"client,omitempty"`
	Outcome  domain.Outcome `json:"outcome"`
	Level    domain.Level   `json:"level"`
	Error    string         `json:"error,omitempty"`
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req levelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Level == nil {
		writeError(w, http.StatusBadRequest, "level is required")
		return
	}
	if req.Client == "" {
		req.Client = "api-" + uuid.NewString()
	}

	outcome, err := s.fw.Request(name, req.Client, *req.Level)
	s.writeOutcome(w, name, req.Client, outcome, err)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req releaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Client == "" {
		writeError(w, http.StatusBadRequest, "client is required")
		return
	}

	outcome, err := s.fw.Release(name, req.Client)
	s.writeOutcome(w, name, req.Client, outcome, err)
}

// writeOutcome reports a dispatch result. Lookup errors carry no
// transition; collaborator failures still report the level reached.
func (s *Server) writeOutcome(w http.ResponseWriter, name, client string, outcome domain.Outcome, err error) {
	resp := transitionResponse{Resource: name, Client: client, Outcome: outcome}
	snap, gerr := s.fw.Get(name)
	if gerr != nil {
		writeError(w, statusFor(gerr), gerr.Error())
		return
	}
	resp.Level = snap.Level
	code := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		code = statusFor(err)
		s.log.V(1).Info("dispatch failed", "resource", name, "client", client, "error", resp.Error)
	}
	writeJSON(w, code, resp)
}

// ─── Voltage domains (/api/domains) ─────────────────────────────────────────

func (s *Server) handleListDomains(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"domains": s.fw.Domains(),
	})
}

type lockRequest struct {
	Count int `json:"count"`
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request) {
	s.adjustLock(w, r, true)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	s.adjustLock(w, r, false)
}

func (s *Server) adjustLock(w http.ResponseWriter, r *http.Request, lock bool) {
	vdd, err := domain.ParseVDD(chi.URLParam(r, "vdd"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req := lockRequest{Count: 1}
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Count < 0 {
		writeError(w, http.StatusBadRequest, "count must not be negative")
		return
	}

	var n int
	if lock {
		n, err = s.fw.Lock(vdd, req.Count)
	} else {
		n, err = s.fw.Unlock(vdd, req.Count)
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vdd": vdd.String(), "locks": n})
}

type oppRequest struct {
	Level    domain.Level `json:"level"`
	Override bool         `json:"override"`
}

func (s *Server) handleSetOPP(w http.ResponseWriter, r *http.Request) {
	vdd, err := domain.ParseVDD(chi.URLParam(r, "vdd"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req oppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := s.fw.SetOPPLevel(vdd, req.Level, req.Override)
	resp := transitionResponse{Resource: vdd.String(), Client: resource.OverrideClient, Outcome: outcome}
	for _, d := range s.fw.Domains() {
		if d.VDD == vdd.String() {
			resp.Resource, resp.Level = d.Resource, d.Level
		}
	}
	code := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		code = statusFor(err)
	}
	writeJSON(w, code, resp)
}

func (s *Server) handleResync(w http.ResponseWriter, r *http.Request) {
	vdd, err := domain.ParseVDD(chi.URLParam(r, "vdd"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lvl, err := s.fw.Resync(vdd)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"vdd": vdd.String(), "level": lvl})
}

func (s *Server) handleDependencies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"edges": s.fw.Dependencies(),
	})
}

// ─── Journal (/api/journal, /api/rollbacks) ─────────────────────────────────

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ts, err := s.journal.Transitions(r.URL.Query().Get("resource"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if ts == nil {
		ts = []domain.Transition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transitions": ts})
}

func (s *Server) handleRollbacks(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeError(w, http.StatusServiceUnavailable, "journal disabled")
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rb, err := s.journal.Rollbacks(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rb == nil {
		rb = []sqlite.Rollback{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"rollbacks": rb})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// decodeOptional decodes a JSON body if there is one.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
