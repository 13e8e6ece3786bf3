package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tkingovr/iochain/api"
	"github.com/tkingovr/iochain/internal/filter"
	"github.com/tkingovr/iochain/internal/policy"
	"github.com/tkingovr/iochain/internal/transport"
)

// entryList is the part of the ordered-entry API shared by templates and
// live chains.
type entryList interface {
	AddFirst(name string, f filter.Filter) error
	AddLast(name string, f filter.Filter) error
	AddBefore(base, name string, f filter.Filter) error
	AddAfter(base, name string, f filter.Filter) error
	Remove(name string) (filter.Filter, error)
	Entries() []filter.Entry
}

func (s *Server) handleChain(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, entryInfos(s.builder))
}

func (s *Server) handleChainAdd(w http.ResponseWriter, r *http.Request) {
	s.addEntry(w, r, s.builder)
}

func (s *Server) handleChainRemove(w http.ResponseWriter, r *http.Request) {
	s.removeEntry(w, r, s.builder)
}

func (s *Server) handleFilterTypes(w http.ResponseWriter, _ *http.Request) {
	filters, _ := s.current()
	writeJSON(w, http.StatusOK, filters.Types())
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil {
		writeJSON(w, http.StatusOK, []api.SessionInfo{})
		return
	}
	writeJSON(w, http.StatusOK, s.sessions.Infos())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

func (s *Server) handleSessionClose(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	_ = sess.Close()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionChainAdd(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.addEntry(w, r, sess.Chain())
}

func (s *Server) handleSessionChainRemove(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.removeEntry(w, r, sess.Chain())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no audit store configured")
		return
	}
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no audit store configured")
		return
	}
	q, err := parseQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.store.Query(r.Context(), q)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query audit log")
		return
	}
	if records == nil {
		records = []*api.EventRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	_, engine := s.current()
	if engine == nil {
		writeError(w, http.StatusServiceUnavailable, "no policy engine configured")
		return
	}

	var input policy.EvalInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if input.Direction == "" {
		input.Direction = api.DirectionIngress
	}
	if !input.Direction.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid direction %q", input.Direction))
		return
	}
	if input.Size == 0 {
		input.Size = len(input.Payload)
	}

	result, err := engine.Evaluate(r.Context(), &input)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "evaluation error: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "no audit store configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch, cancel := s.store.Subscribe(r.Context())
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case record, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(record)
			if err != nil {
				s.logger.Warn("encoding audit record", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: audit\ndata: %s\n\n", data)
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics disabled")
		return
	}
	s.metrics.ServeHTTP(w, r)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*transport.Session, bool) {
	id := r.PathValue("id")
	if s.sessions == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %q not found", id))
		return nil, false
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %q not found", id))
		return nil, false
	}
	return sess, true
}

// addEntry builds the filter described by the request body and inserts it
// into list at the requested position.
func (s *Server) addEntry(w http.ResponseWriter, r *http.Request, list entryList) {
	var req api.EntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.Type == "" {
		writeError(w, http.StatusBadRequest, "name and type are required")
		return
	}

	filters, _ := s.current()
	f, err := filters.New(filter.Spec{Name: req.Name, Type: req.Type, Config: req.Config})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch req.Position {
	case "", "last":
		err = list.AddLast(req.Name, f)
	case "first":
		err = list.AddFirst(req.Name, f)
	case "before":
		err = list.AddBefore(req.Base, req.Name, f)
	case "after":
		err = list.AddAfter(req.Base, req.Name, f)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid position %q", req.Position))
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	s.logger.Info("filter added", "name", req.Name, "type", req.Type, "position", req.Position)
	writeJSON(w, http.StatusCreated, entryInfos(list))
}

func (s *Server) removeEntry(w http.ResponseWriter, r *http.Request, list entryList) {
	name := r.PathValue("name")
	if _, err := list.Remove(name); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.logger.Info("filter removed", "name", name)
	w.WriteHeader(http.StatusNoContent)
}

func entryInfos(list entryList) []api.EntryInfo {
	entries := list.Entries()
	infos := make([]api.EntryInfo, len(entries))
	for i, e := range entries {
		infos[i] = api.EntryInfo{Position: i, Name: e.Name, Type: filter.Describe(e.Filter)}
	}
	return infos
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, filter.ErrDuplicateName):
		return http.StatusConflict
	case errors.Is(err, filter.ErrNotFound), errors.Is(err, filter.ErrBaseNotFound):
		return http.StatusNotFound
	case errors.Is(err, filter.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, filter.ErrChainClosed):
		return http.StatusGone
	default:
		// A filter refused to be added.
		return http.StatusUnprocessableEntity
	}
}

func parseQuery(r *http.Request) (api.QueryFilter, error) {
	v := r.URL.Query()
	q := api.QueryFilter{
		SessionID: v.Get("session"),
		Direction: api.Direction(v.Get("direction")),
		Kind:      api.EventKind(v.Get("kind")),
		Verdict:   api.Verdict(v.Get("verdict")),
		Limit:     100,
	}
	if q.Direction != "" && !q.Direction.Valid() {
		return q, fmt.Errorf("invalid direction %q", q.Direction)
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("invalid limit %q", s)
		}
		q.Limit = n
	}
	if s := v.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fmt.Errorf("invalid since %q", s)
		}
		q.Since = t
	}
	return q, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
