package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/dashboard"
	"github.com/sells-group/lead-engine/internal/export"
	"github.com/sells-group/lead-engine/internal/filter"
	"github.com/sells-group/lead-engine/internal/live"
	"github.com/sells-group/lead-engine/internal/taxonomy"
)

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) segments(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"segments": s.session.LoanTypes(),
		"active":   s.session.Segment(),
	})
}

// listLeads switches segment when asked, applies the query's criteria and
// returns the view. A failed fetch still answers with whatever snapshot
// exists; the error is reported in last_error.
func (s *Server) listLeads(w http.ResponseWriter, r *http.Request) {
	c, err := criteriaFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}
	if seg := r.URL.Query().Get("segment"); seg != "" {
		if err := s.session.SwitchSegment(r.Context(), seg); err != nil && !s.fetchErrorTolerable(err) {
			s.fetchError(w, r, err)
			return
		}
	}
	if hasCriteria(r.URL.Query()) {
		if err := s.session.SetCriteria(c); err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_criteria", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, s.session.View())
}

func (s *Server) refresh(w http.ResponseWriter, r *http.Request) {
	if seg := r.URL.Query().Get("segment"); seg != "" && seg != s.session.Segment() {
		if err := s.session.SwitchSegment(r.Context(), seg); err != nil {
			s.fetchError(w, r, err)
			return
		}
	}
	if err := s.session.Refresh(r.Context(), true); err != nil {
		s.fetchError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.session.View())
}

// fetchErrorTolerable reports whether a fetch failure can be answered with
// the cached snapshot.
func (s *Server) fetchErrorTolerable(err error) bool {
	return eris.Is(err, dashboard.ErrRefreshFailed) && len(s.session.View().Leads) > 0
}

func (s *Server) fetchError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case eris.Is(err, dashboard.ErrNoSegment):
		writeError(w, r, http.StatusBadRequest, "no_segment", "segment is required")
	case eris.Is(err, dashboard.ErrSuperseded):
		writeError(w, r, http.StatusConflict, "superseded", "a newer request replaced this fetch")
	default:
		writeError(w, r, http.StatusBadGateway, "refresh_failed", err.Error())
	}
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Term  string `json:"term"`
		Flush bool   `json:"flush"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	s.session.SetSearch(req.Term)
	if req.Flush {
		s.session.FlushSearch()
	}
	writeJSON(w, http.StatusAccepted, s.session.View())
}

func (s *Server) duplicates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"groups": s.session.Duplicates()})
}

func (s *Server) facets(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Facets())
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_format", err.Error())
		return
	}
	view := s.session.View()

	var buf bytes.Buffer
	if err := export.Write(&buf, format, view.Leads); err != nil {
		zap.L().Error("api: export failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "export_failed", "could not export leads")
		return
	}
	name := "leads-" + view.Segment + "-" + time.Now().UTC().Format("20060102") + "." + string(format)
	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) applyStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs        []string `json:"ids"`
		MainStatus string   `json:"main_status"`
		SubStatus  string   `json:"sub_status"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "ids is required")
		return
	}
	n, err := s.session.ApplyStatus(r.Context(), req.IDs, req.MainStatus, req.SubStatus)
	if err != nil {
		s.editError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (s *Server) deleteOne(w http.ResponseWriter, r *http.Request) {
	s.remove(w, r, []string{chi.URLParam(r, "id")})
}

func (s *Server) deleteMany(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	s.remove(w, r, req.IDs)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request, ids []string) {
	n, err := s.session.Delete(r.Context(), ids)
	if err != nil {
		s.editError(w, r, err)
		return
	}
	if n == 0 {
		writeError(w, r, http.StatusNotFound, "not_found", "no matching leads")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) editError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case eris.Is(err, dashboard.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", "action not permitted")
	case eris.Is(err, taxonomy.ErrInvalidSelection):
		writeError(w, r, http.StatusUnprocessableEntity, "invalid_status", err.Error())
	case eris.Is(err, dashboard.ErrNoSegment):
		writeError(w, r, http.StatusConflict, "no_segment", "no segment loaded")
	case eris.Is(err, filter.ErrInvalidCriteria):
		writeError(w, r, http.StatusBadRequest, "invalid_criteria", err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (s *Server) taxonomyOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.StatusPicker(r.URL.Query().Get("search")))
}

func (s *Server) taxonomyBack(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.session.StatusBack())
}

func (s *Server) taxonomySelect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs    []string        `json:"ids"`
		Option taxonomy.Option `json:"option"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	res, n, err := s.session.SelectStatus(r.Context(), req.IDs, req.Option)
	if err != nil {
		s.editError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":  res,
		"updated": n,
		"picker":  s.session.StatusPicker(""),
	})
}

// events accepts pushed events. Events that reach no subscriber are kept
// on the pending list for the next load.
func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type   string          `json:"type"`
		Record json.RawMessage `json:"record"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.Type != live.TypeRecordCreated {
		writeError(w, r, http.StatusBadRequest, "unsupported_event", "unsupported event type "+strconv.Quote(req.Type))
		return
	}
	if len(req.Record) == 0 || !json.Valid(req.Record) {
		writeError(w, r, http.StatusBadRequest, "invalid_body", "record is required")
		return
	}

	e := live.RecordCreated(req.Record)
	delivered := s.bus.Publish(e)
	queued := false
	if delivered == 0 && s.kv != nil {
		if err := live.Enqueue(r.Context(), s.kv, req.Record); err != nil {
			zap.L().Error("api: queue pending event failed", zap.Error(err))
			writeError(w, r, http.StatusInternalServerError, "queue_failed", "could not queue event")
			return
		}
		queued = true
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":        e.ID,
		"delivered": delivered,
		"queued":    queued,
	})
}
