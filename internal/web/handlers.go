package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/freightdesk/refdata/internal/catalog"
	"github.com/freightdesk/refdata/internal/refdata"
	"github.com/freightdesk/refdata/internal/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// importBody returns the CSV stream of an import request: the "file" part of
// a multipart form, or the raw request body. The stream is capped at the
// configured maximum upload size.
func (s *Server) importBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, err
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		return file, nil
	}
	return r.Body, nil
}

// handleImportDangerousGoods runs a dangerous-goods import. The declared
// scheme comes from the "scheme" query parameter and defaults to UN.
// A completed run always answers 200 with its tally, even when rows were
// skipped; only a run that could not execute fails.
func (s *Server) handleImportDangerousGoods(w http.ResponseWriter, r *http.Request) {
	scheme := r.URL.Query().Get("scheme")
	if scheme == "" {
		scheme = string(refdata.SchemeUN)
	}

	body, err := s.importBody(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unreadable upload: "+err.Error())
		return
	}
	defer body.Close()

	tally, err := s.service.ImportDangerousGoods(r.Context(), scheme, body)
	if err != nil {
		s.respondImportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tally)
}

// handleImportLocations runs a UN/LOCODE import.
func (s *Server) handleImportLocations(w http.ResponseWriter, r *http.Request) {
	body, err := s.importBody(w, r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "unreadable upload: "+err.Error())
		return
	}
	defer body.Close()

	tally, err := s.service.ImportLocations(r.Context(), body)
	if err != nil {
		s.respondImportError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tally)
}

func (s *Server) respondImportError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrUnknownScheme):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, catalog.ErrTooManyImports):
		w.Header().Set("Retry-After", "30")
		writeError(w, r, http.StatusTooManyRequests, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "import failed: "+err.Error())
	}
}

func (s *Server) handleSearchDangerousGoods(w http.ResponseWriter, r *http.Request) {
	q := store.DangerousGoodsQuery{
		Text:   r.URL.Query().Get("q"),
		Scheme: refdata.IdentifierScheme(refdata.NormalizeCode(r.URL.Query().Get("scheme"))),
		Code:   r.URL.Query().Get("code"),
		Take:   queryInt(r, "take", refdata.DefaultTake),
		Page:   queryInt(r, "page", 1),
	}
	if classToken := r.URL.Query().Get("class"); classToken != "" {
		class, err := strconv.Atoi(classToken)
		if err != nil || class < 1 || class > 9 {
			writeError(w, r, http.StatusBadRequest, "class must be an integer 1-9")
			return
		}
		q.Class = refdata.HazardClass(class)
	}

	page, err := s.service.SearchDangerousGoods(r.Context(), q)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownScheme) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleSearchLocations(w http.ResponseWriter, r *http.Request) {
	q := store.LocationQuery{
		Text:    r.URL.Query().Get("q"),
		Country: r.URL.Query().Get("country"),
		Scheme:  refdata.IdentifierScheme(refdata.NormalizeCode(r.URL.Query().Get("scheme"))),
		Code:    r.URL.Query().Get("code"),
		Take:    queryInt(r, "take", refdata.DefaultTake),
		Page:    queryInt(r, "page", 1),
	}

	page, err := s.service.SearchLocations(r.Context(), q)
	if err != nil {
		if errors.Is(err, catalog.ErrUnknownScheme) {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// identifierRequest is the JSON body of an identifier-add call.
type identifierRequest struct {
	Scheme    string `json:"scheme"`
	Code      string `json:"code"`
	ExtraJSON string `json:"extraJson,omitempty"`
}

func (s *Server) handleAddDangerousGoodsIdentifier(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathUUID(w, r, "recordID")
	if !ok {
		return
	}
	var req identifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ident, created, err := s.service.AddDangerousGoodsIdentifier(r.Context(), recordID, req.Scheme, req.Code, req.ExtraJSON)
	if err != nil {
		s.respondIdentifierError(w, r, err)
		return
	}
	writeJSON(w, addStatus(created), ident)
}

func (s *Server) handleRemoveDangerousGoodsIdentifier(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathUUID(w, r, "recordID")
	if !ok {
		return
	}
	identifierID, ok := pathUUID(w, r, "identifierID")
	if !ok {
		return
	}

	if err := s.service.RemoveDangerousGoodsIdentifier(r.Context(), recordID, identifierID); err != nil {
		s.respondIdentifierError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddLocationIdentifier(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathUUID(w, r, "recordID")
	if !ok {
		return
	}
	var req identifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ident, created, err := s.service.AddLocationIdentifier(r.Context(), recordID, req.Scheme, req.Code, req.ExtraJSON)
	if err != nil {
		s.respondIdentifierError(w, r, err)
		return
	}
	writeJSON(w, addStatus(created), ident)
}

// addStatus maps an identifier add to 201 for a fresh pair and 200 for the
// idempotent re-add of a pair the record already carries.
func addStatus(created bool) int {
	if created {
		return http.StatusCreated
	}
	return http.StatusOK
}

func (s *Server) handleRemoveLocationIdentifier(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathUUID(w, r, "recordID")
	if !ok {
		return
	}
	identifierID, ok := pathUUID(w, r, "identifierID")
	if !ok {
		return
	}

	if err := s.service.RemoveLocationIdentifier(r.Context(), recordID, identifierID); err != nil {
		s.respondIdentifierError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondIdentifierError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, catalog.ErrUnknownScheme), errors.Is(err, catalog.ErrInvalidCode):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "record or identifier not found")
	case errors.Is(err, store.ErrDuplicateIdentifier):
		writeError(w, r, http.StatusConflict, "identifier already assigned to another record")
	default:
		writeError(w, r, http.StatusInternalServerError, "identifier mutation failed")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "stats unavailable")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// queryInt parses an integer query parameter, falling back to def for absent
// or malformed values. Range clamping happens in the pagination layer.
func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// pathUUID parses a UUID path parameter, answering 400 on failure.
func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, name+" must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}
