package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/core"
	"github.com/PerfectisXit/Intelligent-Project-Mortgage-Data-System-IPMDS-2.0/internal/logging"
)

// multipartMemory is how much of an upload form is buffered in memory before
// spilling to temp files.
const multipartMemory = 32 << 20

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleCreateImport accepts a spreadsheet and returns its diff against the
// project's current units.
//
// Form fields: file, projectId, organizationId, createdBy,
// headerMappingOverride (JSON object of header -> standard field).
func (s *Server) handleCreateImport(w http.ResponseWriter, r *http.Request) {
	// allow some room for the other form fields
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			respondError(w, r, errTooLarge)
			return
		}
		respondError(w, r, badRequest("invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, badRequest("no file provided"))
		return
	}
	defer file.Close()

	var override map[string]string
	if raw := r.FormValue("headerMappingOverride"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &override); err != nil {
			respondError(w, r, badRequest("headerMappingOverride must be a JSON object of strings"))
			return
		}
	}

	res, err := s.service.CreateImportAndDiff(r.Context(), core.CreateImportInput{
		OrganizationID:        r.FormValue("organizationId"),
		ProjectID:             r.FormValue("projectId"),
		FileName:              header.Filename,
		File:                  file,
		CreatedBy:             r.FormValue("createdBy"),
		HeaderMappingOverride: override,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, res)
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	il, err := s.service.GetImportLog(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, il)
}

func (s *Server) handleGetDiff(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rows, err := s.service.GetDiff(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"importLogId": id, "rows": nonNil(rows)})
}

func (s *Server) handleGetAudits(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	audits, err := s.service.GetAudits(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"importLogId": id, "audits": nonNil(audits)})
}

func (s *Server) handleCommittedPreview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rows, err := s.service.GetCommittedPreview(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"importLogId": id, "rows": nonNil(rows)})
}

// handleExport streams the preview and audit workbook. It is rendered into
// memory first so a failure still produces a JSON error.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var buf bytes.Buffer
	if err := s.service.ExportWorkbook(r.Context(), id, &buf); err != nil {
		respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="import_%s.xlsx"`, id))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		logging.ForImport(r.Context(), id).Error("export write error", "error", err)
	}
}

type commitRequest struct {
	ActorID string `json:"actorId"`
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	var req commitRequest
	if err := decodeOptionalJSON(w, r, &req); err != nil {
		respondError(w, r, err)
		return
	}
	res, err := s.service.Commit(r.Context(), chi.URLParam(r, "id"), req.ActorID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	res, err := s.service.Rollback(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// maxJSONBody caps request bodies of the JSON endpoints.
const maxJSONBody = 1 << 20

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// decodeOptionalJSON is decodeJSON that accepts an empty body.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
