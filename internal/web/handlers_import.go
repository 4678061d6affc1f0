package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/JonMunkholm/contacthub/internal/apperror"
	"github.com/JonMunkholm/contacthub/internal/importer"
	"github.com/JonMunkholm/contacthub/internal/mapping"
	"github.com/JonMunkholm/contacthub/internal/reqctx"
)

// multipartOverhead is allowed on top of the file limit for the other form
// fields and part headers.
const multipartOverhead = 64 << 10

// maxMemory is the part of an upload kept in memory; the rest spills to disk.
const maxMemory = 8 << 20

type bulkRequest struct {
	Data []importer.ContactRow `json:"data"`
}

// uploadFunc runs against a validated CSV upload.
type uploadFunc func(ctx context.Context, id reqctx.Identity, headerHash string, file io.Reader) (any, error)

// handleImportFile imports a multipart CSV upload with the fields file,
// headerHash and the optional type.
func (s *Server) handleImportFile(w http.ResponseWriter, r *http.Request) {
	s.serveUpload(w, r, func(ctx context.Context, id reqctx.Identity, hash string, file io.Reader) (any, error) {
		return s.svc.Files.Import(ctx, id.TenantID, id.UserID, hash, file)
	})
}

// handlePreviewFile reports what handleImportFile would do with the same
// upload, without writing contacts.
func (s *Server) handlePreviewFile(w http.ResponseWriter, r *http.Request) {
	s.serveUpload(w, r, func(ctx context.Context, id reqctx.Identity, hash string, file io.Reader) (any, error) {
		return s.svc.Files.Preview(ctx, id.TenantID, hash, file)
	})
}

func (s *Server) serveUpload(w http.ResponseWriter, r *http.Request, fn uploadFunc) {
	id, err := caller(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Import.MaxFileSize+multipartOverhead)
	if err := r.ParseMultipartForm(min(s.cfg.Import.MaxFileSize, maxMemory)); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, r, fileTooLarge(tooLarge))
			return
		}
		respondError(w, r, apperror.Wrap(apperror.KindValidation, err, "invalid multipart form"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, &apperror.Error{Kind: apperror.KindValidation, Code: "FILE003", Msg: "no file provided", Err: err})
		return
	}
	defer file.Close()

	if header.Size > s.cfg.Import.MaxFileSize {
		respondError(w, r, fileTooLarge(&http.MaxBytesError{Limit: s.cfg.Import.MaxFileSize}))
		return
	}

	hash := strings.TrimSpace(r.FormValue("headerHash"))
	if hash == "" {
		respondError(w, r, apperror.Validation("headerHash is required"))
		return
	}
	if t := r.FormValue("type"); t != "" && !mapping.EntityType(strings.ToUpper(t)).Valid() {
		respondError(w, r, apperror.Validation("invalid type %q", t))
		return
	}

	resp, err := fn(r.Context(), id, hash, file)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBulkCreate creates or merges the nested rows of {data: [...]}.
func (s *Server) handleBulkCreate(w http.ResponseWriter, r *http.Request) {
	id, err := caller(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	var req bulkRequest
	if err := decodeJSON(w, r, s.cfg.Import.MaxFileSize, &req); err != nil {
		respondError(w, r, err)
		return
	}
	if req.Data == nil {
		respondError(w, r, apperror.Validation("data is required"))
		return
	}
	if limit := s.cfg.Import.MaxRows; limit > 0 && len(req.Data) > limit {
		respondError(w, r, apperror.Validation("bulk request has %d rows, the limit is %d", len(req.Data), limit))
		return
	}

	writeJSON(w, http.StatusOK, s.svc.Imports.BulkCreate(r.Context(), id.TenantID, id.UserID, req.Data))
}
