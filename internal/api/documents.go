package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"vos/internal/models"
	"vos/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type createDocumentRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

var uploadExtensions = map[string]bool{".md": true, ".markdown": true}

func newDocument(title, description, content, filename string) (models.Document, error) {
	content = util.SanitizeText(content)
	if strings.TrimSpace(content) == "" {
		return models.Document{}, badRequest("Document content is empty")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = util.ExtractTitle(content, filename)
	}
	now := time.Now().UTC()
	return models.Document{
		ID:          uuid.NewString(),
		Title:       title,
		Description: strings.TrimSpace(description),
		Content:     content,
		ContentHash: util.SHA256Hex([]byte(content)),
		LineCount:   util.LineCount(content),
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	includeArchived, _ := strconv.ParseBool(r.URL.Query().Get("include_archived"))
	docs, err := s.store.ListDocuments(r.Context(), includeArchived)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	var req createDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeErr(w, http.StatusBadRequest, badRequest("Malformed JSON request body"))
		return
	}
	s.storeDocument(w, r, req.Title, req.Description, req.Content, "")
}

// handleUploadDocument accepts a single markdown file under the "file" form
// field.
func (s *Server) handleUploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErr(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		writeErr(w, http.StatusBadRequest, badRequest("Malformed multipart upload"))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	fh, ok := uploadedFile(r.MultipartForm)
	if !ok {
		writeErr(w, http.StatusBadRequest, badRequest("No file provided"))
		return
	}
	if !uploadExtensions[strings.ToLower(filepath.Ext(fh.Filename))] {
		writeErr(w, http.StatusBadRequest, badRequest("Only markdown (.md) files are supported"))
		return
	}

	f, err := fh.Open()
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", err))
		return
	}

	s.storeDocument(w, r, r.FormValue("title"), r.FormValue("description"), string(raw), fh.Filename)
}

func uploadedFile(form *multipart.Form) (*multipart.FileHeader, bool) {
	if files := form.File["file"]; len(files) > 0 {
		return files[0], true
	}
	for _, files := range form.File {
		if len(files) > 0 {
			return files[0], true
		}
	}
	return nil, false
}

func (s *Server) storeDocument(w http.ResponseWriter, r *http.Request, title, description, content, filename string) {
	doc, err := newDocument(title, description, content, filename)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.CreateDocument(r.Context(), doc); err != nil {
		writeDomainErr(w, err)
		return
	}
	s.log.Info().Str("document_id", doc.ID).Int("lines", doc.LineCount).Msg("document created")
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDocumentContent(w http.ResponseWriter, r *http.Request) {
	doc, err := s.store.GetDocument(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":         doc.ID,
		"title":      doc.Title,
		"content":    doc.Content,
		"line_count": doc.LineCount,
		"lines":      util.SplitLines(doc.Content),
	})
}

func (s *Server) handleArchiveDocument(archived bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "documentID")
		if err := s.store.SetDocumentArchived(r.Context(), id, archived); err != nil {
			writeDomainErr(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_archived": archived})
	}
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "documentID")
	if err := s.store.DeleteDocument(r.Context(), id); err != nil {
		writeDomainErr(w, err)
		return
	}
	s.log.Info().Str("document_id", id).Msg("document deleted")
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}
