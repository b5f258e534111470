package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/billing/internal/core"
	"github.com/JonMunkholm/billing/internal/ingest"
	"github.com/JonMunkholm/billing/internal/logging"
	"github.com/JonMunkholm/billing/internal/web/templates"
)

// multipartMemory is how much of a form ParseMultipartForm keeps in memory
// before spilling file parts to disk.
const multipartMemory = 1 << 20

type uploadAccepted struct {
	ImportID  string `json:"import_id"`
	StatusURL string `json:"status_url"`
	EventsURL string `json:"events_url"`
	ResultURL string `json:"result_url"`
}

type uploadResponse struct {
	Message          string         `json:"message"`
	ImportID         string         `json:"import_id"`
	RecordsProcessed int            `json:"recordsProcessed"`
	Report           *ingest.Report `json:"report"`
}

type progressResponse struct {
	core.ImportProgress
	Percent int `json:"percent"`
}

func newProgressResponse(p core.ImportProgress) progressResponse {
	return progressResponse{ImportProgress: p, Percent: p.Percent()}
}

// handleUploadCSV spools the csvFile part to disk and starts an import.
// By default the response waits for the report; with async=true it returns
// 202 and the import can be followed through the progress endpoints.
func (s *Server) handleUploadCSV(w http.ResponseWriter, r *http.Request) {
	req, err := s.receiveUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	importID, err := s.service.StartImport(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if async, _ := strconv.ParseBool(r.FormValue("async")); async {
		if isHTMX(r) {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusAccepted)
			if err := templates.ImportSummary(importID, nil).Render(r.Context(), w); err != nil {
				s.logWriteError(r, err)
			}
			return
		}
		base := "/api/upload/" + importID
		w.Header().Set("Location", base)
		writeJSON(w, http.StatusAccepted, uploadAccepted{
			ImportID:  importID,
			StatusURL: base,
			EventsURL: base + "/events",
			ResultURL: base + "/result",
		})
		return
	}

	result, err := s.service.GetImportResult(r.Context(), importID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondImportResult(w, r, result)
}

func (s *Server) respondImportResult(w http.ResponseWriter, r *http.Request, result *core.ImportResult) {
	if err := result.Err(); err != nil {
		var details any
		if result.Report != nil {
			details = result.Report
		}
		s.respondErrorDetails(w, r, err, details)
		return
	}

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := templates.ImportSummary(result.ImportID, result.Report).Render(r.Context(), w); err != nil {
			s.logWriteError(r, err)
		}
		return
	}

	msg := "CSV imported"
	if result.Report.DryRun {
		msg = "CSV validated, nothing was stored"
	}
	writeJSON(w, http.StatusOK, uploadResponse{
		Message:          msg,
		ImportID:         result.ImportID,
		RecordsProcessed: result.Report.Attempted,
		Report:           result.Report,
	})
}

// receiveUpload validates the multipart upload and spools the file to a
// temp file owned by the import from then on.
func (s *Server) receiveUpload(w http.ResponseWriter, r *http.Request) (core.ImportRequest, error) {
	limit := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return core.ImportRequest{}, fmt.Errorf("%w: limit is %d bytes", core.ErrFileTooLarge, limit)
		}
		return core.ImportRequest{}, fmt.Errorf("%w: parse form: %w", core.ErrBadRequest, err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("csvFile")
	if errors.Is(err, http.ErrMissingFile) {
		return core.ImportRequest{}, core.ErrNoFile
	}
	if err != nil {
		return core.ImportRequest{}, fmt.Errorf("%w: read file part: %w", core.ErrBadRequest, err)
	}
	defer file.Close()

	if !isCSVUpload(header) {
		return core.ImportRequest{}, fmt.Errorf("%w: %s", core.ErrNotCSV, header.Filename)
	}

	var policy ingest.Policy
	if raw := r.FormValue("policy"); raw != "" {
		if policy, err = ingest.ParsePolicy(raw); err != nil {
			return core.ImportRequest{}, fmt.Errorf("%w: %w", core.ErrBadRequest, err)
		}
	}
	dryRun, _ := strconv.ParseBool(r.FormValue("dry_run"))

	path, size, err := s.spool(file)
	if err != nil {
		return core.ImportRequest{}, err
	}

	return core.ImportRequest{
		FileName: filepath.Base(header.Filename),
		Path:     path,
		Size:     size,
		Policy:   policy,
		DryRun:   dryRun,
	}, nil
}

// isCSVUpload accepts a .csv file name or a text/csv part.
func isCSVUpload(header *multipart.FileHeader) bool {
	if strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(header.Header.Get("Content-Type"))
	return err == nil && mediaType == "text/csv"
}

func (s *Server) spool(src io.Reader) (string, int64, error) {
	f, err := os.CreateTemp(s.cfg.Upload.TempDir, "billing-upload-*.csv")
	if err != nil {
		return "", 0, fmt.Errorf("create spool file: %w", err)
	}
	size, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", 0, fmt.Errorf("spool upload: %w", err)
	}
	return f.Name(), size, nil
}

func (s *Server) handleImportProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.service.GetImportProgress(chi.URLParam(r, "importID"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newProgressResponse(progress))
}

// handleImportEvents streams progress as Server-Sent Events. The event ID is
// the completion percentage, so a reconnecting client that sends
// Last-Event-ID (or lastEventId) skips what it has already seen. A final
// "complete" event carries the import result.
func (s *Server) handleImportEvents(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	lastEventID := -1
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	if n, err := strconv.Atoi(raw); err == nil {
		lastEventID = n
	}

	progressCh, err := s.service.SubscribeProgress(importID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := logging.WithFields(r.Context(), "import_id", importID)

	for {
		select {
		case progress, ok := <-progressCh:
			if !ok {
				s.writeCompleteEvent(w, r, importID)
				if err := rc.Flush(); err != nil {
					logger.Debug("flush complete event", "error", err)
				}
				return
			}

			pct := progress.Percent()
			if pct <= lastEventID && !progress.Phase.Finished() {
				continue
			}
			lastEventID = pct

			data, err := json.Marshal(newProgressResponse(progress))
			if err != nil {
				logger.Error("encode progress", "error", err)
				return
			}
			fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", pct, data)
			if err := rc.Flush(); err != nil {
				logger.Debug("client stopped reading events", "error", err)
				return
			}

		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeCompleteEvent(w io.Writer, r *http.Request, importID string) {
	data := []byte("{}")
	if result, err := s.service.GetImportResult(r.Context(), importID); err == nil {
		if encoded, err := json.Marshal(result); err == nil {
			data = encoded
		}
	}
	fmt.Fprintf(w, "event: complete\ndata: %s\n\n", data)
}

// handleImportResult waits for the import to finish unless wait=false, in
// which case an unfinished import answers 202 with its progress.
func (s *Server) handleImportResult(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")

	if wait, err := strconv.ParseBool(r.URL.Query().Get("wait")); err == nil && !wait {
		progress, err := s.service.GetImportProgress(importID)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if !progress.Phase.Finished() {
			writeJSON(w, http.StatusAccepted, newProgressResponse(progress))
			return
		}
	}

	result, err := s.service.GetImportResult(r.Context(), importID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondImportResult(w, r, result)
}

// handleImportFailuresCSV downloads the rejected rows of a finished import.
func (s *Server) handleImportFailuresCSV(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")
	result, err := s.service.GetImportResult(r.Context(), importID)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := core.WriteFailuresCSV(&buf, result.Report); err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="failed_rows_%s.csv"`, importID))
	if _, err := buf.WriteTo(w); err != nil {
		s.logWriteError(r, err)
	}
}

func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	importID := chi.URLParam(r, "importID")
	if err := s.service.CancelImport(importID); err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"import_id": importID, "status": "cancelling"})
}

func (s *Server) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.LimiterStatus())
}
