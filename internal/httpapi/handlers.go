package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/apperr"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/config"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/extractor"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/internal/jobs"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/file"
	"github.com/sucooer/YouTube-to-Emby-Metadata-Tool/pkg/log"
)

const maxCookieBytes = 1 << 20

type downloadRequest struct {
	URL         string `json:"url" validate:"required"`
	OutputDir   string `json:"output_dir"`
	CookieFile  string `json:"cookie_file"`
	VideoFormat string `json:"video_format" validate:"omitempty,oneof=mp4 mkv"`
	Channel     string `json:"channel" validate:"omitempty,max=64"`
	SessionID   string `json:"session_id" validate:"omitempty,max=128"`
}

type downloadResponse struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Created   bool   `json:"created"`
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body downloadRequest
	if !s.decodeAndValidate(w, r, &body) {
		return
	}

	req := jobs.Request{
		URL:         strings.TrimSpace(body.URL),
		OutputRoot:  strings.TrimSpace(body.OutputDir),
		VideoFormat: body.VideoFormat,
		Channel:     strings.TrimSpace(body.Channel),
	}
	if req.OutputRoot == "" {
		req.OutputRoot = s.currentOutputDir()
	}

	if raw := strings.TrimSpace(body.CookieFile); raw != "" {
		cookie, err := s.resolveCookie(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "cookie file not found")
			return
		}
		req.CookieFile = cookie
		if s.settings != nil {
			if err := s.settings.RememberCookie(cookie); err != nil {
				log.Warn("Failed to remember cookie file: %v", err)
			}
		}
	}

	if s.requests != nil {
		if err := s.requests.Validate(req); err != nil {
			writeAppError(w, err)
			return
		}
	}

	job, created := s.queue.Enqueue(jobs.EnqueueRequest{Request: req, SessionID: body.SessionID})
	log.Info("Download task %s queued for %s (session %s)", job.ID, req.URL, job.SessionID)
	writeJSON(w, http.StatusOK, downloadResponse{
		TaskID:    job.ID,
		SessionID: job.SessionID,
		Status:    "started",
		Created:   created,
	})
}

// resolveCookie accepts absolute paths and names of previously uploaded files.
func (s *Server) resolveCookie(raw string) (string, error) {
	if p, err := extractor.ResolveCookiePath(raw); err == nil {
		return p, nil
	}
	name := strings.Trim(raw, `"'`)
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("cookie file %s does not exist", name)
	}
	return extractor.ResolveCookiePath(filepath.Join(s.cookieDir, filepath.Base(name)))
}

func (s *Server) currentOutputDir() string {
	if s.settings != nil {
		if settings, err := s.settings.GetRuntimeSettings(); err == nil && settings.OutputDir != "" {
			return settings.OutputDir
		}
	}
	return s.defaultOutputDir
}

func (s *Server) handleDownloadStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	job, ok := s.queue.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	list := s.queue.List()
	if sessionID == "" {
		writeJSON(w, http.StatusOK, list)
		return
	}
	ret := make([]*jobs.Job, 0, len(list))
	for _, job := range list {
		if job.SessionID == sessionID {
			ret = append(ret, job)
		}
	}
	writeJSON(w, http.StatusOK, ret)
}

type uploadCookieResponse struct {
	Success  bool   `json:"success"`
	FilePath string `json:"filepath"`
	FileName string `json:"filename"`
}

func (s *Server) handleUploadCookie(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCookieBytes+4096)
	upload, header, err := r.FormFile("cookie_file")
	if err != nil || header.Filename == "" {
		writeError(w, http.StatusBadRequest, "no file selected")
		return
	}
	defer upload.Close()

	data, err := io.ReadAll(io.LimitReader(upload, maxCookieBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(data) > maxCookieBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "cookie file too large")
		return
	}

	name := fmt.Sprintf("cookies_%s.txt", strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	target := filepath.Join(s.cookieDir, name)
	if err := file.WriteAtomic(target, data, 0o600); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info("Stored cookie file %s", target)
	writeJSON(w, http.StatusOK, uploadCookieResponse{Success: true, FilePath: target, FileName: name})
}

type checkFFmpegResponse struct {
	Available bool `json:"available"`
	extractor.DependencyReport
}

func (s *Server) handleCheckFFmpeg(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report := extractor.DependencyStatus(s.pythonBin, s.ffmpegPath)
	writeJSON(w, http.StatusOK, checkFFmpegResponse{Available: report.FFmpegFound, DependencyReport: report})
}

func (s *Server) handleLibrary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.scanner == nil {
		writeError(w, http.StatusNotImplemented, "library is not configured")
		return
	}
	if r.URL.Query().Get("refresh") == "1" {
		s.scanner.Invalidate()
	}
	root := r.URL.Query().Get("root")
	if root == "" {
		root = s.currentOutputDir()
	}
	if root == "" {
		writeError(w, http.StatusBadRequest, "root is required")
		return
	}
	lib, err := s.scanner.Scan(r.Context(), root)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, lib)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusNotImplemented, "settings store is not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		settings, err := s.settings.GetRuntimeSettings()
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req config.RuntimeSettings
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		if err := req.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		saved, err := s.settings.UpdateRuntimeSettings(req)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if s.apply != nil {
			if err := s.apply(saved); err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
		}
		writeJSON(w, http.StatusOK, saved)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// decodeAndValidate reads a JSON body into dst and checks its validate tags.
// It writes the 400 response itself and reports whether handling may go on.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", jsonFieldName(fe)))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", jsonFieldName(fe), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid (%s)", jsonFieldName(fe), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

func jsonFieldName(fe validator.FieldError) string {
	switch fe.Field() {
	case "URL":
		return "url"
	case "VideoFormat":
		return "video_format"
	case "SessionID":
		return "session_id"
	default:
		return strings.ToLower(fe.Field())
	}
}

// writeAppError maps the error taxonomy to HTTP status codes.
func writeAppError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch apperr.TypeOf(err) {
	case apperr.ErrInvalidInput:
		status = http.StatusBadRequest
	case apperr.ErrChannelNotInstalled:
		status = http.StatusNotFound
	case apperr.ErrRateLimited:
		status = http.StatusTooManyRequests
	case apperr.ErrFetchFailed, apperr.ErrMalformedRelease:
		status = http.StatusBadGateway
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
