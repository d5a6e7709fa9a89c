package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"lmscenter/internal/infrastructure/worker"
	"lmscenter/internal/model"
	"lmscenter/internal/service"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// restartTimeout ограничивает переподключение, запущенное из API
const restartTimeout = 2 * time.Minute

type errorResponse struct {
	Error string `json:"error"`
}

type statusResponse struct {
	service.Status
	Stats map[string]interface{}      `json:"stats,omitempty"`
	Jobs  map[string]worker.KindStats `json:"jobs,omitempty"`
}

type checkResponse struct {
	Started   bool           `json:"started"`
	Debounced bool           `json:"debounced,omitempty"`
	Status    service.Status `json:"status"`
}

type restartResponse struct {
	Status    service.Status `json:"status"`
	Debounced bool           `json:"debounced,omitempty"`
	Error     string         `json:"error,omitempty"`
}

type settingsResponse struct {
	Saved     bool            `json:"saved"`
	LoggedIn  bool            `json:"loggedIn"`
	Restarted bool            `json:"restarted"`
	Settings  model.LMSConfig `json:"settings"`
	Error     string          `json:"error,omitempty"`
}

type downloadRequest struct {
	AssignmentID string `json:"assignmentId"`
	LectureID    string `json:"lectureId"`
}

type downloadResponse struct {
	Directory string                   `json:"directory"`
	Results   []service.DownloadResult `json:"results"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.deps.Checker.Status()}
	if s.deps.Stats != nil {
		resp.Stats = s.deps.Stats.GetStats()
	}
	if s.deps.Jobs != nil {
		resp.Jobs = s.deps.Jobs.GetMetrics().Kinds
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request) {
	// ?cached=true отдает снимок без обращения к LMS
	if cached, _ := strconv.ParseBool(r.URL.Query().Get("cached")); cached {
		writeJSON(w, http.StatusOK, s.deps.Checker.Snapshot())
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Checker.GetAssignments(r.Context()))
}

func (s *Server) handleCourses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Checker.GetCourses(r.Context()))
}

func (s *Server) handleLectures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Checker.GetLectures(r.Context()))
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	if !s.allow("check") {
		writeJSON(w, http.StatusOK, checkResponse{Debounced: true, Status: s.deps.Checker.Status()})
		return
	}
	started := s.deps.Checker.CheckNow(r.Context())
	writeJSON(w, http.StatusOK, checkResponse{Started: started, Status: s.deps.Checker.Status()})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	resp := restartResponse{}
	if !s.allow("restart") {
		resp.Debounced = true
		resp.Status = s.deps.Checker.Status()
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if err := s.restart(r.Context()); err != nil {
		resp.Error = err.Error()
	}
	resp.Status = s.deps.Checker.Status()
	writeJSON(w, http.StatusOK, resp)
}

// restart не зависит от отмены запроса: переподключение доводится до конца
func (s *Server) restart(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restartTimeout)
	defer cancel()
	return s.deps.Checker.Restart(ctx)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var data model.SubmissionData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result := s.deps.Checker.Submit(r.Context(), data)
	code := http.StatusOK
	if !result.Success {
		code = http.StatusBadGateway
		if data.AssignmentID == "" {
			code = http.StatusBadRequest
		}
	}
	writeJSON(w, code, result)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Settings.GetSettings(r.Context()).Redacted())
}

// handlePutSettings сохраняет настройки. В режиме входа по паролю сначала
// получает токен. Ошибка входа не перезапускает движок.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var cfg model.LMSConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.deps.Settings.Save(r.Context(), cfg); err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("Failed to save settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := settingsResponse{Saved: true}
	effective := s.deps.Settings.GetSettings(r.Context())

	if effective.UseCredentialLogin && effective.Username != "" && effective.Password != "" && s.deps.Auth != nil {
		token, err := s.deps.Auth.Login(r.Context(), service.Credentials{
			LMSType:  effective.LMSType,
			URL:      effective.LMSURL,
			Username: effective.Username,
			Password: effective.Password,
		})
		if err != nil {
			resp.Error = err.Error()
			resp.Settings = effective.Redacted()
			writeJSON(w, http.StatusBadGateway, resp)
			return
		}
		if err := s.deps.Settings.SaveToken(r.Context(), token.AccessToken); err != nil {
			s.logger.Error("Failed to save token", zap.Error(err))
			resp.Error = err.Error()
			resp.Settings = effective.Redacted()
			writeJSON(w, http.StatusInternalServerError, resp)
			return
		}
		resp.LoggedIn = true
	}

	resp.Restarted = true
	if err := s.restart(r.Context()); err != nil {
		resp.Error = err.Error()
	}
	resp.Settings = s.deps.Settings.GetSettings(r.Context()).Redacted()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Settings.Clear(r.Context()); err != nil {
		s.logger.Error("Failed to clear settings", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := restartResponse{}
	if err := s.restart(r.Context()); err != nil {
		resp.Error = err.Error()
	}
	resp.Status = s.deps.Checker.Status()
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDownloads(w http.ResponseWriter, r *http.Request) {
	if s.deps.Downloader == nil {
		writeError(w, http.StatusNotImplemented, "downloads are not configured")
		return
	}

	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AssignmentID == "" && req.LectureID == "" {
		writeError(w, http.StatusBadRequest, "assignmentId or lectureId is required")
		return
	}

	cfg := s.deps.Settings.GetSettings(r.Context())
	root := cfg.DownloadPath
	if root == "" {
		root = s.deps.DownloadRoot
	}

	var (
		dir         string
		attachments []model.FileAttachment
		found       bool
	)
	if req.AssignmentID != "" {
		for _, a := range s.deps.Checker.Snapshot() {
			if a.ID == req.AssignmentID {
				dir = service.AssignmentDir(root, a)
				attachments = a.Attachments
				found = true
				break
			}
		}
	} else {
		for _, l := range s.deps.Checker.GetLectures(r.Context()) {
			if l.ID == req.LectureID {
				dir = service.LectureDir(root, l)
				attachments = l.Attachments
				found = true
				break
			}
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}

	results := s.deps.Downloader.DownloadAll(r.Context(), cfg, attachments, dir)
	writeJSON(w, http.StatusOK, downloadResponse{Directory: dir, Results: results})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSON(w, http.StatusOK, []model.Notification{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	writeJSON(w, http.StatusOK, s.deps.History.Recent(r.Context(), limit))
}
