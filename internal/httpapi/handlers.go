package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/voice-forge/internal/checkpoints"
	"github.com/MimeLyc/voice-forge/internal/dataset"
	"github.com/MimeLyc/voice-forge/internal/metadata"
	"github.com/MimeLyc/voice-forge/internal/promptlist"
	"github.com/MimeLyc/voice-forge/internal/training"
)

type startTrainingRequest struct {
	ProfileID      string   `json:"profile_id"`
	PromptListIDs  []string `json:"prompt_list_ids"`
	AudioSource    string   `json:"audio_source"`
	LanguageCode   string   `json:"language_code"`
	BaseVoice      string   `json:"base_voice"`
	Epochs         int      `json:"epochs"`
	BatchSize      int      `json:"batch_size"`
	LearningRate   float64  `json:"learning_rate"`
	ValidationPct  float64  `json:"validation_pct"`
	UseGPU         bool     `json:"use_gpu"`
	MixedPrecision bool     `json:"mixed_precision"`
	AlignmentMode  string   `json:"alignment_mode"`
}

func (req *startTrainingRequest) applyDefaults() {
	if req.AudioSource == "" {
		req.AudioSource = string(dataset.SourcePreprocessed)
	}
	if req.Epochs == 0 {
		req.Epochs = 100
	}
	if req.BatchSize == 0 {
		req.BatchSize = 16
	}
	if req.LearningRate == 0 {
		req.LearningRate = 0.0001
	}
	if req.ValidationPct == 0 {
		req.ValidationPct = 0.1
	}
	if req.AlignmentMode == "" {
		req.AlignmentMode = string(training.AlignMFA)
	}
}

func (s *Server) handleTrainStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req startTrainingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.applyDefaults()

	job, err := s.registry.Submit(training.JobConfig{
		ProfileID:     req.ProfileID,
		PromptListIDs: req.PromptListIDs,
		AudioSource:   dataset.AudioSource(req.AudioSource),
		LanguageCode:  req.LanguageCode,
		BaseVoice:     req.BaseVoice,
		Epochs:        req.Epochs,
		BatchSize:     req.BatchSize,
		LearningRate:  req.LearningRate,
		ValidationPct: req.ValidationPct,
		UseGPU:        req.UseGPU,
		MixedPrec:     req.MixedPrecision,
		AlignmentMode: training.AlignmentMode(req.AlignmentMode),
	})
	if err != nil {
		var invalid *training.ValidationError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleTrainJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.registry.List())
}

type jobStatusResponse struct {
	Job      *training.TrainingJob     `json:"job"`
	Progress []training.ProgressRecord `json:"progress"`
}

func (s *Server) handleTrainStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/train/status/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	job, ok := s.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	progress, err := s.registry.Progress(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobStatusResponse{Job: job, Progress: progress})
}

func (s *Server) handleTrainCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/train/cancel/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing job id")
		return
	}

	switch err := s.registry.Cancel(id); {
	case err == nil:
		job, _ := s.registry.Get(id)
		writeJSON(w, http.StatusOK, job)
	case errors.Is(err, training.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, training.ErrJobTerminal):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleCheckpointCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	catalog := s.checkpoints.Catalog()
	ret := make(map[string][]checkpointResponse)
	for _, lang := range catalog.Languages() {
		entries := catalog.Voices(lang)
		items := make([]checkpointResponse, 0, len(entries))
		for _, entry := range entries {
			items = append(items, newCheckpointResponse(s.checkpoints, entry))
		}
		ret[lang] = items
	}
	writeJSON(w, http.StatusOK, ret)
}

type checkpointResponse struct {
	LanguageCode       string `json:"language_code"`
	VoiceID            string `json:"voice_id"`
	DisplayName        string `json:"display_name"`
	Gender             string `json:"gender"`
	Quality            string `json:"quality"`
	Description        string `json:"description"`
	ManualOnly         bool   `json:"manual_only"`
	ManualURL          string `json:"manual_url,omitempty"`
	ManualInstructions string `json:"manual_instructions,omitempty"`
	Cached             bool   `json:"cached"`
}

func newCheckpointResponse(mgr *checkpoints.Manager, entry checkpoints.CatalogEntry) checkpointResponse {
	ret := checkpointResponse{
		LanguageCode: entry.LanguageCode,
		VoiceID:      entry.VoiceID,
		DisplayName:  entry.DisplayName,
		Gender:       entry.Gender,
		Quality:      entry.Quality,
		Description:  entry.Description,
	}
	if manual, ok := entry.Download.(checkpoints.ManualDownload); ok {
		ret.ManualOnly = true
		ret.ManualURL = manual.URL
		ret.ManualInstructions = manual.Instructions
	}
	if cached, err := mgr.Get(entry.LanguageCode, entry.VoiceID); err == nil && cached.Validated {
		ret.Cached = true
	}
	return ret
}

func (s *Server) handleCheckpointCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	info, err := s.checkpoints.Info()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type checkpointKeyRequest struct {
	LanguageCode string `json:"language_code"`
	VoiceID      string `json:"voice_id"`
}

func decodeCheckpointKey(w http.ResponseWriter, r *http.Request) (checkpointKeyRequest, bool) {
	var req checkpointKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return req, false
	}
	if req.LanguageCode == "" || req.VoiceID == "" {
		writeError(w, http.StatusBadRequest, "language_code and voice_id are required")
		return req, false
	}
	return req, true
}

func (s *Server) handleCheckpointDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req, ok := decodeCheckpointKey(w, r)
	if !ok {
		return
	}

	cached, err := s.checkpoints.Download(r.Context(), req.LanguageCode, req.VoiceID)
	if err != nil {
		var manual *checkpoints.ManualDownloadRequiredError
		switch {
		case errors.As(err, &manual):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":        "manual download required",
				"url":          manual.URL,
				"instructions": manual.Instructions,
			})
		case errors.Is(err, checkpoints.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, cached)
}

func (s *Server) handleCheckpointEvict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	req, ok := decodeCheckpointKey(w, r)
	if !ok {
		return
	}
	if err := s.checkpoints.Evict(req.LanguageCode, req.VoiceID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type preprocessRequest struct {
	ProfileID string `json:"profile_id"`
}

func (s *Server) handlePreprocess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.transformer == nil {
		writeError(w, http.StatusNotImplemented, "preprocessing is not configured")
		return
	}

	var req preprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.ProfileID == "" {
		writeError(w, http.StatusBadRequest, "profile_id is required")
		return
	}

	recordingsDir := filepath.Join(s.voicesDir, req.ProfileID, "recordings")
	summary, err := s.transformer.TransformBatch(
		r.Context(),
		recordingsDir,
		filepath.Join(recordingsDir, "preprocessed"),
		s.transformCfg,
	)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type promptListResponse struct {
	Name     string `json:"name"`
	Size     int    `json:"size"`
	Language string `json:"language"`
}

func (s *Server) handlePromptLists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	profileID := r.URL.Query().Get("profile")
	if profileID == "" {
		writeError(w, http.StatusBadRequest, "profile query parameter is required")
		return
	}

	names, err := promptlist.List(s.voicesDir, profileID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ret := make([]promptListResponse, 0, len(names))
	for _, name := range names {
		list, err := promptlist.Load(s.voicesDir, profileID, name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		ret = append(ret, promptListResponse{
			Name:     name,
			Size:     list.Len(),
			Language: promptlist.DetectLanguage(list).String(),
		})
	}
	writeJSON(w, http.StatusOK, ret)
}

type profileResponse struct {
	ProfileID string               `json:"profile_id"`
	Audit     metadata.AuditReport `json:"audit"`
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	profiles, err := metadata.ListProfiles(s.voicesDir)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	ret := make([]profileResponse, 0, len(profiles))
	for _, profileID := range profiles {
		report, err := metadata.Audit(s.voicesDir, profileID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		ret = append(ret, profileResponse{ProfileID: profileID, Audit: report})
	}
	writeJSON(w, http.StatusOK, ret)
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
