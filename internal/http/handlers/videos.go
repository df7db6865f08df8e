package handlers

import (
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"server/internal/domain"
	"server/internal/orchestrator"
)

type videoCreateRequest struct {
	Title        string `json:"title"`
	StoryText    string `json:"story_text"`
	VoiceID      string `json:"voice_id"`
	BackgroundID string `json:"background_id"`
}

type videoCreateResponse struct {
	JobID          string `json:"job_id"`
	Status         string `json:"status"`
	RemainingQuota int    `json:"remaining_quota"`
}

type videoItem struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Status          string     `json:"status"`
	VoiceID         string     `json:"voice_id"`
	BackgroundID    string     `json:"background_id"`
	ErrorReason     string     `json:"error_reason,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	FileSizeBytes   int64      `json:"file_size_bytes,omitempty"`
	Resolution      string     `json:"resolution,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func toVideoItem(job *domain.Job) videoItem {
	return videoItem{
		ID:              job.ID,
		Title:           job.Title,
		Status:          string(job.Status),
		VoiceID:         job.VoiceID,
		BackgroundID:    job.BackgroundID,
		ErrorReason:     job.ErrorReason,
		DurationSeconds: job.DurationSeconds,
		FileSizeBytes:   job.FileSizeBytes,
		Resolution:      job.Resolution,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
		CompletedAt:     job.CompletedAt,
	}
}

func (a *App) VideosCreate(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req videoCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}

	plan := domain.PlanByName(a.currentPlan(r))
	ip := clientIP(r)
	job, err := a.Orch.Submit(r.Context(), orchestrator.SubmitRequest{
		OwnerID:      userID,
		Plan:         plan.Name,
		Title:        req.Title,
		StoryText:    req.StoryText,
		VoiceID:      req.VoiceID,
		BackgroundID: req.BackgroundID,
		IPAddress:    ip,
		Country:      a.countryFor(ip),
	})
	if err != nil {
		a.fail(w, err)
		return
	}

	remaining := 0
	if summary, err := a.Orch.Usage(r.Context(), userID, plan.Name); err == nil {
		remaining = summary.PlanLimit - summary.PlanUsed
		if remaining < 0 {
			remaining = 0
		}
	}
	a.json(w, http.StatusAccepted, videoCreateResponse{
		JobID:          job.ID,
		Status:         string(job.Status),
		RemainingQuota: remaining,
	})
}

func (a *App) VideosList(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}

	filter := domain.ListFilter{
		Status:     domain.JobStatus(r.URL.Query().Get("status")),
		TitleQuery: r.URL.Query().Get("q"),
	}
	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))

	jobs, total, err := a.Orch.List(r.Context(), userID, filter)
	if err != nil {
		a.fail(w, err)
		return
	}
	items := make([]videoItem, 0, len(jobs))
	for i := range jobs {
		items = append(items, toVideoItem(&jobs[i]))
	}
	a.json(w, http.StatusOK, map[string]any{
		"items": items,
		"total": total,
	})
}

func (a *App) VideoDetail(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	job, err := a.Orch.Get(r.Context(), userID, jobID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, toVideoItem(job))
}

func (a *App) VideoDownload(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	rc, size, err := a.Orch.OpenVideo(r.Context(), userID, jobID)
	if err != nil {
		a.fail(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	w.Header().Set("Content-Disposition", `attachment; filename="`+jobID+`.mp4"`)
	if _, err := io.Copy(w, rc); err != nil {
		a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("handlers: download interrupted")
	}
}

func (a *App) VideoCancel(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if err := a.Orch.Cancel(r.Context(), userID, jobID); err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"id": jobID, "status": string(domain.JobStatusCancelled)})
}

func (a *App) VideoDelete(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	jobID := chi.URLParam(r, "job_id")
	if err := a.Orch.Delete(r.Context(), userID, jobID); err != nil {
		a.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) countryFor(ip string) string {
	if a.GeoIP == nil || ip == "" {
		return ""
	}
	country, err := a.GeoIP.CountryCode(ip)
	if err != nil {
		return ""
	}
	return country
}

// clientIP relies on chi's RealIP middleware having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
