package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ErlanBelekov/dist-job-scheduler/internal/domain"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/repository"
	"github.com/ErlanBelekov/dist-job-scheduler/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type ScheduleHandler struct {
	uc       *usecase.ScheduleUsecase
	logger   *slog.Logger
	validate *validator.Validate
}

func NewScheduleHandler(uc *usecase.ScheduleUsecase, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		uc:       uc,
		logger:   logger.With("component", "schedule_handler"),
		validate: validator.New(),
	}
}

type scheduleResponse struct {
	ID             string     `json:"id"`
	Token          string     `json:"token"`
	UserID         int64      `json:"user_id"`
	ScenarioID     int64      `json:"scenario_id"`
	Type           string     `json:"type"`
	TimeHHMM       *string    `json:"time_hhmm,omitempty"`
	TimesHHMM      []string   `json:"times_hhmm,omitempty"`
	Timezone       *string    `json:"timezone,omitempty"`
	EveryMinutes   *int       `json:"every_minutes,omitempty"`
	RunAt          *time.Time `json:"run_at,omitempty"`
	Active         bool       `json:"active"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastStatusCode *int       `json:"last_status_code,omitempty"`
	LastError      *string    `json:"last_error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toScheduleResponse(s *domain.Schedule) scheduleResponse {
	return scheduleResponse{
		ID:             s.ID,
		Token:          s.Token,
		UserID:         s.UserID,
		ScenarioID:     s.ScenarioID,
		Type:           string(s.Type),
		TimeHHMM:       s.TimeHHMM,
		TimesHHMM:      s.TimesHHMM,
		Timezone:       s.Timezone,
		EveryMinutes:   s.EveryMinutes,
		RunAt:          s.RunAt,
		Active:         s.Active,
		NextRunAt:      s.NextRunAt,
		LastRunAt:      s.LastRunAt,
		LastStatusCode: s.LastStatusCode,
		LastError:      s.LastError,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
}

func (h *ScheduleHandler) writeValidationErr(ctx *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidTimeZone):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidTimeZone})
	case errors.Is(err, domain.ErrInvalidTimeOfDay):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidTimeOfDay})
	case errors.Is(err, domain.ErrMissingDailyTime):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errMissingDailyTime})
	case errors.Is(err, domain.ErrInvalidEveryMinutes):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errInvalidEveryMinutes})
	case errors.Is(err, domain.ErrMissingRunAt):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errMissingRunAt})
	default:
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

type createDailyRequest struct {
	Token      string   `json:"token" binding:"required" validate:"required,max=256"`
	UserID     int64    `json:"user_id" binding:"required" validate:"required,gt=0"`
	ScenarioID int64    `json:"scenario_id" binding:"required" validate:"required,gt=0"`
	TimeHHMM   *string  `json:"time_hhmm"`
	TimesHHMM  []string `json:"times_hhmm"`
	Timezone   *string  `json:"timezone"`
}

func (h *ScheduleHandler) CreateDaily(ctx *gin.Context) {
	var req createDailyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.uc.CreateDaily(ctx.Request.Context(), usecase.CreateDailyInput{
		Token:      req.Token,
		UserID:     req.UserID,
		ScenarioID: req.ScenarioID,
		TimeHHMM:   req.TimeHHMM,
		TimesHHMM:  req.TimesHHMM,
		Timezone:   req.Timezone,
	})
	if err != nil {
		h.writeValidationErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toScheduleResponse(s))
}

type createIntervalRequest struct {
	Token        string `json:"token" binding:"required" validate:"required,max=256"`
	UserID       int64  `json:"user_id" binding:"required" validate:"required,gt=0"`
	ScenarioID   int64  `json:"scenario_id" binding:"required" validate:"required,gt=0"`
	EveryMinutes int    `json:"every_minutes" binding:"required"`
}

func (h *ScheduleHandler) CreateInterval(ctx *gin.Context) {
	var req createIntervalRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.uc.CreateInterval(ctx.Request.Context(), usecase.CreateIntervalInput{
		Token:        req.Token,
		UserID:       req.UserID,
		ScenarioID:   req.ScenarioID,
		EveryMinutes: req.EveryMinutes,
	})
	if err != nil {
		h.writeValidationErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toScheduleResponse(s))
}

type createOnceRequest struct {
	Token      string    `json:"token" binding:"required" validate:"required,max=256"`
	UserID     int64     `json:"user_id" binding:"required" validate:"required,gt=0"`
	ScenarioID int64     `json:"scenario_id" binding:"required" validate:"required,gt=0"`
	RunAt      time.Time `json:"run_at" binding:"required"`
}

// CreateOnce relies on time.Time's default JSON unmarshaling (RFC3339),
// which already rejects a naive datetime lacking a UTC offset — the 400
// on a "naive" run_at therefore comes from ShouldBindJSON itself.
func (h *ScheduleHandler) CreateOnce(ctx *gin.Context) {
	var req createOnceRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": errRunAtNaive})
		return
	}
	if err := h.validate.Struct(req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.uc.CreateOnce(ctx.Request.Context(), usecase.CreateOnceInput{
		Token:      req.Token,
		UserID:     req.UserID,
		ScenarioID: req.ScenarioID,
		RunAt:      req.RunAt,
	})
	if err != nil {
		h.writeValidationErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toScheduleResponse(s))
}

func (h *ScheduleHandler) List(ctx *gin.Context) {
	var filter repository.ListFilter
	if tok := ctx.Query("token"); tok != "" {
		filter.Token = &tok
	}
	if uidStr := ctx.Query("user_id"); uidStr != "" {
		uid, err := strconv.ParseInt(uidStr, 10, 64)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "user_id must be an integer"})
			return
		}
		filter.UserID = &uid
	}
	if activeStr := ctx.Query("active"); activeStr != "" {
		active, err := strconv.ParseBool(activeStr)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "active must be a boolean"})
			return
		}
		filter.Active = &active
	}

	schedules, err := h.uc.List(ctx.Request.Context(), filter)
	if err != nil {
		h.logger.Error("list schedules", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]scheduleResponse, len(schedules))
	for i, s := range schedules {
		items[i] = toScheduleResponse(s)
	}
	ctx.JSON(http.StatusOK, gin.H{"schedules": items})
}

func (h *ScheduleHandler) GetByID(ctx *gin.Context) {
	id := ctx.Param("id")

	s, err := h.uc.Get(ctx.Request.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrScheduleNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errScheduleNotFound})
			return
		}
		h.logger.Error("get schedule", "schedule_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	ctx.JSON(http.StatusOK, toScheduleResponse(s))
}

type updateRequest struct {
	ScenarioID   *int64     `json:"scenario_id"`
	TimeHHMM     *string    `json:"time_hhmm"`
	TimesHHMM    *[]string  `json:"times_hhmm"`
	Timezone     *string    `json:"timezone"`
	EveryMinutes *int       `json:"every_minutes"`
	RunAt        *time.Time `json:"run_at"`
	Active       *bool      `json:"active"`
}

func (r updateRequest) toDelta() repository.Update {
	delta := repository.Update{
		ScenarioID:   r.ScenarioID,
		TimeHHMM:     r.TimeHHMM,
		Timezone:     r.Timezone,
		EveryMinutes: r.EveryMinutes,
		RunAt:        r.RunAt,
		Active:       r.Active,
	}
	if r.TimesHHMM != nil {
		delta.TimesHHMM = *r.TimesHHMM
		delta.TimesHHMMSet = true
	}
	return delta
}

func (h *ScheduleHandler) Update(ctx *gin.Context) {
	id := ctx.Param("id")

	var req updateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.uc.Update(ctx.Request.Context(), id, req.toDelta())
	if err != nil {
		if errors.Is(err, domain.ErrScheduleNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errScheduleNotFound})
			return
		}
		h.writeValidationErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toScheduleResponse(s))
}

type byKeyRequest struct {
	Token  string  `json:"token" binding:"required"`
	UserID int64   `json:"user_id" binding:"required"`
	Type   *string `json:"type"`
}

type updateByKeyRequest struct {
	byKeyRequest
	updateRequest
}

func (h *ScheduleHandler) UpdateByKey(ctx *gin.Context) {
	var req updateByKeyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Type == nil || *req.Type == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "type is required"})
		return
	}

	s, err := h.uc.UpdateByKey(ctx.Request.Context(), req.Token, req.UserID, domain.ScheduleType(*req.Type), req.updateRequest.toDelta())
	if err != nil {
		if errors.Is(err, domain.ErrScheduleNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errScheduleNotFound})
			return
		}
		h.writeValidationErr(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, toScheduleResponse(s))
}

func (h *ScheduleHandler) Delete(ctx *gin.Context) {
	id := ctx.Param("id")

	if err := h.uc.Delete(ctx.Request.Context(), id); err != nil {
		if errors.Is(err, domain.ErrScheduleNotFound) {
			ctx.JSON(http.StatusNotFound, gin.H{"error": errScheduleNotFound})
			return
		}
		h.logger.Error("delete schedule", "schedule_id", id, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	ctx.Status(http.StatusNoContent)
}

func (h *ScheduleHandler) DeleteByKey(ctx *gin.Context) {
	var req byKeyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var scheduleType *domain.ScheduleType
	if req.Type != nil && *req.Type != "" {
		t := domain.ScheduleType(*req.Type)
		scheduleType = &t
	}

	n, err := h.uc.DeleteByKey(ctx.Request.Context(), req.Token, req.UserID, scheduleType)
	if err != nil {
		h.logger.Error("delete by key", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deleted": n})
}

type deleteAllRequest struct {
	Token  string `json:"token" binding:"required"`
	UserID int64  `json:"user_id" binding:"required"`
}

func (h *ScheduleHandler) DeleteAllByKey(ctx *gin.Context) {
	var req deleteAllRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	n, err := h.uc.DeleteByKey(ctx.Request.Context(), req.Token, req.UserID, nil)
	if err != nil {
		h.logger.Error("delete all by key", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"deleted": n})
}
