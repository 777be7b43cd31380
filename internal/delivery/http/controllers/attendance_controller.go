package controllers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"geoattend/internal/delivery/http/helpers"
	"geoattend/internal/delivery/http/middleware"
	"geoattend/internal/domain"
)

// StatusCache is the read-through cache for status snapshots. GetStatus
// returns domain.ErrNotFound on a miss.
type StatusCache interface {
	GetStatus(ctx context.Context, recordID string) (*domain.StatusSnapshot, error)
	PutStatus(ctx context.Context, snap *domain.StatusSnapshot) error
	InvalidateStatus(ctx context.Context, recordID string) error
}

// SamplePublisher fans ingested location samples out to live watchers.
type SamplePublisher interface {
	Publish(sample domain.LocationSample)
}

type AttendanceController struct {
	Logger    *slog.Logger
	Engine    domain.AttendanceService
	Records   domain.AttendanceRepository
	Events    domain.EventRepository
	Publisher SamplePublisher
	Cache     StatusCache // optional; nil disables status caching
}

func NewAttendanceController(
	logger *slog.Logger,
	engine domain.AttendanceService,
	records domain.AttendanceRepository,
	events domain.EventRepository,
	publisher SamplePublisher,
	cache StatusCache,
) *AttendanceController {
	return &AttendanceController{
		Logger:    logger,
		Engine:    engine,
		Records:   records,
		Events:    events,
		Publisher: publisher,
		Cache:     cache,
	}
}

// LocationRequest is the request body carrying a position report. It is used
// by both the check-in and the location ingest endpoints.
type LocationRequest struct {
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	AccuracyM float64 `json:"accuracy_m,omitempty"`
}

// Validate implements helpers.Validator.
func (r *LocationRequest) Validate() []string {
	var errs []string
	if r.Lat < -90 || r.Lat > 90 {
		errs = append(errs, "lat must be between -90 and 90")
	}
	if r.Lon < -180 || r.Lon > 180 {
		errs = append(errs, "lon must be between -180 and 180")
	}
	if r.AccuracyM < 0 {
		errs = append(errs, "accuracy_m must not be negative")
	}
	return errs
}

// AttendanceRecordSuccessResponse is the success response envelope for endpoints returning a single attendance record.
type AttendanceRecordSuccessResponse struct {
	Data  *domain.AttendanceRecord `json:"data"`
	Error *helpers.APIError        `json:"error"`
}

// CheckIn godoc
// @Summary Check in to an event
// @Description Manually checks the authenticated user in to the event using the reported position. Fails when the position is outside the geofence or the check-in window is not open. Idempotent: an existing open record is returned unchanged.
// @Tags attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param eventID path string true "Event ID (UUID)"
// @Param body body controllers.LocationRequest true "Current position"
// @Success 200 {object} controllers.AttendanceRecordSuccessResponse
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request (invalid coordinates)"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 403 {object} helpers.APIResponse "error.code: outside_geofence (with distance) or forbidden (not registered)"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 409 {object} helpers.APIResponse "error.code: window_not_open (with opening time hint)"
// @Failure 500 {object} helpers.APIResponse "error.code: internal_error"
// @Router /events/{eventID}/check-in [post]
func (c *AttendanceController) CheckIn(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventID")
	if !uuidRegex.MatchString(eventID) {
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, "invalid eventID")
		return
	}

	var req LocationRequest
	if !helpers.DecodeAndValidate(w, r, &req) {
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		helpers.WriteJSONError(w, http.StatusUnauthorized, helpers.ErrCodeUnauthorized, "unauthorized")
		return
	}

	sample := domain.LocationSample{
		EventID:   eventID,
		UserID:    userID,
		Lat:       req.Lat,
		Lon:       req.Lon,
		AccuracyM: req.AccuracyM,
		Timestamp: time.Now().UTC(),
	}

	rec, err := c.Engine.CheckIn(r.Context(), eventID, userID, sample, true)
	if err != nil {
		c.writeCheckInError(w, r, err)
		return
	}

	c.invalidateStatus(r.Context(), rec.ID)
	helpers.WriteJSONSuccess(w, http.StatusOK, rec)
}

// writeCheckInError maps the engine's check-in error taxonomy onto HTTP.
// Geofence rejections keep the distance message so clients can show how far
// away the participant is; window rejections keep the opening-time hint.
func (c *AttendanceController) writeCheckInError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrOutsideGeofence):
		helpers.WriteJSONError(w, http.StatusForbidden, helpers.ErrCodeOutsideGeofence, err.Error())
	case errors.Is(err, domain.ErrWindowNotOpen):
		helpers.WriteJSONError(w, http.StatusConflict, helpers.ErrCodeWindowNotOpen, err.Error())
	case errors.Is(err, domain.ErrForbidden):
		helpers.WriteJSONError(w, http.StatusForbidden, helpers.ErrCodeForbidden, "not registered for this event")
	case errors.Is(err, domain.ErrNotFound):
		helpers.WriteJSONError(w, http.StatusNotFound, helpers.ErrCodeNotFound, "event not found")
	case errors.Is(err, domain.ErrInvalidGeometry), errors.Is(err, domain.ErrInvalidInput):
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, err.Error())
	default:
		c.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		helpers.WriteJSONError(w, http.StatusInternalServerError, helpers.ErrCodeInternalError, err.Error())
	}
}

// CheckOut godoc
// @Summary Check out of an event
// @Description Manually closes the authenticated user's attendance record. Calling it on an already closed record is a no-op returning the record as-is.
// @Tags attendance
// @Produce json
// @Security BearerAuth
// @Param recordID path string true "Attendance record ID (UUID)"
// @Success 200 {object} controllers.AttendanceRecordSuccessResponse
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 403 {object} helpers.APIResponse "error.code: forbidden (record belongs to another user)"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 500 {object} helpers.APIResponse "error.code: internal_error"
// @Router /attendance/{recordID}/check-out [post]
func (c *AttendanceController) CheckOut(w http.ResponseWriter, r *http.Request) {
	recordID := r.PathValue("recordID")
	if !uuidRegex.MatchString(recordID) {
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, "invalid recordID")
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		helpers.WriteJSONError(w, http.StatusUnauthorized, helpers.ErrCodeUnauthorized, "unauthorized")
		return
	}

	if !c.authorizeRecord(w, r, recordID, userID, false) {
		return
	}

	rec, err := c.Engine.CheckOut(r.Context(), recordID, domain.CheckOutManual)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			helpers.WriteJSONError(w, http.StatusNotFound, helpers.ErrCodeNotFound, "attendance record not found")
			return
		}
		c.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		helpers.WriteJSONError(w, http.StatusInternalServerError, helpers.ErrCodeInternalError, err.Error())
		return
	}

	c.invalidateStatus(r.Context(), recordID)
	helpers.WriteJSONSuccess(w, http.StatusOK, rec)
}

// StatusSuccessResponse is the success response envelope for GET /attendance/{recordID}/status (200).
type StatusSuccessResponse struct {
	Data  *domain.StatusSnapshot `json:"data"`
	Error *helpers.APIError      `json:"error"`
}

// Status godoc
// @Summary Get the live status of an attendance record
// @Description Returns the current status snapshot including inside/outside, distance from the venue center and accumulated time outside. Accessible to the record's participant and the event owner.
// @Tags attendance
// @Produce json
// @Security BearerAuth
// @Param recordID path string true "Attendance record ID (UUID)"
// @Success 200 {object} controllers.StatusSuccessResponse
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 403 {object} helpers.APIResponse "error.code: forbidden"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 500 {object} helpers.APIResponse "error.code: internal_error"
// @Router /attendance/{recordID}/status [get]
func (c *AttendanceController) Status(w http.ResponseWriter, r *http.Request) {
	recordID := r.PathValue("recordID")
	if !uuidRegex.MatchString(recordID) {
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, "invalid recordID")
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		helpers.WriteJSONError(w, http.StatusUnauthorized, helpers.ErrCodeUnauthorized, "unauthorized")
		return
	}

	if !c.authorizeRecord(w, r, recordID, userID, true) {
		return
	}

	if c.Cache != nil {
		if snap, err := c.Cache.GetStatus(r.Context(), recordID); err == nil {
			helpers.WriteJSONSuccess(w, http.StatusOK, snap)
			return
		} else if !errors.Is(err, domain.ErrNotFound) {
			c.Logger.WarnContext(r.Context(), "status cache read failed", "record_id", recordID, "err", err)
		}
	}

	snap, err := c.Engine.CurrentStatus(r.Context(), recordID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			helpers.WriteJSONError(w, http.StatusNotFound, helpers.ErrCodeNotFound, "attendance record not found")
			return
		}
		c.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		helpers.WriteJSONError(w, http.StatusInternalServerError, helpers.ErrCodeInternalError, err.Error())
		return
	}

	if c.Cache != nil {
		if err := c.Cache.PutStatus(r.Context(), snap); err != nil {
			c.Logger.WarnContext(r.Context(), "status cache write failed", "record_id", recordID, "err", err)
		}
	}

	helpers.WriteJSONSuccess(w, http.StatusOK, snap)
}

// ListAlertsSuccessResponse is the success response envelope for GET /attendance/{recordID}/alerts (200).
type ListAlertsSuccessResponse struct {
	Data  []*domain.Alert   `json:"data"`
	Error *helpers.APIError `json:"error"`
}

// ListAlerts godoc
// @Summary List escalation alerts for an attendance record
// @Tags attendance
// @Produce json
// @Security BearerAuth
// @Param recordID path string true "Attendance record ID (UUID)"
// @Success 200 {object} controllers.ListAlertsSuccessResponse
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 403 {object} helpers.APIResponse "error.code: forbidden"
// @Failure 404 {object} helpers.APIResponse "error.code: not_found"
// @Failure 500 {object} helpers.APIResponse "error.code: internal_error"
// @Router /attendance/{recordID}/alerts [get]
func (c *AttendanceController) ListAlerts(w http.ResponseWriter, r *http.Request) {
	recordID := r.PathValue("recordID")
	if !uuidRegex.MatchString(recordID) {
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, "invalid recordID")
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		helpers.WriteJSONError(w, http.StatusUnauthorized, helpers.ErrCodeUnauthorized, "unauthorized")
		return
	}

	if !c.authorizeRecord(w, r, recordID, userID, true) {
		return
	}

	alerts, err := c.Records.ListAlertsByRecordID(r.Context(), recordID)
	if err != nil {
		c.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		helpers.WriteJSONError(w, http.StatusInternalServerError, helpers.ErrCodeInternalError, err.Error())
		return
	}
	if alerts == nil {
		alerts = []*domain.Alert{}
	}

	helpers.WriteJSONSuccess(w, http.StatusOK, alerts)
}

// IngestLocationResponseData is the data object for an accepted location sample.
type IngestLocationResponseData struct {
	Accepted bool `json:"accepted"`
}

// IngestLocation godoc
// @Summary Report a location sample for an event
// @Description Accepts a position report from the authenticated user's device. Samples feed the live monitoring engine: they drive automatic check-in, inside/outside transitions and escalation. Samples for users without an open attendance record are kept for automatic check-in.
// @Tags attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param eventID path string true "Event ID (UUID)"
// @Param body body controllers.LocationRequest true "Current position"
// @Success 202 {object} helpers.APIResponse "data.accepted: true"
// @Failure 400 {object} helpers.APIResponse "error.code: bad_request"
// @Failure 401 {object} helpers.APIResponse "error.code: unauthorized"
// @Failure 429 {object} helpers.APIResponse "error.code: rate_limited"
// @Failure 500 {object} helpers.APIResponse "error.code: internal_error"
// @Router /events/{eventID}/location [post]
func (c *AttendanceController) IngestLocation(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventID")
	if !uuidRegex.MatchString(eventID) {
		helpers.WriteJSONError(w, http.StatusBadRequest, helpers.ErrCodeBadRequest, "invalid eventID")
		return
	}

	var req LocationRequest
	if !helpers.DecodeAndValidate(w, r, &req) {
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		helpers.WriteJSONError(w, http.StatusUnauthorized, helpers.ErrCodeUnauthorized, "unauthorized")
		return
	}

	sample := domain.LocationSample{
		EventID:   eventID,
		UserID:    userID,
		Lat:       req.Lat,
		Lon:       req.Lon,
		AccuracyM: req.AccuracyM,
		Timestamp: time.Now().UTC(),
	}

	if c.Publisher != nil {
		c.Publisher.Publish(sample)
	}

	// A sample for a user without an open record is not an error: the live
	// monitor picks it up from the publisher for automatic check-in.
	if err := c.Engine.ProcessSample(r.Context(), sample); err != nil && !errors.Is(err, domain.ErrNotFound) {
		c.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		helpers.WriteJSONError(w, http.StatusInternalServerError, helpers.ErrCodeInternalError, err.Error())
		return
	}

	helpers.WriteJSONSuccess(w, http.StatusAccepted, IngestLocationResponseData{Accepted: true})
}

// authorizeRecord loads the record and verifies the caller may act on it.
// The participant always may; the event owner may when allowOwner is set.
// Writes the error response and returns false on failure.
func (c *AttendanceController) authorizeRecord(w http.ResponseWriter, r *http.Request, recordID, userID string, allowOwner bool) bool {
	rec, err := c.Records.GetByID(r.Context(), recordID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			helpers.WriteJSONError(w, http.StatusNotFound, helpers.ErrCodeNotFound, "attendance record not found")
			return false
		}
		c.Logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "method", r.Method, "err", err)
		helpers.WriteJSONError(w, http.StatusInternalServerError, helpers.ErrCodeInternalError, err.Error())
		return false
	}
	if rec.UserID == userID {
		return true
	}
	if allowOwner {
		event, err := c.Events.GetByID(r.Context(), rec.EventID)
		if err == nil && event.OwnerID == userID {
			return true
		}
	}
	helpers.WriteJSONError(w, http.StatusForbidden, helpers.ErrCodeForbidden, "forbidden")
	return false
}

func (c *AttendanceController) invalidateStatus(ctx context.Context, recordID string) {
	if c.Cache == nil {
		return
	}
	if err := c.Cache.InvalidateStatus(ctx, recordID); err != nil {
		c.Logger.WarnContext(ctx, "status cache invalidation failed", "record_id", recordID, "err", err)
	}
}
