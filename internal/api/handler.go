package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mr1hm/go-safety-agent/internal/broadcast"
	"github.com/mr1hm/go-safety-agent/internal/geo"
	"github.com/mr1hm/go-safety-agent/internal/heatmap"
	"github.com/mr1hm/go-safety-agent/internal/location"
	"github.com/mr1hm/go-safety-agent/internal/models"
	"github.com/mr1hm/go-safety-agent/internal/proximity"
	"github.com/mr1hm/go-safety-agent/internal/repository"
	"github.com/mr1hm/go-safety-agent/internal/tracking"
)

type LocationService interface {
	Acquire(ctx context.Context) (models.Position, error)
	Pin(lat, lng float64) models.Position
	StartTracking() error
	StopTracking()
	Tracking() bool
}

type FixReporter interface {
	Report(p models.Position)
}

type PermissionStore interface {
	Set(p location.Permission)
	Permission(ctx context.Context) (location.Permission, error)
}

type SessionPublisher interface {
	Start(emergencyID string) error
	Stop()
	Session() (models.EmergencySession, bool)
}

type RescueView interface {
	Active() bool
	Escalations() []proximity.Escalation
	Dismiss(alertID string) bool
}

type Store interface {
	repository.TrackingRepository
	repository.IncidentRepository
}

// Deps are the services the HTTP surface fronts. Nil Stream disables /ws.
type Deps struct {
	Location    LocationService
	Sources     map[string]FixReporter
	Permissions PermissionStore
	Publisher   SessionPublisher
	Rescue      RescueView
	Store       Store
	Heatmap     *heatmap.Engine
	Bus         broadcast.Publisher
	AlertTopic  string
	Stream      http.Handler
}

type Handler struct {
	deps Deps
	now  func() time.Time

	// sessionTracking is set when a session turned continuous tracking on,
	// so closing that session turns it back off.
	mu              sync.Mutex
	sessionTracking bool
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps: deps,
		now:  time.Now,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)

	loc := r.Group("/api/location")
	loc.GET("", h.getLocation)
	loc.POST("/:platform", h.reportFix)
	loc.PUT("/permission", h.setPermission)
	loc.POST("/pin", h.pinLocation)

	r.POST("/api/tracking", h.startTracking)
	r.DELETE("/api/tracking", h.stopTracking)

	r.POST("/api/emergencies/:id/session", h.startSession)
	r.DELETE("/api/emergencies/session", h.stopSession)
	r.GET("/api/emergencies/session", h.getSession)
	r.GET("/api/emergencies/:id/track", h.getTrack)

	r.GET("/api/rescue", h.getRescue)
	r.DELETE("/api/rescue/:alertId", h.dismissRescue)

	r.GET("/api/heatmap", h.getHeatmap)

	r.POST("/api/debug/test-alert", h.createTestAlert)
	r.POST("/api/debug/incidents", h.createIncident)

	if h.deps.Stream != nil {
		r.GET("/ws", gin.WrapH(h.deps.Stream))
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) getLocation(c *gin.Context) {
	pos, err := h.deps.Location.Acquire(c.Request.Context())
	if err != nil {
		writeLocationError(c, err)
		return
	}
	c.JSON(http.StatusOK, pos)
}

func (h *Handler) reportFix(c *gin.Context) {
	source, ok := h.deps.Sources[c.Param("platform")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown platform"})
		return
	}

	var pos models.Position
	if err := c.ShouldBindJSON(&pos); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid position body"})
		return
	}
	if !geo.IsValidCoordinate(pos.Latitude, pos.Longitude) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates out of range"})
		return
	}

	source.Report(pos)
	c.Status(http.StatusAccepted)
}

type permissionRequest struct {
	State string `json:"state"`
}

func (h *Handler) setPermission(c *gin.Context) {
	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid permission body"})
		return
	}
	p, ok := location.ParsePermission(req.State)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "state must be prompt, granted or denied"})
		return
	}

	h.deps.Permissions.Set(p)
	c.JSON(http.StatusOK, gin.H{"state": p.String()})
}

type pinRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (h *Handler) pinLocation(c *gin.Context) {
	var req pinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pin body"})
		return
	}
	if !geo.IsValidCoordinate(req.Latitude, req.Longitude) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates out of range"})
		return
	}

	c.JSON(http.StatusOK, h.deps.Location.Pin(req.Latitude, req.Longitude))
}

func (h *Handler) startTracking(c *gin.Context) {
	h.mu.Lock()
	err := h.deps.Location.StartTracking()
	if err == nil {
		h.sessionTracking = false
	}
	h.mu.Unlock()
	if err != nil {
		writeLocationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracking": true})
}

func (h *Handler) stopTracking(c *gin.Context) {
	h.mu.Lock()
	h.deps.Location.StopTracking()
	h.sessionTracking = false
	h.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"tracking": h.deps.Location.Tracking()})
}

func (h *Handler) startSession(c *gin.Context) {
	err := h.deps.Publisher.Start(c.Param("id"))
	if errors.Is(err, tracking.ErrSessionActive) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to start session"})
		return
	}

	h.mu.Lock()
	if !h.deps.Location.Tracking() {
		if err := h.deps.Location.StartTracking(); err != nil {
			slog.Warn("session started without continuous tracking", "emergency_id", c.Param("id"), "error", err)
		} else {
			h.sessionTracking = true
		}
	}
	h.mu.Unlock()

	session, _ := h.deps.Publisher.Session()
	c.JSON(http.StatusOK, session)
}

func (h *Handler) stopSession(c *gin.Context) {
	h.deps.Publisher.Stop()

	h.mu.Lock()
	if h.sessionTracking {
		h.deps.Location.StopTracking()
		h.sessionTracking = false
	}
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{"active": false})
}

func (h *Handler) getSession(c *gin.Context) {
	session, active := h.deps.Publisher.Session()
	if !active {
		c.JSON(http.StatusOK, gin.H{"active": false})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) getTrack(c *gin.Context) {
	filter := repository.TrackingFilter{
		EmergencyID: c.Param("id"),
		Limit:       500,
	}
	if l := c.Query("limit"); l != "" {
		if lim, err := strconv.Atoi(l); err == nil && lim > 0 && lim <= 5000 {
			filter.Limit = lim
		}
	}
	if s := c.Query("since"); s != "" {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			filter.Since = &t
		}
	}

	rows, err := h.deps.Store.ListTracking(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch tracking"})
		return
	}

	if c.Query("format") == "geojson" {
		c.Header("Content-Type", "application/geo+json")
		c.JSON(http.StatusOK, trackToGeoJSON(filter.EmergencyID, rows))
		return
	}
	if rows == nil {
		rows = []models.TrackingRow{}
	}
	c.JSON(http.StatusOK, rows)
}

func (h *Handler) getRescue(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active":      h.deps.Rescue.Active(),
		"escalations": h.deps.Rescue.Escalations(),
	})
}

func (h *Handler) dismissRescue(c *gin.Context) {
	if !h.deps.Rescue.Dismiss(c.Param("alertId")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active escalation for alert"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": h.deps.Rescue.Active()})
}

func (h *Handler) getHeatmap(c *gin.Context) {
	now := h.now()
	records, err := h.deps.Store.ListIncidentsSince(c.Request.Context(), h.deps.Heatmap.Window(now))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch incidents"})
		return
	}

	points := h.deps.Heatmap.Project(records, now)
	if c.Query("format") == "geojson" {
		c.Header("Content-Type", "application/geo+json")
		c.JSON(http.StatusOK, heatmapToGeoJSON(points))
		return
	}
	c.JSON(http.StatusOK, points)
}

type testAlertRequest struct {
	VictimID string   `json:"victimId"`
	Lat      *float64 `json:"lat"`
	Lng      *float64 `json:"lng"`
}

func (h *Handler) createTestAlert(c *gin.Context) {
	var req testAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid test alert body"})
		return
	}

	ev := models.EmergencyBroadcastEvent{
		AlertID:  "test_" + uuid.NewString(),
		VictimID: req.VictimID,
	}
	if ev.VictimID == "" {
		ev.VictimID = "test-victim"
	}

	// Without coordinates the alert is placed on the device itself.
	if req.Lat != nil && req.Lng != nil {
		ev.Lat, ev.Lng = *req.Lat, *req.Lng
	} else {
		pos, err := h.deps.Location.Acquire(c.Request.Context())
		if err != nil {
			writeLocationError(c, err)
			return
		}
		ev.Lat, ev.Lng = pos.Latitude, pos.Longitude
	}
	if !geo.IsValidCoordinate(ev.Lat, ev.Lng) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates out of range"})
		return
	}

	// Broadcast only - don't persist test data to DB
	if err := broadcast.PublishJSON(c.Request.Context(), h.deps.Bus, h.deps.AlertTopic, ev); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "broadcast channel unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "test alert broadcast (not persisted)",
		"alertId": ev.AlertID,
	})
}

type incidentRequest struct {
	Latitude    float64    `json:"latitude"`
	Longitude   float64    `json:"longitude"`
	Intensity   *float64   `json:"intensity"`
	DangerLevel float64    `json:"danger_level"`
	CreatedAt   *time.Time `json:"created_at"`
}

func (h *Handler) createIncident(c *gin.Context) {
	var req incidentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid incident body"})
		return
	}
	if !geo.IsValidCoordinate(req.Latitude, req.Longitude) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "coordinates out of range"})
		return
	}
	if req.DangerLevel < 0 || req.DangerLevel > 5 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "danger_level must be between 0 and 5"})
		return
	}

	rec := models.IncidentRecord{
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Intensity:   req.Intensity,
		DangerLevel: req.DangerLevel,
		CreatedAt:   h.now(),
	}
	if req.CreatedAt != nil {
		rec.CreatedAt = *req.CreatedAt
	}

	if err := h.deps.Store.AddIncident(c.Request.Context(), rec); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store incident"})
		return
	}
	c.Status(http.StatusCreated)
}

func writeLocationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, location.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{
			"error": "location permission denied; allow location access in settings",
		})
	case errors.Is(err, location.ErrNoLocation):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "no location available; enable GPS or pin your position manually",
		})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "location request cancelled"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to acquire location"})
	}
}
