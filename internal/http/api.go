package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"cdm-client/internal/domain"
	"cdm-client/internal/repository"
)

// StatusSource exposes the agent's last pushed snapshot.
type StatusSource interface {
	Snapshot() ([]domain.TorrentStatus, time.Time)
}

// Handler serves the agent's local diagnostics API.
type Handler struct {
	status   StatusSource
	mappings repository.Mappings
	gatherer prometheus.Gatherer
	apiKey   string
}

func NewHandler(status StatusSource, mappings repository.Mappings, gatherer prometheus.Gatherer, apiKey string) *Handler {
	return &Handler{
		status:   status,
		mappings: mappings,
		gatherer: gatherer,
		apiKey:   apiKey,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))

	api := router.Group("/api")
	{
		api.GET("/health", h.health)

		protected := api.Group("", h.requireAPIKey())
		protected.GET("/status", h.listStatus)
		protected.GET("/mappings", h.listMappings)
		protected.GET("/mappings/:tracker_id", h.getMapping)
	}
}

func (h *Handler) requireAPIKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.apiKey != "" && c.GetHeader("x-api-key") != h.apiKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}

type healthResponse struct {
	OK        string     `json:"ok"`
	LastCycle *time.Time `json:"last_cycle,omitempty"`
}

func (h *Handler) health(c *gin.Context) {
	resp := healthResponse{OK: "ok"}
	if _, last := h.status.Snapshot(); !last.IsZero() {
		resp.LastCycle = &last
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) listStatus(c *gin.Context) {
	status, _ := h.status.Snapshot()
	c.JSON(http.StatusOK, gin.H{"data": status})
}

func (h *Handler) listMappings(c *gin.Context) {
	mappings, err := h.mappings.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if mappings == nil {
		mappings = []domain.Mapping{}
	}
	c.JSON(http.StatusOK, mappings)
}

func (h *Handler) getMapping(c *gin.Context) {
	trackerID, err := strconv.ParseInt(c.Param("tracker_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tracker id"})
		return
	}

	torrentID, err := h.mappings.TorrentID(c.Request.Context(), trackerID)
	if errors.Is(err, repository.ErrMappingNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, domain.Mapping{TrackerID: trackerID, TorrentID: torrentID})
}
