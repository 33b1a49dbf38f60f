package delivery

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"affsync/internal/domain"
	"affsync/internal/usecase"
	"affsync/pkg/logger"
)

// maxLogoBytes bounds operator logo uploads
const maxLogoBytes = 5 << 20

// handles HTTP requests
type HTTPHandlers struct {
	sync         *usecase.SyncService
	operator     *usecase.OperatorService
	logger       *logger.Logger
	historyLimit int
}

// creates new HTTP handlers
func NewHTTPHandlers(sync *usecase.SyncService, operator *usecase.OperatorService, logger *logger.Logger, historyLimit int) *HTTPHandlers {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	return &HTTPHandlers{
		sync:         sync,
		operator:     operator,
		logger:       logger,
		historyLimit: historyLimit,
	}
}

type descriptionRequest struct {
	Description string `json:"description"`
}

type categoriesRequest struct {
	Categories []string `json:"categories" binding:"required"`
}

type homeLinkRequest struct {
	URL string `json:"url"`
}

type settingsRequest struct {
	PausedNetworks []string `json:"pausedNetworks"`
}

// RunAll starts a full sync in the background
func (h *HTTPHandlers) RunAll(c *gin.Context) {
	runID, err := h.sync.StartAll(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to start sync")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":    "Sync started",
		"run_id":     runID,
		"request_id": c.GetString("request_id"),
	})
}

// RunNetwork starts a single-network sync in the background
func (h *HTTPHandlers) RunNetwork(c *gin.Context) {
	network, ok := h.network(c)
	if !ok {
		return
	}

	runID, err := h.sync.StartNetwork(c.Request.Context(), network)
	if err != nil {
		h.fail(c, err, "Failed to start sync")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":    "Sync started",
		"network":    network,
		"run_id":     runID,
		"request_id": c.GetString("request_id"),
	})
}

// Reconcile recalculates advertiser counters, optionally for one network
func (h *HTTPHandlers) Reconcile(c *gin.Context) {
	var network domain.Network
	if raw := c.Query("network"); raw != "" {
		parsed, err := domain.ParseNetwork(raw)
		if err != nil {
			h.fail(c, err, "Invalid network")
			return
		}
		network = parsed
	}

	summary, err := h.sync.Reconcile(c.Request.Context(), network)
	if err != nil {
		h.fail(c, err, "Reconciliation failed")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary":    summary,
		"request_id": c.GetString("request_id"),
	})
}

// Status returns the live state of every network
func (h *HTTPHandlers) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running":    h.sync.Running(),
		"networks":   h.sync.Status(),
		"request_id": c.GetString("request_id"),
	})
}

// History returns the newest completed runs of a network
func (h *HTTPHandlers) History(c *gin.Context) {
	network, ok := h.network(c)
	if !ok {
		return
	}

	limit := h.historyLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.fail(c, domain.ErrInvalidOperation, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	logs, err := h.sync.History(c.Request.Context(), network, limit)
	if err != nil {
		h.fail(c, err, "Failed to load sync history")
		return
	}
	if logs == nil {
		logs = []domain.SyncLog{}
	}

	c.JSON(http.StatusOK, gin.H{
		"network":    network,
		"data":       logs,
		"total":      len(logs),
		"request_id": c.GetString("request_id"),
	})
}

func (h *HTTPHandlers) GetAdvertiser(c *gin.Context) {
	network, ok := h.network(c)
	if !ok {
		return
	}
	doc, err := h.operator.GetAdvertiser(c.Request.Context(), network, c.Param("id"))
	h.respondAdvertiser(c, doc, err)
}

// UploadLogo reads the "file" form field and pins it as the logo
func (h *HTTPHandlers) UploadLogo(c *gin.Context) {
	network, ok := h.network(c)
	if !ok {
		return
	}

	header, err := c.FormFile("file")
	if err != nil {
		h.fail(c, errors.Join(domain.ErrInvalidOperation, err), "Missing logo file")
		return
	}
	if header.Size > maxLogoBytes {
		h.fail(c, domain.ErrInvalidOperation, "Logo exceeds 5 MiB")
		return
	}
	file, err := header.Open()
	if err != nil {
		h.fail(c, err, "Failed to read upload")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxLogoBytes))
	if err != nil {
		h.fail(c, err, "Failed to read upload")
		return
	}

	doc, err := h.operator.UploadLogo(c.Request.Context(), network, c.Param("id"), data, header.Header.Get("Content-Type"))
	h.respondAdvertiser(c, doc, err)
}

func (h *HTTPHandlers) ResetLogo(c *gin.Context) {
	network, ok := h.network(c)
	if !ok {
		return
	}
	doc, err := h.operator.ResetLogo(c.Request.Context(), network, c.Param("id"))
	h.respondAdvertiser(c, doc, err)
}

func (h *HTTPHandlers) SetDescription(c *gin.Context) {
	network, ok := h.network(c)
	if !ok {
		return
	}
	var req descriptionRequest
	if !h.bind(c, &req) {
		return
	}
	doc, err := h.operator.SetDescription(c.Request.Context(), network, c.Param("id"), req.Description)
	h.respondAdvertiser(c, doc, err)
}

func (h *HTTPHandlers) SetCategories(c *gin.Context) {
	network, ok := h.network(c)
	if !ok {
		return
	}
	var req categoriesRequest
	if !h.bind(c, &req) {
		return
	}
	doc, err := h.operator.SetCategories(c.Request.Context(), network, c.Param("id"), req.Categories)
	h.respondAdvertiser(c, doc, err)
}

func (h *HTTPHandlers) ClearCategories(c *gin.Context) {
	network, ok := h.network(c)
	if !ok {
		return
	}
	doc, err := h.operator.ClearManualCategories(c.Request.Context(), network, c.Param("id"))
	h.respondAdvertiser(c, doc, err)
}

func (h *HTTPHandlers) SetHomeLink(c *gin.Context) {
	network, ok := h.network(c)
	if !ok {
		return
	}
	var req homeLinkRequest
	if !h.bind(c, &req) {
		return
	}
	doc, err := h.operator.SetHomeLink(c.Request.Context(), network, c.Param("id"), req.URL)
	h.respondAdvertiser(c, doc, err)
}

func (h *HTTPHandlers) GetSettings(c *gin.Context) {
	settings, err := h.operator.GetSettings(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to load settings")
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateSettings replaces the paused network list
func (h *HTTPHandlers) UpdateSettings(c *gin.Context) {
	var req settingsRequest
	if !h.bind(c, &req) {
		return
	}
	settings, err := h.operator.SetPausedNetworks(c.Request.Context(), req.PausedNetworks)
	if err != nil {
		h.fail(c, err, "Failed to update settings")
		return
	}
	c.JSON(http.StatusOK, settings)
}

// GetAPIInfo lists the configured networks and endpoints
func (h *HTTPHandlers) GetAPIInfo(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"api_version": "v1",
		"service":     "affsync",
		"networks":    h.sync.Networks(),
		"endpoints": gin.H{
			"sync": []string{
				"POST /api/v1/sync/run",
				"POST /api/v1/sync/:network/run",
				"POST /api/v1/sync/reconcile",
				"GET /api/v1/sync/status",
				"GET /api/v1/sync/history/:network",
			},
			"advertisers": []string{
				"GET /api/v1/advertisers/:network/:id",
				"PUT|DELETE /api/v1/advertisers/:network/:id/logo",
				"PUT /api/v1/advertisers/:network/:id/description",
				"PUT|DELETE /api/v1/advertisers/:network/:id/categories",
				"PUT /api/v1/advertisers/:network/:id/home-link",
			},
			"settings": []string{"GET /api/v1/settings", "PUT /api/v1/settings"},
		},
		"request_id": c.GetString("request_id"),
	})
}

// HealthCheck returns the health status of the service
func (h *HTTPHandlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"service":      "affsync",
		"sync_running": h.sync.Running(),
		"request_id":   c.GetString("request_id"),
	})
}

func (h *HTTPHandlers) network(c *gin.Context) (domain.Network, bool) {
	network, err := domain.ParseNetwork(c.Param("network"))
	if err != nil {
		h.fail(c, err, "Unknown network")
		return "", false
	}
	return network, true
}

func (h *HTTPHandlers) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.fail(c, errors.Join(domain.ErrInvalidOperation, err), "Invalid request body")
		return false
	}
	return true
}

func (h *HTTPHandlers) respondAdvertiser(c *gin.Context, doc domain.Document, err error) {
	if err != nil {
		h.fail(c, err, "Advertiser request failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":       doc,
		"request_id": c.GetString("request_id"),
	})
}

// fail maps domain errors onto HTTP statuses
func (h *HTTPHandlers) fail(c *gin.Context, err error, message string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.WithContext(c.Request.Context()).WithError(err).Error(message)
	}
	_ = c.Error(err)

	c.JSON(status, gin.H{
		"error":      message,
		"message":    err.Error(),
		"request_id": c.GetString("request_id"),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSyncInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnknownNetwork), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidOperation), errors.Is(err, domain.ErrNotImage):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
