package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/personal/interstitial-ad-coordinator/internal/application/service"
	"github.com/personal/interstitial-ad-coordinator/internal/domain/interstitial"
	"github.com/personal/interstitial-ad-coordinator/internal/domain/operation"
)

// InterstitialHandler handles HTTP requests for interstitial ad operations
type InterstitialHandler struct {
	service   *service.InterstitialService
	validator *validator.Validate
}

// NewInterstitialHandler creates a new InterstitialHandler
func NewInterstitialHandler(interstitialService *service.InterstitialService) *InterstitialHandler {
	return &InterstitialHandler{
		service:   interstitialService,
		validator: validator.New(),
	}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error       string `json:"error"`
	Code        string `json:"code,omitempty"`
	Details     string `json:"details,omitempty"`
	OperationID string `json:"operationId,omitempty"`
}

// RegisterRoutes mounts the interstitial API on router
func (h *InterstitialHandler) RegisterRoutes(router gin.IRouter) {
	ads := router.Group("/interstitial")
	{
		ads.POST("/load", h.LoadAd)
		ads.POST("/show", h.ShowAd)
		ads.POST("/preload", h.PreloadAd)
		ads.POST("/show-preloaded", h.ShowPreloadedAd)
		ads.GET("/status", h.GetStatus)
	}

	router.POST("/host/teardown", h.HostTeardown)

	ops := router.Group("/operations")
	{
		ops.GET("", h.GetRecentOperations)
		ops.GET("/:id", h.GetOperation)
	}
}

// LoadAd handles POST /interstitial/load
// @Summary Load an interstitial ad
// @Description Loads an ad for the placement without showing it
// @Tags interstitial
// @Accept json
// @Produce json
// @Param request body service.PlacementRequest true "Placement"
// @Success 200 {object} service.OperationResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /interstitial/load [post]
func (h *InterstitialHandler) LoadAd(c *gin.Context) {
	h.execute(c, operation.KindLoad)
}

// ShowAd handles POST /interstitial/show
// @Summary Load and show an interstitial ad
// @Description Responds once the ad is dismissed; result reports whether it was clicked
// @Tags interstitial
// @Accept json
// @Produce json
// @Param request body service.PlacementRequest true "Placement"
// @Success 200 {object} service.OperationResponse
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Failure 504 {object} ErrorResponse
// @Router /interstitial/show [post]
func (h *InterstitialHandler) ShowAd(c *gin.Context) {
	h.execute(c, operation.KindShow)
}

// PreloadAd handles POST /interstitial/preload
func (h *InterstitialHandler) PreloadAd(c *gin.Context) {
	h.execute(c, operation.KindPreload)
}

// ShowPreloadedAd handles POST /interstitial/show-preloaded
// @Summary Show the preloaded interstitial ad
// @Tags interstitial
// @Accept json
// @Produce json
// @Param request body service.PlacementRequest true "Placement"
// @Success 200 {object} service.OperationResponse
// @Failure 409 {object} ErrorResponse
// @Failure 412 {object} ErrorResponse
// @Router /interstitial/show-preloaded [post]
func (h *InterstitialHandler) ShowPreloadedAd(c *gin.Context) {
	h.execute(c, operation.KindShowPreloaded)
}

func (h *InterstitialHandler) execute(c *gin.Context, kind operation.Kind) {
	var req service.PlacementRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Invalid request format",
			Code:    interstitial.CodeInvalidPlacement,
			Details: err.Error(),
		})
		return
	}

	if err := h.validator.Struct(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "Validation failed",
			Code:    interstitial.CodeInvalidPlacement,
			Details: err.Error(),
		})
		return
	}

	response, err := h.service.Execute(c.Request.Context(), kind, req.PlacementID)
	if err != nil {
		code := service.ErrorCode(err)
		errResp := ErrorResponse{
			Error: err.Error(),
			Code:  code,
		}
		if response != nil {
			errResp.OperationID = response.OperationID
		}
		c.JSON(statusForCode(code), errResp)
		return
	}

	c.JSON(http.StatusOK, response)
}

// HostTeardown handles POST /host/teardown
// @Summary Tear down the ad host
// @Description Rejects every pending request and destroys the active ad
// @Tags interstitial
// @Produce json
// @Success 200 {object} service.StatusResponse
// @Router /host/teardown [post]
func (h *InterstitialHandler) HostTeardown(c *gin.Context) {
	status, err := h.service.HostTeardown(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to tear down host",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

// GetStatus handles GET /interstitial/status
func (h *InterstitialHandler) GetStatus(c *gin.Context) {
	status, err := h.service.Status(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to get coordinator status",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, status)
}

// GetOperation handles GET /operations/:id
// @Summary Get a recorded operation
// @Tags operations
// @Produce json
// @Param id path string true "Operation ID"
// @Success 200 {object} service.OperationResponse
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /operations/{id} [get]
func (h *InterstitialHandler) GetOperation(c *gin.Context) {
	response, err := h.service.GetOperation(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidOperationID):
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "Invalid operation ID",
				Details: err.Error(),
			})
		case errors.Is(err, operation.ErrOperationNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{
				Error: "Operation not found",
			})
		default:
			c.JSON(http.StatusInternalServerError, ErrorResponse{
				Error:   "Failed to get operation",
				Details: err.Error(),
			})
		}
		return
	}

	c.JSON(http.StatusOK, response)
}

// GetRecentOperations handles GET /operations?limit=N&placementId=P
func (h *InterstitialHandler) GetRecentOperations(c *gin.Context) {
	limit := 0
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "Limit must be a positive integer",
			})
			return
		}
		limit = parsed
	}

	operations, err := h.service.RecentOperations(c.Request.Context(), c.Query("placementId"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "Failed to list operations",
			Details: err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"operations": operations,
		"count":      len(operations),
	})
}

// statusForCode maps an error code to its HTTP status
func statusForCode(code string) int {
	switch code {
	case interstitial.CodeInvalidPlacement:
		return http.StatusBadRequest
	case interstitial.CodeOperationInProgress, interstitial.CodeAdAlreadyShowing:
		return http.StatusConflict
	case interstitial.CodeAdNotReady:
		return http.StatusPreconditionFailed
	case interstitial.CodeLoadFailed:
		return http.StatusBadGateway
	case interstitial.CodeHostDestroyed:
		return http.StatusServiceUnavailable
	case service.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
