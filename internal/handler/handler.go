package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"canvas-gateway/internal/gateway"
	"canvas-gateway/internal/logger"
	"canvas-gateway/internal/middleware"
)

type Handler struct {
	gw *gateway.Gateway
}

func NewHandler(gw *gateway.Gateway) *Handler {
	return &Handler{gw: gw}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/v1")
	v1.POST("/authenticate", h.Authenticate)

	authed := v1.Group("")
	authed.Use(middleware.RequireSessionID())
	authed.POST("/call", h.Call)
	authed.POST("/logout", h.Logout)
}

type authenticateRequest struct {
	Token   string `json:"token"`
	BaseURL string `json:"base_url"`
	Label   string `json:"label"`
}

func (h *Handler) Authenticate(c *gin.Context) {
	var req authenticateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, err := h.gw.Authenticate(c.Request.Context(), req.Token, req.BaseURL, req.Label)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": result.SessionID,
		"identity":   result.Identity,
	})
}

type callRequest struct {
	Operation string         `json:"operation"`
	Params    map[string]any `json:"params"`
}

func (h *Handler) Call(c *gin.Context) {
	var req callRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if req.Operation == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "operation is required"})
		return
	}

	result, err := h.gw.Call(c.Request.Context(), middleware.SessionID(c), req.Operation, req.Params)
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"result": result})
}

func (h *Handler) Logout(c *gin.Context) {
	existed, err := h.gw.Logout(c.Request.Context(), middleware.SessionID(c))
	if err != nil {
		h.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"existed": existed})
}

// renderError maps gateway error kinds onto HTTP statuses. The
// message is already sanitized by the gateway.
func (h *Handler) renderError(c *gin.Context, err error) {
	kind := gateway.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case gateway.KindInvalidInput:
		status = http.StatusBadRequest
	case gateway.KindRejectedByUpstream,
		gateway.KindSessionExpiredOrUnknown,
		gateway.KindUpstreamAuthRevoked:
		status = http.StatusUnauthorized
	case gateway.KindRateLimited:
		status = http.StatusTooManyRequests
	case gateway.KindUpstreamUnavailable:
		status = http.StatusServiceUnavailable
	}

	if kind == gateway.KindInternal {
		logger.Error("internal gateway error", map[string]any{
			"request_id": c.GetString("requestID"),
			"error":      err.Error(),
		})
	}

	message := "internal error"
	if gerr, ok := err.(*gateway.Error); ok && kind != gateway.KindInternal {
		message = gerr.Message
	}

	c.JSON(status, gin.H{
		"error": message,
		"code":  kind.String(),
	})
}
