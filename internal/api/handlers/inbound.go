package handlers

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mailroute/core/internal/services"
)

// InboundHandler accepts messages from the receiving edge
type InboundHandler struct {
	routeService *services.RouteService
	logService   *services.LogService
}

// NewInboundHandler creates a new InboundHandler instance
func NewInboundHandler(routeService *services.RouteService, logService *services.LogService) *InboundHandler {
	return &InboundHandler{
		routeService: routeService,
		logService:   logService,
	}
}

// InboundRequest is the payload posted by the receiving edge. Content is
// either inline (base64) or a locator into the raw store; inline wins
// when both are present.
type InboundRequest struct {
	MessageID     string            `json:"message_id"`
	Recipients    []string          `json:"recipients" binding:"required"`
	ContentBase64 string            `json:"content_base64"`
	RawLocator    string            `json:"raw_locator"`
	SpamVerdict   string            `json:"spam_verdict"`
	VirusVerdict  string            `json:"virus_verdict"`
	AuthResults   map[string]string `json:"auth_results"`
}

// ProcessInbound runs one message through the routing pipeline
// POST /api/inbound
func (h *InboundHandler) ProcessInbound(c *gin.Context) {
	var req InboundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": err.Error(),
			},
		})
		return
	}

	var rawContent []byte
	if req.ContentBase64 != "" {
		decoded, err := base64.StdEncoding.DecodeString(req.ContentBase64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INVALID_REQUEST",
					"message": "content_base64 is not valid base64",
				},
			})
			return
		}
		rawContent = decoded
	}

	result, err := h.routeService.ProcessInbound(c.Request.Context(), &services.InboundMessage{
		ReceiptID:    req.MessageID,
		Recipients:   req.Recipients,
		RawContent:   rawContent,
		RawLocator:   req.RawLocator,
		SpamVerdict:  req.SpamVerdict,
		VirusVerdict: req.VirusVerdict,
		AuthResults:  req.AuthResults,
	})
	if err != nil {
		if errors.Is(err, services.ErrMissingRecipient) || errors.Is(err, services.ErrMissingContent) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "INVALID_REQUEST",
					"message": err.Error(),
				},
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "PROCESSING_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    result,
	})
}
