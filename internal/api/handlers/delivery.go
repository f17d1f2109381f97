package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mailroute/core/internal/services"
)

// DeliveryHandler exposes delivery and VIP session operational views
type DeliveryHandler struct {
	deliveryService *services.DeliveryService
	vipService      *services.VipService
	logService      *services.LogService
}

// NewDeliveryHandler creates a new DeliveryHandler instance
func NewDeliveryHandler(deliveryService *services.DeliveryService, vipService *services.VipService, logService *services.LogService) *DeliveryHandler {
	return &DeliveryHandler{
		deliveryService: deliveryService,
		vipService:      vipService,
		logService:      logService,
	}
}

// ListDeliveries returns recent delivery attempts for an endpoint
// GET /api/deliveries?endpoint_id=
func (h *DeliveryHandler) ListDeliveries(c *gin.Context) {
	endpointID, err := strconv.ParseUint(c.Query("endpoint_id"), 10, 32)
	if err != nil || endpointID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "endpoint_id query parameter is required",
			},
		})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	attempts, err := h.deliveryService.ListByEndpoint(uint(endpointID), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "QUERY_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"attempts": attempts},
	})
}

// ListVipSessions returns payment sessions filtered by status
// GET /api/vip/sessions?status=
func (h *DeliveryHandler) ListVipSessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	sessions, err := h.vipService.ListSessions(c.Query("status"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "QUERY_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"sessions": sessions},
	})
}

// ListLogs returns recent system log entries
// GET /api/logs?level=&module=
func (h *DeliveryHandler) ListLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	logs, err := h.logService.ListLogs(c.Query("level"), c.Query("module"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "QUERY_FAILED",
				"message": err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"logs": logs},
	})
}
