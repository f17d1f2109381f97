package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mailroute/core/internal/database/models"
	"github.com/mailroute/core/internal/services"
)

// EmailHandler handles stored-email queries
type EmailHandler struct {
	emailService    *services.EmailService
	deliveryService *services.DeliveryService
	logService      *services.LogService
}

// NewEmailHandler creates a new EmailHandler instance
func NewEmailHandler(emailService *services.EmailService, deliveryService *services.DeliveryService, logService *services.LogService) *EmailHandler {
	return &EmailHandler{
		emailService:    emailService,
		deliveryService: deliveryService,
		logService:      logService,
	}
}

// EmailResponse represents the response for an email
type EmailResponse struct {
	ID           uint     `json:"id"`
	InboundID    string   `json:"inbound_id"`
	MessageID    string   `json:"message_id"`
	Recipient    string   `json:"recipient"`
	Subject      string   `json:"subject"`
	From         string   `json:"from"`
	To           []string `json:"to"`
	Date         int64    `json:"date"`
	TextBody     string   `json:"text_body"`
	HTMLBody     string   `json:"html_body"`
	Priority     string   `json:"priority"`
	ParseSuccess bool     `json:"parse_success"`
	ParseError   string   `json:"parse_error,omitempty"`
	Status       string   `json:"status"`
}

// toEmailResponse converts an Email model to EmailResponse
func toEmailResponse(email *models.Email) EmailResponse {
	var to []string
	if email.ToJSON != "" {
		var list struct {
			Addresses []struct {
				Address string `json:"address"`
			} `json:"addresses"`
		}
		if err := json.Unmarshal([]byte(email.ToJSON), &list); err == nil {
			for _, addr := range list.Addresses {
				to = append(to, addr.Address)
			}
		}
	}

	return EmailResponse{
		ID:           email.ID,
		InboundID:    email.InboundID,
		MessageID:    email.MessageID,
		Recipient:    email.Recipient,
		Subject:      email.Subject,
		From:         email.FromAddr,
		To:           to,
		Date:         email.Date.Unix(),
		TextBody:     email.TextBody,
		HTMLBody:     email.HTMLBody,
		Priority:     email.Priority,
		ParseSuccess: email.ParseSuccess,
		ParseError:   email.ParseError,
		Status:       email.Status,
	}
}

// ListEmails returns a list of stored emails
// GET /api/emails
func (h *EmailHandler) ListEmails(c *gin.Context) {
	userID, _ := strconv.ParseUint(c.Query("user_id"), 10, 32)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	emails, total, err := h.emailService.List(services.ListOptions{
		UserID:    uint(userID),
		Recipient: c.Query("recipient"),
		Status:    c.Query("status"),
		Limit:     limit,
		Offset:    offset,
	})
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

	responses := make([]EmailResponse, 0, len(emails))
	for i := range emails {
		responses = append(responses, toEmailResponse(&emails[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"emails": responses,
			"total":  total,
		},
	})
}

// GetEmail returns one email by id
// GET /api/emails/:id
func (h *EmailHandler) GetEmail(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid email ID",
			},
		})
		return
	}

	email, err := h.emailService.Get(uint(id))
	if err != nil {
		if errors.Is(err, services.ErrEmailNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Email not found",
				},
			})
			return
		}
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
		"data":    toEmailResponse(email),
	})
}

// GetThread reconstructs the conversation containing an email
// GET /api/emails/:id/thread
func (h *EmailHandler) GetThread(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid email ID",
			},
		})
		return
	}

	thread, err := h.emailService.BuildThread(uint(id))
	if err != nil {
		if errors.Is(err, services.ErrEmailNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "NOT_FOUND",
					"message": "Email not found",
				},
			})
			return
		}
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
		"data":    thread,
	})
}

// GetDeliveryAttempts returns the delivery history of an email
// GET /api/emails/:id/attempts
func (h *EmailHandler) GetDeliveryAttempts(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "Invalid email ID",
			},
		})
		return
	}

	attempts, err := h.deliveryService.ListByEmail(uint(id))
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
