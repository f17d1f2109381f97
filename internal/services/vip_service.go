package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailroute/core/internal/database/models"
	"github.com/mailroute/core/internal/payment"
	"github.com/mailroute/core/internal/transport"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// Gate decision reasons recorded on VipAttempt rows and returned to the
// orchestrator
const (
	VipReasonNoPolicy        = "no_policy"
	VipReasonPolicyDisabled  = "policy_disabled"
	VipReasonSenderAllowed   = "sender_allowed"
	VipReasonPaymentRequired = "payment_required"
	VipReasonInternalError   = "internal_error"
)

// GateResult is the outcome of a VIP gate check
type GateResult struct {
	Allowed    bool
	Reason     string
	SessionID  string
	SessionURL string
}

// VipService implements the pay-to-reach gate on protected addresses
type VipService struct {
	db          *gorm.DB
	logService  *LogService
	checkout    payment.CheckoutClient
	mailer      transport.Mailer
	fromAddress string // From address for payment-request replies, falls back to the protected address
}

// NewVipService creates a new VipService instance
func NewVipService(db *gorm.DB, logService *LogService, checkout payment.CheckoutClient, mailer transport.Mailer, fromAddress string) *VipService {
	return &VipService{
		db:          db,
		logService:  logService,
		checkout:    checkout,
		mailer:      mailer,
		fromAddress: fromAddress,
	}
}

// Check runs the gate for one sender/recipient pair. The gate fails open:
// any internal error allows the message through with a loud error log,
// since losing mail is worse than waiving a fee.
func (s *VipService) Check(ctx context.Context, recipient, sender string, email *models.Email) *GateResult {
	result, err := s.checkInternal(ctx, recipient, sender, email)
	if err != nil {
		s.logService.LogError(email.UserID, models.LogModuleVip, "vip_fail_open",
			fmt.Sprintf("VIP gate failed for %s -> %s, allowing message through: %v", sender, recipient, err),
			map[string]interface{}{"email_id": email.ID, "recipient": recipient, "sender": sender})
		return &GateResult{Allowed: true, Reason: VipReasonInternalError}
	}
	return result
}

func (s *VipService) checkInternal(ctx context.Context, recipient, sender string, email *models.Email) (*GateResult, error) {
	address := strings.ToLower(strings.TrimSpace(recipient))
	senderAddr := strings.ToLower(strings.TrimSpace(sender))

	var policy models.VipPolicy
	err := s.db.Where("address = ?", address).First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &GateResult{Allowed: true, Reason: VipReasonNoPolicy}, nil
		}
		return nil, err
	}
	if !policy.Enabled {
		return &GateResult{Allowed: true, Reason: VipReasonPolicyDisabled}, nil
	}

	allowed, err := s.senderAllowed(policy.ID, senderAddr)
	if err != nil {
		return nil, err
	}
	if allowed {
		s.recordAttempt(policy.ID, senderAddr, email.ID, models.VipAttemptAllowed, VipReasonSenderAllowed)
		return &GateResult{Allowed: true, Reason: VipReasonSenderAllowed}, nil
	}

	if s.checkout == nil {
		return nil, fmt.Errorf("no payment provider configured")
	}

	session, err := s.createPaymentSession(ctx, &policy, senderAddr, email)
	if err != nil {
		return nil, err
	}

	s.recordAttempt(policy.ID, senderAddr, email.ID, models.VipAttemptPaymentRequired, VipReasonPaymentRequired)
	s.logService.LogInfo(email.UserID, models.LogModuleVip, "payment_required",
		fmt.Sprintf("Sender %s must pay to reach %s", senderAddr, address),
		map[string]interface{}{"session_id": session.ID, "email_id": email.ID})

	// The reply is best-effort; a failed reply does not change the
	// gate outcome, the sender can still be notified out of band.
	if err := s.sendPaymentRequest(ctx, &policy, senderAddr, address, session); err != nil {
		s.logService.LogWarn(email.UserID, models.LogModuleVip, "payment_reply_failed",
			fmt.Sprintf("Could not send payment request to %s: %v", senderAddr, err),
			map[string]interface{}{"session_id": session.ID})
	}

	return &GateResult{
		Allowed:    false,
		Reason:     VipReasonPaymentRequired,
		SessionID:  session.ID,
		SessionURL: session.CheckoutURL,
	}, nil
}

// senderAllowed checks the allow-list. A null AllowedUntil is a
// permanent entry; expired entries are treated as absent.
func (s *VipService) senderAllowed(policyID uint, sender string) (bool, error) {
	var entries []models.VipAllowedSender
	err := s.db.Where("policy_id = ? AND sender_address = ?", policyID, sender).Find(&entries).Error
	if err != nil {
		return false, err
	}

	now := time.Now()
	for _, entry := range entries {
		if entry.AllowedUntil == nil || entry.AllowedUntil.After(now) {
			return true, nil
		}
	}
	return false, nil
}

// createPaymentSession creates a checkout session at the provider and
// persists the pending session row
func (s *VipService) createPaymentSession(ctx context.Context, policy *models.VipPolicy, sender string, email *models.Email) (*models.VipPaymentSession, error) {
	hours := policy.ExpirationHours
	if hours <= 0 {
		hours = 24
	}
	expiresAt := time.Now().Add(time.Duration(hours) * time.Hour)
	sessionID := ulid.Make().String()

	checkoutSession, err := s.checkout.CreateSession(ctx, payment.CreateSessionRequest{
		Reference:     sessionID,
		Amount:        policy.PriceAmount,
		Description:   fmt.Sprintf("Message delivery to %s", policy.Address),
		CustomerEmail: sender,
		ExpiresAt:     expiresAt.Unix(),
	})
	if err != nil {
		return nil, err
	}

	session := &models.VipPaymentSession{
		ID:            sessionID,
		PolicyID:      policy.ID,
		SenderAddress: sender,
		EmailID:       email.ID,
		CheckoutRef:   checkoutSession.Ref,
		CheckoutURL:   checkoutSession.URL,
		Status:        models.VipSessionPending,
		ExpiresAt:     expiresAt,
	}
	if err := s.db.Create(session).Error; err != nil {
		return nil, err
	}
	return session, nil
}

// recordAttempt writes the audit row for a gate decision. Audit failures
// are logged but never block the decision.
func (s *VipService) recordAttempt(policyID uint, sender string, emailID uint, status models.VipAttemptStatus, reason string) {
	attempt := &models.VipAttempt{
		PolicyID:      policyID,
		SenderAddress: sender,
		EmailID:       emailID,
		Status:        status,
		Reason:        reason,
	}
	if err := s.db.Create(attempt).Error; err != nil {
		s.logService.LogWarn(0, models.LogModuleVip, "attempt_record_failed",
			fmt.Sprintf("Could not record VIP attempt: %v", err), nil)
	}
}

// sendPaymentRequest replies to the sender with the checkout link
func (s *VipService) sendPaymentRequest(ctx context.Context, policy *models.VipPolicy, sender, recipient string, session *models.VipPaymentSession) error {
	if s.mailer == nil {
		return fmt.Errorf("no mail transport configured")
	}

	from := s.fromAddress
	if from == "" {
		from = policy.Address
	}

	var body strings.Builder
	if policy.CustomMessage != "" {
		body.WriteString(policy.CustomMessage)
		body.WriteString("\r\n\r\n")
	} else {
		fmt.Fprintf(&body, "Your message to %s was not delivered.\r\n\r\n", recipient)
		body.WriteString("This address requires a payment from unrecognized senders before messages are delivered.\r\n\r\n")
	}
	fmt.Fprintf(&body, "Complete your payment here: %s\r\n\r\n", session.CheckoutURL)
	fmt.Fprintf(&body, "This link expires at %s.\r\n", session.ExpiresAt.UTC().Format(time.RFC1123))
	if policy.AllowAfterPayment {
		body.WriteString("After payment, your future messages to this address will be delivered without further charges.\r\n")
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", sender)
	fmt.Fprintf(&msg, "Subject: Payment required to reach %s\r\n", recipient)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "Message-ID: <%s@mailroute>\r\n", session.ID)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body.String())

	return s.mailer.Send(ctx, &transport.Message{
		From: from,
		To:   []string{sender},
		Raw:  []byte(msg.String()),
	})
}

// SweepExpiredSessions marks pending sessions past their deadline as
// expired. Returns the number of sessions transitioned.
func (s *VipService) SweepExpiredSessions() (int64, error) {
	result := s.db.Model(&models.VipPaymentSession{}).
		Where("status = ? AND expires_at < ?", models.VipSessionPending, time.Now()).
		Update("status", models.VipSessionExpired)
	return result.RowsAffected, result.Error
}

// PruneExpiredAllowedSenders removes allow-list entries whose window has
// passed. Permanent entries (null AllowedUntil) are never pruned.
func (s *VipService) PruneExpiredAllowedSenders() (int64, error) {
	result := s.db.Where("allowed_until IS NOT NULL AND allowed_until < ?", time.Now()).
		Delete(&models.VipAllowedSender{})
	return result.RowsAffected, result.Error
}

// ListSessions returns payment sessions filtered by status
func (s *VipService) ListSessions(status string, limit int) ([]models.VipPaymentSession, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.Model(&models.VipPaymentSession{}).Order("created_at DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var sessions []models.VipPaymentSession
	if err := query.Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}
