package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mailroute/core/internal/database/models"
	"github.com/mailroute/core/internal/mailparse"
	"github.com/mailroute/core/internal/storage"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

var (
	// ErrMissingRecipient indicates the inbound message named no recipients
	ErrMissingRecipient = errors.New("inbound message has no recipients")
	// ErrMissingContent indicates neither inline content nor a raw locator was given
	ErrMissingContent = errors.New("inbound message has no content")
	// ErrPersistFailed indicates the email row could not be stored
	ErrPersistFailed = errors.New("could not persist email")
)

// InboundMessage is one message handed to the engine by the receiving
// edge (SES receipt action, MX bridge, or test harness)
type InboundMessage struct {
	ReceiptID    string // message id assigned by the receiving edge, optional
	Recipients   []string
	RawContent   []byte // inline raw MIME bytes
	RawLocator   string // locator into the raw store, used when RawContent is empty
	SpamVerdict  string
	VirusVerdict string
	AuthResults  map[string]string
}

// RecipientResult is the routing outcome for one recipient of a message
type RecipientResult struct {
	Recipient string `json:"recipient"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}

// ProcessResult is the overall outcome of one inbound message
type ProcessResult struct {
	EmailID    uint              `json:"email_id"`
	InboundID  string            `json:"inbound_id"`
	MessageID  string            `json:"message_id"`
	Duplicate  bool              `json:"duplicate"`
	Recipients []RecipientResult `json:"recipients"`
}

// RouteService orchestrates the inbound pipeline: parse, persist, gate,
// resolve and dispatch
type RouteService struct {
	db                *gorm.DB
	logService        *LogService
	resolverService   *ResolverService
	vipService        *VipService
	webhookDispatcher *WebhookDispatcher
	forwardDispatcher *ForwardDispatcher
	rawStore          storage.RawStore
}

// NewRouteService creates a new RouteService instance
func NewRouteService(db *gorm.DB, logService *LogService, resolverService *ResolverService, vipService *VipService, webhookDispatcher *WebhookDispatcher, forwardDispatcher *ForwardDispatcher, rawStore storage.RawStore) *RouteService {
	return &RouteService{
		db:                db,
		logService:        logService,
		resolverService:   resolverService,
		vipService:        vipService,
		webhookDispatcher: webhookDispatcher,
		forwardDispatcher: forwardDispatcher,
		rawStore:          rawStore,
	}
}

// ProcessInbound runs one message through the full pipeline. Parse
// failures are not fatal: the fallback structure is persisted and routed
// like any other message. Missing recipients or content are fatal since
// nothing can be stored or routed.
func (s *RouteService) ProcessInbound(ctx context.Context, msg *InboundMessage) (*ProcessResult, error) {
	if len(msg.Recipients) == 0 {
		return nil, ErrMissingRecipient
	}

	raw := msg.RawContent
	if len(raw) == 0 {
		if msg.RawLocator == "" {
			return nil, ErrMissingContent
		}
		fetched, err := s.rawStore.Fetch(msg.RawLocator)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMissingContent, err)
		}
		raw = fetched
	}

	inboundID := msg.ReceiptID
	if inboundID == "" {
		inboundID = ulid.Make().String()
	}
	parsed := mailparse.Parse(raw)

	if !parsed.ParseSuccess {
		s.logService.LogWarn(0, models.LogModuleParse, "fallback_parse",
			fmt.Sprintf("Message %s handled by fallback parser: %s", parsed.MessageID, parsed.ParseError),
			map[string]interface{}{"inbound_id": inboundID})
	}

	// Dedupe on Message-ID: a redelivered message reports the stored
	// outcome instead of being routed twice. A message whose previous
	// invocation failed delivery is the exception: upstream retries it,
	// so it runs the dispatch chain again.
	var existing models.Email
	err := s.db.Where("message_id = ?", parsed.MessageID).First(&existing).Error
	if err == nil {
		if existing.Status == string(models.StatusDeliveryFailed) {
			return s.redeliver(ctx, &existing, parsed, msg), nil
		}
		s.logService.LogInfo(existing.UserID, models.LogModuleIngest, "duplicate",
			fmt.Sprintf("Duplicate message %s, original email %d", parsed.MessageID, existing.ID),
			map[string]interface{}{"inbound_id": inboundID})
		return &ProcessResult{
			EmailID:   existing.ID,
			InboundID: existing.InboundID,
			MessageID: existing.MessageID,
			Duplicate: true,
			Recipients: []RecipientResult{{
				Recipient: existing.Recipient,
				Status:    existing.Status,
				Detail:    "duplicate of previously processed message",
			}},
		}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	rawLocator := msg.RawLocator
	if rawLocator == "" {
		locator, err := s.rawStore.Save(parsed.MessageID, raw)
		if err != nil {
			// Routing proceeds without the retained raw source; only
			// attachment re-extraction degrades
			s.logService.LogWarn(0, models.LogModuleIngest, "raw_store_failed",
				fmt.Sprintf("Could not retain raw message %s: %v", parsed.MessageID, err),
				map[string]interface{}{"inbound_id": inboundID})
		} else {
			rawLocator = locator
		}
	}

	primaryRecipient := strings.ToLower(strings.TrimSpace(msg.Recipients[0]))
	userID, ownerErr := s.resolverService.ResolveOwner(primaryRecipient)
	if ownerErr != nil {
		userID = 0
	}

	email := s.buildEmailRecord(inboundID, userID, primaryRecipient, parsed, msg, rawLocator)
	if err := s.db.Create(email).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersistFailed, err)
	}

	s.logService.LogInfo(userID, models.LogModuleIngest, "received",
		fmt.Sprintf("Received message %s for %d recipient(s)", email.MessageID, len(msg.Recipients)),
		map[string]interface{}{"email_id": email.ID, "inbound_id": inboundID})

	s.updateStatus(email, models.StatusParsed)

	result := &ProcessResult{
		EmailID:   email.ID,
		InboundID: inboundID,
		MessageID: email.MessageID,
	}
	for _, recipient := range msg.Recipients {
		recipientResult := s.routeRecipient(ctx, email, parsed, strings.ToLower(strings.TrimSpace(recipient)))
		result.Recipients = append(result.Recipients, recipientResult)
	}

	s.updateStatus(email, finalStatus(result.Recipients))
	return result, nil
}

// redeliver re-runs the gate, resolution and dispatch chain for a
// stored message whose previous invocation failed delivery
func (s *RouteService) redeliver(ctx context.Context, email *models.Email, parsed *mailparse.ParsedEmail, msg *InboundMessage) *ProcessResult {
	s.logService.LogInfo(email.UserID, models.LogModuleIngest, "redeliver",
		fmt.Sprintf("Retrying failed delivery of message %s, email %d", email.MessageID, email.ID),
		map[string]interface{}{"email_id": email.ID})

	// The retry restarts the life-cycle from the parsed state
	email.Status = string(models.StatusParsed)

	result := &ProcessResult{
		EmailID:   email.ID,
		InboundID: email.InboundID,
		MessageID: email.MessageID,
		Duplicate: true,
	}
	for _, recipient := range msg.Recipients {
		recipientResult := s.routeRecipient(ctx, email, parsed, strings.ToLower(strings.TrimSpace(recipient)))
		result.Recipients = append(result.Recipients, recipientResult)
	}

	s.updateStatus(email, finalStatus(result.Recipients))
	return result
}

// routeRecipient runs the gate, resolution and dispatch chain for one
// recipient address
func (s *RouteService) routeRecipient(ctx context.Context, email *models.Email, parsed *mailparse.ParsedEmail, recipient string) RecipientResult {
	userID, err := s.resolverService.ResolveOwner(recipient)
	if err != nil {
		s.logService.LogWarn(0, models.LogModuleRoute, "unknown_domain",
			fmt.Sprintf("No owner for recipient %s of email %d", recipient, email.ID),
			map[string]interface{}{"email_id": email.ID, "recipient": recipient})
		return RecipientResult{
			Recipient: recipient,
			Status:    string(models.StatusUnrouted),
			Detail:    "no active domain claims this recipient",
		}
	}

	gate := s.vipService.Check(ctx, recipient, email.FromAddr, email)
	if !gate.Allowed {
		return RecipientResult{
			Recipient: recipient,
			Status:    string(models.StatusVipPending),
			Detail:    "payment required, session " + gate.SessionID,
		}
	}

	decision, err := s.resolverService.Resolve(recipient, userID)
	if err != nil {
		s.logService.LogError(userID, models.LogModuleRoute, "resolve_failed",
			fmt.Sprintf("Resolution failed for %s on email %d: %v", recipient, email.ID, err),
			map[string]interface{}{"email_id": email.ID, "recipient": recipient})
		return RecipientResult{
			Recipient: recipient,
			Status:    string(models.StatusDeliveryFailed),
			Detail:    "endpoint resolution failed",
		}
	}

	switch decision.Outcome {
	case OutcomeUnrouted:
		s.logService.LogWarn(userID, models.LogModuleRoute, "unrouted",
			fmt.Sprintf("Nothing claims %s, email %d stored without dispatch", recipient, email.ID),
			map[string]interface{}{"email_id": email.ID, "recipient": recipient})
		return RecipientResult{
			Recipient: recipient,
			Status:    string(models.StatusUnrouted),
			Detail:    "no endpoint or catch-all claims this address",
		}

	case OutcomeDeferToLegacy:
		s.logService.LogInfo(userID, models.LogModuleRoute, "defer_to_legacy",
			fmt.Sprintf("Recipient %s of email %d deferred to legacy webhook", recipient, email.ID),
			map[string]interface{}{"email_id": email.ID, "recipient": recipient, "legacy_url": decision.LegacyURL})
		return RecipientResult{
			Recipient: recipient,
			Status:    string(models.StatusRouted),
			Detail:    "deferred to legacy webhook pipeline",
		}
	}

	s.updateStatus(email, models.StatusRouted)

	if err := s.dispatch(ctx, email, parsed, decision); err != nil {
		return RecipientResult{
			Recipient: recipient,
			Status:    string(models.StatusDeliveryFailed),
			Detail:    err.Error(),
		}
	}
	return RecipientResult{
		Recipient: recipient,
		Status:    string(models.StatusDelivered),
	}
}

// dispatch hands a resolved decision to the matching dispatcher
func (s *RouteService) dispatch(ctx context.Context, email *models.Email, parsed *mailparse.ParsedEmail, decision *RoutingDecision) error {
	switch {
	case decision.Config.Webhook != nil:
		return s.webhookDispatcher.Dispatch(ctx, email, parsed, decision.Endpoint, decision.Config.Webhook)
	case decision.Config.Forward != nil, decision.Config.ForwardGroup != nil:
		return s.forwardDispatcher.Dispatch(ctx, email, parsed, decision.Endpoint, decision.Config)
	}
	return fmt.Errorf("endpoint %d has no dispatchable configuration", decision.Endpoint.ID)
}

// buildEmailRecord projects the parsed message onto the persistence model
func (s *RouteService) buildEmailRecord(inboundID string, userID uint, recipient string, parsed *mailparse.ParsedEmail, msg *InboundMessage, rawLocator string) *models.Email {
	fromAddr := ""
	if len(parsed.From.Addresses) > 0 {
		fromAddr = parsed.From.Addresses[0].Address
	}

	date := parsed.Date
	if date.IsZero() {
		date = time.Now()
	}

	// Attachment metadata only; binaries live in the raw store
	meta := make([]mailparse.Attachment, len(parsed.Attachments))
	copy(meta, parsed.Attachments)
	for i := range meta {
		meta[i].Content = nil
	}

	return &models.Email{
		InboundID:    inboundID,
		MessageID:    parsed.MessageID,
		UserID:       userID,
		Recipient:    recipient,
		Subject:      parsed.Subject,
		Date:         date,
		FromAddr:     fromAddr,
		FromJSON:     marshalJSON(parsed.From),
		ToJSON:       marshalJSON(parsed.To),
		CcJSON:       marshalJSON(parsed.Cc),
		BccJSON:      marshalJSON(parsed.Bcc),
		ReplyToJSON:  marshalJSON(parsed.ReplyTo),
		InReplyTo:    parsed.InReplyTo,
		References:   marshalJSON(parsed.References),
		TextBody:     parsed.TextBody,
		HTMLBody:     parsed.HTMLBody,
		Attachments:  marshalJSON(meta),
		Headers:      marshalJSON(parsed.Headers),
		Priority:     parsed.Priority,
		ParseSuccess: parsed.ParseSuccess,
		ParseError:   parsed.ParseError,
		SpamVerdict:  msg.SpamVerdict,
		VirusVerdict: msg.VirusVerdict,
		AuthResults:  marshalJSON(msg.AuthResults),
		RawLocator:   rawLocator,
		Status:       string(models.StatusReceived),
	}
}

// updateStatus advances the routing state column. Terminal states are
// never overwritten by non-terminal ones.
func (s *RouteService) updateStatus(email *models.Email, status models.EmailStatus) {
	if models.EmailStatus(email.Status).IsTerminal() && !status.IsTerminal() {
		return
	}
	email.Status = string(status)
	if err := s.db.Model(email).Update("status", email.Status).Error; err != nil {
		s.logService.LogWarn(email.UserID, models.LogModuleRoute, "status_update_failed",
			fmt.Sprintf("Could not update status of email %d to %s: %v", email.ID, status, err), nil)
	}
}

// finalStatus reduces per-recipient outcomes to one email status. Any
// failure wins over success so operators see the worst case. A recipient
// deferred to the legacy pipeline stays at routed since nothing was
// dispatched here.
func finalStatus(results []RecipientResult) models.EmailStatus {
	status := models.StatusUnrouted
	sawDelivered := false
	sawRouted := false
	for _, r := range results {
		switch models.EmailStatus(r.Status) {
		case models.StatusDeliveryFailed:
			return models.StatusDeliveryFailed
		case models.StatusVipPending:
			status = models.StatusVipPending
		case models.StatusDelivered:
			sawDelivered = true
		case models.StatusRouted:
			sawRouted = true
		}
	}
	if status == models.StatusVipPending {
		return status
	}
	if sawDelivered {
		return models.StatusDelivered
	}
	if sawRouted {
		return models.StatusRouted
	}
	return status
}

func marshalJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	bytes, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(bytes)
}
