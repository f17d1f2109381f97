package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mailroute/core/internal/database/models"
	"github.com/mailroute/core/internal/payment"
	"github.com/mailroute/core/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeCheckout records session requests and returns a canned session
type fakeCheckout struct {
	requests []payment.CreateSessionRequest
	failWith error
}

func (f *fakeCheckout) CreateSession(ctx context.Context, req payment.CreateSessionRequest) (*payment.Session, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.requests = append(f.requests, req)
	return &payment.Session{Ref: "chk_" + req.Reference, URL: "https://pay.example/s/" + req.Reference}, nil
}

// fakeMailer captures sent messages
type fakeMailer struct {
	sent     []*transport.Message
	failWith error
}

func (f *fakeMailer) Send(ctx context.Context, msg *transport.Message) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeMailer) Name() string { return "fake" }

func newTestVipService(db *gorm.DB, checkout payment.CheckoutClient, mailer transport.Mailer) *VipService {
	return NewVipService(db, NewLogService(db), checkout, mailer, "gate@mailroute.example")
}

func createTestEmail(t *testing.T, db *gorm.DB, sender string) *models.Email {
	t.Helper()
	email := &models.Email{
		MessageID: "msg-" + time.Now().Format("150405.000000000"),
		Recipient: "vip@protected.example",
		FromAddr:  sender,
		Subject:   "hello",
		Date:      time.Now(),
		Status:    string(models.StatusParsed),
	}
	require.NoError(t, db.Create(email).Error)
	return email
}

func TestVipCheck_NoPolicy(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	checkout := &fakeCheckout{}
	svc := newTestVipService(db, checkout, &fakeMailer{})
	email := createTestEmail(t, db, "anyone@x.example")

	result := svc.Check(context.Background(), "open@addr.example", "anyone@x.example", email)

	assert.True(t, result.Allowed)
	assert.Equal(t, VipReasonNoPolicy, result.Reason)
	assert.Empty(t, checkout.requests)
}

func TestVipCheck_DisabledPolicy(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	db.Create(&models.VipPolicy{UserID: 1, Address: "vip@protected.example", Enabled: false, PriceAmount: 500})

	svc := newTestVipService(db, &fakeCheckout{}, &fakeMailer{})
	email := createTestEmail(t, db, "anyone@x.example")

	result := svc.Check(context.Background(), "vip@protected.example", "anyone@x.example", email)
	assert.True(t, result.Allowed)
	assert.Equal(t, VipReasonPolicyDisabled, result.Reason)
}

func TestVipCheck_NewSenderRequiresPayment(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	policy := &models.VipPolicy{
		UserID:            1,
		Address:           "vip@protected.example",
		Enabled:           true,
		PriceAmount:       500,
		AllowAfterPayment: true,
		ExpirationHours:   24,
	}
	require.NoError(t, db.Create(policy).Error)

	checkout := &fakeCheckout{}
	mailer := &fakeMailer{}
	svc := newTestVipService(db, checkout, mailer)
	email := createTestEmail(t, db, "stranger@elsewhere.example")

	result := svc.Check(context.Background(), "vip@protected.example", "stranger@elsewhere.example", email)

	assert.False(t, result.Allowed)
	assert.Equal(t, VipReasonPaymentRequired, result.Reason)
	assert.NotEmpty(t, result.SessionID)
	assert.NotEmpty(t, result.SessionURL)

	// Checkout session carries the policy price and sender
	require.Len(t, checkout.requests, 1)
	assert.Equal(t, int64(500), checkout.requests[0].Amount)
	assert.Equal(t, "stranger@elsewhere.example", checkout.requests[0].CustomerEmail)

	// Persisted pending session with a future deadline
	var session models.VipPaymentSession
	require.NoError(t, db.Where("id = ?", result.SessionID).First(&session).Error)
	assert.Equal(t, models.VipSessionPending, session.Status)
	assert.Equal(t, policy.ID, session.PolicyID)
	assert.True(t, session.ExpiresAt.After(time.Now().Add(23*time.Hour)))

	// Audit row written
	var attempt models.VipAttempt
	require.NoError(t, db.Where("policy_id = ?", policy.ID).First(&attempt).Error)
	assert.Equal(t, models.VipAttemptPaymentRequired, attempt.Status)

	// Payment request reply went to the sender
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, []string{"stranger@elsewhere.example"}, mailer.sent[0].To)
	assert.Contains(t, string(mailer.sent[0].Raw), result.SessionURL)
}

func TestVipCheck_AllowedSenderPassesWithoutPayment(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	policy := &models.VipPolicy{UserID: 1, Address: "vip@protected.example", Enabled: true, PriceAmount: 500}
	require.NoError(t, db.Create(policy).Error)

	future := time.Now().Add(48 * time.Hour)
	db.Create(&models.VipAllowedSender{PolicyID: policy.ID, SenderAddress: "friend@x.example", AllowedUntil: &future})

	checkout := &fakeCheckout{}
	svc := newTestVipService(db, checkout, &fakeMailer{})
	email := createTestEmail(t, db, "friend@x.example")

	result := svc.Check(context.Background(), "vip@protected.example", "friend@x.example", email)

	assert.True(t, result.Allowed)
	assert.Equal(t, VipReasonSenderAllowed, result.Reason)
	assert.Empty(t, checkout.requests, "no session for an allowed sender")
}

func TestVipCheck_PermanentAllowEntry(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	policy := &models.VipPolicy{UserID: 1, Address: "vip@protected.example", Enabled: true, PriceAmount: 500}
	require.NoError(t, db.Create(policy).Error)
	db.Create(&models.VipAllowedSender{PolicyID: policy.ID, SenderAddress: "forever@x.example", AllowedUntil: nil})

	svc := newTestVipService(db, &fakeCheckout{}, &fakeMailer{})
	email := createTestEmail(t, db, "forever@x.example")

	result := svc.Check(context.Background(), "vip@protected.example", "forever@x.example", email)
	assert.True(t, result.Allowed)
	assert.Equal(t, VipReasonSenderAllowed, result.Reason)
}

func TestVipCheck_ExpiredAllowEntryRequiresPaymentAgain(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	policy := &models.VipPolicy{UserID: 1, Address: "vip@protected.example", Enabled: true, PriceAmount: 500}
	require.NoError(t, db.Create(policy).Error)

	past := time.Now().Add(-time.Hour)
	db.Create(&models.VipAllowedSender{PolicyID: policy.ID, SenderAddress: "lapsed@x.example", AllowedUntil: &past})

	checkout := &fakeCheckout{}
	svc := newTestVipService(db, checkout, &fakeMailer{})
	email := createTestEmail(t, db, "lapsed@x.example")

	result := svc.Check(context.Background(), "vip@protected.example", "lapsed@x.example", email)

	assert.False(t, result.Allowed)
	assert.Equal(t, VipReasonPaymentRequired, result.Reason)
	assert.Len(t, checkout.requests, 1)
}

func TestVipCheck_FailsOpenOnProviderError(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	policy := &models.VipPolicy{UserID: 1, Address: "vip@protected.example", Enabled: true, PriceAmount: 500}
	require.NoError(t, db.Create(policy).Error)

	checkout := &fakeCheckout{failWith: errors.New("provider down")}
	svc := newTestVipService(db, checkout, &fakeMailer{})
	email := createTestEmail(t, db, "stranger@x.example")

	result := svc.Check(context.Background(), "vip@protected.example", "stranger@x.example", email)

	assert.True(t, result.Allowed, "gate must fail open")
	assert.Equal(t, VipReasonInternalError, result.Reason)

	// The failure is logged loudly
	var log models.Log
	require.NoError(t, db.Where("module = ? AND action = ?", "vip", "vip_fail_open").First(&log).Error)
	assert.Equal(t, "ERROR", log.Level)
}

func TestVipCheck_ReplyFailureDoesNotChangeOutcome(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	policy := &models.VipPolicy{UserID: 1, Address: "vip@protected.example", Enabled: true, PriceAmount: 500}
	require.NoError(t, db.Create(policy).Error)

	svc := newTestVipService(db, &fakeCheckout{}, &fakeMailer{failWith: errors.New("relay down")})
	email := createTestEmail(t, db, "stranger@x.example")

	result := svc.Check(context.Background(), "vip@protected.example", "stranger@x.example", email)

	assert.False(t, result.Allowed)
	assert.Equal(t, VipReasonPaymentRequired, result.Reason)
	assert.NotEmpty(t, result.SessionID)
}

func TestSweepExpiredSessions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	db.Create(&models.VipPaymentSession{
		ID: "stale1", PolicyID: 1, SenderAddress: "a@x", Status: models.VipSessionPending,
		ExpiresAt: time.Now().Add(-time.Hour),
	})
	db.Create(&models.VipPaymentSession{
		ID: "fresh1", PolicyID: 1, SenderAddress: "b@x", Status: models.VipSessionPending,
		ExpiresAt: time.Now().Add(time.Hour),
	})
	db.Create(&models.VipPaymentSession{
		ID: "paid1", PolicyID: 1, SenderAddress: "c@x", Status: models.VipSessionPaid,
		ExpiresAt: time.Now().Add(-time.Hour),
	})

	svc := newTestVipService(db, &fakeCheckout{}, &fakeMailer{})
	count, err := svc.SweepExpiredSessions()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var stale, fresh, paid models.VipPaymentSession
	db.First(&stale, "id = ?", "stale1")
	db.First(&fresh, "id = ?", "fresh1")
	db.First(&paid, "id = ?", "paid1")
	assert.Equal(t, models.VipSessionExpired, stale.Status)
	assert.Equal(t, models.VipSessionPending, fresh.Status)
	assert.Equal(t, models.VipSessionPaid, paid.Status, "paid sessions are never expired by the clock")
}
