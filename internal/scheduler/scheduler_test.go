package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	paymentdomain "github.com/quotehive/quotehive/internal/payment/domain"
	payoutdomain "github.com/quotehive/quotehive/internal/payout/domain"
	quotedomain "github.com/quotehive/quotehive/internal/quote/domain"
	quoterequestdomain "github.com/quotehive/quotehive/internal/quoterequest/domain"
)

type fakeQuoteRequestSvc struct {
	quoterequestdomain.Service
	expireCalls int
	expireErr   error
}

func (f *fakeQuoteRequestSvc) ExpireDue(context.Context, time.Time) (int64, error) {
	f.expireCalls++
	return 2, f.expireErr
}

type fakeQuoteSvc struct {
	quotedomain.Service
	expireCalls int
}

func (f *fakeQuoteSvc) ExpireDue(context.Context, time.Time) (int64, error) {
	f.expireCalls++
	return 1, nil
}

type fakePaymentSvc struct {
	paymentdomain.Service
	reconcileCalls int
	olderThan      time.Duration
	err            error
}

func (f *fakePaymentSvc) ReconcileIntents(_ context.Context, olderThan time.Duration) (int, error) {
	f.reconcileCalls++
	f.olderThan = olderThan
	return 0, f.err
}

type fakePayoutSvc struct {
	payoutdomain.Service
	batchCalls int
}

func (f *fakePayoutSvc) RunBatch(context.Context) (payoutdomain.BatchResult, error) {
	f.batchCalls++
	return payoutdomain.BatchResult{Candidates: 1, Succeeded: 1, TotalPaid: 5000}, nil
}

type fakes struct {
	requests *fakeQuoteRequestSvc
	quotes   *fakeQuoteSvc
	payments *fakePaymentSvc
	payouts  *fakePayoutSvc
}

func newScheduler(t *testing.T, cfg Config) (*Scheduler, fakes, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:scheduler_"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&payoutdomain.Payout{}))

	f := fakes{
		requests: &fakeQuoteRequestSvc{},
		quotes:   &fakeQuoteSvc{},
		payments: &fakePaymentSvc{},
		payouts:  &fakePayoutSvc{},
	}
	s, err := New(Params{
		DB:              db,
		Log:             zap.NewNop(),
		QuoteRequestSvc: f.requests,
		QuoteSvc:        f.quotes,
		PaymentSvc:      f.payments,
		PayoutSvc:       f.payouts,
		Config:          cfg,
	})
	require.NoError(t, err)
	return s, f, db
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunOnceRunsAllJobs(t *testing.T) {
	s, f, _ := newScheduler(t, Config{ReconcileMinAge: 10 * time.Minute})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, f.requests.expireCalls)
	assert.Equal(t, 1, f.quotes.expireCalls)
	assert.Equal(t, 1, f.payments.reconcileCalls)
	assert.Equal(t, 10*time.Minute, f.payments.olderThan)
	// No payouts exist yet, so the first sweep is due immediately.
	assert.Equal(t, 1, f.payouts.batchCalls)
}

func TestRunOnceContinuesPastFailures(t *testing.T) {
	s, f, _ := newScheduler(t, Config{})
	f.requests.expireErr = errors.New("db gone away")

	err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expire_requests")
	// The failure does not stop the remaining jobs.
	assert.Equal(t, 1, f.quotes.expireCalls)
	assert.Equal(t, 1, f.payments.reconcileCalls)
	assert.Equal(t, 1, f.payouts.batchCalls)
}

func TestRunOnceSwallowsTimeouts(t *testing.T) {
	s, f, _ := newScheduler(t, Config{})
	f.payments.err = context.DeadlineExceeded

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, f.payments.reconcileCalls)
}

func TestEnabledJobsFilter(t *testing.T) {
	s, f, _ := newScheduler(t, Config{EnabledJobs: []string{"Expire_Requests", "expire_quotes"}})

	require.NoError(t, s.RunOnce(context.Background()))
	assert.Equal(t, 1, f.requests.expireCalls)
	assert.Equal(t, 1, f.quotes.expireCalls)
	assert.Zero(t, f.payments.reconcileCalls)
	assert.Zero(t, f.payouts.batchCalls)
}

func TestPayoutBatchHonorsInterval(t *testing.T) {
	s, f, db := newScheduler(t, Config{PayoutInterval: 24 * time.Hour})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	recent := payoutdomain.Payout{
		ID:         node.Generate(),
		ProviderID: node.Generate(),
		Amount:     5000,
		Status:     payoutdomain.StatusPaid,
		CreatedAt:  time.Now().UTC().Add(-time.Hour),
		UpdatedAt:  time.Now().UTC(),
	}
	require.NoError(t, db.Create(&recent).Error)

	require.NoError(t, s.PayoutBatchJob(context.Background()))
	assert.Zero(t, f.payouts.batchCalls)

	// Backdate the last sweep past the interval.
	require.NoError(t, db.Model(&payoutdomain.Payout{}).
		Where("id = ?", recent.ID).
		Update("created_at", time.Now().UTC().Add(-48*time.Hour)).Error)

	require.NoError(t, s.PayoutBatchJob(context.Background()))
	assert.Equal(t, 1, f.payouts.batchCalls)
}
