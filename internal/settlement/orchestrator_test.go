package settlement

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paycore/internal/account"
	"paycore/internal/config"
	"paycore/internal/domain"
	"paycore/internal/fraud"
	"paycore/internal/gateway"
	"paycore/internal/notify"
	"paycore/internal/repository"
	"paycore/internal/validation"
)

const (
	senderAccount   = "11110000"
	receiverAccount = "22220000"
)

func testConfig() *config.Config {
	return &config.Config{
		Limits: config.Limits{
			PerType:        map[string]config.TypeLimits{},
			DailyCeiling:   decimal.NewFromInt(1000000),
			MonthlyCeiling: decimal.NewFromInt(10000000),
		},
		Gateway:      config.Gateway{Timeout: time.Second, MaxRetries: 3, RetryBase: time.Millisecond},
		Compensation: config.Compensation{MaxAttempts: 3, BackoffBase: time.Millisecond},
		Fraud:        config.Fraud{HighThreshold: 80, MediumThreshold: 50, FailThreshold: 80, HistoryWindow: 50},
	}
}

type fixture struct {
	repo     *repository.Memory
	accounts *account.Memory
	gw       *gateway.MockGateway
	notifier *notify.Recorder
	orch     *Orchestrator
}

func newFixture() *fixture {
	repo := repository.NewMemory()
	accounts := account.NewMemory()
	accounts.SetBalance(senderAccount, decimal.NewFromInt(100000))
	accounts.SetBalance(receiverAccount, decimal.NewFromInt(50000))
	gw := gateway.NewMockGateway()
	gw.FailureRate = 0
	gw.MaxDelay = 0
	notifier := notify.NewRecorder()
	cfg := testConfig()
	return &fixture{
		repo:     repo,
		accounts: accounts,
		gw:       gw,
		notifier: notifier,
		orch: NewOrchestrator(repo, accounts, gw, notifier,
			validation.New(cfg.Limits), validation.NewLimitGuard(repo, cfg.Limits),
			fraud.NewEngine(cfg.Fraud), cfg, zap.NewNop()),
	}
}

func sagaPayment(t domain.PaymentType, amount string) *domain.Payment {
	party := func(account string) domain.PaymentParty {
		return domain.PaymentParty{AccountNumber: account, AccountName: "Holder", IFSCCode: "HDFC0001234"}
	}
	return domain.NewPayment(t, domain.MustAmount(amount, "INR"),
		party(senderAccount), party(receiverAccount), "mobile", "transfer", nil)
}

func (f *fixture) initiate(t *testing.T, p *domain.Payment) {
	t.Helper()
	require.NoError(t, f.orch.Initiate(context.Background(), p))
}

func (f *fixture) stored(t *testing.T, reference string) *domain.Payment {
	t.Helper()
	p, err := f.repo.FindByReference(context.Background(), reference)
	require.NoError(t, err)
	return p
}

func TestProcess_HappyPath(t *testing.T) {
	f := newFixture()
	p := sagaPayment(domain.TypeIMPS, "5000.00")
	f.initiate(t, p)

	require.NoError(t, f.orch.Process(context.Background(), p.ReferenceNumber))

	stored := f.stored(t, p.ReferenceNumber)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.NotEmpty(t, stored.Metadata[domain.MetaExternalRef])
	require.NotNil(t, stored.FraudCheck)
	assert.Equal(t, domain.RiskLow, stored.FraudCheck.RiskLevel)

	assert.True(t, f.accounts.Balance(senderAccount).Equal(decimal.NewFromInt(95000)))
	assert.True(t, f.accounts.Balance(receiverAccount).Equal(decimal.NewFromInt(55000)))
	assert.True(t, f.accounts.TotalBalance().Equal(decimal.NewFromInt(150000)))

	assert.Equal(t, []string{p.ReferenceNumber}, f.notifier.Notifications())
	assert.NotEmpty(t, f.repo.AuditTrail())
}

func TestProcess_RTGSAcceptanceAssignsUTR(t *testing.T) {
	f := newFixture()
	p := sagaPayment(domain.TypeRTGS, "50000.00")
	f.initiate(t, p)

	require.NoError(t, f.orch.Process(context.Background(), p.ReferenceNumber))

	stored := f.stored(t, p.ReferenceNumber)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.True(t, strings.HasPrefix(stored.Metadata[domain.MetaUTRNumber], "UTR"),
		"expected a UTR on gateway acceptance, got %q", stored.Metadata[domain.MetaUTRNumber])

	// Non-RTGS, non-NEFT channels settle without a UTR.
	imps := sagaPayment(domain.TypeIMPS, "5000.00")
	f.initiate(t, imps)
	require.NoError(t, f.orch.Process(context.Background(), imps.ReferenceNumber))
	assert.Empty(t, f.stored(t, imps.ReferenceNumber).Metadata[domain.MetaUTRNumber])
}

func TestProcess_Idempotent(t *testing.T) {
	f := newFixture()
	p := sagaPayment(domain.TypeIMPS, "5000.00")
	f.initiate(t, p)

	require.NoError(t, f.orch.Process(context.Background(), p.ReferenceNumber))
	require.NoError(t, f.orch.Process(context.Background(), p.ReferenceNumber))

	assert.True(t, f.accounts.Balance(senderAccount).Equal(decimal.NewFromInt(95000)))
	assert.Equal(t, []string{p.ReferenceNumber}, f.notifier.Notifications())
}

func TestProcess_InsufficientFunds(t *testing.T) {
	f := newFixture()
	p := sagaPayment(domain.TypeIMPS, "5000.00")
	f.accounts.SetBalance(senderAccount, decimal.NewFromInt(100))
	f.initiate(t, p)

	require.NoError(t, f.orch.Process(context.Background(), p.ReferenceNumber))

	stored := f.stored(t, p.ReferenceNumber)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, "insufficient funds", stored.Metadata[domain.MetaFailureReason])
	assert.True(t, f.accounts.Balance(senderAccount).Equal(decimal.NewFromInt(100)))
}

func TestProcess_InactiveSender(t *testing.T) {
	f := newFixture()
	p := sagaPayment(domain.TypeIMPS, "5000.00")
	f.accounts.Deactivate(senderAccount)
	f.initiate(t, p)

	require.NoError(t, f.orch.Process(context.Background(), p.ReferenceNumber))

	stored := f.stored(t, p.ReferenceNumber)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, "sender account inactive", stored.Metadata[domain.MetaFailureReason])
}

func TestProcess_BlockedByRiskPolicy(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Ten small payments in the last half hour plus a 25x-average amount
	// to an unseen receiver pushes the score past the HIGH threshold.
	for i := 0; i < 10; i++ {
		prior := domain.NewPayment(domain.TypeIMPS, domain.MustAmount("2000.00", "INR"),
			domain.PaymentParty{AccountNumber: senderAccount, AccountName: "Holder"},
			domain.PaymentParty{AccountNumber: "99990000", AccountName: "Other"},
			"mobile", fmt.Sprintf("prior %d", i), nil)
		prior.InitiatedAt = time.Now().UTC().Add(-30 * time.Minute)
		prior.Status = domain.StatusCompleted
		require.NoError(t, f.repo.Save(ctx, prior))
	}

	p := sagaPayment(domain.TypeIMPS, "50000.00")
	f.initiate(t, p)
	require.NoError(t, f.orch.Process(ctx, p.ReferenceNumber))

	stored := f.stored(t, p.ReferenceNumber)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, "blocked by risk policy", stored.Metadata[domain.MetaFailureReason])
	require.NotNil(t, stored.FraudCheck)
	assert.Equal(t, domain.RiskHigh, stored.FraudCheck.RiskLevel)
	assert.True(t, f.accounts.Balance(senderAccount).Equal(decimal.NewFromInt(100000)))
}

func TestProcess_DebitFailure(t *testing.T) {
	f := newFixture()
	p := sagaPayment(domain.TypeIMPS, "5000.00")
	f.initiate(t, p)
	f.accounts.FailDebitRefs[p.ReferenceNumber] = true

	require.NoError(t, f.orch.Process(context.Background(), p.ReferenceNumber))

	stored := f.stored(t, p.ReferenceNumber)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Contains(t, stored.Metadata[domain.MetaFailureReason], "debit failed")
	assert.True(t, f.accounts.TotalBalance().Equal(decimal.NewFromInt(150000)))
	assert.True(t, f.accounts.Balance(senderAccount).Equal(decimal.NewFromInt(100000)))
}

func TestProcess_CreditFailureCompensatesSender(t *testing.T) {
	f := newFixture()
	p := sagaPayment(domain.TypeIMPS, "5000.00")
	f.initiate(t, p)
	f.accounts.FailCreditRefs[p.ReferenceNumber] = true

	require.NoError(t, f.orch.Process(context.Background(), p.ReferenceNumber))

	stored := f.stored(t, p.ReferenceNumber)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Contains(t, stored.Metadata[domain.MetaFailureReason], "credit failed")

	// The rollback credit lands under its own reference, restoring the
	// sender and leaving the receiver untouched.
	assert.True(t, f.accounts.Balance(senderAccount).Equal(decimal.NewFromInt(100000)))
	assert.True(t, f.accounts.Balance(receiverAccount).Equal(decimal.NewFromInt(50000)))
	assert.True(t, f.accounts.TotalBalance().Equal(decimal.NewFromInt(150000)))
}

func TestProcess_CompensationExhaustion(t *testing.T) {
	f := newFixture()
	p := sagaPayment(domain.TypeIMPS, "5000.00")
	f.initiate(t, p)
	f.accounts.FailCreditRefs[p.ReferenceNumber] = true
	f.accounts.FailCreditRefs[domain.CompensationRefPrefix+p.ReferenceNumber] = true

	err := f.orch.Process(context.Background(), p.ReferenceNumber)
	var cerr *domain.CompensationFailureError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, p.ReferenceNumber, cerr.Reference)
	assert.Equal(t, 3, cerr.Attempts)

	stored := f.stored(t, p.ReferenceNumber)
	assert.Equal(t, domain.StatusPendingExternal, stored.Status)
	assert.True(t, stored.NeedsManualReconciliation())
}

func TestProcess_InternalTransferSkipsGateway(t *testing.T) {
	f := newFixture()
	p := sagaPayment(domain.TypeInternalTransfer, "5000.00")
	f.initiate(t, p)

	require.NoError(t, f.orch.Process(context.Background(), p.ReferenceNumber))

	stored := f.stored(t, p.ReferenceNumber)
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Empty(t, stored.Metadata[domain.MetaExternalRef])
	assert.True(t, f.accounts.Balance(senderAccount).Equal(decimal.NewFromInt(95000)))
	assert.True(t, f.accounts.Balance(receiverAccount).Equal(decimal.NewFromInt(55000)))
}

func TestCancel(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := sagaPayment(domain.TypeIMPS, "5000.00")
	f.initiate(t, p)

	require.NoError(t, f.orch.Cancel(ctx, p.ReferenceNumber, "user request"))
	stored := f.stored(t, p.ReferenceNumber)
	assert.Equal(t, domain.StatusCancelled, stored.Status)
	assert.Contains(t, f.notifier.Notifications(), p.ReferenceNumber)

	// A settled payment can no longer be cancelled.
	done := sagaPayment(domain.TypeIMPS, "3000.00")
	f.initiate(t, done)
	require.NoError(t, f.orch.Process(ctx, done.ReferenceNumber))
	err := f.orch.Cancel(ctx, done.ReferenceNumber, "too late")
	var serr *domain.StateTransitionError
	assert.ErrorAs(t, err, &serr)
}

func TestRefund_FullRoundTrip(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	p := sagaPayment(domain.TypeIMPS, "5000.00")
	f.initiate(t, p)
	require.NoError(t, f.orch.Process(ctx, p.ReferenceNumber))

	refund, err := f.orch.Refund(ctx, p.ReferenceNumber, domain.MustAmount("5000.00", "INR"), "customer dispute")
	require.NoError(t, err)

	original := f.stored(t, p.ReferenceNumber)
	assert.Equal(t, domain.StatusRefunded, original.Status)
	assert.Equal(t, refund.ReferenceNumber, original.Metadata[domain.MetaRefundedBy])

	storedRefund := f.stored(t, refund.ReferenceNumber)
	assert.Equal(t, domain.StatusCompleted, storedRefund.Status)
	assert.Equal(t, p.ReferenceNumber, storedRefund.Metadata[domain.MetaRefundOf])

	// Money flows back: both parties end where they started.
	assert.True(t, f.accounts.Balance(senderAccount).Equal(decimal.NewFromInt(100000)))
	assert.True(t, f.accounts.Balance(receiverAccount).Equal(decimal.NewFromInt(50000)))
	assert.True(t, f.accounts.TotalBalance().Equal(decimal.NewFromInt(150000)))
}

func TestRefund_RejectsUnknownReference(t *testing.T) {
	f := newFixture()
	_, err := f.orch.Refund(context.Background(), "IMPS00000000000000XXXXXXXX", domain.MustAmount("100.00", "INR"), "dispute")
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}
