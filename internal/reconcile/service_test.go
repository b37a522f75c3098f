package reconcile

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"paycore/internal/config"
	"paycore/internal/domain"
	"paycore/internal/gateway"
	"paycore/internal/notify"
	"paycore/internal/repository"
)

var asOf = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func testReconConfig() config.Reconciliation {
	return config.Reconciliation{
		GracePeriod:        time.Hour,
		AbandonAfter:       168 * time.Hour,
		AbnormalMultiplier: 5,
		AbnormalFloor:      decimal.NewFromInt(10000),
		VelocityCount:      20,
		FailureCount:       5,
		TestAmountCeiling:  decimal.NewFromInt(100),
		LargeAmountFloor:   decimal.NewFromInt(5000),
		TestFollowWindow:   5 * time.Minute,
	}
}

type fixture struct {
	repo     *repository.Memory
	gw       *gateway.MockGateway
	notifier *notify.Recorder
	svc      *Service
}

func newFixture() *fixture {
	repo := repository.NewMemory()
	gw := gateway.NewMockGateway()
	gw.FailureRate = 0
	gw.MaxDelay = 0
	notifier := notify.NewRecorder()
	return &fixture{
		repo:     repo,
		gw:       gw,
		notifier: notifier,
		svc:      NewService(repo, gw, notifier, testReconConfig(), zap.NewNop()),
	}
}

func (f *fixture) seed(t *testing.T, sender, amount string, status domain.Status, initiatedAt time.Time) *domain.Payment {
	t.Helper()
	p := domain.NewPayment(domain.TypeIMPS, domain.MustAmount(amount, "INR"),
		domain.PaymentParty{AccountNumber: sender, AccountName: "Sender"},
		domain.PaymentParty{AccountNumber: "88880000", AccountName: "Receiver"},
		"mobile", "seeded", nil)
	p.Status = status
	p.InitiatedAt = initiatedAt
	require.NoError(t, f.repo.Save(context.Background(), p))
	return p
}

func (f *fixture) stored(t *testing.T, reference string) *domain.Payment {
	t.Helper()
	p, err := f.repo.FindByReference(context.Background(), reference)
	require.NoError(t, err)
	return p
}

func TestRun_ForceFailsAbandonedPayment(t *testing.T) {
	f := newFixture()
	p := f.seed(t, "10000001", "2500.00", domain.StatusPendingExternal, asOf.Add(-8*24*time.Hour))

	report, err := f.svc.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.ForcedFailures)
	assert.Equal(t, 1, report.Resolved)

	stored := f.stored(t, p.ReferenceNumber)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, "reconciliation timeout", stored.Metadata[domain.MetaFailureReason])
	assert.Contains(t, f.notifier.Notifications(), p.ReferenceNumber)
}

func TestRun_ResolvesAgainstGateway(t *testing.T) {
	f := newFixture()
	completed := f.seed(t, "10000001", "2500.00", domain.StatusPendingExternal, asOf.Add(-2*time.Hour))
	returned := f.seed(t, "10000002", "1500.00", domain.StatusPendingExternal, asOf.Add(-2*time.Hour))
	failed := f.seed(t, "10000003", "1200.00", domain.StatusPendingExternal, asOf.Add(-2*time.Hour))
	f.gw.SetStatus(completed.ReferenceNumber, gateway.VerifyCompleted)
	f.gw.SetStatus(returned.ReferenceNumber, gateway.VerifyReturned)
	f.gw.SetStatus(failed.ReferenceNumber, gateway.VerifyFailed)

	report, err := f.svc.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 3, report.Resolved)
	assert.Equal(t, 0, report.ForcedFailures)

	assert.Equal(t, domain.StatusCompleted, f.stored(t, completed.ReferenceNumber).Status)
	assert.Equal(t, domain.StatusReturned, f.stored(t, returned.ReferenceNumber).Status)
	failedStored := f.stored(t, failed.ReferenceNumber)
	assert.Equal(t, domain.StatusFailed, failedStored.Status)
	assert.Equal(t, "gateway reported failure", failedStored.Metadata[domain.MetaFailureReason])
}

func TestRun_LeavesUnknownAndRecentAlone(t *testing.T) {
	f := newFixture()
	// Within the grace period: not even checked.
	recent := f.seed(t, "10000001", "2500.00", domain.StatusPendingExternal, asOf.Add(-30*time.Minute))
	// Stuck but unknown at the gateway: checked, left for the abandon window.
	unknown := f.seed(t, "10000002", "1500.00", domain.StatusPendingExternal, asOf.Add(-2*time.Hour))

	report, err := f.svc.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 0, report.Resolved)

	assert.Equal(t, domain.StatusPendingExternal, f.stored(t, recent.ReferenceNumber).Status)
	assert.Equal(t, domain.StatusPendingExternal, f.stored(t, unknown.ReferenceNumber).Status)
}

func TestRun_SkipsManualReconciliationQueue(t *testing.T) {
	f := newFixture()
	p := domain.NewPayment(domain.TypeIMPS, domain.MustAmount("2500.00", "INR"),
		domain.PaymentParty{AccountNumber: "10000001", AccountName: "Sender"},
		domain.PaymentParty{AccountNumber: "88880000", AccountName: "Receiver"},
		"mobile", "stuck", nil)
	p.Status = domain.StatusPendingExternal
	p.InitiatedAt = asOf.Add(-2 * time.Hour)
	p.MarkManualReconciliation("compensation failed")
	require.NoError(t, f.repo.Save(context.Background(), p))
	f.gw.SetStatus(p.ReferenceNumber, gateway.VerifyCompleted)

	report, err := f.svc.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 0, report.Resolved)
	assert.Equal(t, domain.StatusPendingExternal, f.stored(t, p.ReferenceNumber).Status)
}

func TestRun_FlagsAbnormalAmount(t *testing.T) {
	f := newFixture()
	for i := 0; i < 9; i++ {
		f.seed(t, fmt.Sprintf("2000000%d", i), "500.00", domain.StatusCompleted, asOf.Add(-3*time.Hour))
	}
	big := f.seed(t, "30000000", "50000.00", domain.StatusCompleted, asOf.Add(-3*time.Hour))

	report, err := f.svc.Run(context.Background(), asOf)
	require.NoError(t, err)

	assert.Equal(t, []string{big.ReferenceNumber}, report.Abnormal)
	assert.Equal(t, 10, report.Summary[domain.StatusCompleted].Count)

	alerts := f.notifier.AlertsOfKind(notify.AlertAbnormalAmount)
	require.Len(t, alerts, 1)
	assert.Equal(t, big.ReferenceNumber, alerts[0].Reference)
	assert.Len(t, f.notifier.AlertsOfKind(notify.AlertReconciliationStat), 1)
}

func TestRun_FlagsHighVelocitySender(t *testing.T) {
	f := newFixture()
	for i := 0; i < 21; i++ {
		f.seed(t, "40000000", "200.00", domain.StatusCompleted, asOf.Add(-time.Duration(i+1)*time.Minute))
	}

	_, err := f.svc.Run(context.Background(), asOf)
	require.NoError(t, err)

	alerts := f.notifier.AlertsOfKind(notify.AlertHighVelocity)
	require.Len(t, alerts, 1)
	assert.Equal(t, "40000000", alerts[0].Account)
}

func TestRun_FlagsRepeatedFailures(t *testing.T) {
	f := newFixture()
	for i := 0; i < 5; i++ {
		f.seed(t, "50000000", "900.00", domain.StatusFailed, asOf.Add(-time.Duration(i+1)*time.Hour))
	}

	_, err := f.svc.Run(context.Background(), asOf)
	require.NoError(t, err)

	alerts := f.notifier.AlertsOfKind(notify.AlertRepeatedFailures)
	require.Len(t, alerts, 1)
	assert.Equal(t, "50000000", alerts[0].Account)
}

func TestRun_FlagsTestThenLarge(t *testing.T) {
	f := newFixture()
	probe := f.seed(t, "60000000", "50.00", domain.StatusCompleted, asOf.Add(-10*time.Minute))
	follow := f.seed(t, "60000000", "6000.00", domain.StatusInitiated, asOf.Add(-7*time.Minute))

	_, err := f.svc.Run(context.Background(), asOf)
	require.NoError(t, err)

	alerts := f.notifier.AlertsOfKind(notify.AlertTestThenLarge)
	require.Len(t, alerts, 1)
	assert.Equal(t, follow.ReferenceNumber, alerts[0].Reference)
	assert.Equal(t, probe.ReferenceNumber, alerts[0].Fields["probe_reference"])
}

func TestRun_NoTestThenLargeForNewSender(t *testing.T) {
	f := newFixture()
	// Same pattern, but the sender has never completed a payment.
	f.seed(t, "70000000", "50.00", domain.StatusFailed, asOf.Add(-10*time.Minute))
	f.seed(t, "70000000", "6000.00", domain.StatusInitiated, asOf.Add(-7*time.Minute))

	_, err := f.svc.Run(context.Background(), asOf)
	require.NoError(t, err)
	assert.Empty(t, f.notifier.AlertsOfKind(notify.AlertTestThenLarge))
}
