package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, 10*time.Minute, cfg.Batch.HoldTime)
	assert.Equal(t, 10000, cfg.Batch.MaxTransactions)
	assert.Len(t, cfg.Batch.CutoffSlots, 12)

	assert.Equal(t, "500000", cfg.Limits.DailyCeiling.String())
	assert.Equal(t, "5000000", cfg.Limits.MonthlyCeiling.String())
	assert.Equal(t, "200000", cfg.Limits.PerType["RTGS"].Min.String())
	assert.Contains(t, cfg.Limits.AllowedAccountTypes, "SAVINGS")
	assert.Contains(t, cfg.Limits.RTGSPurposeCodes, "CORP")

	assert.Equal(t, 30*time.Second, cfg.Gateway.Timeout)
	assert.Equal(t, 3, cfg.Gateway.MaxRetries)
	assert.Equal(t, 5, cfg.Compensation.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Compensation.BackoffBase)

	assert.Equal(t, 80, cfg.Fraud.HighThreshold)
	assert.Equal(t, 50, cfg.Fraud.MediumThreshold)
	assert.Equal(t, 80, cfg.Fraud.FailThreshold)

	assert.Equal(t, time.Hour, cfg.Reconciliation.GracePeriod)
	assert.Equal(t, 7*24*time.Hour, cfg.Reconciliation.AbandonAfter)
	assert.EqualValues(t, 5, cfg.Reconciliation.AbnormalMultiplier)
	assert.Equal(t, 5*time.Minute, cfg.Reconciliation.TestFollowWindow)
}

func TestParseSlots(t *testing.T) {
	slots, err := ParseSlots("10:30, 08:00,19:00")
	require.NoError(t, err)
	require.Len(t, slots, 3)
	// Sorted ascending regardless of input order.
	assert.Equal(t, Slot{Hour: 8, Minute: 0}, slots[0])
	assert.Equal(t, Slot{Hour: 10, Minute: 30}, slots[1])
	assert.Equal(t, Slot{Hour: 19, Minute: 0}, slots[2])
}

func TestParseSlots_Invalid(t *testing.T) {
	_, err := ParseSlots("")
	assert.Error(t, err)

	_, err = ParseSlots("25:00")
	assert.Error(t, err)

	_, err = ParseSlots("aa:bb")
	assert.Error(t, err)
}
