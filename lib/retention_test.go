package shelvery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		s      string
		result int
	}{
		{"hourly", 3600},
		{"daily", 24 * 3600},
		{"weekly", 7 * 24 * 3600},
		{"3d", 3 * 24 * 3600},
		{"5w", 5 * 7 * 24 * 3600},
		{"7m", 7 * 30 * 24 * 3600},
		{"9y", 9 * 365 * 24 * 3600},
		{"11", 11},
		{" 60 ", 60},
	}

	for _, test := range tests {
		result, err := ParseInterval(test.s)
		require.NoError(t, err, test.s)
		assert.Equal(t, test.result, result, test.s)
	}

	for _, s := range []string{"", "d", "x1", "1x"} {
		_, err := ParseInterval(s)
		assert.Error(t, err, s)
	}
}

func TestParseCustomRetentionTypes(t *testing.T) {
	custom := ParseCustomRetentionTypes("shortLived:1, week:7d,broken,:5,bad:x,")
	assert.Equal(t, map[string]time.Duration{
		"shortLived": time.Second,
		"week":       7 * 24 * time.Hour,
	}, custom)
}

func TestIsStale(t *testing.T) {
	policy := RetentionPolicy{
		KeepDaily:   14,
		KeepWeekly:  8,
		KeepMonthly: 12,
		KeepYearly:  10,
		Custom:      map[string]time.Duration{"shortLived": time.Second},
	}
	t0 := date("2024-03-05 10:42")

	tests := []struct {
		rt     RetentionType
		expiry time.Time
	}{
		{RetentionDaily, t0.AddDate(0, 0, 14)},
		{RetentionWeekly, t0.AddDate(0, 0, 56)},
		{RetentionMonthly, t0.AddDate(0, 12, 0)},
		{RetentionYearly, t0.AddDate(10, 0, 0)},
		{"shortLived", t0.Add(time.Second)},
	}

	for _, test := range tests {
		r := &BackupRecord{DateCreated: t0, RetentionType: test.rt}
		assert.False(t, policy.IsStale(r, t0), test.rt)
		assert.False(t, policy.IsStale(r, test.expiry), test.rt)
		assert.True(t, policy.IsStale(r, test.expiry.Add(time.Second)), test.rt)
	}
}

func TestIsStaleKeepDaily(t *testing.T) {
	policy := RetentionPolicy{KeepDaily: 2}
	now := date("2024-03-05 10:42")

	assert.True(t, policy.IsStale(&BackupRecord{DateCreated: now.AddDate(0, 0, -3), RetentionType: RetentionDaily}, now))
	assert.False(t, policy.IsStale(&BackupRecord{DateCreated: now.AddDate(0, 0, -1), RetentionType: RetentionDaily}, now))
}

func TestIsStaleWithoutRetention(t *testing.T) {
	policy := RetentionPolicy{}
	now := date("2024-03-05 10:42")

	for _, rt := range []RetentionType{"", "unknownClass"} {
		r := &BackupRecord{DateCreated: now.AddDate(-50, 0, 0), RetentionType: rt}
		assert.False(t, policy.IsStale(r, now))
		assert.Equal(t, now.Add(MissingRetentionTTL), policy.ExpireDate(r, now))
	}
}

func TestValidateRetention(t *testing.T) {
	policy := RetentionPolicy{Custom: map[string]time.Duration{"shortLived": time.Second}}

	assert.NoError(t, policy.Validate(RetentionWeekly))
	assert.NoError(t, policy.Validate("shortLived"))
	assert.ErrorIs(t, policy.Validate("hourly"), ErrInvalidRetention)
}
