package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValidateShortID(t *testing.T) {
	cases := map[string]bool{
		"my-service":  true,
		"a":           true,
		"1abc":        true,
		"":            false,
		"-abc":        false,
		"abc_def":     false,
	}
	for id, ok := range cases {
		err := ValidateShortID(id)
		if ok {
			assert.NoError(t, err, id)
		} else {
			assert.Error(t, err, id)
		}
	}
}

func TestAccessModeCompatible(t *testing.T) {
	assert.True(t, AccessReadWriteMany.Compatible(AccessReadWriteOnce))
	assert.True(t, AccessReadWriteOnce.Compatible(AccessReadWriteOnce))
	assert.False(t, AccessReadWriteOnce.Compatible(AccessReadOnlyMany))
}

func TestSilenceActiveAndMatches(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &Silence{
		Matchers: map[string]string{"team": "gpu"},
		StartsAt: now.Add(-time.Hour),
		EndsAt:   now.Add(time.Hour),
	}
	assert.True(t, s.Active(now))
	assert.False(t, s.Active(now.Add(2*time.Hour)))
	assert.True(t, s.Matches(map[string]string{"team": "gpu", "extra": "x"}))
	assert.False(t, s.Matches(map[string]string{"team": "other"}))
}
