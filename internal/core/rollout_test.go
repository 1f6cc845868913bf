package core

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentageMatchBoundaries(t *testing.T) {
	assert.True(t, PercentageMatch("any-device", 100))
	assert.True(t, PercentageMatch("any-device", 150))
	assert.False(t, PercentageMatch("any-device", 0))
	assert.False(t, PercentageMatch("any-device", -5))
}

func TestPercentageMatchDeterministic(t *testing.T) {
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("device-%03d", i)
		first := PercentageMatch(id, 50)
		for j := 0; j < 5; j++ {
			assert.Equal(t, first, PercentageMatch(id, 50), "result must not change between calls for %s", id)
		}
	}
}

// A device admitted at percentage p stays admitted at every q > p.
func TestPercentageMatchMonotonic(t *testing.T) {
	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("sensor-%d", i)
		admitted := false
		for pct := 0; pct <= 100; pct += 5 {
			match := PercentageMatch(id, pct)
			if admitted {
				assert.True(t, match, "device %s dropped out at %d%%", id, pct)
			}
			admitted = admitted || match
		}
		assert.True(t, admitted, "device %s never admitted even at 100%%", id)
	}
}

func TestPercentageMatchDistribution(t *testing.T) {
	const n = 2000
	matched := 0
	for i := 0; i < n; i++ {
		if PercentageMatch(fmt.Sprintf("fleet-device-%d", i), 50) {
			matched++
		}
	}
	// sha256 bucketing should land near 50%; allow a generous band.
	assert.Greater(t, matched, n*40/100)
	assert.Less(t, matched, n*60/100)
}

func mustFilter(t *testing.T, f TargetFilter) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(f)
	assert.NoError(t, err)
	return raw
}

func TestIsEligibleAllMode(t *testing.T) {
	policy := &RolloutPolicy{TargetMode: TargetModeAll, RolloutPercentage: 100}
	assert.True(t, IsEligible("device-1", policy, nil))

	policy.RolloutPercentage = 0
	assert.False(t, IsEligible("device-1", policy, nil))
}

func TestIsEligibleCanaryMatchesAll(t *testing.T) {
	all := &RolloutPolicy{TargetMode: TargetModeAll, RolloutPercentage: 30}
	canary := &RolloutPolicy{TargetMode: TargetModeCanary, RolloutPercentage: 30}
	for i := 0; i < 40; i++ {
		id := fmt.Sprintf("node-%d", i)
		assert.Equal(t, IsEligible(id, all, nil), IsEligible(id, canary, nil))
	}
}

func TestIsEligibleSpecificMode(t *testing.T) {
	policy := &RolloutPolicy{
		TargetMode:        TargetModeSpecific,
		RolloutPercentage: 100,
		TargetFilter:      mustFilter(t, TargetFilter{DeviceIDs: []string{"device-a", "device-b"}}),
	}
	assert.True(t, IsEligible("device-a", policy, nil))
	assert.True(t, IsEligible("device-b", policy, nil))
	assert.False(t, IsEligible("device-c", policy, nil))
}

func TestIsEligibleSpecificModeFailsClosed(t *testing.T) {
	// No filter at all.
	policy := &RolloutPolicy{TargetMode: TargetModeSpecific, RolloutPercentage: 100}
	assert.False(t, IsEligible("device-a", policy, nil))

	// Malformed filter JSON.
	policy.TargetFilter = json.RawMessage(`{"device_ids": "not-a-list"`)
	assert.False(t, IsEligible("device-a", policy, nil))
}

func TestIsEligibleGroupMode(t *testing.T) {
	policy := &RolloutPolicy{
		TargetMode:        TargetModeGroup,
		RolloutPercentage: 100,
		TargetFilter:      mustFilter(t, TargetFilter{Groups: []string{"beta", "staging"}}),
	}

	assert.True(t, IsEligible("device-a", policy, []string{"beta"}))
	assert.True(t, IsEligible("device-a", policy, []string{"prod", "staging"}))
	assert.False(t, IsEligible("device-a", policy, []string{"prod"}))
	assert.False(t, IsEligible("device-a", policy, nil))
}

// Group mode composes with the percentage gate rather than replacing it.
func TestIsEligibleGroupModeHonorsPercentage(t *testing.T) {
	policy := &RolloutPolicy{
		TargetMode:        TargetModeGroup,
		RolloutPercentage: 0,
		TargetFilter:      mustFilter(t, TargetFilter{Groups: []string{"beta"}}),
	}
	assert.False(t, IsEligible("device-a", policy, []string{"beta"}))
}

func TestIsEligibleUnknownMode(t *testing.T) {
	policy := &RolloutPolicy{TargetMode: "regional", RolloutPercentage: 100}
	assert.False(t, IsEligible("device-a", policy, nil))
}
