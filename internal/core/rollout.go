package core

import (
	"crypto/sha256"
	"encoding/json"
	"math/big"
)

// TargetFilter is the decoded shape of RolloutPolicy.TargetFilter. Which
// field is meaningful depends on the policy's target mode.
type TargetFilter struct {
	DeviceIDs []string `json:"device_ids"`
	Groups    []string `json:"groups"`
}

// IsEligible decides whether a device may receive the firmware a policy
// governs. It is pure and total: the verdict depends only on the arguments,
// and unrecognized modes or malformed filters fail closed.
//
// deviceGroups is the device's current group-tag set, looked up by the
// caller; it is only consulted for group-mode policies.
func IsEligible(deviceID string, policy *RolloutPolicy, deviceGroups []string) bool {
	switch policy.TargetMode {
	case TargetModeAll, TargetModeCanary:
		// Canary is percentage gating under a different operator label.
		return PercentageMatch(deviceID, policy.RolloutPercentage)

	case TargetModeSpecific:
		filter, ok := decodeTargetFilter(policy.TargetFilter)
		if !ok {
			return false
		}
		for _, id := range filter.DeviceIDs {
			if id == deviceID {
				return true
			}
		}
		return false

	case TargetModeGroup:
		filter, ok := decodeTargetFilter(policy.TargetFilter)
		if !ok || len(filter.Groups) == 0 || len(deviceGroups) == 0 {
			return false
		}
		if !groupsIntersect(deviceGroups, filter.Groups) {
			return false
		}
		// Group targeting and percentage gating compose.
		return PercentageMatch(deviceID, policy.RolloutPercentage)
	}

	return false
}

// PercentageMatch reports whether a device falls inside the rollout
// percentage. The device identifier is hashed with SHA-256 and reduced
// modulo 100, so a device lands in the same percentile bucket on every
// evaluation and every device eligible at pct=p stays eligible at pct>p.
func PercentageMatch(deviceID string, percentage int) bool {
	if percentage >= 100 {
		return true
	}
	if percentage <= 0 {
		return false
	}

	digest := sha256.Sum256([]byte(deviceID))
	bucket := new(big.Int).SetBytes(digest[:])
	bucket.Mod(bucket, big.NewInt(100))
	return bucket.Int64() < int64(percentage)
}

func decodeTargetFilter(raw json.RawMessage) (*TargetFilter, bool) {
	if len(raw) == 0 {
		return nil, false
	}
	var filter TargetFilter
	if err := json.Unmarshal(raw, &filter); err != nil {
		return nil, false
	}
	return &filter, true
}

func groupsIntersect(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, g := range a {
		set[g] = true
	}
	for _, g := range b {
		if set[g] {
			return true
		}
	}
	return false
}
