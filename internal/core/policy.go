package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var validTargetModes = map[string]bool{
	TargetModeAll:      true,
	TargetModeCanary:   true,
	TargetModeSpecific: true,
	TargetModeGroup:    true,
}

// RolloutPolicyService manages rollout policies. Selection is
// last-writer-wins: of all active policies for a (version, model) pair the
// most recently created one governs.
type RolloutPolicyService struct {
	store  Repository
	audit  *AuditRecorder
	logger *logrus.Logger
}

func NewRolloutPolicyService(store Repository, audit *AuditRecorder, logger *logrus.Logger) *RolloutPolicyService {
	return &RolloutPolicyService{
		store:  store,
		audit:  audit,
		logger: logger,
	}
}

// Create validates and stores a new rollout policy.
func (s *RolloutPolicyService) Create(ctx context.Context, policy *RolloutPolicy) error {
	if policy.Name == "" {
		return BusinessError{"ROLLOUT_001", "policy name is required"}
	}
	if !validTargetModes[policy.TargetMode] {
		return BusinessError{"ROLLOUT_002", fmt.Sprintf("unknown target mode %q", policy.TargetMode)}
	}
	if policy.RolloutPercentage < 0 || policy.RolloutPercentage > 100 {
		return BusinessError{"ROLLOUT_003", "rollout percentage must be between 0 and 100"}
	}
	if policy.CreatedBy == "" {
		policy.CreatedBy = "admin"
	}

	if err := s.store.CreatePolicy(ctx, policy); err != nil {
		return fmt.Errorf("failed to create rollout policy: %w", err)
	}

	s.audit.Record(ctx, EventRolloutCreated, "", policy.FirmwareVersion, map[string]interface{}{
		"name":               policy.Name,
		"target_mode":        policy.TargetMode,
		"rollout_percentage": policy.RolloutPercentage,
	})

	s.logger.WithFields(logrus.Fields{
		"name":    policy.Name,
		"version": policy.FirmwareVersion,
		"mode":    policy.TargetMode,
	}).Info("Rollout policy created")

	return nil
}

// ActiveFor returns the governing policy for a firmware version and device
// model, or ErrPolicyNotFound when no active policy exists.
func (s *RolloutPolicyService) ActiveFor(ctx context.Context, firmwareVersion, deviceModel string) (*RolloutPolicy, error) {
	policy, err := s.store.GetActivePolicy(ctx, firmwareVersion, deviceModel)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, err
	}
	return policy, nil
}

// List returns policies, newest first.
func (s *RolloutPolicyService) List(ctx context.Context, limit int) ([]*RolloutPolicy, error) {
	return s.store.ListPolicies(ctx, limit)
}
