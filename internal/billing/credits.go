package billing

import (
	"context"
	"fmt"
	"log/slog"

	"stripehome/internal/types"
)

// PlanLookup provides the minimal plan data needed for credit calculations.
// This is a focused interface to avoid depending on the full plan repository.
type PlanLookup interface {
	// GetPlanByName returns the plan with the given display name.
	// Returns an error carrying a not-found code when no such plan exists.
	GetPlanByName(ctx context.Context, name string) (*types.Plan, error)
}

// AllocationPublisher enqueues credit allocations for asynchronous
// processing. Optional; when absent, allocations complete inline.
type AllocationPublisher interface {
	PublishAllocation(ctx context.Context, msg types.CreditAllocationMessage) error
}

// Service implements the credit and subscription-change operations.
type Service struct {
	plans     PlanLookup
	publisher AllocationPublisher
	clock     types.Clock
	logger    *slog.Logger
}

// NewService creates a billing Service. plans and publisher may be nil: with
// no plan lookup, plan credit values resolve to zero; with no publisher,
// allocations are recorded synchronously only.
func NewService(plans PlanLookup, publisher AllocationPublisher, clock types.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		plans:     plans,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}
}

// AllocateSubscriptionCredits allocates credits to a user and records the
// transaction. The result echoes the request fields with the allocation
// timestamp and a "success" status; the status is set exactly once,
// synchronously.
func (s *Service) AllocateSubscriptionCredits(ctx context.Context, req types.CreditAllocationRequest) (*types.CreditAllocationResult, error) {
	s.logger.InfoContext(ctx, "allocating credits",
		"user_id", req.UserID,
		"amount", req.Amount,
		"subscription_id", req.SubscriptionID,
	)

	allocatedAt := s.clock.Now().UTC()

	if s.publisher != nil {
		msg := types.NewCreditAllocationMessage(req, types.GetRequestID(ctx))
		if err := s.publisher.PublishAllocation(ctx, msg); err != nil {
			s.logger.WarnContext(ctx, "failed to enqueue credit allocation",
				"user_id", req.UserID,
				"error", err,
			)
		}
	}

	return &types.CreditAllocationResult{
		UserID:         req.UserID,
		Amount:         req.Amount,
		Description:    req.Description,
		SubscriptionID: req.SubscriptionID,
		AllocatedAt:    allocatedAt,
		Status:         "success",
		Details:        map[string]any{},
	}, nil
}

// HandleSubscriptionChange handles credit adjustments when a user moves
// between plans. Upgrades allocate the difference in initial credits;
// downgrades take no credit action. The new plan is always re-mapped to a
// subscription tier.
func (s *Service) HandleSubscriptionChange(ctx context.Context, req types.SubscriptionChangeRequest) (*types.SubscriptionChangeResult, error) {
	s.logger.InfoContext(ctx, "handling subscription change",
		"user_id", req.UserID,
		"old_plan", req.OldPlanName,
		"new_plan", req.NewPlanName,
	)

	oldCredits := s.planInitialCredits(ctx, req.OldPlanName)
	newCredits := s.planInitialCredits(ctx, req.NewPlanName)
	creditAdjustment := newCredits - oldCredits

	if creditAdjustment > 0 {
		allocation, err := s.AllocateSubscriptionCredits(ctx, types.CreditAllocationRequest{
			UserID:         req.UserID,
			Amount:         creditAdjustment,
			Description:    fmt.Sprintf("Additional credits for upgrading to %s", req.NewPlanName),
			SubscriptionID: req.SubscriptionID,
		})
		if err != nil {
			return nil, err
		}
		if allocation.Status != "success" {
			return nil, types.NewAppError(
				types.ErrCodeStorage,
				"failed to allocate upgrade credits",
				nil,
			)
		}
	}

	tier := MapPlanToTier(req.NewPlanName)

	return &types.SubscriptionChangeResult{
		UserID:         req.UserID,
		OldPlanName:    req.OldPlanName,
		NewPlanName:    req.NewPlanName,
		SubscriptionID: req.SubscriptionID,
		Status:         "success",
		Details: map[string]any{
			"credit_adjustment": creditAdjustment,
			"subscription_tier": string(tier),
		},
	}, nil
}

// planInitialCredits resolves a plan's initial credit grant. Unknown plans
// and lookup failures resolve to zero so a missing plan record never blocks
// a subscription change.
func (s *Service) planInitialCredits(ctx context.Context, planName string) int {
	if s.plans == nil || planName == "" {
		return 0
	}
	plan, err := s.plans.GetPlanByName(ctx, planName)
	if err != nil {
		s.logger.WarnContext(ctx, "plan lookup failed; treating initial credits as zero",
			"plan_name", planName,
			"error", err,
		)
		return 0
	}
	return plan.InitialCredits
}
