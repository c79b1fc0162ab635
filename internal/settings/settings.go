package settings

import (
	"context"
	"errors"
	"strconv"

	"atelier/internal/database"
	"atelier/internal/domain"

	"github.com/rs/zerolog"
)

// Setting keys stored in the settings table.
const (
	KeyMaxPlanRevisions         = "order_max_plan_revisions"
	KeyPlanDeadlineHours        = "order_plan_creation_deadline_hours"
	KeyCustomerApprovalRequired = "order_customer_approval_required"
	KeyAutoPlanEnabled          = "order_auto_plan_enabled"
	KeyQuoteValidityDays        = "booking_quote_validity_days"
)

var defaults = domain.WorkflowSettings{
	MaxPlanRevisions:         3,
	PlanDeadlineHours:        168,
	QuoteValidityDays:        7,
	CustomerApprovalRequired: true,
	AutoPlanEnabled:          false,
}

// Provider reads workflow policy from the settings table on every
// call, so an admin change takes effect on the next transition without
// a restart. Missing or unparsable values fall back to defaults.
type Provider struct {
	store  domain.SettingsStore
	logger *zerolog.Logger
}

func NewProvider(store domain.SettingsStore, logger *zerolog.Logger) *Provider {
	return &Provider{store: store, logger: logger}
}

func (p *Provider) Workflow(ctx context.Context) domain.WorkflowSettings {
	cfg := defaults
	cfg.MaxPlanRevisions = p.intSetting(ctx, KeyMaxPlanRevisions, defaults.MaxPlanRevisions)
	cfg.PlanDeadlineHours = p.intSetting(ctx, KeyPlanDeadlineHours, defaults.PlanDeadlineHours)
	cfg.QuoteValidityDays = p.intSetting(ctx, KeyQuoteValidityDays, defaults.QuoteValidityDays)
	cfg.CustomerApprovalRequired = p.boolSetting(ctx, KeyCustomerApprovalRequired, defaults.CustomerApprovalRequired)
	cfg.AutoPlanEnabled = p.boolSetting(ctx, KeyAutoPlanEnabled, defaults.AutoPlanEnabled)
	return cfg
}

func (p *Provider) intSetting(ctx context.Context, key string, fallback int) int {
	raw, err := p.store.GetSetting(ctx, key)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			p.logger.Error().Err(err).Str("key", key).Msg("failed to read setting")
		}
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		p.logger.Warn().Str("key", key).Str("value", raw).Msg("invalid setting value, using default")
		return fallback
	}
	return v
}

func (p *Provider) boolSetting(ctx context.Context, key string, fallback bool) bool {
	raw, err := p.store.GetSetting(ctx, key)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			p.logger.Error().Err(err).Str("key", key).Msg("failed to read setting")
		}
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		p.logger.Warn().Str("key", key).Str("value", raw).Msg("invalid setting value, using default")
		return fallback
	}
	return v
}
