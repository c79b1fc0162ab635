package settings

import (
	"context"
	"io"
	"os"
	"testing"

	"atelier/internal/database"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupProvider(t *testing.T) (*database.DB, *Provider) {
	logger := zerolog.New(os.Stdout)
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	quiet := zerolog.New(io.Discard)
	return db, NewProvider(db, &quiet)
}

func TestWorkflowDefaults(t *testing.T) {
	_, provider := setupProvider(t)

	cfg := provider.Workflow(context.Background())
	assert.Equal(t, 3, cfg.MaxPlanRevisions)
	assert.Equal(t, 168, cfg.PlanDeadlineHours)
	assert.Equal(t, 7, cfg.QuoteValidityDays)
	assert.True(t, cfg.CustomerApprovalRequired)
	assert.False(t, cfg.AutoPlanEnabled)
}

func TestWorkflowOverrides(t *testing.T) {
	db, provider := setupProvider(t)
	ctx := context.Background()

	require.NoError(t, db.SetSetting(ctx, KeyMaxPlanRevisions, "5"))
	require.NoError(t, db.SetSetting(ctx, KeyAutoPlanEnabled, "true"))
	require.NoError(t, db.SetSetting(ctx, KeyCustomerApprovalRequired, "false"))

	cfg := provider.Workflow(ctx)
	assert.Equal(t, 5, cfg.MaxPlanRevisions)
	assert.True(t, cfg.AutoPlanEnabled)
	assert.False(t, cfg.CustomerApprovalRequired)
}

func TestWorkflowInvalidValuesFallBack(t *testing.T) {
	db, provider := setupProvider(t)
	ctx := context.Background()

	require.NoError(t, db.SetSetting(ctx, KeyMaxPlanRevisions, "zero"))
	require.NoError(t, db.SetSetting(ctx, KeyPlanDeadlineHours, "-4"))
	require.NoError(t, db.SetSetting(ctx, KeyAutoPlanEnabled, "maybe"))

	cfg := provider.Workflow(ctx)
	assert.Equal(t, 3, cfg.MaxPlanRevisions)
	assert.Equal(t, 168, cfg.PlanDeadlineHours)
	assert.False(t, cfg.AutoPlanEnabled)
}
