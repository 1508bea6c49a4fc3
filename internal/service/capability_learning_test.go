package service

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/logger"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
)

func learningTask() *repository.Task {
	return &repository.Task{
		ID:         "task-1",
		TenantID:   "tenant-1",
		Capability: repository.CapabilityLearning,
		TaskType:   "synthesize_patterns",
		Payload:    json.RawMessage(`{"correction_id":"correction-3"}`),
	}
}

func TestLearningSynthesizesReadyGroups(t *testing.T) {
	f := newPatternFixture()
	capability := NewLearningCapability(f.svc, logger.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		addCorrection(t, f, "Acme AS", "6810")
	}

	raw, err := capability.Execute(ctx, learningTask())
	require.NoError(t, err)

	var result learningResult
	require.NoError(t, json.Unmarshal(raw, &result))
	require.Len(t, result.PatternIDs, 1)

	pattern, err := f.patterns.FindByTriggerCounterparty(ctx, "Acme AS")
	require.NoError(t, err)
	require.NotNil(t, pattern)
	assert.Equal(t, result.PatternIDs[0], pattern.ID)
}

func TestLearningNoOpWhenNoGroupReady(t *testing.T) {
	f := newPatternFixture()
	capability := NewLearningCapability(f.svc, logger.Nop())

	addCorrection(t, f, "Acme AS", "6810")

	raw, err := capability.Execute(context.Background(), learningTask())
	require.NoError(t, err)

	var result learningResult
	require.NoError(t, json.Unmarshal(raw, &result))
	assert.Empty(t, result.PatternIDs)
	assert.Empty(t, f.patterns.patterns)
}
