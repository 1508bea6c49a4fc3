package service

import (
	"context"
	"encoding/json"

	"github.com/glennhaavar-prog/ai-erp-sub003/internal/logger"
	"github.com/glennhaavar-prog/ai-erp-sub003/internal/repository"
)

// learningResult is the task result of a pattern-synthesis run.
type learningResult struct {
	PatternIDs []string `json:"pattern_ids"`
}

// LearningCapability runs pattern synthesis over the tenant's unconsumed
// corrections. It is triggered by correction.recorded events; running it with
// no group ready is a successful no-op.
type LearningCapability struct {
	patterns *PatternService
	log      *logger.Logger
}

func NewLearningCapability(patterns *PatternService, log *logger.Logger) *LearningCapability {
	return &LearningCapability{patterns: patterns, log: log}
}

func (c *LearningCapability) Name() repository.Capability {
	return repository.CapabilityLearning
}

func (c *LearningCapability) Execute(ctx context.Context, task *repository.Task) (json.RawMessage, error) {
	patternIDs, err := c.patterns.SynthesizeForTenant(ctx, task.TenantID)
	if err != nil {
		return nil, err
	}

	if len(patternIDs) > 0 {
		c.log.Info().
			Str("task_id", task.ID).
			Strs("pattern_ids", patternIDs).
			Msg("Patterns synthesized from corrections")
	}

	return mustJSON(learningResult{PatternIDs: patternIDs}), nil
}
