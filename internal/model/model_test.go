package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"corpusd/internal/model"
)

func TestCanTransitionDocumentAdvancesOnly(t *testing.T) {
	assert.True(t, model.CanTransitionDocument(model.DocumentPending, model.DocumentExtracting))
	assert.True(t, model.CanTransitionDocument(model.DocumentPending, model.DocumentCompleted))
	assert.False(t, model.CanTransitionDocument(model.DocumentExtracting, model.DocumentPending))
	assert.False(t, model.CanTransitionDocument(model.DocumentCompleted, model.DocumentChunking))
}

func TestCanTransitionDocumentToFailedFromAnyNonTerminal(t *testing.T) {
	assert.True(t, model.CanTransitionDocument(model.DocumentPending, model.DocumentFailed))
	assert.True(t, model.CanTransitionDocument(model.DocumentEmbedding, model.DocumentFailed))
	assert.False(t, model.CanTransitionDocument(model.DocumentCompleted, model.DocumentFailed))
	assert.False(t, model.CanTransitionDocument(model.DocumentFailed, model.DocumentFailed))
}
