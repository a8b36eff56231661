package idempotency_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreledger/txcore/internal/pkg/idempotency"
)

func TestNormalizeCollapsesWhitespaceAndCase(t *testing.T) {
	a := idempotency.Normalize("abc-123")
	b := idempotency.Normalize("  ABC-123  ")
	require.NotNil(t, a)
	require.NotNil(t, b)
	assert.Equal(t, *a, *b)
}

func TestNormalizeEmptyAfterTrimReturnsNil(t *testing.T) {
	assert.Nil(t, idempotency.Normalize(""))
	assert.Nil(t, idempotency.Normalize("   "))
}
