package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoDiscoverIsIdempotent(t *testing.T) {
	r := New()
	first := r.AutoDiscover()
	assert.Greater(t, first, 0)

	second := r.AutoDiscover()
	assert.Equal(t, first, second)
	assert.True(t, r.discoveryAttempted)
}

func TestGetAndCategories(t *testing.T) {
	r := New()
	r.AutoDiscover()

	twpa := r.Get("TWPA")
	require.NotNil(t, twpa)
	assert.Equal(t, "TWPA", twpa.IndicatorType())

	assert.Nil(t, r.Get("NOT_A_REAL_TYPE"))
	assert.NotEmpty(t, r.Categories())
	assert.NotEmpty(t, r.ListByCategory("momentum"))
}
