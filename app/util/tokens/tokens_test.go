package tokens

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountGrowsWithContent(t *testing.T) {
	estimator := NewEstimator()

	short := estimator.Count("привет")
	long := estimator.Count(strings.Repeat("привет, как дела? ", 100))

	assert.Positive(t, short)
	assert.Greater(t, long, short)
}

func TestCountEmpty(t *testing.T) {
	estimator := NewEstimator()

	assert.GreaterOrEqual(t, estimator.Count(""), 0)
}
