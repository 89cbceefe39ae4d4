package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/go-callqa/internal/domain"
)

func TestFallbacksAreValidResults(t *testing.T) {
	for _, shape := range []string{
		domain.ShapeClassification, domain.ShapeScriptAdherence,
		domain.ShapeCompliance, domain.ShapeCommunication,
	} {
		t.Run(shape, func(t *testing.T) {
			r, err := domain.FallbackFor(shape)
			require.NoError(t, err)
			assert.Equal(t, shape, r.ShapeName())
			assert.NoError(t, r.Validate())
		})
	}
}

func TestFallbackMarkers(t *testing.T) {
	r, err := domain.FallbackFor(domain.ShapeCompliance)
	require.NoError(t, err)
	c := r.(*domain.Compliance)
	assert.Equal(t, []string{domain.ManualReviewMarker}, c.Summary.Violations)

	r, err = domain.FallbackFor(domain.ShapeCommunication)
	require.NoError(t, err)
	comm := r.(*domain.Communication)
	assert.Equal(t, []string{domain.ManualEvaluationMarker}, comm.Summary.Missed)
}

func TestFallbackUnknownShape(t *testing.T) {
	_, err := domain.FallbackFor(domain.ShapeDeepDive)
	assert.ErrorIs(t, err, domain.ErrUnknownShape)
}
