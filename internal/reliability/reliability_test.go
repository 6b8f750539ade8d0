package reliability

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr(f float64) *float64 { return &f }

func TestCalibrationMultiplier_NilScoreIsNeutral(t *testing.T) {
	assert.Equal(t, 1.0, CalibrationMultiplier(Rating{}, nil))
}

func TestCalibrationMultiplier_ErrorIsNeutral(t *testing.T) {
	assert.Equal(t, 1.0, CalibrationMultiplier(Rating{Score: ptr(0.2)}, errors.New("evaluator unavailable")))
}

func TestCalibrationMultiplier_ClampsToUnitInterval(t *testing.T) {
	assert.Equal(t, 0.0, CalibrationMultiplier(Rating{Score: ptr(-0.5)}, nil))
	assert.Equal(t, 1.0, CalibrationMultiplier(Rating{Score: ptr(1.5)}, nil))
	assert.Equal(t, 0.7, CalibrationMultiplier(Rating{Score: ptr(0.7)}, nil))
}
