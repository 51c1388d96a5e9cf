package model

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTempoResponseJSON(t *testing.T) {
	tests := []struct {
		tempo float64
		want  string
	}{
		{124, `{"tempo":124.0}`},
		{123.77, `{"tempo":123.77}`},
		{0, `{"tempo":0.0}`},
	}
	for _, tc := range tests {
		data, err := json.Marshal(TempoResponse{Tempo: tc.tempo})
		require.NoError(t, err)
		assert.Equal(t, tc.want, string(data))

		var back TempoResponse
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, tc.tempo, back.Tempo)
	}

	_, err := json.Marshal(TempoResponse{Tempo: math.NaN()})
	assert.Error(t, err)
}

func TestBundleKeepsFloatTempo(t *testing.T) {
	data, err := json.Marshal(AnalysisBundle{
		Tempo:     &TempoResponse{Tempo: 90},
		LoopTempo: &LoopTempoResponse{Tempo: 120, Beats: 8},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tempo":{"tempo":90},"loopTempo":{"tempo":120,"beats":8}}`, string(data))
	assert.Contains(t, string(data), `"tempo":{"tempo":90.0}`)
	assert.Contains(t, string(data), `{"tempo":120.0,"beats":8.0}`)
}
