package data

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetadataMatcherEmptyExpression(t *testing.T) {
	m, err := newMetadataMatcher("   ")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.True(t, m.Match(json.RawMessage(`{"anything":"goes"}`)))
}

func TestNewMetadataMatcherInvalidExpression(t *testing.T) {
	_, err := newMetadataMatcher("trigger ==")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile metadata filter")
}

func TestMetadataMatcherMatch(t *testing.T) {
	m, err := newMetadataMatcher(`trigger == 'scheduled'`)
	require.NoError(t, err)

	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{name: "matching trigger", raw: `{"trigger":"scheduled"}`, want: true},
		{name: "other trigger", raw: `{"trigger":"manual"}`, want: false},
		{name: "missing key", raw: `{}`, want: false},
		{name: "empty metadata", raw: ``, want: false},
		{name: "broken metadata", raw: `{oops`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Match(json.RawMessage(tt.raw)))
		})
	}
}

func TestMetadataMatcherTruthiness(t *testing.T) {
	m, err := newMetadataMatcher(`items`)
	require.NoError(t, err)

	assert.True(t, m.Match(json.RawMessage(`{"items":["a"]}`)))
	assert.False(t, m.Match(json.RawMessage(`{"items":[]}`)))
	assert.False(t, m.Match(json.RawMessage(`{"items":""}`)))
	assert.True(t, m.Match(json.RawMessage(`{"items":42}`)))
}
