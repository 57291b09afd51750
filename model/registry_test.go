package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryValidation(t *testing.T) {
	tests := []struct {
		name    string
		models  []ImageModel
		wantErr string
	}{
		{
			name:    "missing logical name",
			models:  []ImageModel{{RemotePath: "a/b"}},
			wantErr: "logical name",
		},
		{
			name:    "missing remote path",
			models:  []ImageModel{{LogicalName: "m"}},
			wantErr: "remote path",
		},
		{
			name: "duplicate",
			models: []ImageModel{
				{LogicalName: "m", RemotePath: "a/b"},
				{LogicalName: "m", RemotePath: "c/d"},
			},
			wantErr: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.models, ReasoningModels{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCandidateOrderPreserved(t *testing.T) {
	r, err := NewRegistry([]ImageModel{
		{LogicalName: "c", RemotePath: "x/c"},
		{LogicalName: "a", RemotePath: "x/a"},
		{LogicalName: "b", RemotePath: "x/b"},
	}, ReasoningModels{})
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a", "b"}, r.CandidateNames())
}

func TestSupports(t *testing.T) {
	m := ImageModel{
		LogicalName:      "m",
		RemotePath:       "x/m",
		SupportedOptions: []string{"aspect_ratio", "seed"},
	}

	assert.True(t, m.Supports("aspect_ratio"))
	assert.True(t, m.Supports("seed"))
	assert.False(t, m.Supports("resolution"))
}

func TestGetReturnsCopy(t *testing.T) {
	r := NewDefaultRegistry()

	m := r.Get("seedream-v4")
	require.NotNil(t, m)
	m.RemotePath = "mutated"

	assert.NotEqual(t, "mutated", r.Get("seedream-v4").RemotePath)
	assert.Nil(t, r.Get("unknown-model"))
}

func TestSetModelAppendsToOrder(t *testing.T) {
	r := NewDefaultRegistry()
	before := r.CandidateNames()

	r.SetModel(ImageModel{LogicalName: "wan-2.5-edit", RemotePath: "alibaba/wan-2.5/edit"})

	after := r.CandidateNames()
	require.Len(t, after, len(before)+1)
	assert.Equal(t, "wan-2.5-edit", after[len(after)-1])

	// Replacing an existing model keeps its position.
	r.SetModel(ImageModel{LogicalName: before[0], RemotePath: "replaced/path"})
	assert.Equal(t, before[0], r.CandidateNames()[0])
	assert.Equal(t, "replaced/path", r.Get(before[0]).RemotePath)
}

func TestRegistryJSONRoundTrip(t *testing.T) {
	r := NewDefaultRegistry()

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var loaded Registry
	require.NoError(t, json.Unmarshal(data, &loaded))

	assert.Equal(t, r.CandidateNames(), loaded.CandidateNames())
	assert.Equal(t, r.Reasoning(), loaded.Reasoning())
	assert.Equal(t, r.Get("seedream-v4"), loaded.Get("seedream-v4"))
}
