package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapRole(t *testing.T) {
	tests := []struct {
		in     string
		want   Role
		wantOK bool
	}{
		{"user", RoleUser, true},
		{"assistant", RoleAssistant, true},
		{"system", RoleSystem, true},
		{"tool", RoleTool, true},
		{"developer", "", false},
		{"activity", "", false},
		{"Assistant", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := MapRole(tt.in)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContentUnmarshal(t *testing.T) {
	var ev Event
	require.NoError(t, json.Unmarshal([]byte(`{"id":"m1","role":"user","content":"hello"}`), &ev))
	assert.Equal(t, Text("hello"), ev.Content)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"m2","role":"user","content":[{"type":"text","text":"a"},{"type":"resource","resource":{"serverKey":"fs","uri":"file:///x"}}]}`), &ev))
	require.Len(t, ev.Content, 2)
	assert.Equal(t, "fs", ev.Content[1].Resource.ServerKey)

	ev = Event{}
	require.NoError(t, json.Unmarshal([]byte(`{"id":"m3","role":"assistant","content":null}`), &ev))
	assert.Nil(t, ev.Content)

	assert.Error(t, json.Unmarshal([]byte(`{"content":42}`), &ev))
}

func TestEventCloneIsDeep(t *testing.T) {
	ev := Event{
		ID:        "m1",
		Role:      "user",
		Content:   Content{{Type: PartResource, Resource: &ResourceRef{ServerKey: "fs", URI: "a"}}},
		ToolCalls: []ToolCall{{ID: "tc"}},
	}
	cp := ev.Clone()
	cp.Content[0].Resource.URI = "b"
	cp.ToolCalls[0].ID = "changed"

	assert.Equal(t, "a", ev.Content[0].Resource.URI)
	assert.Equal(t, "tc", ev.ToolCalls[0].ID)
}
