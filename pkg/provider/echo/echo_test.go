package echo

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamloop/pkg/types"
)

func TestEchoStreamsSnapshots(t *testing.T) {
	p := New("echo:")
	p.NewID = func() string { return "fixed" }
	assert.Equal(t, "echo-echo:", p.Name())

	s, err := p.Stream(context.Background(), []types.Event{
		{ID: "u1", Role: "user", Content: types.Text("hello there")},
		{ID: "a1", Role: "assistant", Content: types.Text("ignored")},
	}, nil)
	require.NoError(t, err)
	defer s.Close()

	var texts []string
	for {
		ev, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.Equal(t, "fixed", ev.Message.ID)
		assert.Equal(t, "u1", ev.Message.ParentMessageID)
		texts = append(texts, types.FlattenContent(ev.Message.Content))
	}
	assert.Equal(t, []string{"echo:", "echo: hello", "echo: hello there"}, texts)
}

func TestEchoNoUserMessage(t *testing.T) {
	s, err := New("").Stream(context.Background(), nil, nil)
	require.NoError(t, err)
	_, err = s.Recv()
	assert.ErrorIs(t, err, io.EOF)
}
