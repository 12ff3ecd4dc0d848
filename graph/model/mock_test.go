package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockChatModel(t *testing.T) {
	msgs := []Message{{Role: RoleUser, Content: "hi"}}

	t.Run("sequence then repeat last", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "first"}, {Text: "second"}}}
		for _, want := range []string{"first", "second", "second"} {
			out, err := mock.Chat(context.Background(), msgs, nil)
			require.NoError(t, err)
			assert.Equal(t, want, out.Text)
		}
		assert.Equal(t, 3, mock.CallCount())
	})

	t.Run("error wins and call is recorded", func(t *testing.T) {
		boom := errors.New("boom")
		mock := &MockChatModel{Err: boom, Responses: []ChatOut{{Text: "x"}}}
		_, err := mock.Chat(context.Background(), msgs, []ToolSpec{{Name: "t"}})
		assert.ErrorIs(t, err, boom)
		require.Len(t, mock.Calls, 1)
		assert.Equal(t, "t", mock.Calls[0].Tools[0].Name)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		mock := &MockChatModel{}
		_, err := mock.Chat(ctx, msgs, nil)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Zero(t, mock.CallCount())
	})

	t.Run("reset", func(t *testing.T) {
		mock := &MockChatModel{Responses: []ChatOut{{Text: "a"}, {Text: "b"}}}
		_, _ = mock.Chat(context.Background(), msgs, nil)
		mock.Reset()
		out, _ := mock.Chat(context.Background(), msgs, nil)
		assert.Equal(t, "a", out.Text)
		assert.Equal(t, 1, mock.CallCount())
	})
}

func TestChatOut(t *testing.T) {
	out := ChatOut{
		ToolCalls: []ToolCall{{Name: "a"}, {Name: "b", Input: map[string]interface{}{"k": 1}}},
		Usage:     TokenUsage{PromptTokens: 10, CompletionTokens: 5},
	}
	call, ok := out.FindToolCall("b")
	require.True(t, ok)
	assert.Equal(t, 1, call.Input["k"])
	_, ok = out.FindToolCall("missing")
	assert.False(t, ok)
	assert.Equal(t, 15, out.Usage.Total())

	var f ChatModel = ChatFunc(func(context.Context, []Message, []ToolSpec) (ChatOut, error) {
		return ChatOut{Text: "fn"}, nil
	})
	got, err := f.Chat(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "fn", got.Text)
}
