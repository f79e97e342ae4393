package uibridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPollReturnsAlreadyQueuedCommand(t *testing.T) {
	b := New()
	id := b.Push("client-1", map[string]string{"action": "open"})

	cmd, ok := b.Poll(context.Background(), "client-1", time.Second)
	require.True(t, ok)
	require.Equal(t, id, cmd.ID)
}

func TestPollWakesOnLatePush(t *testing.T) {
	b := New()

	var got *Command
	done := make(chan struct{})
	go func() {
		cmd, ok := b.Poll(context.Background(), "client-1", 2*time.Second)
		require.True(t, ok)
		got = cmd
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	id := b.Push("client-1", "ping")

	select {
	case <-done:
		require.Equal(t, id, got.ID)
	case <-time.After(time.Second):
		t.Fatal("poll never woke on push")
	}
}

func TestPollTimesOutWithoutAPush(t *testing.T) {
	b := New()
	_, ok := b.Poll(context.Background(), "client-1", 20*time.Millisecond)
	require.False(t, ok)
}

func TestResolveAndWaitResult(t *testing.T) {
	b := New()
	id := b.Push("client-1", "ping")

	go func() {
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, b.Resolve(id, map[string]any{"ok": true}))
	}()

	result, err := b.WaitResult(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"ok": true}, result)
}

func TestResolveUnknownCommandErrors(t *testing.T) {
	b := New()
	require.ErrorIs(t, b.Resolve("no-such-id", nil), ErrUnknownCommand)
}
