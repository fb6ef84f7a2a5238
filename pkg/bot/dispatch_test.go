package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("prefixed command with args", func(t *testing.T) {
		name, args, ok := Parse(".", ".Weather New York")
		require.True(t, ok)
		assert.Equal(t, "weather", name)
		assert.Equal(t, []string{"New", "York"}, args)
	})

	t.Run("no prefix is silent", func(t *testing.T) {
		_, _, ok := Parse(".", "hello there")
		assert.False(t, ok)
	})

	t.Run("bare prefix is silent", func(t *testing.T) {
		_, _, ok := Parse(".", ".   ")
		assert.False(t, ok)
	})

	t.Run("empty prefix never matches", func(t *testing.T) {
		_, _, ok := Parse("", "ping")
		assert.False(t, ok)
	})

	t.Run("surrounding whitespace is trimmed", func(t *testing.T) {
		name, args, ok := Parse("!", "  !ping  ")
		require.True(t, ok)
		assert.Equal(t, "ping", name)
		assert.Empty(t, args)
	})
}

func TestRegisterOrder(t *testing.T) {
	d := NewDispatcher(nil)
	d.Register(Command{Name: "b", Usage: "b"})
	d.Register(Command{Name: "a", Usage: "a"})
	d.Register(Command{Name: "B", Usage: "b replaced"})

	cmds := d.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "b replaced", cmds[0].Usage)
	assert.Equal(t, "a", cmds[1].Usage)
}

func TestInvokePanicIsolation(t *testing.T) {
	d := NewDispatcher(nil)
	var replies []string
	inv := &Invocation{
		Number: "628111111111",
		Reply: func(message string) error {
			replies = append(replies, message)
			return nil
		},
	}

	d.invoke(context.Background(), Command{
		Name: "boom",
		Handler: func(ctx context.Context, inv *Invocation) error {
			panic("handler exploded")
		},
	}, inv)

	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "went wrong")
}

func TestInvokeErrorReply(t *testing.T) {
	d := NewDispatcher(nil)
	var replies []string
	inv := &Invocation{
		Number: "628111111111",
		Reply: func(message string) error {
			replies = append(replies, message)
			return nil
		},
	}

	d.invoke(context.Background(), Command{
		Name: "fail",
		Handler: func(ctx context.Context, inv *Invocation) error {
			return errors.New("nope")
		},
	}, inv)

	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "went wrong")
}

func TestDefaultCommands(t *testing.T) {
	d := NewDispatcher(nil)
	RegisterDefaults(d, Options{
		StartedAt: time.Now().Add(-time.Minute),
		Uptime: func(number string) (time.Duration, bool) {
			return 30 * time.Second, true
		},
	})

	reply := func(replies *[]string) func(string) error {
		return func(message string) error {
			*replies = append(*replies, message)
			return nil
		}
	}

	t.Run("ping answers pong", func(t *testing.T) {
		var replies []string
		d.invoke(context.Background(), d.commands["ping"], &Invocation{Reply: reply(&replies)})
		require.Len(t, replies, 1)
		assert.Equal(t, "pong", replies[0])
	})

	t.Run("uptime reports both durations", func(t *testing.T) {
		var replies []string
		d.invoke(context.Background(), d.commands["uptime"], &Invocation{Number: "628111111111", Reply: reply(&replies)})
		require.Len(t, replies, 1)
		assert.Contains(t, replies[0], "Session up 30s")
	})

	t.Run("menu hides privileged commands from plain users", func(t *testing.T) {
		var replies []string
		d.invoke(context.Background(), d.commands["menu"], &Invocation{Privileged: false, Reply: reply(&replies)})
		require.Len(t, replies, 1)
		assert.NotContains(t, replies[0], "broadcast")
		assert.Contains(t, replies[0], "ping")
	})

	t.Run("menu shows privileged commands to admins", func(t *testing.T) {
		var replies []string
		d.invoke(context.Background(), d.commands["menu"], &Invocation{Privileged: true, Reply: reply(&replies)})
		require.Len(t, replies, 1)
		assert.Contains(t, replies[0], "broadcast")
	})
}
