package beat_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskbeat/internal/beat"
)

const beatChannel = "taskbeat:beat"

func startRedisSource(t *testing.T, server *miniredis.Miniredis) (<-chan string, context.CancelFunc, <-chan error) {
	t.Helper()
	src, err := beat.NewRedis(context.Background(), "redis://"+server.Addr(), beatChannel, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	triggered := make(chan string, 8)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() {
		done <- src.Run(ctx, func(name string) { triggered <- name })
	}()

	require.Eventually(t, func() bool {
		return server.PubSubNumSub(beatChannel)[beatChannel] == 1
	}, 2*time.Second, 5*time.Millisecond, "source subscribes to the beat channel")
	return triggered, cancel, done
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case name := <-ch:
		return name
	case <-time.After(2 * time.Second):
		t.Fatal("no beat triggered")
		return ""
	}
}

func TestRedisSourceTriggersPerMessage(t *testing.T) {
	server := miniredis.RunT(t)
	triggered, cancel, done := startRedisSource(t, server)

	server.Publish(beatChannel, "")
	server.Publish(beatChannel, " TaskQueue \n")
	server.Publish(beatChannel, "Elsewhere")

	assert.Equal(t, "", receive(t, triggered), "an empty message beats every queue")
	assert.Equal(t, "TaskQueue", receive(t, triggered))
	assert.Equal(t, "Elsewhere", receive(t, triggered), "the receiver decides which queues it serves")

	server.Publish("other-channel", "TaskQueue")
	select {
	case name := <-triggered:
		t.Fatalf("unexpected beat %q from another channel", name)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop after cancel")
	}
}

func TestNewRedisFailsWhenServerIsDown(t *testing.T) {
	server := miniredis.RunT(t)
	addr := server.Addr()
	server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := beat.NewRedis(ctx, "redis://"+addr, beatChannel, nil)
	assert.Error(t, err)
}
