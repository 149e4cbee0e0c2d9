package relay

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryFanoutReachesEveryAttachment(t *testing.T) {
	registry := NewRegistry()

	one := newAttachment("v1", "s1")
	two := newAttachment("v1", "s1")
	other := newAttachment("v2", "s2")

	registry.Attach("s1", one)
	registry.Attach("s1", two)
	registry.Attach("s2", other)

	registry.Fanout("s1", NewEnvelope(EnvMessage, MessagePayload{Content: "hi"}))

	require.Len(t, drainEvents(one), 1)
	require.Len(t, drainEvents(two), 1)
	require.Empty(t, drainEvents(other), "fan-out must stay within the session")
}

func TestRegistryDetachStopsDelivery(t *testing.T) {
	registry := NewRegistry()

	att := newAttachment("v1", "s1")
	registry.Attach("s1", att)
	registry.Detach(att)
	registry.Detach(att) // idempotent

	registry.Fanout("s1", NewEnvelope(EnvMessage, MessagePayload{Content: "hi"}))
	require.Empty(t, drainEvents(att))
	require.Zero(t, registry.Count("s1"))
}

func TestRegistryReattachMovesBinding(t *testing.T) {
	registry := NewRegistry()

	att := newAttachment("v1", "s1")
	registry.Attach("s1", att)
	registry.Attach("s2", att)

	require.Zero(t, registry.Count("s1"))
	require.Equal(t, 1, registry.Count("s2"))
}

func TestRegistryFanoutNeverBlocksOnSlowAttachment(t *testing.T) {
	registry := NewRegistry()

	slow := newAttachment("v1", "s1")
	healthy := newAttachment("v1", "s1")
	registry.Attach("s1", slow)
	registry.Attach("s1", healthy)

	// Overflow the slow attachment's queue; nobody drains it.
	for i := 0; i < defaultSendBuffer*2; i++ {
		registry.Fanout("s1", NewEnvelope(EnvMessage, MessagePayload{Content: fmt.Sprintf("m%d", i)}))
		// Keep the healthy queue from overflowing too.
		drainEvents(healthy)
	}

	// Reaching this line at all proves fan-out did not block; the slow
	// queue holds at most its buffer.
	require.LessOrEqual(t, len(drainEvents(slow)), defaultSendBuffer)
}

func TestRegistryConcurrentAttachDetachFanout(t *testing.T) {
	registry := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			att := newAttachment("v1", "s1")
			registry.Attach("s1", att)
			for j := 0; j < 50; j++ {
				registry.Fanout("s1", NewEnvelope(EnvStatus, StatusPayload{}))
				drainEvents(att)
			}
			registry.Detach(att)
		}(i)
	}
	wg.Wait()

	require.Zero(t, registry.Count("s1"))
}

func TestAttachmentSendAfterCloseIsDropped(t *testing.T) {
	att := newAttachment("v1", "s1")
	att.close()

	require.False(t, att.Send(NewEnvelope(EnvStatus, StatusPayload{})))
	require.Empty(t, drainEvents(att))
}
