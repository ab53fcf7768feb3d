package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "veriface/pkg/platform/audit"
	"veriface/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	event := audit.Event{
		SubjectID: "emp-1",
		Action:    string(audit.EventEnrollment),
		Status:    "SUCCESS",
	}

	err := pub.Emit(context.Background(), event)
	require.NoError(t, err)

	events, err := pub.List(context.Background(), "emp-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventEnrollment), events[0].Action)
	assert.Equal(t, audit.CategoryOperations, events[0].Category)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		SubjectID: "emp-1",
		Action:    string(audit.EventVerification),
		Status:    "SUSPICIOUS",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, _ := pub.List(context.Background(), "emp-1")
		return len(events) == 1
	}, time.Second, 10*time.Millisecond)

	events, err := pub.List(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			SubjectID: "emp-1",
			Action:    string(audit.EventEnrollment),
		})
		require.NoError(t, err)
	}

	// Close should drain all events
	pub.Close()

	events, err := store.ListBySubject(context.Background(), "emp-1")
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")

	assert.ErrorIs(t, pub.Emit(context.Background(), audit.Event{SubjectID: "emp-1"}), ErrClosed)
	pub.Close()
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	blocking := &blockingStore{release: make(chan struct{})}
	pub := NewPublisher(blocking, WithAsyncBuffer(1))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var full int
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{SubjectID: "emp-1"})
			if errors.Is(err, ErrBufferFull) {
				mu.Lock()
				full++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	close(blocking.release)
	pub.Close()

	assert.Positive(t, full, "a one-slot buffer behind a stalled store must drop events")
}

func TestPublisher_SetsTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	before := time.Now()
	err := pub.Emit(context.Background(), audit.Event{SubjectID: "emp-1", Action: string(audit.EventEnrollment)})
	require.NoError(t, err)
	after := time.Now()

	events, err := pub.List(context.Background(), "emp-1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	assert.True(t, !events[0].Timestamp.Before(before), "timestamp should be >= before")
	assert.True(t, !events[0].Timestamp.After(after), "timestamp should be <= after")
}

func TestPublisher_PreservesExistingTimestamp(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	customTime := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	err := pub.Emit(context.Background(), audit.Event{
		SubjectID: "emp-1",
		Action:    string(audit.EventEnrollment),
		Timestamp: customTime,
	})
	require.NoError(t, err)

	events, err := pub.List(context.Background(), "emp-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, customTime, events[0].Timestamp)
}

func TestPublisher_ContextCancellation(t *testing.T) {
	blocking := &blockingStore{release: make(chan struct{})}
	pub := NewPublisher(blocking, WithAsyncBuffer(1))
	defer func() {
		close(blocking.release)
		pub.Close()
	}()

	// One event is held by the stalled store, the next fills the buffer.
	_ = pub.Emit(context.Background(), audit.Event{SubjectID: "emp-1"})
	require.Eventually(t, func() bool { return blocking.started() }, time.Second, 5*time.Millisecond)
	require.NoError(t, pub.Emit(context.Background(), audit.Event{SubjectID: "emp-1"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := pub.Emit(ctx, audit.Event{SubjectID: "emp-1"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPublisher_SyncStoreFailure(t *testing.T) {
	pub := NewPublisher(failingStore{})
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{SubjectID: "emp-1"})
	assert.ErrorContains(t, err, "append audit event")

	_, err = pub.List(context.Background(), "emp-1")
	assert.Error(t, err, "store without listing support")
}

func TestPublisher_MultipleEvents(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	events := []audit.Event{
		{SubjectID: "emp-1", Action: string(audit.EventChallengeIssued)},
		{SubjectID: "emp-1", Action: string(audit.EventVerification)},
		{SubjectID: "emp-1", Action: string(audit.EventTokenRedeemed)},
		{SubjectID: "emp-2", Action: string(audit.EventEnrollment)},
	}
	for _, event := range events {
		require.NoError(t, pub.Emit(context.Background(), event))
	}

	result, err := pub.List(context.Background(), "emp-1")
	require.NoError(t, err)
	require.Len(t, result, 3)
	assert.Equal(t, string(audit.EventChallengeIssued), result[0].Action)
	assert.Equal(t, string(audit.EventVerification), result[1].Action)
	assert.Equal(t, string(audit.EventTokenRedeemed), result[2].Action)
}

type blockingStore struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (b *blockingStore) Append(context.Context, audit.Event) error {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	<-b.release
	return nil
}

func (b *blockingStore) started() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls > 0
}

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("disk full")
}
