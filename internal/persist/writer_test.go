package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/strrl/chatdeck/internal/sessions"
	"github.com/strrl/chatdeck/pkg/models"
)

// failingSlot fails every write until healed
type failingSlot struct {
	MemorySlot
	mu     sync.Mutex
	broken bool
}

func (f *failingSlot) Write(ctx context.Context, blob string) error {
	f.mu.Lock()
	broken := f.broken
	f.mu.Unlock()
	if broken {
		return errors.New("disk full")
	}
	return f.MemorySlot.Write(ctx, blob)
}

func (f *failingSlot) heal() {
	f.mu.Lock()
	f.broken = false
	f.mu.Unlock()
}

func newWiredStore(t *testing.T, slot Slot, opts ...WriterOption) (*sessions.Store, *Writer) {
	t.Helper()
	store := sessions.NewStore()
	w := NewWriter(NewAdapter(slot, nil), store, opts...)
	store.OnChange(w.Observe)
	w.Start()
	t.Cleanup(func() { w.Close() })
	return store, w
}

func loadBack(t *testing.T, slot Slot) models.Collection {
	t.Helper()
	c, err := NewAdapter(slot, nil).Load(context.Background())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return c
}

// TestWriterSkipsEmptyCollection tests that startup never clobbers stored data
func TestWriterSkipsEmptyCollection(t *testing.T) {
	slot := NewMemorySlotWith(`{"version":1,"sessions":[{"id":"keep","title":"t","messages":[],"createdAt":"2024-01-01T00:00:00Z"}]}`)
	store, w := newWiredStore(t, slot)

	// a notification before restore sees an empty store
	w.Notify()
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if slot.Writes() != 0 {
		t.Errorf("Expected no writes before restore, got %d", slot.Writes())
	}

	if err := store.Begin(); err != nil {
		t.Fatal(err)
	}
	c := loadBack(t, slot)
	if err := store.Restore(c); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	got := loadBack(t, slot)
	if len(got.Sessions) != 1 || got.Sessions[0].ID != "keep" {
		t.Errorf("Expected stored session to survive startup, got %+v", got.Sessions)
	}
}

// TestWriterWritesLatestState tests that every write reflects current store state
func TestWriterWritesLatestState(t *testing.T) {
	slot := NewMemorySlot()
	store, w := newWiredStore(t, slot)

	if err := store.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := store.Restore(models.Collection{}); err != nil {
		t.Fatal(err)
	}
	id := store.ActiveID()

	content := ""
	for i := 0; i < 50; i++ {
		content += "x"
		err := store.RecordMessages(id, []models.Message{
			{ID: "u1", Role: models.RoleUser, Content: "hi"},
			{ID: "a1", Role: models.RoleAssistant, Content: content},
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	got := loadBack(t, slot)
	if len(got.Sessions) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(got.Sessions))
	}
	if last := got.Sessions[0].Messages[1].Content; last != content {
		t.Errorf("Expected latest content of length %d, got length %d", len(content), len(last))
	}
	if slot.Writes() > 51 {
		t.Errorf("Expected coalesced writes, got %d", slot.Writes())
	}
}

// TestWriterCoalescesWithInterval tests that bursts collapse into few writes
func TestWriterCoalescesWithInterval(t *testing.T) {
	slot := NewMemorySlot()
	store, w := newWiredStore(t, slot, WithInterval(50*time.Millisecond))

	if err := store.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := store.Restore(models.Collection{}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		store.CreateSession()
	}

	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if slot.Writes() > 3 {
		t.Errorf("Expected burst to coalesce into at most 3 writes, got %d", slot.Writes())
	}
	if got := loadBack(t, slot); len(got.Sessions) != 21 {
		t.Errorf("Expected 21 sessions persisted, got %d", len(got.Sessions))
	}
}

// TestWriterRetriesAfterFailure tests that a failed write stays pending
func TestWriterRetriesAfterFailure(t *testing.T) {
	slot := &failingSlot{broken: true}
	store, w := newWiredStore(t, slot)

	if err := store.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := store.Restore(models.Collection{}); err != nil {
		t.Fatal(err)
	}

	if err := w.Flush(context.Background()); err == nil {
		t.Fatal("Expected flush to report the write failure")
	}

	slot.heal()
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if got := loadBack(t, slot); len(got.Sessions) != 1 {
		t.Errorf("Expected 1 session after retry, got %d", len(got.Sessions))
	}
}

// TestWriterCloseFlushes tests that Close persists pending changes
func TestWriterCloseFlushes(t *testing.T) {
	slot := NewMemorySlot()
	store := sessions.NewStore()
	w := NewWriter(NewAdapter(slot, nil), store, WithInterval(time.Hour))
	store.OnChange(w.Observe)
	w.Start()

	if err := store.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := store.Restore(models.Collection{}); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}

	if slot.Writes() != 1 {
		t.Errorf("Expected exactly one write on close, got %d", slot.Writes())
	}
	// closing twice is safe
	if err := w.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Errorf("Flush after close should be a no-op, got %v", err)
	}
}

// TestWriterWithoutStart tests that an unstarted writer still flushes inline
func TestWriterWithoutStart(t *testing.T) {
	slot := NewMemorySlot()
	store := sessions.NewStore()
	w := NewWriter(NewAdapter(slot, nil), store)
	store.OnChange(w.Observe)

	if err := store.Begin(); err != nil {
		t.Fatal(err)
	}
	if err := store.Restore(models.Collection{}); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(context.Background()); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if slot.Writes() != 1 {
		t.Errorf("Expected one write, got %d", slot.Writes())
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

// TestWriterFlushCancellation tests that Flush honours its context
func TestWriterFlushCancellation(t *testing.T) {
	store := sessions.NewStore()
	w := NewWriter(NewAdapter(NewMemorySlot(), nil), store, WithInterval(time.Hour))
	w.Start()
	defer w.Close()

	// park the loop in its interval wait
	w.Notify()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := w.Flush(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

// BenchmarkWriterNotify benchmarks change notification under load
func BenchmarkWriterNotify(b *testing.B) {
	store := sessions.NewStore()
	_ = store.Begin()
	_ = store.Restore(models.Collection{})
	w := NewWriter(NewAdapter(NewMemorySlot(), nil), store)
	w.Start()
	defer w.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		w.Notify()
	}
}
