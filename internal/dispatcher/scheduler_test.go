package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/safetyhub/escalation-engine/internal/domain"
)

func TestSchedulerReleasesDueNotifications(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	publisher := &fakePublisher{}
	d := newTestDispatcher(t, store, publisher, &fakeSender{})

	action := testAction()
	action.Channels = []domain.Channel{domain.ChannelEmail}
	action.Delay = time.Minute

	rows, err := d.EnqueueAction(context.Background(), testSnapshot(), testRule(), action, "corr-1")
	if err != nil {
		t.Fatalf("EnqueueAction() error = %v", err)
	}
	if publisher.count() != 0 {
		t.Fatalf("published = %d before due time, want 0", publisher.count())
	}

	s, err := NewScheduler(d, time.Second, nil)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	if err := s.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if publisher.count() != len(rows) {
		t.Fatalf("published = %d, want %d", publisher.count(), len(rows))
	}

	for _, row := range rows {
		stored, err := store.GetByID(context.Background(), row.ID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if stored.ScheduledAt != nil {
			t.Fatalf("row %s scheduledAt should be cleared after release", row.ID)
		}
		if stored.Status != domain.NotificationPending {
			t.Fatalf("row %s status = %s, want PENDING until the worker delivers", row.ID, stored.Status)
		}
	}

	// A second scan finds nothing due.
	if err := s.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() second pass error = %v", err)
	}
	if publisher.count() != len(rows) {
		t.Fatalf("published = %d after second scan, want %d", publisher.count(), len(rows))
	}
}

func TestSchedulerSkipsNotYetDueRows(t *testing.T) {
	t.Parallel()

	store := newMemoryStore()
	publisher := &fakePublisher{}
	d := newTestDispatcher(t, store, publisher, &fakeSender{})

	action := testAction()
	action.Channels = []domain.Channel{domain.ChannelEmail}
	action.Delay = time.Hour

	if _, err := d.EnqueueAction(context.Background(), testSnapshot(), testRule(), action, "corr-1"); err != nil {
		t.Fatalf("EnqueueAction() error = %v", err)
	}

	s, err := NewScheduler(d, time.Second, nil)
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	if err := s.Scan(context.Background()); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if publisher.count() != 0 {
		t.Fatalf("published = %d, want 0 before the delay elapses", publisher.count())
	}
}
