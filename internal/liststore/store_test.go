package liststore

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) Store {
	t.Helper()
	db, err := NewDB(":memory:")
	if err != nil {
		t.Fatalf("NewDB: %v", err)
	}
	t.Cleanup(func() { CloseDB(db) })
	return NewStore(db, nil)
}

func TestAllowlistLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	allowed, err := store.IsSenderAllowed(ctx, 10)
	if err != nil {
		t.Fatalf("IsSenderAllowed: %v", err)
	}
	if allowed {
		t.Fatal("fresh store reports sender as allowed")
	}

	if err := store.AllowSender(ctx, 10, 1); err != nil {
		t.Fatalf("AllowSender: %v", err)
	}
	// Adding the same sender twice is a no-op, not an error.
	if err := store.AllowSender(ctx, 10, 1); err != nil {
		t.Fatalf("AllowSender (duplicate): %v", err)
	}

	allowed, err = store.IsSenderAllowed(ctx, 10)
	if err != nil || !allowed {
		t.Fatalf("IsSenderAllowed after add = %v, %v; want true, nil", allowed, err)
	}

	senders, err := store.ListAllowedSenders(ctx)
	if err != nil {
		t.Fatalf("ListAllowedSenders: %v", err)
	}
	if len(senders) != 1 || senders[0].UserID != 10 || senders[0].AddedBy != 1 {
		t.Errorf("ListAllowedSenders = %+v, want one entry for user 10", senders)
	}

	removed, err := store.DisallowSender(ctx, 10)
	if err != nil || !removed {
		t.Fatalf("DisallowSender = %v, %v; want true, nil", removed, err)
	}
	removed, err = store.DisallowSender(ctx, 10)
	if err != nil || removed {
		t.Errorf("DisallowSender (missing) = %v, %v; want false, nil", removed, err)
	}
}

func TestIgnoredChats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.IgnoreChat(ctx, -100); err != nil {
		t.Fatalf("IgnoreChat: %v", err)
	}

	ignored, err := store.IsChatIgnored(ctx, -100)
	if err != nil || !ignored {
		t.Fatalf("IsChatIgnored = %v, %v; want true, nil", ignored, err)
	}
	ignored, err = store.IsChatIgnored(ctx, -200)
	if err != nil || ignored {
		t.Errorf("IsChatIgnored for unwatched chat = %v, %v; want false, nil", ignored, err)
	}

	removed, err := store.UnignoreChat(ctx, -100)
	if err != nil || !removed {
		t.Fatalf("UnignoreChat = %v, %v; want true, nil", removed, err)
	}
	ignored, _ = store.IsChatIgnored(ctx, -100)
	if ignored {
		t.Error("chat still ignored after UnignoreChat")
	}
}

func TestIncidentRecordingAndPruning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.RecordIncident(ctx, -100, 10, "mallory", 3, "evidence text"); err != nil {
		t.Fatalf("RecordIncident: %v", err)
	}
	if err := store.RecordIncident(ctx, -100, 20, "trudy", 1, "more evidence"); err != nil {
		t.Fatalf("RecordIncident: %v", err)
	}

	count, err := store.CountIncidentsSince(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("CountIncidentsSince: %v", err)
	}
	if count != 2 {
		t.Errorf("CountIncidentsSince = %d, want 2", count)
	}

	// Nothing is older than a past cutoff.
	removed, err := store.PruneIncidents(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PruneIncidents: %v", err)
	}
	if removed != 0 {
		t.Errorf("PruneIncidents removed %d fresh records", removed)
	}

	removed, err = store.PruneIncidents(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PruneIncidents: %v", err)
	}
	if removed != 2 {
		t.Errorf("PruneIncidents = %d, want 2", removed)
	}
}

func TestRecordIncidentValidation(t *testing.T) {
	store := newTestStore(t)

	if err := store.RecordIncident(context.Background(), 0, 10, "x", 1, "e"); err == nil {
		t.Error("RecordIncident accepted zero chat_id")
	}
	if err := store.RecordIncident(context.Background(), -100, 0, "x", 1, "e"); err == nil {
		t.Error("RecordIncident accepted zero sender_id")
	}
}

func TestRunSQLMaintenance(t *testing.T) {
	store := newTestStore(t)
	if err := store.RunSQLMaintenance(context.Background()); err != nil {
		t.Fatalf("RunSQLMaintenance: %v", err)
	}
}
