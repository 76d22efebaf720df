package archive

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/marketchat/marketchat-server/internal/store"
	"github.com/marketchat/marketchat-server/internal/store/sqlite"
)

func newTestArchiver(t *testing.T) (*Archiver, *sqlite.SQLiteStore) {
	t.Helper()
	dir := t.TempDir()

	hot, err := sqlite.New(filepath.Join(dir, "hot.db"))
	if err != nil {
		t.Fatalf("open hot store: %v", err)
	}
	t.Cleanup(func() { hot.Close() })

	logger := zerolog.Nop()
	a, err := New(hot, filepath.Join(dir, "cold.db"), &logger)
	if err != nil {
		t.Fatalf("open archiver: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, hot
}

func seedConversation(t *testing.T, hot *sqlite.SQLiteStore) *store.Conversation {
	t.Helper()
	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:         uuid.NewString(),
		CustomerID: uuid.NewString(),
		VendorID:   uuid.NewString(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := hot.CreateConversation(context.Background(), conv); err != nil {
		t.Fatalf("seed conversation: %v", err)
	}
	return conv
}

func seedMessage(t *testing.T, hot *sqlite.SQLiteStore, conv *store.Conversation, at time.Time) *store.Message {
	t.Helper()
	msg := &store.Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		SenderID:       conv.CustomerID,
		SenderRole:     store.RoleCustomer,
		Content:        "ciphertext-" + uuid.NewString(),
		ContentHash:    "digest",
		CreatedAt:      at,
	}
	if err := hot.InsertMessage(context.Background(), msg); err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return msg
}

func TestArchiveMovesOnlyAgedMessages(t *testing.T) {
	a, hot := newTestArchiver(t)
	ctx := context.Background()

	conv := seedConversation(t, hot)
	old := seedMessage(t, hot, conv, time.Now().UTC().AddDate(0, 0, -120))
	recent := seedMessage(t, hot, conv, time.Now().UTC())
	if _, err := hot.MarkMessageRead(ctx, conv.ID, old.ID, store.RoleVendor); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	res, err := a.Archive(ctx, 90)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if res.Archived != 1 || res.Pruned != 1 {
		t.Fatalf("result = %+v, want {1 1}", res)
	}

	if _, err := hot.GetMessage(ctx, conv.ID, old.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("aged message still hot: %v", err)
	}
	if _, err := hot.GetMessage(ctx, conv.ID, recent.ID); err != nil {
		t.Errorf("recent message pruned: %v", err)
	}

	st, err := a.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.ActiveCount != 1 || st.ArchivedCount != 1 {
		t.Errorf("stats = %+v, want 1 active and 1 archived", st)
	}
	if st.ActiveBytes <= 0 || st.ArchivedBytes <= 0 {
		t.Errorf("byte stats = %+v, want positive", st)
	}
}

func TestArchiveEmptyStore(t *testing.T) {
	a, _ := newTestArchiver(t)

	res, err := a.Archive(context.Background(), 90)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if res.Archived != 0 || res.Pruned != 0 {
		t.Errorf("result = %+v, want zeroes", res)
	}
}

func TestArchiveRejectsNegativeAge(t *testing.T) {
	a, _ := newTestArchiver(t)

	if _, err := a.Archive(context.Background(), -1); err == nil {
		t.Fatal("negative age must be rejected")
	}
}

func TestArchiveRetryAfterPartialPass(t *testing.T) {
	a, hot := newTestArchiver(t)
	ctx := context.Background()

	conv := seedConversation(t, hot)
	old := seedMessage(t, hot, conv, time.Now().UTC().AddDate(0, 0, -120))
	if _, err := hot.MarkMessageRead(ctx, conv.ID, old.ID, store.RoleVendor); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	// Simulate a pass that copied but failed before pruning: copy manually,
	// leave the hot row in place, then run a normal pass.
	msgs, err := hot.ListMessagesOlderThan(ctx, time.Now().UTC().AddDate(0, 0, -90), 10)
	if err != nil || len(msgs) != 1 {
		t.Fatalf("list aged: %v (%d rows)", err, len(msgs))
	}
	if err := a.copyToCold(ctx, msgs); err != nil {
		t.Fatalf("copy to cold: %v", err)
	}

	res, err := a.Archive(ctx, 90)
	if err != nil {
		t.Fatalf("retry pass: %v", err)
	}
	if res.Archived != 1 || res.Pruned != 1 {
		t.Fatalf("retry result = %+v, want {1 1}", res)
	}

	// The duplicate copy must not yield two cold rows.
	st, err := a.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.ArchivedCount != 1 {
		t.Errorf("archived count = %d, want 1", st.ArchivedCount)
	}
	if _, err := hot.GetMessage(ctx, conv.ID, old.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("hot row survived retry: %v", err)
	}
}

func TestArchiveLeavesUnreadMessagesHot(t *testing.T) {
	a, hot := newTestArchiver(t)
	ctx := context.Background()

	conv := seedConversation(t, hot)
	old := seedMessage(t, hot, conv, time.Now().UTC().AddDate(0, 0, -100))

	// An aged but unread message must survive the pass untouched.
	res, err := a.Archive(ctx, 90)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if res.Archived != 0 || res.Pruned != 0 {
		t.Fatalf("result = %+v, want zeroes", res)
	}
	if _, err := hot.GetMessage(ctx, conv.ID, old.ID); err != nil {
		t.Fatalf("unread message pruned: %v", err)
	}

	// The read transition still reaches the row, so the counter comes back down.
	n, err := hot.MarkConversationRead(ctx, conv.ID, store.RoleVendor)
	if err != nil {
		t.Fatalf("mark conversation read: %v", err)
	}
	if n != 1 {
		t.Fatalf("transitioned = %d, want 1", n)
	}
	total, err := hot.TotalUnread(ctx, conv.VendorID, store.RoleVendor)
	if err != nil {
		t.Fatalf("total unread: %v", err)
	}
	if total != 0 {
		t.Fatalf("vendor unread after archiving + bulk mark-read = %d, want 0", total)
	}

	// Once read, the next pass moves it.
	res, err = a.Archive(ctx, 90)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if res.Archived != 1 || res.Pruned != 1 {
		t.Fatalf("second pass result = %+v, want {1 1}", res)
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	a, hot := newTestArchiver(t)
	ctx := context.Background()

	conv := seedConversation(t, hot)
	old := seedMessage(t, hot, conv, time.Now().UTC().AddDate(0, 0, -120))
	if _, err := hot.MarkMessageRead(ctx, conv.ID, old.ID, store.RoleVendor); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	if _, err := a.Archive(ctx, 90); err != nil {
		t.Fatalf("archive: %v", err)
	}

	n, err := a.Restore(ctx, []string{old.ID})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 1 {
		t.Fatalf("restored = %d, want 1", n)
	}

	got, err := hot.GetMessage(ctx, conv.ID, old.ID)
	if err != nil {
		t.Fatalf("get restored: %v", err)
	}
	if got.Content != old.Content {
		t.Errorf("content = %q, want %q", got.Content, old.Content)
	}
	// Read state survives the round trip.
	if !got.IsRead || got.ReadAt == nil {
		t.Errorf("read state lost: %+v", got)
	}

	st, err := a.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.ArchivedCount != 0 || st.ActiveCount != 1 {
		t.Errorf("stats = %+v, want everything hot again", st)
	}
}

func TestRestoreUnknownAndEmptyIDs(t *testing.T) {
	a, _ := newTestArchiver(t)
	ctx := context.Background()

	n, err := a.Restore(ctx, nil)
	if err != nil || n != 0 {
		t.Fatalf("empty restore = (%d, %v), want (0, nil)", n, err)
	}

	n, err = a.Restore(ctx, []string{uuid.NewString()})
	if err != nil || n != 0 {
		t.Fatalf("unknown id restore = (%d, %v), want (0, nil)", n, err)
	}
}
