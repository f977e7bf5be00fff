package support

import (
	"context"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Conversation{}, &ChatMessage{}, &AlertJob{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestStartOrResume_ResumesOpenConversation(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(NewRepo(db))
	ctx := context.Background()

	first, history, err := svc.StartOrResume(ctx, "7", "Ann", "ann@example.com", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if first.ID == "" || first.Status != StatusOpen {
		t.Fatalf("unexpected conversation: %+v", first)
	}
	if len(history) != 0 {
		t.Fatalf("fresh conversation should have no history, got %d", len(history))
	}

	if _, err := svc.AppendMessage(ctx, first.ID, "admin", "hello Ann"); err != nil {
		t.Fatalf("append: %v", err)
	}

	second, history, err := svc.StartOrResume(ctx, "7", "Ann", "ann@example.com", "")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("resume created a new conversation: %s != %s", second.ID, first.ID)
	}
	if len(history) != 1 || history[0].Content != "hello Ann" {
		t.Fatalf("unexpected history: %+v", history)
	}
}

func TestStartOrResume_ResolvedStartsFresh(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(NewRepo(db))
	ctx := context.Background()

	first, _, err := svc.StartOrResume(ctx, "9", "Bob", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := svc.Resolve(ctx, first.ID, "customer"); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	second, _, err := svc.StartOrResume(ctx, "9", "Bob", "", "")
	if err != nil {
		t.Fatalf("start after resolve: %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("resolved conversation must not be resumed")
	}
}

func TestAppendMessage_RejectsResolvedAndBlank(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(NewRepo(db))
	ctx := context.Background()

	conv, _, err := svc.StartOrResume(ctx, "11", "Cal", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := svc.AppendMessage(ctx, conv.ID, "customer", "   "); err != ErrEmptyMessage {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}

	if err := svc.Resolve(ctx, conv.ID, "admin"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := svc.AppendMessage(ctx, conv.ID, "customer", "hi"); err != ErrResolved {
		t.Fatalf("expected ErrResolved, got %v", err)
	}
}

func TestMarkRead(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(NewRepo(db))
	ctx := context.Background()

	conv, _, err := svc.StartOrResume(ctx, "12", "Dee", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	m1, err := svc.AppendMessage(ctx, conv.ID, "admin", "one")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	m2, err := svc.AppendMessage(ctx, conv.ID, "admin", "two")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	if err := svc.MarkRead(ctx, conv.ID, []uint64{m1.ID, m2.ID}, "customer"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	history, err := svc.History(ctx, conv.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	for _, m := range history {
		if !m.ReadByCustomer {
			t.Fatalf("message %d not marked read by customer", m.ID)
		}
	}
}

func TestResolve_MissingConversation(t *testing.T) {
	db := openTestDB(t)
	svc := NewService(NewRepo(db))

	if err := svc.Resolve(context.Background(), "NOPE", "customer"); err == nil {
		t.Fatalf("expected error for missing conversation")
	}
}

func TestAlertJobLifecycle(t *testing.T) {
	db := openTestDB(t)
	repo := NewRepo(db)
	svc := NewService(repo)
	ctx := context.Background()

	conv, _, err := svc.StartOrResume(ctx, "13", "Eve", "", "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	msg, err := svc.AppendMessage(ctx, conv.ID, "customer", "anyone?")
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	job, err := svc.CreateAlertJob(ctx, conv.ID, msg.ID)
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.Status != JobQueued {
		t.Fatalf("job status = %s, want queued", job.Status)
	}

	if err := repo.UpdateJobStatusRunning(ctx, job.ID); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	if err := repo.MarkJobSucceeded(ctx, job.ID); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	got, err := svc.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != JobSucceeded {
		t.Fatalf("job status = %s, want succeeded", got.Status)
	}
}
