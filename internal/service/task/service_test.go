package task

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"taskchat/internal/storage"
)

func newTestService(t *testing.T) (*Service, int64) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enable foreign keys: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	res, err := db.Exec(
		`INSERT INTO users (username, password_hash, created_at) VALUES (?, ?, ?)`,
		"tester", "hash", time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	userID, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("user id: %v", err)
	}
	return NewService(db), userID
}

func TestCreateAndGet(t *testing.T) {
	svc, userID := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, userID, CreateInput{Title: "  buy milk  ", Description: "2 liters"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Title != "buy milk" {
		t.Fatalf("expected trimmed title, got %q", created.Title)
	}
	if created.IsComplete {
		t.Fatalf("new task must start incomplete")
	}

	got, err := svc.Get(ctx, userID, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Title != "buy milk" || got.Description != "2 liters" {
		t.Fatalf("unexpected task: %+v", got)
	}
}

func TestCreateRequiresTitle(t *testing.T) {
	svc, userID := newTestService(t)
	if _, err := svc.Create(context.Background(), userID, CreateInput{Title: "   "}); err == nil {
		t.Fatalf("expected error for blank title")
	}
}

func TestGetMissReturnsNil(t *testing.T) {
	svc, userID := newTestService(t)
	got, err := svc.Get(context.Background(), userID, 404)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing task, got %+v", got)
	}
}

func TestGetIgnoresForeignTask(t *testing.T) {
	svc, userID := newTestService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, userID, CreateInput{Title: "mine"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := svc.Get(ctx, userID+1, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("foreign task must be invisible, got %+v", got)
	}
}

func TestListNewestFirst(t *testing.T) {
	svc, userID := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, userID, CreateInput{Title: "first"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := svc.Create(ctx, userID, CreateInput{Title: "second"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tasks, err := svc.List(ctx, userID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].ID != second.ID || tasks[1].ID != first.ID {
		t.Fatalf("expected newest first, got %d then %d", tasks[0].ID, tasks[1].ID)
	}
}

func TestUpdatePartialFields(t *testing.T) {
	svc, userID := newTestService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, userID, CreateInput{Title: "orig", Description: "desc"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	newTitle := "renamed"
	updated, err := svc.Update(ctx, userID, created.ID, UpdateInput{Title: &newTitle})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "renamed" || updated.Description != "desc" {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	empty := ""
	if _, err := svc.Update(ctx, userID, created.ID, UpdateInput{Title: &empty}); err == nil {
		t.Fatalf("expected error for empty title")
	}

	newDesc := ""
	updated, err = svc.Update(ctx, userID, created.ID, UpdateInput{Description: &newDesc})
	if err != nil {
		t.Fatalf("update description: %v", err)
	}
	if updated.Description != "" {
		t.Fatalf("description should be clearable, got %q", updated.Description)
	}
}

func TestUpdateMissReturnsNil(t *testing.T) {
	svc, userID := newTestService(t)
	title := "x"
	updated, err := svc.Update(context.Background(), userID, 404, UpdateInput{Title: &title})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated != nil {
		t.Fatalf("expected nil for missing task")
	}
}

func TestDelete(t *testing.T) {
	svc, userID := newTestService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, userID, CreateInput{Title: "gone"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deleted, err := svc.Delete(ctx, userID, created.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatalf("expected delete to succeed")
	}

	deleted, err = svc.Delete(ctx, userID, created.ID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if deleted {
		t.Fatalf("second delete must report false")
	}
}

func TestToggleCompleteFlipsTwice(t *testing.T) {
	svc, userID := newTestService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, userID, CreateInput{Title: "flip"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	once, err := svc.ToggleComplete(ctx, userID, created.ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !once.IsComplete {
		t.Fatalf("expected task to be complete after first toggle")
	}

	twice, err := svc.ToggleComplete(ctx, userID, created.ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if twice.IsComplete {
		t.Fatalf("expected second toggle to revert completion")
	}
}
