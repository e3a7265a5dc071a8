package topic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-voice/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-voice/migrations"
)

func TestSQLiteRepository(t *testing.T) {
	ctx := context.Background()
	db, err := database.OpenMemory(ctx)
	if err != nil {
		t.Fatalf("OpenMemory() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	repo := NewSQLiteRepository(db.DB)

	now := time.Now().UTC().Truncate(time.Millisecond)
	topic := &Topic{ID: "kitchen", Model: "qwen", Backend: "home", State: StateConfigured, CreatedAt: now, UpdatedAt: now}
	if err := repo.Save(ctx, topic); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	topic.State = StateEnabled
	topic.Prompt = "Be brief."
	if err := repo.Save(ctx, topic); err != nil {
		t.Fatalf("Save(update) error = %v", err)
	}

	topics, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(topics) != 1 {
		t.Fatalf("List() = %+v", topics)
	}
	got := topics[0]
	if got.State != StateEnabled || got.Prompt != "Be brief." || !got.CreatedAt.Equal(now) {
		t.Errorf("List()[0] = %+v", got)
	}

	if err := repo.Save(ctx, &Topic{ID: "bad", State: "sleeping", CreatedAt: now, UpdatedAt: now}); err == nil {
		t.Error("Save() with invalid state should violate the CHECK constraint")
	}

	if err := repo.Delete(ctx, "kitchen"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
	if err := repo.Delete(ctx, "kitchen"); !errors.Is(err, ErrTopicNotFound) {
		t.Errorf("second Delete() error = %v, want ErrTopicNotFound", err)
	}
}
