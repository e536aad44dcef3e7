package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/asmcenter/voicecoach/internal/transcript"
	"github.com/asmcenter/voicecoach/internal/transcript/postgres"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if VOICECOACH_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("VOICECOACH_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("VOICECOACH_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore drops the schema and returns a freshly migrated store.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS transcript_items CASCADE"); err != nil {
		t.Fatalf("drop schema: %v", err)
	}
	pool.Close()

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore_BadDSN(t *testing.T) {
	t.Parallel()

	if _, err := postgres.NewStore(context.Background(), "postgres://bad%zz@localhost/db"); err == nil {
		t.Fatal("NewStore with invalid DSN: want error, got nil")
	}
}

func TestStore_Name(t *testing.T) {
	t.Parallel()

	var s *postgres.Store
	if got := s.Name(); got != "postgres" {
		t.Errorf("Name = %q, want postgres", got)
	}
}

func TestStore_WriteAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := []transcript.Item{
		{Role: transcript.RoleUser, Text: "Hello", Timestamp: ts},
		{Role: transcript.RoleModel, Text: "Hi, tell me about yourself.", Timestamp: ts},
	}
	second := []transcript.Item{
		{Role: transcript.RoleUser, Text: "I build compilers.", Timestamp: ts.Add(time.Minute)},
	}
	if err := store.Write(ctx, "s1", first); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Write(ctx, "s1", second); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.Write(ctx, "s2", []transcript.Item{{Role: transcript.RoleUser, Text: "other"}}); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := store.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := append(first, second...)
	if len(got) != len(want) {
		t.Fatalf("List returned %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Role != want[i].Role || got[i].Text != want[i].Text || !got[i].Timestamp.Equal(want[i].Timestamp) {
			t.Errorf("item[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestStore_ListUnknownSession(t *testing.T) {
	store := newTestStore(t)

	got, err := store.List(context.Background(), "missing")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("List = %#v, want empty non-nil slice", got)
	}
}

func TestStore_Search(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_ = store.Write(ctx, "s1", []transcript.Item{
		{Role: transcript.RoleUser, Text: "I led the database migration project"},
		{Role: transcript.RoleModel, Text: "What was the hardest part?"},
	})

	got, err := store.Search(ctx, "migration", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 1 || got[0].Role != transcript.RoleUser {
		t.Errorf("Search = %+v, want the user item", got)
	}
}

func TestStore_WriteEmptyIsNoop(t *testing.T) {
	store := newTestStore(t)
	if err := store.Write(context.Background(), "s1", nil); err != nil {
		t.Errorf("Write(nil): %v", err)
	}
}
