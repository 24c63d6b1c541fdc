package service

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	scrapebot "github.com/set-night/scrapebot"
	"github.com/set-night/scrapebot/internal/domain"
	"github.com/set-night/scrapebot/internal/repository"
	"github.com/set-night/scrapebot/internal/repository/postgres"
	"github.com/set-night/scrapebot/internal/repository/sqlite"
)

type storeFixture struct {
	name string
	svc  *ContextService
	q    repository.Queries
	rows inspector
	// base offsets external ids so runs against a shared database do not collide.
	base int64
}

func migrationsFS(t *testing.T) fs.FS {
	t.Helper()
	sub, err := fs.Sub(scrapebot.MigrationsFS, "migrations")
	if err != nil {
		t.Fatalf("sub migrations: %v", err)
	}
	return sub
}

// steppingClock returns strictly increasing timestamps one millisecond apart.
func steppingClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

func newSQLiteFixture(t *testing.T) storeFixture {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bot.db")

	if err := repository.RunMigrations("sqlite://"+path, migrationsFS(t)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db, err := repository.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store := sqlite.NewStore(db)
	t.Cleanup(store.Close)

	return storeFixture{
		name: "sqlite",
		svc:  NewContextService(store).WithClock(steppingClock()),
		q:    store.Queries(),
		rows: sqliteInspector{db: db},
		base: 1000,
	}
}

func newPostgresFixture(t *testing.T) (storeFixture, bool) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		return storeFixture{}, false
	}
	ctx := context.Background()
	if err := repository.RunMigrations(url, migrationsFS(t)); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := repository.NewPool(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	store := postgres.NewStore(pool)
	t.Cleanup(store.Close)

	return storeFixture{
		name: "postgres",
		svc:  NewContextService(store),
		q:    store.Queries(),
		rows: postgresInspector{pool: pool},
		base: time.Now().UnixNano() % 1_000_000_000 * 1000,
	}, true
}

// forEachStore runs fn against SQLite and, when TEST_DATABASE_URL is set, Postgres.
func forEachStore(t *testing.T, fn func(t *testing.T, f storeFixture)) {
	t.Run("sqlite", func(t *testing.T) {
		fn(t, newSQLiteFixture(t))
	})
	t.Run("postgres", func(t *testing.T) {
		f, ok := newPostgresFixture(t)
		if !ok {
			t.Skip("TEST_DATABASE_URL not set")
		}
		fn(t, f)
	})
}

func seedPair(t *testing.T, f storeFixture, userID, chatID int64) {
	t.Helper()
	ctx := context.Background()
	langID, err := f.svc.EnsureLanguage(ctx, "en")
	if err != nil {
		t.Fatalf("ensure language: %v", err)
	}
	if err := f.svc.EnsureParticipants(ctx, userID, chatID, langID); err != nil {
		t.Fatalf("ensure participants: %v", err)
	}
}

func record(t *testing.T, f storeFixture, userID, chatID int64, content string) int64 {
	t.Helper()
	id, err := f.svc.RecordExchange(context.Background(), domain.NewMessage{
		UserExternalID: userID,
		ChatExternalID: chatID,
		Content:        content,
	})
	if err != nil {
		t.Fatalf("record exchange %q: %v", content, err)
	}
	return id
}

func contents(entries []domain.HistoryEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Content == nil {
			out = append(out, "<nil>")
			continue
		}
		out = append(out, *e.Content)
	}
	return out
}

func TestEnsureLanguageIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		ctx := context.Background()
		first, err := f.svc.EnsureLanguage(ctx, "en")
		if err != nil {
			t.Fatalf("first ensure: %v", err)
		}
		second, err := f.svc.EnsureLanguage(ctx, "en")
		if err != nil {
			t.Fatalf("second ensure: %v", err)
		}
		if first != second {
			t.Fatalf("ids differ: %d vs %d", first, second)
		}
	})
}

func TestEnsureLanguageConcurrent(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		ctx := context.Background()
		name := "lang-concurrent"

		const workers = 8
		ids := make([]int64, workers)
		errs := make([]error, workers)
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ids[i], errs[i] = f.svc.EnsureLanguage(ctx, name)
			}(i)
		}
		wg.Wait()

		for i := 0; i < workers; i++ {
			if errs[i] != nil {
				t.Fatalf("worker %d: %v", i, errs[i])
			}
			if ids[i] != ids[0] {
				t.Fatalf("worker %d got id %d, want %d", i, ids[i], ids[0])
			}
		}
	})
}

func TestEnsureLanguageAfterSoftDelete(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		ctx := context.Background()
		old, err := f.svc.EnsureLanguage(ctx, "de-retired")
		if err != nil {
			t.Fatalf("ensure: %v", err)
		}
		if err := f.rows.retireLanguage(ctx, old, time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("soft delete language: %v", err)
		}

		fresh, err := f.svc.EnsureLanguage(ctx, "de-retired")
		if err != nil {
			t.Fatalf("ensure after delete: %v", err)
		}
		if fresh == old {
			t.Fatalf("got the soft-deleted language id %d back", old)
		}
	})
}

func TestEnsureParticipantsKeepsLanguage(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		ctx := context.Background()
		userID, chatID := f.base+1, f.base+2

		en, err := f.svc.EnsureLanguage(ctx, "en")
		if err != nil {
			t.Fatalf("ensure en: %v", err)
		}
		es, err := f.svc.EnsureLanguage(ctx, "es")
		if err != nil {
			t.Fatalf("ensure es: %v", err)
		}

		if err := f.svc.EnsureParticipants(ctx, userID, chatID, en); err != nil {
			t.Fatalf("first ensure: %v", err)
		}
		if err := f.svc.EnsureParticipants(ctx, userID, chatID, es); err != nil {
			t.Fatalf("second ensure: %v", err)
		}

		lang, err := f.rows.userLanguage(ctx, userID)
		if err != nil {
			t.Fatalf("user language: %v", err)
		}
		if lang != en {
			t.Fatalf("language overwritten: got %d, want %d", lang, en)
		}
	})
}

func TestFirstMessageEndToEnd(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		ctx := context.Background()
		userID, chatID := f.base+10, f.base+11

		history, err := f.svc.LoadHistory(ctx, "en", userID, chatID, 5)
		if err != nil {
			t.Fatalf("load history: %v", err)
		}
		if len(history) != 1 || !history[0].IsSentinel() {
			t.Fatalf("want the no-history sentinel, got %v", contents(history))
		}

		if _, err := f.rows.userLanguage(ctx, userID); err != nil {
			t.Fatalf("user not created: %v", err)
		}
		if _, err := f.q.GetChat(ctx, chatID); err != nil {
			t.Fatalf("chat not created: %v", err)
		}

		record(t, f, userID, chatID, "hello there")

		history, err = f.svc.RecentHistory(ctx, userID, chatID, 5)
		if err != nil {
			t.Fatalf("recent history: %v", err)
		}
		if len(history) != 1 {
			t.Fatalf("want 1 entry, got %d", len(history))
		}
		if history[0].Content == nil || *history[0].Content != "hello there" {
			t.Fatalf("unexpected content: %v", contents(history))
		}
		if history[0].Response != nil {
			t.Fatalf("want absent response, got %q", *history[0].Response)
		}
	})
}

func TestRecentHistoryOrderAndCap(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		ctx := context.Background()
		userID, chatID := f.base+20, f.base+21
		seedPair(t, f, userID, chatID)

		for _, c := range []string{"m1", "m2", "m3", "m4", "m5"} {
			record(t, f, userID, chatID, c)
		}
		// Another user in the same chat must not leak in.
		seedPair(t, f, f.base+22, chatID)
		record(t, f, f.base+22, chatID, "other")

		got, err := f.svc.RecentHistory(ctx, userID, chatID, 3)
		if err != nil {
			t.Fatalf("recent history: %v", err)
		}
		want := []string{"m5", "m4", "m3"}
		if g := contents(got); len(g) != len(want) || g[0] != want[0] || g[1] != want[1] || g[2] != want[2] {
			t.Fatalf("got %v, want %v", g, want)
		}

		got, err = f.svc.RecentHistory(ctx, userID, chatID, 10)
		if err != nil {
			t.Fatalf("recent history: %v", err)
		}
		if g := contents(got); len(g) != 5 || g[0] != "m5" || g[4] != "m1" {
			t.Fatalf("got %v, want m5..m1", g)
		}
	})
}

func TestClearHistory(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		ctx := context.Background()
		userID, chatID := f.base+30, f.base+31
		seedPair(t, f, userID, chatID)
		record(t, f, userID, chatID, "a")
		record(t, f, userID, chatID, "b")

		n, err := f.svc.ClearHistory(ctx, userID, chatID)
		if err != nil {
			t.Fatalf("clear: %v", err)
		}
		if n != 2 {
			t.Fatalf("cleared %d, want 2", n)
		}

		history, err := f.svc.RecentHistory(ctx, userID, chatID, 5)
		if err != nil {
			t.Fatalf("recent history: %v", err)
		}
		if !domain.IsEmptyHistory(history) {
			t.Fatalf("cleared messages still visible: %v", contents(history))
		}

		n, err = f.svc.ClearHistory(ctx, userID, chatID)
		if err != nil {
			t.Fatalf("second clear: %v", err)
		}
		if n != 0 {
			t.Fatalf("second clear affected %d rows", n)
		}

		record(t, f, userID, chatID, "c")
		history, err = f.svc.RecentHistory(ctx, userID, chatID, 5)
		if err != nil {
			t.Fatalf("recent history: %v", err)
		}
		if g := contents(history); len(g) != 1 || g[0] != "c" {
			t.Fatalf("got %v, want [c]", g)
		}
	})
}

func TestSoftDeleteChatCascade(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		ctx := context.Background()
		userID, doomed, kept := f.base+40, f.base+41, f.base+42
		seedPair(t, f, userID, doomed)
		seedPair(t, f, userID, kept)
		record(t, f, userID, doomed, "x1")
		record(t, f, userID, doomed, "x2")
		record(t, f, userID, kept, "y1")

		if err := f.svc.SoftDeleteChat(ctx, doomed); err != nil {
			t.Fatalf("soft delete: %v", err)
		}

		chat, err := f.q.GetChat(ctx, doomed)
		if err != nil {
			t.Fatalf("get chat: %v", err)
		}
		if chat.DeletedAt == nil {
			t.Fatal("chat not marked deleted")
		}

		msgs, err := f.rows.chatDeletions(ctx, doomed)
		if err != nil {
			t.Fatalf("list messages: %v", err)
		}
		for _, m := range msgs {
			if m.DeletedAt == nil || !m.DeletedAt.Equal(*chat.DeletedAt) {
				t.Fatalf("message %d deleted_at = %v, want %v", m.ID, m.DeletedAt, chat.DeletedAt)
			}
		}

		others, err := f.rows.chatDeletions(ctx, kept)
		if err != nil {
			t.Fatalf("list other messages: %v", err)
		}
		for _, m := range others {
			if m.DeletedAt != nil {
				t.Fatalf("message %d in another chat was deleted", m.ID)
			}
		}

		// Second call is a no-op and keeps the original timestamp.
		if err := f.svc.SoftDeleteChat(ctx, doomed); err != nil {
			t.Fatalf("second soft delete: %v", err)
		}
		again, err := f.q.GetChat(ctx, doomed)
		if err != nil {
			t.Fatalf("get chat: %v", err)
		}
		if !again.DeletedAt.Equal(*chat.DeletedAt) {
			t.Fatalf("timestamp moved from %v to %v", chat.DeletedAt, again.DeletedAt)
		}

		history, err := f.svc.RecentHistory(ctx, userID, doomed, 5)
		if err != nil {
			t.Fatalf("recent history: %v", err)
		}
		if !domain.IsEmptyHistory(history) {
			t.Fatalf("deleted chat still has history: %v", contents(history))
		}
	})
}

func TestSoftDeleteUnknownChat(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		err := f.svc.SoftDeleteChat(context.Background(), f.base+99)
		if !errors.Is(err, domain.ErrChatNotFound) {
			t.Fatalf("got %v, want ErrChatNotFound", err)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("ErrChatNotFound does not match ErrNotFound")
		}
	})
}

func TestReactivatedChatStartsEmpty(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		ctx := context.Background()
		userID, chatID := f.base+50, f.base+51
		seedPair(t, f, userID, chatID)
		record(t, f, userID, chatID, "before")

		if err := f.svc.SoftDeleteChat(ctx, chatID); err != nil {
			t.Fatalf("soft delete: %v", err)
		}

		history, err := f.svc.LoadHistory(ctx, "en", userID, chatID, 5)
		if err != nil {
			t.Fatalf("load history: %v", err)
		}
		if !domain.IsEmptyHistory(history) {
			t.Fatalf("got %v, want no history", contents(history))
		}

		chat, err := f.q.GetChat(ctx, chatID)
		if err != nil {
			t.Fatalf("get chat: %v", err)
		}
		if chat.DeletedAt != nil {
			t.Fatal("chat was not reactivated")
		}

		record(t, f, userID, chatID, "after")
		history, err = f.svc.RecentHistory(ctx, userID, chatID, 5)
		if err != nil {
			t.Fatalf("recent history: %v", err)
		}
		if g := contents(history); len(g) != 1 || g[0] != "after" {
			t.Fatalf("got %v, want [after]", g)
		}
	})
}

func TestAttachResponse(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		ctx := context.Background()
		userID, chatID := f.base+60, f.base+61
		seedPair(t, f, userID, chatID)
		id := record(t, f, userID, chatID, "question")

		if err := f.svc.AttachResponse(ctx, id, "answer"); err != nil {
			t.Fatalf("attach: %v", err)
		}
		history, err := f.svc.RecentHistory(ctx, userID, chatID, 1)
		if err != nil {
			t.Fatalf("recent history: %v", err)
		}
		if history[0].Response == nil || *history[0].Response != "answer" {
			t.Fatalf("response not stored: %+v", history[0])
		}

		if err := f.svc.AttachResponse(ctx, id, "again"); !errors.Is(err, domain.ErrConstraint) {
			t.Fatalf("second attach: got %v, want ErrConstraint", err)
		}
		if err := f.svc.AttachResponse(ctx, f.base+12345, "x"); !errors.Is(err, domain.ErrMessageNotFound) {
			t.Fatalf("unknown message: got %v, want ErrMessageNotFound", err)
		}

		pending := record(t, f, userID, chatID, "pending")
		if err := f.svc.SoftDeleteChat(ctx, chatID); err != nil {
			t.Fatalf("soft delete: %v", err)
		}
		if err := f.svc.AttachResponse(ctx, pending, "late"); !errors.Is(err, domain.ErrMessageNotFound) {
			t.Fatalf("deleted message: got %v, want ErrMessageNotFound", err)
		}
	})
}

func TestRecordExchangeUnknownParticipant(t *testing.T) {
	forEachStore(t, func(t *testing.T, f storeFixture) {
		_, err := f.svc.RecordExchange(context.Background(), domain.NewMessage{
			UserExternalID: f.base + 70,
			ChatExternalID: f.base + 71,
			Content:        "orphan",
		})
		if !errors.Is(err, domain.ErrConstraint) {
			t.Fatalf("got %v, want ErrConstraint", err)
		}
	})
}
