package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/mohammad-safakhou/roadbook/internal/agent/core"
	"github.com/mohammad-safakhou/roadbook/internal/store"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("roadbook"),
		tcPostgres.WithUsername("roadbook"),
		tcPostgres.WithPassword("roadbook"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://roadbook:roadbook@%s:%s/roadbook?sslmode=disable", host, port.Port())

	migrations, err := filepath.Abs("../../migrations")
	if err != nil {
		t.Fatalf("migrations path: %v", err)
	}
	if err := store.Migrate("file://"+migrations, dsn, "up", 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreRoundTrip(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	if err := st.CreateUser(ctx, "driver@example.com", "hash"); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	userID, hash, err := st.GetUserByEmail(ctx, "driver@example.com")
	if err != nil || hash != "hash" {
		t.Fatalf("GetUserByEmail: %q, %v", hash, err)
	}

	threadID, err := st.CreateThread(ctx, userID, "stop signs", "California")
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	thread, err := st.GetThread(ctx, threadID, userID)
	if err != nil || thread.StateHint != "California" {
		t.Fatalf("GetThread: %+v, %v", thread, err)
	}
	if err := st.UpdateThreadState(ctx, threadID, userID, "Texas"); err != nil {
		t.Fatalf("UpdateThreadState: %v", err)
	}

	if err := st.AppendMessage(ctx, threadID, "user", "What is a stop sign?"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := st.AppendMessage(ctx, threadID, "assistant", "An octagonal red sign. [1]"); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	msgs, err := st.ListMessages(ctx, threadID, 10)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("messages out of order: %+v", msgs)
	}

	res := core.AskResult{
		ID:    "60f5d1c2-3f8a-4f4e-9a76-1af6f3f1b0aa",
		Query: "What is a stop sign?",
		Response: core.AssembledResponse{
			Text:      "An octagonal red sign. [1]",
			Citations: []core.Citation{{Index: 1, DocumentName: "CA Handbook", PageNumber: 45, RawMatch: "(Source: CA Handbook, Page 45)"}},
			Images:    []core.ImageCandidate{{URL: "https://blob/stop.png", RelevanceScore: 1, Included: true}},
		},
		Model:      "gpt-4o",
		TokensUsed: 321,
		Cost:       0.004,
		Elapsed:    1500 * time.Millisecond,
	}
	if err := st.RecordAsk(ctx, userID, threadID, res); err != nil {
		t.Fatalf("RecordAsk: %v", err)
	}

	asks, err := st.RecentAsks(ctx, userID, 10)
	if err != nil {
		t.Fatalf("RecentAsks: %v", err)
	}
	if len(asks) != 1 {
		t.Fatalf("got %d asks, want 1", len(asks))
	}
	got := asks[0]
	if got.Answer != res.Response.Text || got.LatencyMS != 1500 {
		t.Fatalf("ask record mismatch: %+v", got)
	}
	if len(got.Citations) != 1 || got.Citations[0].DocumentName != "CA Handbook" {
		t.Fatalf("citations not preserved: %+v", got.Citations)
	}
	if len(got.Images) != 1 || got.Images[0].URL != "https://blob/stop.png" {
		t.Fatalf("images not preserved: %+v", got.Images)
	}

	if err := st.DeleteThread(ctx, threadID, userID); err != nil {
		t.Fatalf("DeleteThread: %v", err)
	}
	threads, err := st.ListThreads(ctx, userID)
	if err != nil || len(threads) != 0 {
		t.Fatalf("ListThreads after delete: %+v, %v", threads, err)
	}
}
