package indexer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/roadbook/config"
)

func TestExtractMetadata(t *testing.T) {
	t.Parallel()
	cases := []struct {
		path    string
		state   string
		year    string
		version string
	}{
		{"manuals/california_driver_handbook_2023.pdf", "California", "2023", ""},
		{"manuals/new-york-dmv-manual-v2.1.pdf", "New York", "", "2.1"},
		{"west_virginia_manual_2020_version_3.pdf", "West Virginia", "2020", "3"},
		{"texas.pdf", "Texas", "", ""},
		{"unknown_handbook.pdf", "", "", ""},
	}
	for _, tc := range cases {
		got := ExtractMetadata(tc.path)
		if got.State != tc.state {
			t.Errorf("%s: state = %q, want %q", tc.path, got.State, tc.state)
		}
		if got.Year != tc.year {
			t.Errorf("%s: year = %q, want %q", tc.path, got.Year, tc.year)
		}
		if got.Version != tc.version {
			t.Errorf("%s: version = %q, want %q", tc.path, got.Version, tc.version)
		}
	}
}

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(config.IndexerConfig{
		Endpoint:   srv.URL,
		APIKey:     "test-key",
		Name:       "manuals-indexer",
		Skillset:   "manuals-skillset",
		DataSource: "manuals-ds",
		APIVersion: "2024-07-01",
	}, "driving-rules-hybrid")
	return client, srv
}

func TestClientRunAndStatus(t *testing.T) {
	t.Parallel()
	var sawRun bool
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "test-key" {
			t.Errorf("missing api-key header")
		}
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/indexers/manuals-indexer/run"):
			sawRun = true
			w.WriteHeader(http.StatusAccepted)
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/indexers/manuals-indexer/status"):
			json.NewEncoder(w).Encode(map[string]any{
				"name":   "manuals-indexer",
				"status": "running",
				"lastResult": map[string]any{
					"status":          "success",
					"itemCount":       12,
					"failedItemCount": 1,
				},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	res, err := client.RunAndWait(context.Background(), time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("RunAndWait: %v", err)
	}
	if !sawRun {
		t.Fatal("run endpoint was not called")
	}
	if res.Status != "success" || res.ItemsProcessed != 12 || res.ItemsFailed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestClientRunFailure(t *testing.T) {
	t.Parallel()
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"indexer not found"}}`, http.StatusNotFound)
	}))
	if err := client.Run(context.Background()); err == nil {
		t.Fatal("expected error on 404")
	}
}

func TestValidateMissingComponents(t *testing.T) {
	t.Parallel()
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	rep, err := client.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if rep.Healthy() {
		t.Fatal("report should not be healthy when nothing is deployed")
	}
	if rep.IndexerExists || rep.SkillsetExists || rep.IndexExists {
		t.Fatalf("components should be missing: %+v", rep)
	}
}

func TestValidateHealthyPipeline(t *testing.T) {
	t.Parallel()
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/indexes/driving-rules-hybrid/stats"):
			json.NewEncoder(w).Encode(map[string]any{"documentCount": 340, "storageSize": 1024})
		case strings.HasSuffix(r.URL.Path, "/docs/search"):
			json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{
					{"content": "Stop at the limit line.", "page_number": 12, "image_urls": []string{"https://x/y.png"}},
					{"content": "Yield to pedestrians.", "page_number": 30},
				},
			})
		case strings.HasSuffix(r.URL.Path, "/indexes/driving-rules-hybrid"):
			fields := []map[string]any{}
			for _, name := range requiredFields {
				fields = append(fields, map[string]any{"name": name, "type": "Edm.String"})
			}
			fields = append(fields, map[string]any{"name": "content_vector", "type": "Collection(Edm.Single)", "dimensions": 1536})
			json.NewEncoder(w).Encode(map[string]any{"name": "driving-rules-hybrid", "fields": fields})
		default:
			// indexer and skillset definition fetches
			json.NewEncoder(w).Encode(map[string]any{"name": "ok"})
		}
	}))

	rep, err := client.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !rep.Healthy() {
		t.Fatalf("expected healthy report, got %+v", rep)
	}
	if !rep.HasVectorField {
		t.Fatal("vector field not detected")
	}
	if rep.SampledChunks != 2 || rep.ChunksWithText != 2 || rep.ChunksWithImgs != 1 {
		t.Fatalf("unexpected sample coverage: %+v", rep)
	}
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	st := Status{
		ExecutionHistory: []ExecutionResult{
			{Status: "success", ItemsProcessed: 10, EndTime: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
			{Status: "transientFailure", ErrorMessage: "blob unreachable", ItemsFailed: 3},
			{Status: "transientFailure", ErrorMessage: "blob unreachable"},
			{Status: "inProgress"},
		},
	}
	sum := Summarize(st)
	if sum.Runs != 4 || sum.Succeeded != 1 || sum.Failed != 2 || sum.InProgress != 1 {
		t.Fatalf("unexpected counts: %+v", sum)
	}
	if sum.ErrorGroups["blob unreachable"] != 2 {
		t.Fatalf("error grouping failed: %+v", sum.ErrorGroups)
	}
	if sum.LastSuccess.IsZero() {
		t.Fatal("last success not tracked")
	}
}

func TestIsDue(t *testing.T) {
	t.Parallel()
	recent := time.Now().Add(-time.Minute)
	old := time.Now().Add(-25 * time.Hour)

	if !isDue("@daily", nil) {
		t.Error("never-run schedule should be due")
	}
	if isDue("@daily", &recent) {
		t.Error("daily schedule ran a minute ago, not due")
	}
	if !isDue("@daily", &old) {
		t.Error("daily schedule ran 25h ago, should be due")
	}
	if isDue("@hourly", &recent) {
		t.Error("hourly schedule ran a minute ago, not due")
	}
	// every-minute cron with an old last run should fire
	if !isDue("* * * * *", &old) {
		t.Error("cron schedule should be due")
	}
}
