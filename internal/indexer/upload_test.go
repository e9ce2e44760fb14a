package indexer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mohammad-safakhou/roadbook/config"
)

func TestUploaderUpload(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "california_driver_handbook_2023.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4 fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	var gotPath, gotState, gotYear, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotState = r.Header.Get("x-ms-meta-state")
		gotYear = r.Header.Get("x-ms-meta-year")
		gotType = r.Header.Get("x-ms-blob-type")
		if r.URL.RawQuery != "sv=token" {
			t.Errorf("SAS token not forwarded: %q", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	u := NewUploader(config.IndexerConfig{
		BlobEndpoint:       srv.URL,
		BlobSASToken:       "?sv=token",
		DocumentsContainer: "documents",
	})
	meta, err := u.Upload(context.Background(), path)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if gotPath != "/documents/california_driver_handbook_2023.pdf" {
		t.Errorf("blob path = %q", gotPath)
	}
	if gotType != "BlockBlob" {
		t.Errorf("blob type header = %q", gotType)
	}
	if gotState != "California" || gotYear != "2023" {
		t.Errorf("metadata headers: state=%q year=%q", gotState, gotYear)
	}
	if meta.State != "California" {
		t.Errorf("returned metadata: %+v", meta)
	}
}

func TestUploaderList(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("comp") != "list" {
			t.Errorf("expected list query, got %q", r.URL.RawQuery)
		}
		w.Write([]byte(`<?xml version="1.0" encoding="utf-8"?>
<EnumerationResults>
  <Blobs>
    <Blob>
      <Name>texas_manual.pdf</Name>
      <Properties><Content-Length>1024</Content-Length><Last-Modified>Mon, 02 Jun 2025 10:00:00 GMT</Last-Modified></Properties>
    </Blob>
    <Blob>
      <Name>ohio_manual.pdf</Name>
      <Properties><Content-Length>2048</Content-Length><Last-Modified>Tue, 03 Jun 2025 10:00:00 GMT</Last-Modified></Properties>
    </Blob>
  </Blobs>
</EnumerationResults>`))
	}))
	defer srv.Close()

	u := NewUploader(config.IndexerConfig{BlobEndpoint: srv.URL, BlobSASToken: "sv=t", DocumentsContainer: "documents"})
	blobs, err := u.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(blobs) != 2 {
		t.Fatalf("got %d blobs, want 2", len(blobs))
	}
	if blobs[0].Name != "texas_manual.pdf" || blobs[0].Size != 1024 {
		t.Errorf("unexpected first blob: %+v", blobs[0])
	}
}
