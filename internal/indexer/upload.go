package indexer

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mohammad-safakhou/roadbook/config"
)

// DocMetadata is attached to each uploaded blob and flows through the
// ingestion pipeline into the index's filterable fields.
type DocMetadata struct {
	State   string
	Year    string
	Version string
}

var usStates = []string{
	"alabama", "alaska", "arizona", "arkansas", "california", "colorado",
	"connecticut", "delaware", "florida", "georgia", "hawaii", "idaho",
	"illinois", "indiana", "iowa", "kansas", "kentucky", "louisiana",
	"maine", "maryland", "massachusetts", "michigan", "minnesota",
	"mississippi", "missouri", "montana", "nebraska", "nevada",
	"new hampshire", "new jersey", "new mexico", "new york",
	"north carolina", "north dakota", "ohio", "oklahoma", "oregon",
	"pennsylvania", "rhode island", "south carolina", "south dakota",
	"tennessee", "texas", "utah", "vermont", "virginia", "washington",
	"west virginia", "wisconsin", "wyoming",
}

var (
	yearPattern    = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	versionPattern = regexp.MustCompile(`(?i)v(?:ersion)?[-_ ]?(\d+(?:\.\d+)?)`)
)

// ExtractMetadata derives document metadata from a file path. State names
// with spaces match both "new_york" and "new-york" forms in the path.
func ExtractMetadata(path string) DocMetadata {
	normalized := strings.ToLower(path)
	normalized = strings.NewReplacer("_", " ", "-", " ").Replace(normalized)

	var meta DocMetadata
	// Longer names first so "west virginia" wins over "virginia".
	for _, state := range usStates {
		if strings.Contains(normalized, state) {
			if len(state) > len(meta.State) {
				meta.State = state
			}
		}
	}
	meta.State = titleWords(meta.State)
	if m := yearPattern.FindString(normalized); m != "" {
		meta.Year = m
	}
	if m := versionPattern.FindStringSubmatch(filepath.Base(path)); m != nil {
		meta.Version = m[1]
	}
	return meta
}

func titleWords(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Uploader puts manual PDFs into the blob container the ingestion
// pipeline watches.
type Uploader struct {
	endpoint   string
	sasToken   string
	container  string
	httpClient *http.Client
}

func NewUploader(cfg config.IndexerConfig) *Uploader {
	return &Uploader{
		endpoint:   strings.TrimRight(cfg.BlobEndpoint, "/"),
		sasToken:   strings.TrimPrefix(cfg.BlobSASToken, "?"),
		container:  cfg.DocumentsContainer,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

// Upload puts a single file into the container under its base name,
// stamping extracted metadata onto the blob.
func (u *Uploader) Upload(ctx context.Context, path string) (DocMetadata, error) {
	meta := ExtractMetadata(path)

	f, err := os.Open(path)
	if err != nil {
		return meta, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return meta, fmt.Errorf("stat %s: %w", path, err)
	}

	name := filepath.Base(path)
	url := fmt.Sprintf("%s/%s/%s?%s", u.endpoint, u.container, name, u.sasToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, f)
	if err != nil {
		return meta, err
	}
	req.ContentLength = info.Size()
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	req.Header.Set("Content-Type", "application/pdf")
	if meta.State != "" {
		req.Header.Set("x-ms-meta-state", meta.State)
	}
	if meta.Year != "" {
		req.Header.Set("x-ms-meta-year", meta.Year)
	}
	if meta.Version != "" {
		req.Header.Set("x-ms-meta-version", meta.Version)
	}

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return meta, fmt.Errorf("upload %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return meta, fmt.Errorf("upload %s: %s", name, readError(resp))
	}
	return meta, nil
}

// UploadDir uploads every PDF under dir, returning the uploaded blob
// names keyed to their extracted metadata.
func (u *Uploader) UploadDir(ctx context.Context, dir string) (map[string]DocMetadata, error) {
	uploaded := make(map[string]DocMetadata)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".pdf") {
			return nil
		}
		meta, err := u.Upload(ctx, path)
		if err != nil {
			return err
		}
		uploaded[filepath.Base(path)] = meta
		return nil
	})
	if err != nil {
		return uploaded, fmt.Errorf("upload dir %s: %w", dir, err)
	}
	return uploaded, nil
}

// BlobInfo is one entry from a container listing.
type BlobInfo struct {
	Name         string
	Size         int64
	LastModified string
}

type listResponse struct {
	Blobs struct {
		Blob []struct {
			Name       string `xml:"Name"`
			Properties struct {
				ContentLength int64  `xml:"Content-Length"`
				LastModified  string `xml:"Last-Modified"`
			} `xml:"Properties"`
		} `xml:"Blob"`
	} `xml:"Blobs"`
}

// List enumerates the blobs currently in the documents container.
func (u *Uploader) List(ctx context.Context) ([]BlobInfo, error) {
	url := fmt.Sprintf("%s/%s?restype=container&comp=list&%s", u.endpoint, u.container, u.sasToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list container %s: %w", u.container, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list container %s: %s", u.container, readError(resp))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var parsed listResponse
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse container listing: %w", err)
	}
	blobs := make([]BlobInfo, 0, len(parsed.Blobs.Blob))
	for _, b := range parsed.Blobs.Blob {
		blobs = append(blobs, BlobInfo{Name: b.Name, Size: b.Properties.ContentLength, LastModified: b.Properties.LastModified})
	}
	return blobs, nil
}
