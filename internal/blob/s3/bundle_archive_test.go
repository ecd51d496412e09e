package s3blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

type memObject struct {
	data []byte
	meta map[string]string
}

type memBlobs struct {
	mu        sync.Mutex
	objects   map[string]memObject
	multipart []string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string]memObject)}
}

func (m *memBlobs) Put(_ context.Context, obj domain.BlobObject) error {
	b, err := io.ReadAll(obj.Body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[obj.Path] = memObject{data: b, meta: obj.Metadata}
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, obj domain.BlobObject, _ int64) error {
	m.mu.Lock()
	m.multipart = append(m.multipart, obj.Path)
	m.mu.Unlock()
	return m.Put(ctx, obj)
}

func (m *memBlobs) Get(_ context.Context, path string) (domain.Blob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[path]
	if !ok {
		return domain.Blob{}, domain.ErrNotFound
	}
	return domain.Blob{Body: io.NopCloser(bytes.NewReader(o.data)), Size: int64(len(o.data)), Metadata: o.meta}, nil
}

func testBundle(accounts int) domain.FinalizeBundle {
	b := domain.FinalizeBundle{
		Market: domain.MarketState{
			MarketID:      "m-1",
			TotalTickets:  uint64(accounts),
			TotalTicketsA: uint64(accounts),
			IsFinalized:   true,
			WinningSide:   domain.SideA,
			RevealedKey:   "ab",
		},
		GeneratedAt: time.Unix(1_700_000_000, 0).UTC(),
	}
	for i := range accounts {
		b.Accounts = append(b.Accounts, domain.AccountState{
			MarketID:      "m-1",
			ParticipantID: string(rune('a' + i%26)),
			TotalTickets:  1,
			Choices:       []domain.Choice{{EncodedChoice: "c2VhbGVk", TicketCount: 1}},
		})
	}
	return b
}

func TestBundleArchivePutGet(t *testing.T) {
	blobs := newMemBlobs()
	archive := NewBundleArchive(blobs, blobs, 0)
	ctx := context.Background()

	path, err := archive.PutBundle(ctx, testBundle(3))
	if err != nil {
		t.Fatalf("PutBundle: %v", err)
	}
	if path != "markets/m-1/finalize.json" {
		t.Errorf("path = %q", path)
	}
	if len(blobs.multipart) != 0 {
		t.Errorf("small bundle used multipart upload")
	}

	blob, err := archive.GetBundle(ctx, "m-1")
	if err != nil {
		t.Fatalf("GetBundle: %v", err)
	}
	defer blob.Body.Close()
	data, err := io.ReadAll(blob.Body)
	if err != nil {
		t.Fatal(err)
	}
	var got domain.FinalizeBundle
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("decode bundle: %v", err)
	}
	if got.Market.RevealedKey != "ab" || len(got.Accounts) != 3 {
		t.Errorf("bundle = %+v", got)
	}

	sum := sha256.Sum256(data)
	if blob.Metadata[domain.BundleMetaSHA256] != hex.EncodeToString(sum[:]) {
		t.Errorf("sha256 metadata = %q", blob.Metadata[domain.BundleMetaSHA256])
	}
	if blob.Metadata[domain.BundleMetaMarketID] != "m-1" || blob.Size != int64(len(data)) {
		t.Errorf("metadata = %v size = %d", blob.Metadata, blob.Size)
	}
}

func TestBundleArchiveMultipartAboveThreshold(t *testing.T) {
	blobs := newMemBlobs()
	archive := NewBundleArchive(blobs, blobs, 256)

	if _, err := archive.PutBundle(context.Background(), testBundle(20)); err != nil {
		t.Fatalf("PutBundle: %v", err)
	}
	if len(blobs.multipart) != 1 || blobs.multipart[0] != BundlePath("m-1") {
		t.Errorf("multipart uploads = %v", blobs.multipart)
	}
}

func TestBundleArchiveMissing(t *testing.T) {
	blobs := newMemBlobs()
	archive := NewBundleArchive(blobs, blobs, 0)

	_, err := archive.GetBundle(context.Background(), "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := archive.PutBundle(context.Background(), domain.FinalizeBundle{}); err == nil {
		t.Error("bundle without market id accepted")
	}
}

func TestWithScheme(t *testing.T) {
	tests := []struct {
		in   string
		ssl  bool
		want string
	}{
		{"minio:9000", false, "http://minio:9000"},
		{"e2.example.com", true, "https://e2.example.com"},
		{"https://r2.example.com", false, "https://r2.example.com"},
	}
	for _, tt := range tests {
		if got := withScheme(tt.in, tt.ssl); got != tt.want {
			t.Errorf("withScheme(%q, %v) = %q, want %q", tt.in, tt.ssl, got, tt.want)
		}
	}
}
