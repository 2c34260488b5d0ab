package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"watchtower/internal/constants"
	"watchtower/pkg/blob"
	"watchtower/pkg/metrics"
)

// Store persists serialized evidence that is too large to keep inline and
// returns a reference to it.
type Store interface {
	Save(ctx context.Context, runID string, data []byte) (string, error)
}

type MinioStore struct {
	blobs  blob.Store
	bucket string
}

func NewMinioStore(blobs blob.Store, bucket string) *MinioStore {
	if bucket == "" {
		bucket = constants.DefaultEvidenceBucket
	}
	return &MinioStore{blobs: blobs, bucket: bucket}
}

func (s *MinioStore) Save(ctx context.Context, runID string, data []byte) (string, error) {
	key := constants.EvidenceObjectPrefix + runID + ".json"
	if err := s.blobs.Put(ctx, s.bucket, key, data, constants.EvidenceObjectContentType); err != nil {
		return "", fmt.Errorf("failed to store evidence for run %s: %w", runID, err)
	}
	return blob.URI(s.bucket, key), nil
}

// MemoryStore keeps evidence in process. Used by the CLI and tests.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (s *MemoryStore) Save(_ context.Context, runID string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ref := "memory://" + constants.EvidenceObjectPrefix + runID + ".json"
	s.objects[ref] = append([]byte(nil), data...)
	return ref, nil
}

func (s *MemoryStore) Get(ref string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects[ref]
	return data, ok
}

// Placement is where a bundle ended up. Exactly one of Inline and Ref is set.
// Size is the serialized length of the bundle either way.
type Placement struct {
	Inline json.RawMessage
	Ref    string
	Size   int
}

// pointer is stored inline in place of an offloaded bundle.
type pointer struct {
	Ref         string `json:"evidence_ref"`
	TotalFailed int    `json:"total_failed"`
	Size        int    `json:"size_bytes"`
}

// Summary returns what a run record or incident should carry: the bundle
// itself, or a small pointer document when it was offloaded.
func (p Placement) Summary(bundle *Bundle) json.RawMessage {
	if p.Ref == "" {
		return p.Inline
	}
	data, _ := json.Marshal(pointer{Ref: p.Ref, TotalFailed: bundle.TotalFailed, Size: p.Size})
	return data
}

// Offloader keeps bundles up to maxBytes inline and writes larger ones to
// the store.
type Offloader struct {
	store    Store
	maxBytes int
}

func NewOffloader(store Store, maxBytes int) *Offloader {
	return &Offloader{store: store, maxBytes: maxBytes}
}

func (o *Offloader) Place(ctx context.Context, runID string, bundle *Bundle) (Placement, error) {
	data, err := bundle.Marshal()
	if err != nil {
		return Placement{}, fmt.Errorf("failed to encode evidence: %w", err)
	}

	if len(data) <= o.maxBytes || o.store == nil {
		return Placement{Inline: data, Size: len(data)}, nil
	}

	ref, err := o.store.Save(ctx, runID, data)
	if err != nil {
		metrics.EvidenceOffloadsTotal.WithLabelValues("error").Inc()
		return Placement{}, err
	}
	metrics.EvidenceOffloadsTotal.WithLabelValues("success").Inc()
	return Placement{Ref: ref, Size: len(data)}, nil
}
