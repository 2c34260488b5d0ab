package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchtower/internal/dataset"
	"watchtower/internal/dsl"
	"watchtower/pkg/blob"
)

var fixedNow = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func table(rows int) *dataset.Table {
	ids := make([]dataset.Cell, rows)
	emails := make([]dataset.Cell, rows)
	for i := 0; i < rows; i++ {
		ids[i] = dataset.IntCell(int64(i))
		emails[i] = dataset.NullCell()
		if i%2 == 0 {
			emails[i] = dataset.StringCell(fmt.Sprintf("u%d@x.com", i))
		}
	}
	return dataset.MustTable(
		&dataset.Column{Name: "id", Kind: dataset.KindInt, Cells: ids},
		&dataset.Column{Name: "email", Kind: dataset.KindString, Cells: emails},
	)
}

func TestBuild_CapsSample(t *testing.T) {
	mask := make([]bool, 120)
	for i := range mask {
		mask[i] = true
	}

	bundle := NewBuilder(WithClock(func() time.Time { return fixedNow })).Build(table(120), mask, dsl.FuncNotNull)

	assert.Len(t, bundle.Sample, 50)
	assert.Equal(t, 120, bundle.TotalFailed)
	assert.Equal(t, []string{"id", "email"}, bundle.Columns)
	assert.Equal(t, dsl.FuncNotNull, bundle.RuleType)
	assert.Equal(t, fixedNow, bundle.GeneratedAt)

	first, ok := bundle.Sample[0].Get("id")
	require.True(t, ok)
	assert.Equal(t, int64(0), first)

	last, _ := bundle.Sample[49].Get("id")
	assert.Equal(t, int64(49), last)
}

func TestBuild_KeepsRowOrder(t *testing.T) {
	mask := []bool{false, true, false, true, true}

	bundle := NewBuilder(WithCap(2)).Build(table(5), mask, dsl.FuncNotNull)

	require.Len(t, bundle.Sample, 2)
	assert.Equal(t, 3, bundle.TotalFailed)

	id, _ := bundle.Sample[0].Get("id")
	assert.Equal(t, int64(1), id)
	id, _ = bundle.Sample[1].Get("id")
	assert.Equal(t, int64(3), id)

	_, ok := bundle.Sample[0].Get("missing")
	assert.False(t, ok)
}

func TestBundle_JSON(t *testing.T) {
	mask := []bool{true, true}
	bundle := NewBuilder(WithClock(func() time.Time { return fixedNow })).Build(table(2), mask, dsl.FuncUnique)

	data, err := bundle.Marshal()
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"total_failed": 2,
		"sample_rows": [{"id": 0, "email": "u0@x.com"}, {"id": 1, "email": null}],
		"columns": ["id", "email"],
		"rule_type": "UNIQUE",
		"timestamp": "2024-05-06T07:08:09Z"
	}`, string(data))
	assert.Contains(t, string(data), `{"id":0,"email":"u0@x.com"}`)
	size, err := bundle.Size()
	require.NoError(t, err)
	assert.Equal(t, len(data), size)
}

func TestBuild_NoFailures(t *testing.T) {
	bundle := NewBuilder().Build(table(3), make([]bool, 3), dsl.FuncNotNull)

	assert.Empty(t, bundle.Sample)
	assert.Zero(t, bundle.TotalFailed)

	data, err := bundle.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"sample_rows":[]`)
}

func TestOffloader_InlineBelowThreshold(t *testing.T) {
	store := NewMemoryStore()
	bundle := NewBuilder().Build(table(2), []bool{true, false}, dsl.FuncNotNull)

	placement, err := NewOffloader(store, 10000).Place(context.Background(), "run-1", bundle)
	require.NoError(t, err)

	assert.Empty(t, placement.Ref)
	assert.JSONEq(t, string(mustMarshal(t, bundle)), string(placement.Inline))
	assert.Equal(t, placement.Inline, placement.Summary(bundle))
}

func TestOffloader_OffloadsLargeBundles(t *testing.T) {
	store := NewMemoryStore()
	mask := make([]bool, 200)
	for i := range mask {
		mask[i] = true
	}
	bundle := NewBuilder().Build(table(200), mask, dsl.FuncNotNull)
	size, err := bundle.Size()
	require.NoError(t, err)
	require.Greater(t, size, 500)

	placement, err := NewOffloader(store, 500).Place(context.Background(), "run-2", bundle)
	require.NoError(t, err)

	assert.Nil(t, placement.Inline)
	assert.Equal(t, "memory://evidence/run-2.json", placement.Ref)

	stored, ok := store.Get(placement.Ref)
	require.True(t, ok)
	assert.Equal(t, size, len(stored))
	assert.Equal(t, size, placement.Size)

	var summary map[string]interface{}
	require.NoError(t, json.Unmarshal(placement.Summary(bundle), &summary))
	assert.Equal(t, placement.Ref, summary["evidence_ref"])
	assert.EqualValues(t, 200, summary["total_failed"])
	assert.EqualValues(t, size, summary["size_bytes"])
}

func TestOffloader_UnencodableBundleIsAnError(t *testing.T) {
	bundle := &Bundle{
		TotalFailed: 1,
		Sample:      []Row{{columns: []string{"payload"}, values: []interface{}{make(chan int)}}},
		Columns:     []string{"payload"},
	}

	_, err := bundle.Size()
	assert.Error(t, err)

	store := NewMemoryStore()
	_, err = NewOffloader(store, 10000).Place(context.Background(), "run-3", bundle)
	require.Error(t, err)
	_, ok := store.Get("memory://evidence/run-3.json")
	assert.False(t, ok)
}

type failingStore struct{}

func (failingStore) Save(context.Context, string, []byte) (string, error) {
	return "", errors.New("bucket unavailable")
}

func TestOffloader_StoreFailure(t *testing.T) {
	bundle := NewBuilder().Build(table(2), []bool{true, true}, dsl.FuncNotNull)

	_, err := NewOffloader(failingStore{}, 1).Place(context.Background(), "run-3", bundle)
	assert.ErrorContains(t, err, "bucket unavailable")
}

type recordingBlobs struct {
	bucket, key, contentType string
	data                     []byte
}

func (r *recordingBlobs) Get(context.Context, string, string) ([]byte, error) {
	return nil, blob.ErrNotFound
}

func (r *recordingBlobs) Put(_ context.Context, bucket, key string, data []byte, contentType string) error {
	r.bucket, r.key, r.data, r.contentType = bucket, key, data, contentType
	return nil
}

func TestMinioStore_Save(t *testing.T) {
	blobs := &recordingBlobs{}

	ref, err := NewMinioStore(blobs, "").Save(context.Background(), "abc", []byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, "s3://watchtower-evidence/evidence/abc.json", ref)
	assert.Equal(t, "watchtower-evidence", blobs.bucket)
	assert.Equal(t, "evidence/abc.json", blobs.key)
	assert.Equal(t, "application/json", blobs.contentType)
}

func mustMarshal(t *testing.T, b *Bundle) []byte {
	t.Helper()
	data, err := b.Marshal()
	require.NoError(t, err)
	return data
}
