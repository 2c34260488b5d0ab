package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"watchtower/pkg/blob"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ErrEmptyFile is returned for input without a header row.
var ErrEmptyFile = errors.New("no columns to parse from file")

// ReadCSV decodes CSV bytes into a typed table. Input that is not valid
// UTF-8 is decoded as Latin-1.
func ReadCSV(data []byte) (*Table, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode latin-1 input: %w", err)
		}
		data = decoded
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.ReuseRecord = false

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyFile
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	var records [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record: %w", err)
		}
		if len(rec) > len(header) {
			line, _ := r.FieldPos(0)
			return nil, fmt.Errorf("expected %d fields in line %d, saw %d", len(header), line, len(rec))
		}
		records = append(records, rec)
	}

	return FromRecords(header, records)
}

// FileLoader reads CSV datasets from the local filesystem.
type FileLoader struct{}

func NewFileLoader() *FileLoader {
	return &FileLoader{}
}

func (l *FileLoader) Load(ctx context.Context, src Source) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, loadError(src, err, false)
	}

	data, err := os.ReadFile(src.Location)
	if err != nil {
		return nil, loadError(src, err, false)
	}

	table, err := ReadCSV(data)
	if err != nil {
		return nil, loadError(src, err, false)
	}
	return table, nil
}

// ObjectCSVLoader reads CSV datasets stored at s3://bucket/key.
type ObjectCSVLoader struct {
	store blob.Store
}

func NewObjectCSVLoader(store blob.Store) *ObjectCSVLoader {
	return &ObjectCSVLoader{store: store}
}

func (l *ObjectCSVLoader) Load(ctx context.Context, src Source) (*Table, error) {
	bucket, key, ok := blob.ParseURI(src.Location)
	if !ok {
		return nil, loadError(src, fmt.Errorf("invalid object location %q", src.Location), false)
	}

	data, err := l.store.Get(ctx, bucket, key)
	if err != nil {
		retryable := !errors.Is(err, blob.ErrNotFound) && ctx.Err() == nil
		return nil, loadError(src, err, retryable)
	}

	table, err := ReadCSV(data)
	if err != nil {
		return nil, loadError(src, err, false)
	}
	return table, nil
}
