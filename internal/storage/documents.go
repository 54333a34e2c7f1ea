package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Document names for the two durable records
const (
	GalleryDocument = "gallery-data"
	DevicesDocument = "cameras-data"
)

// DocumentStore persists self-contained named documents. Save replaces the
// whole document atomically; Load returns nil, nil when it was never saved.
type DocumentStore interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, data []byte) error
	Close() error
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// FileDocumentStore keeps each document as <dir>/<name>.json, optionally
// zstd-compressed. Load accepts both forms so compression can be toggled.
type FileDocumentStore struct {
	dir      string
	compress bool
	encoder  *zstd.Encoder
	decoder  *zstd.Decoder
}

// NewFileDocumentStore creates dir if needed
func NewFileDocumentStore(dir string, compress bool) (*FileDocumentStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}

	return &FileDocumentStore{
		dir:      dir,
		compress: compress,
		encoder:  encoder,
		decoder:  decoder,
	}, nil
}

func (fd *FileDocumentStore) path(name string) string {
	return filepath.Join(fd.dir, name+".json")
}

// Load reads and, when needed, decompresses the document
func (fd *FileDocumentStore) Load(ctx context.Context, name string) ([]byte, error) {
	_, span := tracer.Start(ctx, "file.load_document",
		trace.WithAttributes(attribute.String("document", name)),
	)
	defer span.End()

	data, err := os.ReadFile(fd.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	if bytes.HasPrefix(data, zstdMagic) {
		data, err = fd.decoder.DecodeAll(data, nil)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to decompress %s: %w", name, err)
		}
	}
	return data, nil
}

// Save writes to a temp file, fsyncs and renames over the old document
func (fd *FileDocumentStore) Save(ctx context.Context, name string, data []byte) error {
	_, span := tracer.Start(ctx, "file.save_document",
		trace.WithAttributes(
			attribute.String("document", name),
			attribute.Int("size_bytes", len(data)),
		),
	)
	defer span.End()

	if fd.compress {
		data = fd.encoder.EncodeAll(data, nil)
	}

	target := fd.path(name)
	tmpFile := target + ".tmp"
	file, err := os.Create(tmpFile)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to create %s: %w", tmpFile, err)
	}

	if _, err = file.Write(data); err != nil {
		file.Close()
		os.Remove(tmpFile)
		span.RecordError(err)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	if err = file.Sync(); err != nil {
		file.Close()
		os.Remove(tmpFile)
		span.RecordError(err)
		return fmt.Errorf("failed to sync %s: %w", name, err)
	}

	if err = file.Close(); err != nil {
		os.Remove(tmpFile)
		span.RecordError(err)
		return fmt.Errorf("failed to close %s: %w", name, err)
	}

	if err = os.Rename(tmpFile, target); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

// Close releases the codec resources
func (fd *FileDocumentStore) Close() error {
	fd.decoder.Close()
	return fd.encoder.Close()
}
