package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/maneesh/smilewall/internal/models"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const maxNameAttempts = 16

// DiskStore keeps blobs as files in a single directory
type DiskStore struct {
	dir    string
	names  *NameGenerator
	logger zerolog.Logger
}

// NewDiskStore creates the directory if needed and returns the store
func NewDiskStore(dir string, logger zerolog.Logger) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create images directory: %w", err)
	}
	return &DiskStore{
		dir:    dir,
		names:  NewNameGenerator(),
		logger: logger.With().Str("component", "disk-store").Logger(),
	}, nil
}

// Dir returns the directory backing the store
func (ds *DiskStore) Dir() string {
	return ds.dir
}

// Store writes data with O_EXCL so an existing file is never overwritten
func (ds *DiskStore) Store(ctx context.Context, data []byte, ext string) (string, error) {
	_, span := tracer.Start(ctx, "disk.store",
		trace.WithAttributes(attribute.Int("size_bytes", len(data))),
	)
	defer span.End()

	for attempt := 0; attempt < maxNameAttempts; attempt++ {
		name := ds.names.Next(ext)
		path := filepath.Join(ds.dir, name)

		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return "", fmt.Errorf("failed to create blob: %w", err)
		}

		if _, err := file.Write(data); err != nil {
			file.Close()
			os.Remove(path)
			span.RecordError(err)
			return "", fmt.Errorf("failed to write blob: %w", err)
		}
		if err := file.Sync(); err != nil {
			file.Close()
			os.Remove(path)
			span.RecordError(err)
			return "", fmt.Errorf("failed to sync blob: %w", err)
		}
		if err := file.Close(); err != nil {
			os.Remove(path)
			span.RecordError(err)
			return "", fmt.Errorf("failed to close blob: %w", err)
		}

		span.SetAttributes(attribute.String("blob_name", name))
		return name, nil
	}

	return "", fmt.Errorf("failed to allocate a unique blob name after %d attempts", maxNameAttempts)
}

// Open returns the file; *os.File is seekable so handlers can serve ranges
func (ds *DiskStore) Open(ctx context.Context, name string) (*Blob, error) {
	if !ValidName(name) {
		return nil, ErrBlobNotFound
	}

	file, err := os.Open(filepath.Join(ds.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open blob: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat blob: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, ErrBlobNotFound
	}

	return &Blob{
		Body:        file,
		Size:        info.Size(),
		ModTime:     info.ModTime(),
		ContentType: ContentTypeFor(name),
	}, nil
}

// Delete removes the file, logging and ignoring a missing one
func (ds *DiskStore) Delete(ctx context.Context, name string) error {
	_, span := tracer.Start(ctx, "disk.delete",
		trace.WithAttributes(attribute.String("blob_name", name)),
	)
	defer span.End()

	if !ValidName(name) {
		return fmt.Errorf("invalid blob name %q", name)
	}

	err := os.Remove(filepath.Join(ds.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		ds.logger.Warn().Str("filename", name).Msg("blob already absent")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	return nil
}

// List returns every regular file in the directory
func (ds *DiskStore) List(ctx context.Context) ([]models.BlobInfo, error) {
	entries, err := os.ReadDir(ds.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read images directory: %w", err)
	}

	infos := make([]models.BlobInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}
		infos = append(infos, models.BlobInfo{
			Name:    entry.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return infos, nil
}

// ReadAll opens name and reads it fully
func ReadAll(ctx context.Context, store BlobStore, name string) ([]byte, error) {
	blob, err := store.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer blob.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(blob.Body); err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return buf.Bytes(), nil
}
