package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/maneesh/smilewall/internal/models"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("smilewall-storage")

// ErrBlobNotFound is returned by Open for names the store does not hold
var ErrBlobNotFound = errors.New("blob not found")

// CapturePrefix starts every blob name handed out by the stores
const CapturePrefix = "capture-"

var captureNamePattern = regexp.MustCompile(`^capture-\d+\.(jpg|jpeg|png|gif|webp)$`)

// Blob is an open stored object. Body may implement io.ReadSeeker.
type Blob struct {
	Body        io.ReadCloser
	Size        int64
	ModTime     time.Time
	ContentType string
}

// BlobStore persists raw capture bytes under unique names
type BlobStore interface {
	// Store writes data under a fresh capture-<millis><ext> name and returns it
	Store(ctx context.Context, data []byte, ext string) (string, error)
	// Open returns the stored object or ErrBlobNotFound
	Open(ctx context.Context, name string) (*Blob, error)
	// Delete removes the object; a missing object is not an error
	Delete(ctx context.Context, name string) error
	// List enumerates every object in the store
	List(ctx context.Context) ([]models.BlobInfo, error)
}

// IsCaptureName reports whether name follows the capture file naming convention
func IsCaptureName(name string) bool {
	return captureNamePattern.MatchString(name)
}

// ValidName rejects names that could escape the store's namespace
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return false
	}
	return filepath.Base(name) == name
}

// ContentTypeFor maps a blob name to its MIME type
func ContentTypeFor(name string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// NameGenerator hands out capture names seeded by the wall clock. Within one
// process the embedded millisecond timestamp is strictly increasing, so two
// stores in the same millisecond never collide.
type NameGenerator struct {
	mu   sync.Mutex
	last int64
	now  func() time.Time
}

// NewNameGenerator returns a generator using the wall clock
func NewNameGenerator() *NameGenerator {
	return &NameGenerator{now: time.Now}
}

// Next returns a fresh name with the given extension (leading dot included)
func (g *NameGenerator) Next(ext string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms
	return fmt.Sprintf("%s%d%s", CapturePrefix, ms, ext)
}
