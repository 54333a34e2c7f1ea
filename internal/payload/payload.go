package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/maneesh/smilewall/internal/models"
)

// DefaultExtension is used when neither the filename nor the content identifies the image type
const DefaultExtension = ".jpg"

const readChunkSize = 64 * 1024

// ErrTooLarge is returned when the upload exceeds the reader's limit
var ErrTooLarge = fmt.Errorf("%w: photo exceeds size limit", models.ErrValidation)

// ErrEmpty is returned when no photo bytes were supplied
var ErrEmpty = fmt.Errorf("%w: no photo provided", models.ErrValidation)

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

var sniffedExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Photo is a fully read upload
type Photo struct {
	Data        []byte
	Size        int64
	SHA256      string
	ContentType string
	Extension   string
}

// Reader reads uploads in fixed-size chunks up to a byte limit
type Reader struct {
	maxBytes int64
}

// NewReader creates a reader that rejects payloads larger than maxBytes
func NewReader(maxBytes int64) *Reader {
	return &Reader{maxBytes: maxBytes}
}

// Read consumes r and returns the photo. filenameHint is the client-supplied
// name, used only to pick the stored extension.
func (pr *Reader) Read(r io.Reader, filenameHint string) (*Photo, error) {
	limited := io.LimitReader(r, pr.maxBytes+1)
	hasher := sha256.New()

	var data []byte
	buffer := make([]byte, readChunkSize)
	for {
		n, err := io.ReadFull(limited, buffer)
		if n > 0 {
			data = append(data, buffer[:n]...)
			hasher.Write(buffer[:n])
			if int64(len(data)) > pr.maxBytes {
				return nil, ErrTooLarge
			}
		}

		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		} else if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, ErrTooLarge
			}
			return nil, fmt.Errorf("error reading photo: %w", err)
		}
	}

	if len(data) == 0 {
		return nil, ErrEmpty
	}

	contentType := http.DetectContentType(data)
	return &Photo{
		Data:        data,
		Size:        int64(len(data)),
		SHA256:      hex.EncodeToString(hasher.Sum(nil)),
		ContentType: contentType,
		Extension:   Extension(filenameHint, contentType),
	}, nil
}

// Extension picks the stored extension: the hint's if it is an image
// extension, else the sniffed type's, else DefaultExtension
func Extension(filenameHint, contentType string) string {
	ext := strings.ToLower(filepath.Ext(filenameHint))
	if allowedExtensions[ext] {
		return ext
	}
	if ext, ok := sniffedExtensions[contentType]; ok {
		return ext
	}
	return DefaultExtension
}

// ComputeHash computes SHA256 hash of data
func ComputeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
