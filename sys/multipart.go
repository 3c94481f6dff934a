package sys

import (
	"fmt"
	"strings"
	"sync"

	"github.com/INLOpen/emu/core"
)

// Multipart sizing for object stores. Parts are sized so the whole file
// fits in the store's part-count limit while staying above the minimum
// part size most stores enforce.
const (
	MinPartSize  = 50 * 1024 * 1024
	MaxPartSize  = 5 * 1024 * 1024 * 1024
	MaxPartCount = 1000
)

var objectStoreSchemes = []string{"s3://", "gs://", "az://", "oss://", "swift://"}

// IsObjectStoreURI reports whether the target names an object-store scheme
// rather than a local path.
func IsObjectStoreURI(uri string) bool {
	for _, scheme := range objectStoreSchemes {
		if strings.HasPrefix(uri, scheme) {
			return true
		}
	}
	return false
}

// MultipartChunkSize computes the part size for a multipart upload of
// expectedSize bytes: max(MinPartSize, ceil(expectedSize/MaxPartCount)),
// capped at MaxPartSize. An expected size that cannot fit in
// MaxPartCount parts of MaxPartSize is rejected with core.ErrTooLarge.
func MultipartChunkSize(expectedSize int64) (int64, error) {
	if expectedSize > MaxPartSize*MaxPartCount {
		return 0, fmt.Errorf("expected output of %d bytes: %w", expectedSize, core.ErrTooLarge)
	}
	chunk := (expectedSize + MaxPartCount - 1) / MaxPartCount
	if chunk < MinPartSize {
		chunk = MinPartSize
	}
	if chunk > MaxPartSize {
		chunk = MaxPartSize
	}
	return chunk, nil
}

// CreateMultipartHandler creates the target of an object-store URI with a
// multipart upload of the given part size.
type CreateMultipartHandler func(name string, partSize int64) (FileHandle, error)

// handlerSlot holds a swappable handler behind a mutex.
type handlerSlot[T any] struct {
	mu sync.Mutex
	v  T
}

func (s *handlerSlot[T]) load() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

func (s *handlerSlot[T]) swap(v T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.v
	s.v = v
	return prev
}

var createMultipart handlerSlot[CreateMultipartHandler]

// SetCreateMultipartHandler installs the host I/O layer's multipart
// creation hook, returning the previous one. With no handler installed,
// CreateMultipart reports that object-store output is unavailable.
func SetCreateMultipartHandler(h CreateMultipartHandler) CreateMultipartHandler {
	return createMultipart.swap(h)
}

// CreateMultipart asks the host I/O layer to open an object-store target
// for writing with the given part size.
func CreateMultipart(name string, partSize int64) (FileHandle, error) {
	h := createMultipart.load()
	if h == nil {
		return nil, fmt.Errorf("no object-store handler registered for %q: %w", name, core.ErrNotSupported)
	}
	return h(name, partSize)
}
