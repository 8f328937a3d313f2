// Package reader drives the processing pipeline for one open book: chapter
// resolution, image embedding and the lifetime of every resource handle the
// session hands out.
package reader

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Handle is a process-lifetime addressable reference to a decoded binary
// blob. Handles are owned exclusively by the session that created them and
// are released exactly once when the session is cleared.
type Handle struct {
	// SourcePath is the archive path the payload came from.
	SourcePath string
	MediaType  string

	ref  string
	data []byte

	mu       sync.Mutex
	released bool
}

const handleScheme = "res:"

func newHandle(sourcePath, mediaType string, data []byte) *Handle {
	return &Handle{
		SourcePath: sourcePath,
		MediaType:  mediaType,
		ref:        handleScheme + uuid.NewString(),
		data:       data,
	}
}

// Ref returns the addressable reference markup points at after rewriting.
func (h *Handle) Ref() string {
	return h.ref
}

// Bytes returns the decoded payload, or an error after release.
func (h *Handle) Bytes() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil, fmt.Errorf("resource handle %s already released", h.ref)
	}
	return h.data, nil
}

// release frees the payload. Returns false when the handle was released
// before - the caller treats that as a lifecycle bug.
func (h *Handle) release() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return false
	}
	h.released = true
	h.data = nil
	return true
}

// handleCache tracks every live handle created during a session so each one
// is revoked exactly once on teardown.
type handleCache struct {
	mu    sync.Mutex
	byRef map[string]*Handle
}

func newHandleCache() *handleCache {
	return &handleCache{byRef: make(map[string]*Handle)}
}

func (c *handleCache) register(h *Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byRef[h.ref] = h
}

func (c *handleCache) resolve(ref string) (*Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.byRef[ref]
	return h, ok
}

func (c *handleCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byRef)
}

// releaseAll revokes every live handle and empties the cache. Safe to call
// repeatedly, a handle is never released twice.
func (c *handleCache) releaseAll() error {
	c.mu.Lock()
	handles := make([]*Handle, 0, len(c.byRef))
	for _, h := range c.byRef {
		handles = append(handles, h)
	}
	c.byRef = make(map[string]*Handle)
	c.mu.Unlock()

	sort.Slice(handles, func(i, j int) bool { return handles[i].ref < handles[j].ref })

	var doubles int
	for _, h := range handles {
		if !h.release() {
			doubles++
		}
	}
	if doubles > 0 {
		return fmt.Errorf("%d resource handle(s) released twice", doubles)
	}
	return nil
}
