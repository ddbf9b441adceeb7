// internal/photo/registry.go
//
// PhotoAsset handles: locally dereferenceable copies of downloaded photos.
//
// A Handle is the Go counterpart of a browser object URL: it owns the bytes of
// one round's photo and exposes them at a local URL (served by Routes) until it
// is released. The Round Controller keeps at most one live handle and releases
// the previous one whenever it materializes the next.
//
// Characteristics:
//   - Concurrency-safe via Mutex.
//   - Release is exactly-once: the first call frees the bytes and unpublishes
//     the URL, later calls report false.
//   - Live() and Stats() expose counters so leaks are observable in tests.

package photo

import (
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Handle is one materialized photo.
type Handle struct {
	ID          string
	URL         string
	ContentType string

	mu       sync.Mutex
	data     []byte
	released bool
}

// Bytes returns the photo bytes, or nil after release.
func (h *Handle) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data
}

// Released reports whether the handle was released.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Stats are lifetime counters of a Registry.
type Stats struct {
	Created  int
	Released int
}

// Registry creates, serves and releases handles.
type Registry struct {
	mu      sync.Mutex
	base    string
	handles map[string]*Handle
	stats   Stats
}

// NewRegistry creates a registry whose handle URLs are rooted at base
// (e.g. "http://127.0.0.1:40123/photos"). base may be empty, in which case
// URLs are the bare "/<id>" paths of Routes.
func NewRegistry(base string) *Registry {
	return &Registry{base: strings.TrimRight(base, "/"), handles: make(map[string]*Handle)}
}

// SetBase changes the URL root used for handles created from now on.
func (r *Registry) SetBase(base string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.base = strings.TrimRight(base, "/")
}

// Materialize takes ownership of data and returns a live handle for it.
func (r *Registry) Materialize(data []byte, contentType string) *Handle {
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	id := uuid.NewString()

	r.mu.Lock()
	defer r.mu.Unlock()
	h := &Handle{ID: id, URL: r.base + "/" + id, ContentType: contentType, data: data}
	r.handles[id] = h
	r.stats.Created++
	return h
}

// Release frees h. It returns true only for the call that actually released it.
func (r *Registry) Release(h *Handle) bool {
	if h == nil {
		return false
	}
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return false
	}
	h.released = true
	h.data = nil
	h.mu.Unlock()

	r.mu.Lock()
	delete(r.handles, h.ID)
	r.stats.Released++
	r.mu.Unlock()
	return true
}

// ReleaseAll frees every live handle (teardown).
func (r *Registry) ReleaseAll() int {
	r.mu.Lock()
	live := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		live = append(live, h)
	}
	r.mu.Unlock()

	n := 0
	for _, h := range live {
		if r.Release(h) {
			n++
		}
	}
	return n
}

// Live returns the number of unreleased handles.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Stats returns lifetime counters.
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Registry) lookup(id string) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handles[id]
}

// Routes serves GET /{id} for live handles and 404 for anything else.
func (r *Registry) Routes() chi.Router {
	mux := chi.NewRouter()
	mux.Get("/{id}", func(w http.ResponseWriter, req *http.Request) {
		h := r.lookup(chi.URLParam(req, "id"))
		if h == nil {
			http.NotFound(w, req)
			return
		}
		data := h.Bytes()
		if data == nil {
			http.NotFound(w, req)
			return
		}
		w.Header().Set("Content-Type", h.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(data)
	})
	return mux
}
