package authority

import (
	"bytes"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// photoSize is the placeholder size for each quality.
var photoSize = map[string]image.Point{
	"thumbnail": {X: 160, Y: 120},
	"preview":   {X: 640, Y: 480},
	"original":  {X: 1280, Y: 960},
}

// photoSource serves catalog photos from PHOTO_DIR (<id>.jpg, .jpeg or .png)
// and falls back to a generated placeholder image per id.
type photoSource struct {
	dir   string
	mu    sync.Mutex
	cache map[string][]byte // id|quality -> placeholder PNG
}

func newPhotoSource(dir string) *photoSource {
	return &photoSource{dir: dir, cache: make(map[string][]byte)}
}

// load returns image bytes and content type for id at quality.
func (p *photoSource) load(id, quality string) ([]byte, string, error) {
	if p.dir != "" {
		for _, ext := range []string{".jpg", ".jpeg", ".png"} {
			data, err := os.ReadFile(filepath.Join(p.dir, id+ext))
			if err == nil {
				return data, http.DetectContentType(data), nil
			}
			if !os.IsNotExist(err) {
				return nil, "", err
			}
		}
	}

	key := id + "|" + quality
	p.mu.Lock()
	defer p.mu.Unlock()
	if data, ok := p.cache[key]; ok {
		return data, "image/png", nil
	}
	data, err := placeholder(id, photoSize[quality])
	if err != nil {
		return nil, "", err
	}
	p.cache[key] = data
	return data, "image/png", nil
}

// placeholder draws a two-tone image whose colours are derived from id.
func placeholder(id string, size image.Point) ([]byte, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	sum := h.Sum32()
	bg := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 0xff}
	fg := color.RGBA{R: 0xff - bg.R, G: 0xff - bg.G, B: 0xff - bg.B, A: 0xff}

	img := image.NewRGBA(image.Rectangle{Max: size})
	band := size.Y / 3
	for y := 0; y < size.Y; y++ {
		c := bg
		if y >= band && y < 2*band {
			c = fg
		}
		for x := 0; x < size.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// handlePhotoBytes serves the bytes of a catalog photo to an authenticated
// caller. Unknown qualities get the thumbnail.
func (s *Server) handlePhotoBytes(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	quality := chi.URLParam(r, "quality")
	if _, ok := photoSize[quality]; !ok {
		quality = "thumbnail"
	}
	photo, ok := s.cat.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Photo not found", "")
		return
	}

	data, contentType, err := s.photos.load(photo.ID, quality)
	if err != nil {
		log.Error().Err(err).Str("photo", photo.ID).Msg("load photo")
		writeError(w, http.StatusBadGateway, "Photo unavailable", "")
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
