// internal/catalog/catalog.go
//
// Photo catalog for the reference authority.
//
// Responsibilities:
//   - Load the catalog from a file (PHOTO_CATALOG_FILE) or fall back to the
//     embedded default in assets/catalog.txt.
//   - Look photos up by id.
//   - Pick the photos for a new game: random order, every pair at least
//     MinSeparationKm apart.
//
// Line format (blank lines and "#" comments ignored):
//
//	id | latitude | longitude | taken (YYYY-MM-DD) | label
//
// Constraints:
//   • ids are unique and made of [a-z0-9-_].
//   • coordinates must be valid WGS84 degrees.

package catalog

import (
	"bufio"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robalobadob/photoguess/assets"
	"github.com/robalobadob/photoguess/internal/game"
)

// MinSeparationKm is the minimum distance between two photos of one game.
const MinSeparationKm = 1.0

// ErrNotEnoughPhotos is returned by Pick when the catalog cannot satisfy the
// request under the separation rule.
var ErrNotEnoughPhotos = errors.New("catalog: not enough well-separated photos")

// Photo is one catalog entry.
type Photo struct {
	ID       string
	Location game.Coordinate
	Taken    time.Time
	Label    string
}

// Catalog is an immutable set of photos.
type Catalog struct {
	photos []Photo
	byID   map[string]Photo
}

// Load reads the catalog at path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		lines, err := assets.CatalogLines()
		if err != nil {
			return nil, err
		}
		return Parse(lines)
	}
	lines, err := readFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(lines)
}

func readFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		out = append(out, s)
	}
	return out, sc.Err()
}

// Parse builds a catalog from pre-trimmed lines.
func Parse(lines []string) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]Photo, len(lines))}
	for i, line := range lines {
		p, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("catalog line %d: %w", i+1, err)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("catalog line %d: duplicate id %q", i+1, p.ID)
		}
		c.photos = append(c.photos, p)
		c.byID[p.ID] = p
	}
	if len(c.photos) == 0 {
		return nil, errors.New("catalog: no photos")
	}
	return c, nil
}

func parseLine(line string) (Photo, error) {
	parts := strings.Split(line, "|")
	if len(parts) != 5 {
		return Photo{}, fmt.Errorf("expected 5 fields, got %d", len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	id := strings.ToLower(parts[0])
	if id == "" || !isSlug(id) {
		return Photo{}, fmt.Errorf("bad id %q", parts[0])
	}
	lat, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return Photo{}, fmt.Errorf("latitude: %w", err)
	}
	lng, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return Photo{}, fmt.Errorf("longitude: %w", err)
	}
	loc := game.Coordinate{Lat: lat, Lng: lng}
	if !loc.Valid() {
		return Photo{}, fmt.Errorf("coordinate out of range: %v,%v", lat, lng)
	}
	taken, err := time.Parse("2006-01-02", parts[3])
	if err != nil {
		return Photo{}, fmt.Errorf("taken: %w", err)
	}
	return Photo{ID: id, Location: loc, Taken: taken, Label: parts[4]}, nil
}

// isSlug reports whether s uses only lowercase letters, digits, '-' and '_'.
func isSlug(s string) bool {
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

// Len returns the number of photos.
func (c *Catalog) Len() int { return len(c.photos) }

// Get looks a photo up by id.
func (c *Catalog) Get(id string) (Photo, bool) {
	p, ok := c.byID[strings.ToLower(id)]
	return p, ok
}

// Pick returns n photos in random order, each at least MinSeparationKm from
// every other.
func (c *Catalog) Pick(n int) ([]Photo, error) {
	order := make([]Photo, len(c.photos))
	copy(order, c.photos)
	shuffle(order)

	out := make([]Photo, 0, n)
	for _, p := range order {
		if len(out) == n {
			break
		}
		ok := true
		for _, q := range out {
			if game.Distance(p.Location, q.Location) < MinSeparationKm {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, p)
		}
	}
	if len(out) < n {
		return nil, ErrNotEnoughPhotos
	}
	return out, nil
}

// shuffle is a Fisher-Yates shuffle driven by crypto/rand.
func shuffle(ps []Photo) {
	for i := len(ps) - 1; i > 0; i-- {
		j, _ := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		k := int(j.Int64())
		ps[i], ps[k] = ps[k], ps[i]
	}
}
