// assets/embed.go
//
// Embedded defaults shipped inside the binary:
//   - catalog.txt: the reference authority's default photo catalog.
//   - migrations/authority, migrations/client: SQLite schema files.
package assets

import (
	"bufio"
	"embed"
	"io/fs"
	"strings"
)

//go:embed catalog.txt migrations
var FS embed.FS

func readLines(name string) ([]string, error) {
	f, err := FS.Open(name)
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

// CatalogLines returns the non-comment lines of the embedded catalog.
func CatalogLines() ([]string, error) {
	return readLines("catalog.txt")
}

// AuthorityMigrations returns the authority schema files.
func AuthorityMigrations() fs.FS {
	sub, _ := fs.Sub(FS, "migrations/authority")
	return sub
}

// ClientMigrations returns the client credential-store schema files.
func ClientMigrations() fs.FS {
	sub, _ := fs.Sub(FS, "migrations/client")
	return sub
}
