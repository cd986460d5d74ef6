// Package migrations embeds the SQL schema so binaries and integration
// tests apply the same files.
package migrations

import (
	"embed"
	"io/fs"
	"slices"
	"strings"
)

//go:embed *.sql
var files embed.FS

// Up returns the up migrations in apply order.
func Up() ([]string, error) { return list(".up.sql", false) }

// Down returns the down migrations in apply order (newest first).
func Down() ([]string, error) { return list(".down.sql", true) }

// Read returns the contents of a migration returned by Up or Down.
func Read(name string) (string, error) {
	b, err := files.ReadFile(name)
	return string(b), err
}

func list(suffix string, reverse bool) ([]string, error) {
	entries, err := fs.ReadDir(files, ".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	if reverse {
		slices.Reverse(names)
	}
	return names, nil
}
