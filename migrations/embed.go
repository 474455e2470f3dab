// Package migrations embeds the case index schema migration files and
// validates them at startup. The embedded filesystem is the single source of
// migrations for both the migrator CLI and integration-test setup, enabling
// zero-config deployment without external file dependencies.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embedded embed.FS

// FS returns the embedded migration filesystem.
func FS() fs.FS {
	return embedded
}

// Info contains parsed information about a migration file.
type Info struct {
	Sequence  int
	Name      string
	Direction string // "up" or "down"
	Filename  string
}

// Migration filename standard: 001_migration_name.up.sql or 001_migration_name.down.sql.
var filenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// List returns all embedded migration files that conform to the naming
// standard, sorted lexicographically (which orders them by sequence).
func List() ([]string, error) {
	entries, err := fs.ReadDir(embedded, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()
		if filepath.Ext(filename) == ".sql" && filenameRegex.MatchString(filename) {
			files = append(files, filename)
		}
	}

	sort.Strings(files)

	return files, nil
}

// Parse extracts sequence, name, and direction from a migration filename.
func Parse(filename string) (*Info, error) {
	matches := filenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename format: %s (expected: 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &Info{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// Validate performs startup validation of the embedded migration files:
// every file must parse, every up migration must have a matching down
// migration, and sequence numbers must be gapless starting at 1.
func Validate() error {
	files, err := List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no embedded migration files found")
	}

	pairs := make(map[string]map[string]*Info) // "001_name" -> direction -> info
	sequences := make(map[int]bool)

	for _, file := range files {
		info, err := Parse(file)
		if err != nil {
			return fmt.Errorf("filename validation failed for %s: %w", file, err)
		}

		if _, err := fs.ReadFile(embedded, file); err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		key := fmt.Sprintf("%03d_%s", info.Sequence, info.Name)
		if pairs[key] == nil {
			pairs[key] = make(map[string]*Info)
		}

		pairs[key][info.Direction] = info
		sequences[info.Sequence] = true
	}

	for key, directions := range pairs {
		if _, hasUp := directions["up"]; !hasUp {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if _, hasDown := directions["down"]; !hasDown {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	for seq := 1; seq <= len(sequences); seq++ {
		if !sequences[seq] {
			return fmt.Errorf("migration sequence gap: missing sequence %03d", seq)
		}
	}

	return nil
}
