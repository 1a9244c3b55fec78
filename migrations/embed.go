package main

import (
	"crypto/sha256"
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embeddedMigrations embed.FS

// Migration filenames follow 001_name.up.sql / 001_name.down.sql.
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// MigrationSet wraps the embedded migration files with validation:
// filename format, up/down pairing, gap-free sequence and checksum
// integrity across repeated validations.
type MigrationSet struct {
	fs        fs.FS
	checksums map[string]string
}

// MigrationInfo is one parsed migration filename.
type MigrationInfo struct {
	Sequence  int
	Name      string
	Direction string
	Filename  string
}

// NewMigrationSet creates a migration set backed by the given filesystem.
// Pass nil to use the migrations embedded in the binary.
func NewMigrationSet(filesystem fs.FS) *MigrationSet {
	if filesystem == nil {
		filesystem = embeddedMigrations
	}

	return &MigrationSet{
		fs:        filesystem,
		checksums: make(map[string]string),
	}
}

// Files returns the underlying filesystem for golang-migrate's iofs source.
func (m *MigrationSet) Files() fs.FS {
	return m.fs
}

// List returns the migration filenames that conform to the naming
// standard, sorted. Non-conforming .sql files are ignored.
func (m *MigrationSet) List() ([]string, error) {
	entries, err := fs.ReadDir(m.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()
		if filepath.Ext(filename) == ".sql" && migrationFilenameRegex.MatchString(filename) {
			files = append(files, filename)
		}
	}

	sort.Strings(files)

	return files, nil
}

// Validate checks the whole migration set: every file readable and
// well-named, every up paired with a down, sequence gap-free starting at
// 001, and contents unchanged since the previous validation.
func (m *MigrationSet) Validate() error {
	files, err := m.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return fmt.Errorf("no migration files found")
	}

	for _, file := range files {
		if _, err := m.Content(file); err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}
	}

	if err := m.validatePairing(files); err != nil {
		return err
	}

	if err := m.validateSequence(files); err != nil {
		return err
	}

	if len(m.checksums) > 0 {
		if err := m.validateChecksums(files); err != nil {
			return err
		}
	}

	for _, file := range files {
		content, err := m.Content(file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		m.checksums[file] = checksum(content)
	}

	return nil
}

// Content returns the raw SQL of one migration file.
func (m *MigrationSet) Content(filename string) ([]byte, error) {
	return fs.ReadFile(m.fs, filename)
}

// parseFilename extracts the sequence, name and direction from a
// migration filename.
func (m *MigrationSet) parseFilename(filename string) (*MigrationInfo, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 {
		return nil, fmt.Errorf(
			"invalid migration filename: %s (expected 001_name.up.sql or 001_name.down.sql)",
			filename,
		)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("invalid sequence number in filename %s: %w", filename, err)
	}

	return &MigrationInfo{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

// validatePairing ensures every up migration has a matching down.
func (m *MigrationSet) validatePairing(files []string) error {
	directions := make(map[string]map[string]bool)

	for _, file := range files {
		migration, err := m.parseFilename(file)
		if err != nil {
			return err
		}

		key := fmt.Sprintf("%03d_%s", migration.Sequence, migration.Name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][migration.Direction] = true
	}

	for key, dirs := range directions {
		if !dirs["up"] {
			return fmt.Errorf("orphaned down migration: missing up migration for %s", key)
		}

		if !dirs["down"] {
			return fmt.Errorf("orphaned up migration: missing down migration for %s", key)
		}
	}

	return nil
}

// validateSequence ensures sequence numbers start at 001 with no gaps.
func (m *MigrationSet) validateSequence(files []string) error {
	seen := make(map[int]bool)

	for _, file := range files {
		migration, err := m.parseFilename(file)
		if err != nil {
			return err
		}

		seen[migration.Sequence] = true
	}

	var sequences []int

	for seq := range seen {
		sequences = append(sequences, seq)
	}

	sort.Ints(sequences)

	if len(sequences) == 0 {
		return nil
	}

	if sequences[0] != 1 {
		return fmt.Errorf("migration sequence should start with 001, but found %03d", sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if sequences[i] != sequences[i-1]+1 {
			return fmt.Errorf(
				"gap in migration sequence: expected %03d, found %03d",
				sequences[i-1]+1,
				sequences[i],
			)
		}
	}

	return nil
}

// validateChecksums verifies file contents match the stored checksums.
func (m *MigrationSet) validateChecksums(files []string) error {
	for _, file := range files {
		content, err := m.Content(file)
		if err != nil {
			return fmt.Errorf("failed to read file %s for checksum validation: %w", file, err)
		}

		if stored, exists := m.checksums[file]; exists && checksum(content) != stored {
			return fmt.Errorf("checksum mismatch for %s: file has been modified", file)
		}
	}

	return nil
}

func checksum(content []byte) string {
	hash := sha256.Sum256(content)

	return fmt.Sprintf("%x", hash)
}
