package migrate

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const versionLayout = "20060102150405"

var (
	fileNameRe = regexp.MustCompile(`^(\d{14})_[a-z0-9_]+\.sql$`)
	slugRe     = regexp.MustCompile(`[^a-z0-9]+`)
)

const fileTemplate = `-- +goose Up
-- +goose StatementBegin
-- %[1]s
-- +goose StatementEnd

-- +goose Down
-- +goose StatementBegin
-- rollback %[1]s
-- +goose StatementEnd
`

// Validate checks file names, version uniqueness and goose section markers.
func Validate(fsys fs.FS) error {
	_, err := scan(fsys)
	return err
}

// scan returns the highest version found in fsys after validating every file.
func scan(fsys fs.FS) (int64, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return 0, fmt.Errorf("read migrations: %w", err)
	}

	var latest int64
	seen := make(map[int64]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".sql" {
			continue
		}
		match := fileNameRe.FindStringSubmatch(name)
		if match == nil {
			return 0, fmt.Errorf("%s: expected <%s>_<name>.sql", name, versionLayout)
		}
		version, _ := strconv.ParseInt(match[1], 10, 64)
		if other, dup := seen[version]; dup {
			return 0, fmt.Errorf("%s: version %d already used by %s", name, version, other)
		}
		seen[version] = name
		latest = max(latest, version)

		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", name, err)
		}
		for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
			if !strings.Contains(string(body), marker) {
				return 0, fmt.Errorf("%s: missing %q", name, marker)
			}
		}
	}
	return latest, nil
}

// Create writes an empty goose migration into dir. The version is the
// current UTC timestamp, bumped past the newest existing file so new
// migrations always sort last.
func Create(dir, name string, now time.Time) (string, error) {
	slug := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(name), "_"), "_")
	if slug == "" {
		return "", fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	latest, err := scan(os.DirFS(dir))
	if err != nil {
		return "", err
	}

	stamp := now.UTC()
	version, _ := strconv.ParseInt(stamp.Format(versionLayout), 10, 64)
	if version <= latest {
		last, _ := time.Parse(versionLayout, strconv.FormatInt(latest, 10))
		stamp = last.Add(time.Second)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.sql", stamp.Format(versionLayout), slug))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("create migration: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, fileTemplate, slug); err != nil {
		return "", fmt.Errorf("write migration: %w", err)
	}
	return path, nil
}
