package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/roach88/orgsync/internal/model"
)

// IgnoreFileName is the conventional name of the ignore list.
const IgnoreFileName = ".accountignore"

// IgnoreFile reads an ignore list of "name/id" lines. A missing file means
// nothing is ignored.
type IgnoreFile struct {
	path string
}

// NewIgnoreFile returns an ignore list backed by path.
func NewIgnoreFile(path string) *IgnoreFile {
	return &IgnoreFile{path: path}
}

// Ignores reads the file afresh.
func (f *IgnoreFile) Ignores(ctx context.Context) ([]model.IgnoreEntry, error) {
	file, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open ignore list: %w", err)
	}
	defer file.Close()

	entries, err := ParseIgnores(file)
	if err != nil {
		return nil, fmt.Errorf("ignore list %s: %w", f.path, err)
	}
	return entries, nil
}

// ParseIgnores reads "name/id" lines. Blank lines and lines starting with #
// are skipped. A line without a slash names an account by name only.
func ParseIgnores(r io.Reader) ([]model.IgnoreEntry, error) {
	var entries []model.IgnoreEntry
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, id, _ := strings.Cut(line, "/")
		entries = append(entries, model.IgnoreEntry{
			Name: model.NormalizeName(name),
			ID:   strings.TrimSpace(id),
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
