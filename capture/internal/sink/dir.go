package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Dir writes archives into a download directory. An existing file is never
// overwritten: "name.zip" becomes "name (1).zip", "name (2).zip" and so on.
type Dir struct {
	mu   sync.Mutex
	path string
}

// NewDir creates a Dir sink, creating path if needed.
func NewDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("sink: dir %s: %w", path, err)
	}
	return &Dir{path: path}, nil
}

// Path is the download directory.
func (d *Dir) Path() string { return d.path }

func (d *Dir) Deliver(_ context.Context, dl Download) error {
	name := filepath.Base(dl.Filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return fmt.Errorf("%w: dir: bad filename %q", ErrDelivery, dl.Filename)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	tmp, err := os.CreateTemp(d.path, ".carousel-*.part")
	if err != nil {
		return fmt.Errorf("%w: dir: %w", ErrDelivery, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(dl.Data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: dir: write: %w", ErrDelivery, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: dir: close: %w", ErrDelivery, err)
	}

	dst := uniquePath(d.path, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("%w: dir: rename: %w", ErrDelivery, err)
	}
	return nil
}

func (d *Dir) Close() error { return nil }

// uniquePath returns dir/name, or the first free "base (n)ext" variant.
func uniquePath(dir, name string) string {
	p := filepath.Join(dir, name)
	if _, err := os.Stat(p); os.IsNotExist(err) {
		return p
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		p = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, n, ext))
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return p
		}
	}
}
