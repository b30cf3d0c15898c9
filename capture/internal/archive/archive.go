// Package archive names carousel entries and packs them into a zip.
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmpty is returned when Build is called without entries.
	ErrEmpty = errors.New("archive: no entries")

	// ErrWrite is returned when the zip cannot be serialised.
	ErrWrite = errors.New("archive: write failed")
)

// SanitizeTitle replaces every character outside [A-Za-z0-9] with "_".
// An empty title becomes "page".
func SanitizeTitle(title string) string {
	if title == "" {
		return "page"
	}
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range title {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// EntryName is the file name of the i-th chunk (zero-based).
func EntryName(title string, i int, ext string) string {
	return fmt.Sprintf("%s_carousel_%d.%s", SanitizeTitle(title), i+1, ext)
}

// Filename is the archive's download name.
func Filename(title string) string {
	return SanitizeTitle(title) + "_carousel_images.zip"
}

// Archive is a serialised zip ready for download.
type Archive struct {
	Filename string
	Entries  []string
	Data     []byte
}

// Build writes chunks in order under their entry names. Entries are
// stored uncompressed; image payloads are already compressed.
func Build(title, ext string, chunks [][]byte) (*Archive, error) {
	if len(chunks) == 0 {
		return nil, ErrEmpty
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	now := time.Now()
	names := make([]string, len(chunks))

	for i, data := range chunks {
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: entry %d is empty", ErrWrite, i+1)
		}
		names[i] = EntryName(title, i, ext)
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     names[i],
			Method:   zip.Store,
			Modified: now,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrWrite, names[i], err)
		}
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrWrite, names[i], err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWrite, err)
	}

	return &Archive{
		Filename: Filename(title),
		Entries:  names,
		Data:     buf.Bytes(),
	}, nil
}
