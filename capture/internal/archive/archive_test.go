package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"regexp"
	"testing"
	"time"

	"github.com/hazyhaar/carousel/idgen"
)

func TestSanitizeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"My Page!", "My_Page_"},
		{"already_ok123", "already_ok123"},
		{"é-ü", "___"},
		{"", "page"},
		{"a/b\\c", "a_b_c"},
	}
	for _, tt := range tests {
		if got := SanitizeTitle(tt.in); got != tt.want {
			t.Fatalf("SanitizeTitle(%q): got %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestEntryName_Scenario(t *testing.T) {
	for i, want := range []string{
		"My_Page__carousel_1.jpeg",
		"My_Page__carousel_2.jpeg",
		"My_Page__carousel_3.jpeg",
	} {
		if got := EntryName("My Page!", i, "jpeg"); got != want {
			t.Fatalf("entry %d: got %q, want %q", i, got, want)
		}
	}
	if got := Filename("My Page!"); got != "My_Page__carousel_images.zip" {
		t.Fatalf("filename: got %q", got)
	}
}

func TestEntryName_InjectiveAndCharset(t *testing.T) {
	allowed := regexp.MustCompile(`^[A-Za-z0-9_.]+$`)
	seen := make(map[string]int)
	for i := 0; i < 500; i++ {
		name := EntryName("Ünïcode / title: 100%", i, "png")
		if !allowed.MatchString(name) {
			t.Fatalf("entry %d: %q has forbidden characters", i, name)
		}
		if prev, ok := seen[name]; ok {
			t.Fatalf("entries %d and %d share name %q", prev, i, name)
		}
		seen[name] = i
	}
}

func TestBuild(t *testing.T) {
	chunks := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	arc, err := Build("My Page!", "jpeg", chunks)
	if err != nil {
		t.Fatal(err)
	}
	if arc.Filename != "My_Page__carousel_images.zip" {
		t.Fatalf("filename: got %q", arc.Filename)
	}

	zr, err := zip.NewReader(bytes.NewReader(arc.Data), int64(len(arc.Data)))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 3 {
		t.Fatalf("entries: got %d, want 3", len(zr.File))
	}
	for i, f := range zr.File {
		if f.Name != arc.Entries[i] {
			t.Fatalf("entry %d: got %q, want %q", i, f.Name, arc.Entries[i])
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		data, _ := io.ReadAll(rc)
		rc.Close()
		if !bytes.Equal(data, chunks[i]) {
			t.Fatalf("entry %d content: got %q", i, data)
		}
	}
}

func TestBuild_Errors(t *testing.T) {
	if _, err := Build("t", "jpeg", nil); !errors.Is(err, ErrEmpty) {
		t.Fatalf("no chunks: got %v, want ErrEmpty", err)
	}
	if _, err := Build("t", "jpeg", [][]byte{[]byte("x"), nil}); !errors.Is(err, ErrWrite) {
		t.Fatalf("empty chunk: got %v, want ErrWrite", err)
	}
}

func TestStore(t *testing.T) {
	s := NewStore(idgen.Sequence("b"))
	ref := s.Put([]byte("zip"), "a.zip")
	if ref != BlobScheme+"b1" {
		t.Fatalf("ref: got %q", ref)
	}
	data, name, err := s.Resolve(ref)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "zip" || name != "a.zip" {
		t.Fatalf("resolve: got %q %q", data, name)
	}
	s.Revoke(ref)
	s.Revoke(ref)
	if _, _, err := s.Resolve(ref); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("after revoke: got %v", err)
	}
	if _, _, err := s.Resolve("https://example.com/x.zip"); !errors.Is(err, ErrBlobNotFound) {
		t.Fatalf("foreign ref: got %v", err)
	}
}

func TestStore_RevokeOlderThan(t *testing.T) {
	s := NewStore(idgen.Sequence("b"))
	s.Put([]byte("a"), "a.zip")
	s.Put([]byte("b"), "b.zip")
	if n := s.RevokeOlderThan(time.Hour); n != 0 {
		t.Fatalf("fresh blobs revoked: %d", n)
	}
	if n := s.RevokeOlderThan(-time.Second); n != 2 {
		t.Fatalf("revoked: got %d, want 2", n)
	}
	if s.Len() != 0 {
		t.Fatalf("len: got %d", s.Len())
	}
}
