package archive

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/carousel/idgen"
)

// BlobScheme prefixes every reference handed out by a Store.
const BlobScheme = "blob:carousel/"

// ErrBlobNotFound is returned for unknown or revoked references.
var ErrBlobNotFound = errors.New("archive: blob not found")

// Store keeps serialised archives in memory behind opaque references until
// the download service has consumed them.
type Store struct {
	newID idgen.Generator

	mu    sync.Mutex
	blobs map[string]blob
}

type blob struct {
	data     []byte
	filename string
	created  time.Time
}

// NewStore creates an empty blob store. gen mints reference IDs; nil
// means idgen.Blob.
func NewStore(gen idgen.Generator) *Store {
	if gen == nil {
		gen = idgen.Blob
	}
	return &Store{newID: gen, blobs: make(map[string]blob)}
}

// Put stores data and returns a reference of the form blob:carousel/<id>.
func (s *Store) Put(data []byte, filename string) string {
	ref := BlobScheme + s.newID()
	s.mu.Lock()
	s.blobs[ref] = blob{data: data, filename: filename, created: time.Now()}
	s.mu.Unlock()
	return ref
}

// Resolve returns the bytes and filename behind ref.
func (s *Store) Resolve(ref string) ([]byte, string, error) {
	if !strings.HasPrefix(ref, BlobScheme) {
		return nil, "", ErrBlobNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[ref]
	if !ok {
		return nil, "", ErrBlobNotFound
	}
	return b.data, b.filename, nil
}

// Revoke releases ref. Revoking twice is a no-op.
func (s *Store) Revoke(ref string) {
	s.mu.Lock()
	delete(s.blobs, ref)
	s.mu.Unlock()
}

// RevokeOlderThan drops blobs nobody consumed within d and returns how many.
func (s *Store) RevokeOlderThan(d time.Duration) int {
	cutoff := time.Now().Add(-d)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for ref, b := range s.blobs {
		if b.created.Before(cutoff) {
			delete(s.blobs, ref)
			n++
		}
	}
	return n
}

// Len reports how many blobs are held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
