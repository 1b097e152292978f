package blobstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var ErrNotFound = errors.New("object not found")

// Backend is a path-keyed blob store with last-write-wins semantics.
// Implementations give no compare-and-swap and no multi-path atomicity.
type Backend interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
}

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Store encodes values as JSON on top of a Backend. When compress is set new
// writes are zstd frames; reads accept both plain and compressed blobs.
type Store struct {
	backend  Backend
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

func New(backend Backend, compress bool) (*Store, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Store{backend: backend, compress: compress, enc: enc, dec: dec}, nil
}

// GetJSON loads path into v. It returns ErrNotFound when the object is absent.
func (s *Store) GetJSON(ctx context.Context, path string, v any) error {
	raw, err := s.backend.Read(ctx, path)
	if err != nil {
		return err
	}
	if bytes.HasPrefix(raw, zstdMagic) {
		raw, err = s.dec.DecodeAll(raw, nil)
		if err != nil {
			return fmt.Errorf("decompress %s: %w", path, err)
		}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (s *Store) PutJSON(ctx context.Context, path string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if s.compress {
		raw = s.enc.EncodeAll(raw, nil)
	}
	return s.backend.Write(ctx, path, raw)
}

// Exists reports whether path is present.
func (s *Store) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.backend.Read(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes path. Deleting an absent object is not an error.
func (s *Store) Delete(ctx context.Context, path string) error {
	err := s.backend.Delete(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	return s.backend.List(ctx, prefix)
}

func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	if c, ok := s.backend.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func cleanPath(p string) string {
	return strings.TrimPrefix(strings.TrimSpace(strings.ReplaceAll(p, "\\", "/")), "/")
}
