package overlay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Canonical file names inside the shared container directory. The .tmp
// counterparts are the staging targets for atomic replace.
const (
	imageFile    = "overlay.png"
	metadataFile = "overlay.json"
	tmpSuffix    = ".tmp"
)

// Metadata describes the published overlay asset. Written alongside the image
// and replaced wholesale with it.
type Metadata struct {
	Version      int       `json:"version"`
	PresetID     string    `json:"preset_id"`
	AspectBucket string    `json:"aspect_bucket"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	ContentHash  string    `json:"content_hash"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Asset is a decoded overlay image plus its metadata. Immutable once read;
// a new publication replaces it wholesale.
type Asset struct {
	Image *image.RGBA
	Meta  Metadata
}

// Store exchanges the current overlay asset between processes through a pair
// of files in a shared container directory. Cross-process safety relies on
// rename atomicity: a concurrent reader sees either the old complete asset or
// the new complete asset, never a partial one. Exactly one producer writes at
// a time.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at the shared container directory dir.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Write publishes img with meta. The image is serialized to a temporary file
// and renamed over the canonical path; metadata follows the same way, so the
// metadata never points at an image that has not landed yet. Width, height,
// content hash, and update timestamp are derived here. Returns false on any
// I/O or encoding failure.
func (s *Store) Write(img image.Image, meta Metadata) bool {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return false
	}

	bounds := img.Bounds()
	meta.Width = bounds.Dx()
	meta.Height = bounds.Dy()
	meta.ContentHash = fmt.Sprintf("%016x", xxhash.Sum64(buf.Bytes()))
	meta.UpdatedAt = time.Now().UTC()

	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return false
	}

	if err := s.replace(imageFile, buf.Bytes()); err != nil {
		return false
	}
	if err := s.replace(metadataFile, metaBytes); err != nil {
		return false
	}
	return true
}

// Read returns the current overlay asset. An absent canonical file means "no
// overlay" and is not an error; an unreadable or undecodable asset is treated
// the same so a bad write can never propagate a failure up the capture
// pipeline.
func (s *Store) Read() (*Asset, bool) {
	metaBytes, err := os.ReadFile(filepath.Join(s.dir, metadataFile))
	if err != nil {
		return nil, false
	}
	var meta Metadata
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return nil, false
	}

	imgBytes, err := os.ReadFile(filepath.Join(s.dir, imageFile))
	if err != nil {
		return nil, false
	}
	img, err := png.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		return nil, false
	}

	return &Asset{Image: toRGBA(img), Meta: meta}, true
}

// Clear removes the published asset. Idempotent; a subsequent Read reports
// "no overlay" immediately.
func (s *Store) Clear() {
	os.Remove(filepath.Join(s.dir, metadataFile))
	os.Remove(filepath.Join(s.dir, imageFile))
}

// replace writes data to name's temporary counterpart and atomically renames
// it over the canonical path.
func (s *Store) replace(name string, data []byte) error {
	canonical := filepath.Join(s.dir, name)
	tmp := canonical + tmpSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, canonical)
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	out := image.NewRGBA(img.Bounds())
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}
