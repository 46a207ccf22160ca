package compose

import (
	"image"
	"image/color"
	"testing"
	"time"

	"vcam-daemon/internal/camera"
	"vcam-daemon/internal/overlay"
)

func frameWith(img *image.RGBA) camera.CapturedFrame {
	b := img.Bounds()
	return camera.CapturedFrame{
		Buffer: img,
		Width:  b.Dx(),
		Height: b.Dy(),
		Format: camera.FormatRGBA,
		PTS:    time.Now(),
	}
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestComposite_nil_overlay_passes_through(t *testing.T) {
	c := NewCompositor(16, 16)
	src := solid(16, 16, color.RGBA{R: 50, A: 255})

	out := c.Composite(frameWith(src), nil)
	if out != src {
		t.Error("pass-through must return the input buffer, not a copy")
	}
}

func TestComposite_mirror_correction(t *testing.T) {
	c := NewCompositor(4, 2)
	// Source has a red pixel at (0,0); mirrored output must carry it at (3,0).
	src := solid(4, 2, color.RGBA{A: 255})
	src.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})

	transparent := image.NewRGBA(image.Rect(0, 0, 4, 2))
	asset := &overlay.Asset{Image: transparent, Meta: overlay.Metadata{ContentHash: "h1"}}

	out := c.Composite(frameWith(src), asset)
	if got := out.RGBAAt(3, 0); got.R != 255 {
		t.Errorf("expected mirrored red pixel at (3,0), got %v", got)
	}
	if got := out.RGBAAt(0, 0); got.R != 0 {
		t.Errorf("expected (0,0) cleared after mirror, got %v", got)
	}
}

func TestComposite_overlay_alpha(t *testing.T) {
	c := NewCompositor(4, 4)
	src := solid(4, 4, color.RGBA{G: 200, A: 255})

	// Opaque blue in the top-left pixel, transparent everywhere else.
	ov := image.NewRGBA(image.Rect(0, 0, 4, 4))
	ov.SetRGBA(0, 0, color.RGBA{B: 255, A: 255})
	asset := &overlay.Asset{Image: ov, Meta: overlay.Metadata{ContentHash: "h2"}}

	out := c.Composite(frameWith(src), asset)
	if got := out.RGBAAt(0, 0); got.B != 255 || got.G != 0 {
		t.Errorf("opaque overlay pixel should win: got %v", got)
	}
	if got := out.RGBAAt(2, 2); got.G != 200 {
		t.Errorf("transparent overlay region should show the frame: got %v", got)
	}
}

func TestComposite_scales_mismatched_overlay(t *testing.T) {
	c := NewCompositor(8, 8)
	src := solid(8, 8, color.RGBA{A: 255})

	// Half-size opaque overlay; after scaling it covers the full frame.
	ov := solid(4, 4, color.RGBA{R: 100, A: 255})
	asset := &overlay.Asset{Image: ov, Meta: overlay.Metadata{ContentHash: "h3"}}

	out := c.Composite(frameWith(src), asset)
	if got := out.RGBAAt(7, 7); got.R != 100 {
		t.Errorf("scaled overlay should cover the frame corner: got %v", got)
	}
}

func TestComposite_cache_invalidated_on_hash_change(t *testing.T) {
	c := NewCompositor(4, 4)
	src := func() camera.CapturedFrame { return frameWith(solid(4, 4, color.RGBA{A: 255})) }

	red := &overlay.Asset{
		Image: solid(4, 4, color.RGBA{R: 255, A: 255}),
		Meta:  overlay.Metadata{ContentHash: "red"},
	}
	out := c.Composite(src(), red)
	if out.RGBAAt(1, 1).R != 255 {
		t.Fatal("first overlay not applied")
	}

	// Same hash: cached image is reused even if the asset pointer changes.
	redAgain := &overlay.Asset{
		Image: solid(4, 4, color.RGBA{B: 255, A: 255}),
		Meta:  overlay.Metadata{ContentHash: "red"},
	}
	out = c.Composite(src(), redAgain)
	if out.RGBAAt(1, 1).R != 255 {
		t.Error("matching hash should serve the cached overlay")
	}

	// New hash: cache invalidates, new image decodes.
	blue := &overlay.Asset{
		Image: solid(4, 4, color.RGBA{B: 255, A: 255}),
		Meta:  overlay.Metadata{ContentHash: "blue"},
	}
	out = c.Composite(src(), blue)
	if out.RGBAAt(1, 1).B != 255 {
		t.Error("hash change should invalidate the cache")
	}

	c.Invalidate()
	out = c.Composite(src(), red)
	if out.RGBAAt(1, 1).R != 255 {
		t.Error("composite after Invalidate should rebuild from the asset")
	}
}
