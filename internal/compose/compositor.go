package compose

import (
	"image"
	"image/draw"
	"sync"

	xdraw "golang.org/x/image/draw"

	"vcam-daemon/internal/camera"
	"vcam-daemon/internal/overlay"
)

// Compositor merges captured frames with the current overlay asset at a fixed
// output size. Camera frames arrive mirrored; the compositor corrects the
// orientation in a single pass before drawing the overlay, so both consumers
// and any local self-view see an upright, unmirrored image.
type Compositor struct {
	width  int
	height int

	// Decoded (and, if needed, rescaled) overlay cached by content hash so
	// the per-frame cost is one draw, not a decode.
	mu         sync.Mutex
	cachedHash string
	cached     *image.RGBA
}

// NewCompositor returns a Compositor for the negotiated output size.
func NewCompositor(width, height int) *Compositor {
	return &Compositor{width: width, height: height}
}

// Composite returns the publishable frame for f. With no overlay, the input
// buffer passes through untouched. Otherwise the source frame is mirror-
// corrected and the overlay is drawn over it using the overlay's own alpha
// channel; no other blend modes apply.
func (c *Compositor) Composite(f camera.CapturedFrame, asset *overlay.Asset) *image.RGBA {
	if asset == nil {
		return f.Buffer
	}

	out := mirrorHorizontal(f.Buffer)
	ov := c.overlayFor(asset)
	draw.Draw(out, out.Bounds(), ov, ov.Bounds().Min, draw.Over)
	return out
}

// overlayFor returns the overlay image scaled to the output size, from cache
// when the content hash matches.
func (c *Compositor) overlayFor(asset *overlay.Asset) *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()

	if asset.Meta.ContentHash != "" && asset.Meta.ContentHash == c.cachedHash {
		return c.cached
	}

	ov := asset.Image
	b := ov.Bounds()
	if b.Dx() != c.width || b.Dy() != c.height {
		scaled := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
		xdraw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), ov, b, xdraw.Src, nil)
		ov = scaled
	}

	c.cachedHash = asset.Meta.ContentHash
	c.cached = ov
	return ov
}

// Invalidate drops the cached overlay, e.g. after overlay-cleared.
func (c *Compositor) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cachedHash = ""
	c.cached = nil
}

// mirrorHorizontal returns a left-right flipped copy of src.
func mirrorHorizontal(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetRGBA(b.Max.X-1-(x-b.Min.X), y, src.RGBAAt(x, y))
		}
	}
	return out
}
