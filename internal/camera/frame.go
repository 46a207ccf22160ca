package camera

import (
	"image"
	"time"
)

// PixelFormat identifies the pixel layout of a captured frame.
type PixelFormat string

// FormatRGBA is the only format the in-tree devices produce.
const FormatRGBA PixelFormat = "rgba"

// CapturedFrame is one frame delivered by a capture session. The buffer is
// owned by the pipeline for a single composite cycle and must not be retained
// past the frame callback.
type CapturedFrame struct {
	Buffer *image.RGBA
	Width  int
	Height int
	Format PixelFormat
	PTS    time.Time
}

// StreamSpec is a negotiated capture format: fixed resolution and frame rate.
type StreamSpec struct {
	Width     int
	Height    int
	FrameRate int
}

// Interval returns the frame interval for the spec's frame rate.
func (s StreamSpec) Interval() time.Duration {
	if s.FrameRate <= 0 {
		return 0
	}
	return time.Second / time.Duration(s.FrameRate)
}

// FrameCallback receives captured frames on the capture execution context.
// Implementations must not block on control-path locks.
type FrameCallback func(f CapturedFrame)
