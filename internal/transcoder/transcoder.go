package transcoder

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the transcoding capability is not present in this
// deployment. Callers are expected to degrade gracefully (serve the raw
// artifact) rather than fail the request.
var ErrUnavailable = errors.New("transcoder unavailable")

// Params carries transform settings. Zero values mean "keep as-is".
type Params struct {
	OverlayText string
	LoopCount   int
	Format      string
	Width       int
	Height      int
}

// Transcoder is the injected media-transform capability. Implementations own
// whatever process or library performs the work; the pipeline only sees
// bytes in, bytes out, typed errors.
type Transcoder interface {
	// OverlayImage burns the overlay text onto a still image.
	OverlayImage(ctx context.Context, img []byte, p Params) ([]byte, error)
	// LoopVideo applies the looping post-process to a raw clip.
	LoopVideo(ctx context.Context, clip []byte, p Params) ([]byte, error)
	// RenderWidget converts media into the embeddable widget format.
	RenderWidget(ctx context.Context, media []byte, p Params) ([]byte, error)
}
