package capture

import (
	"image"

	"github.com/pkg/errors"
)

var (
	// ErrSourceUnavailable means the source could not be opened at all.
	ErrSourceUnavailable = errors.New("video source unavailable")
	// ErrEndOfStream means a read failed after a successful open.
	ErrEndOfStream = errors.New("video stream exhausted")
)

// VideoStreamer is a single-pass source of decoded RGBA frames. FrameChan is
// closed when the stream ends; the reason, if any, arrives on ErrorChan first.
type VideoStreamer interface {
	Start() error
	Stop()
	FrameChan() <-chan image.Image
	ErrorChan() <-chan error
	Size() (width, height int)
}
