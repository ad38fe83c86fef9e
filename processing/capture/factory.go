package capture

import (
	"linecount/internal/config"

	"github.com/pkg/errors"
)

func NewStreamer(t *config.Config) (VideoStreamer, error) {
	switch t.GetSource() {
	case config.SourceWebcam:
		return NewFFmpegWebcam(t.Webcam.DeviceID, t.GetFPS(), t.GetWidth(), t.GetHeight())
	case config.SourceLocal:
		return NewLocalStreamer(t.Local.Path, t.GetFPS(), t.GetWidth(), t.GetHeight())
	case config.SourceStream:
		return NewNetworkStreamer(t.Stream.URL, t.GetFPS(), t.GetWidth(), t.GetHeight())
	default:
		return nil, errors.Wrapf(ErrSourceUnavailable, "unknown source %q", t.GetSource())
	}
}
