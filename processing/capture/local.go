package capture

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewLocalStreamer plays a video file at targetFPS. The file is checked first
// so an unreadable path fails here rather than on the first frame.
func NewLocalStreamer(path string, targetFPS uint, scaledWidth int, scaledHeight int) (VideoStreamer, error) {
	w, h, err := videoDimensions(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}

	logrus.WithFields(logrus.Fields{"path": path, "width": w, "height": h}).Debug("opened video file")

	return newFFmpegStreamer(path, []string{"-i", path}, targetFPS, scaledWidth, scaledHeight, true), nil
}
