package capture

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// NewNetworkStreamer reads a live network stream (rtsp, http, ...). Frames
// are dropped when the producer is busy so latency stays bounded.
func NewNetworkStreamer(rawURL string, targetFPS uint, scaledWidth int, scaledHeight int) (VideoStreamer, error) {
	input := networkInput(rawURL)

	if _, _, err := videoDimensions(input...); err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", redact(rawURL))
	}

	logrus.WithField("url", redact(rawURL)).Debug("opened network stream")

	return newFFmpegStreamer(redact(rawURL), input, targetFPS, scaledWidth, scaledHeight, false), nil
}

func networkInput(rawURL string) []string {
	if strings.HasPrefix(rawURL, "rtsp://") || strings.HasPrefix(rawURL, "rtsps://") {
		return []string{"-rtsp_transport", "tcp", "-i", rawURL}
	}
	return []string{"-i", rawURL}
}

// redact hides credentials embedded in stream URLs before they reach logs.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.User == nil {
		return rawURL
	}
	return u.Redacted()
}
