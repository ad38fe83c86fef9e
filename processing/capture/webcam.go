package capture

import (
	"bytes"
	"fmt"
	"os/exec"
	"regexp"
	"runtime"

	"github.com/pkg/errors"
)

// NewFFmpegWebcam opens a local camera. The device is checked first so a
// missing camera fails the session start instead of ending the stream later.
func NewFFmpegWebcam(deviceName string, targetFps uint, scaledWidth int, scaledHeight int) (VideoStreamer, error) {
	input := webcamInput(runtime.GOOS, deviceName)

	if _, _, err := videoDimensions(input...); err != nil {
		return nil, errors.Wrapf(err, "failed to open camera %s", deviceName)
	}

	return newFFmpegStreamer(deviceName, input, targetFps, scaledWidth, scaledHeight, false), nil
}

func webcamInput(goos, deviceName string) []string {
	if goos == "windows" {
		return []string{"-f", "dshow", "-i", fmt.Sprintf("video=%s", deviceName)}
	}
	return []string{"-f", "v4l2", "-i", deviceName}
}

var dshowDevice = regexp.MustCompile(`"([^"]+)"\s+\(video\)`)

func ListCameras() ([]string, error) {
	if runtime.GOOS != "windows" {
		return []string{"/dev/video0", "/dev/video1"}, nil
	}

	cmd := exec.Command("ffmpeg", "-list_devices", "true", "-f", "dshow", "-i", "dummy")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.Run()

	cameras := parseDshowDevices(stderr.String())
	if len(cameras) == 0 {
		return []string{"No cameras found"}, nil
	}

	return cameras, nil
}

func parseDshowDevices(output string) []string {
	var cameras []string
	seen := make(map[string]bool)

	for _, m := range dshowDevice.FindAllStringSubmatch(output, -1) {
		name := m[1]
		if name != "dummy" && !seen[name] {
			cameras = append(cameras, name)
			seen[name] = true
		}
	}

	return cameras
}
