package capture

import (
	"encoding/json"
	"fmt"
	"image"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	bytesPerPixel = 4
	standardFps   = 30
)

// ffmpegStreamer decodes any ffmpeg input into scaled RGBA frames read from a
// rawvideo pipe.
type ffmpegStreamer struct {
	stopOnce sync.Once
	killOnce sync.Once

	name      string
	input     []string
	targetFPS uint
	width     int
	height    int

	// paced sources are read at targetFPS and never drop frames; live ones
	// are read as fast as ffmpeg produces and keep only the newest frame.
	paced bool

	cmd       *exec.Cmd
	frameChan chan image.Image
	errChan   chan error
	stopChan  chan struct{}
}

func newFFmpegStreamer(name string, input []string, targetFPS uint, width, height int, paced bool) *ffmpegStreamer {
	if targetFPS == 0 {
		targetFPS = standardFps
	}

	buf := 1
	if paced {
		buf = 10
	}

	return &ffmpegStreamer{
		name:      name,
		input:     input,
		targetFPS: targetFPS,
		width:     width,
		height:    height,
		paced:     paced,
		frameChan: make(chan image.Image, buf),
		errChan:   make(chan error, 1),
		stopChan:  make(chan struct{}),
	}
}

func (fs *ffmpegStreamer) args() []string {
	args := append([]string{}, fs.input...)
	return append(args,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", fs.targetFPS, fs.width, fs.height),
		"-f", "image2pipe",
		"-pix_fmt", "rgba",
		"-vcodec", "rawvideo",
		"-",
	)
}

func (fs *ffmpegStreamer) Start() error {
	fs.cmd = exec.Command("ffmpeg", fs.args()...)

	stdout, err := fs.cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "ffmpeg stdout")
	}

	if err := fs.cmd.Start(); err != nil {
		return errors.Wrapf(ErrSourceUnavailable, "ffmpeg start for %s: %v", fs.name, err)
	}

	logrus.WithFields(logrus.Fields{
		"source": fs.name,
		"fps":    fs.targetFPS,
		"size":   fmt.Sprintf("%dx%d", fs.width, fs.height),
	}).Info("video source opened")

	go fs.readFrames(stdout)

	return nil
}

func (fs *ffmpegStreamer) readFrames(stdout io.ReadCloser) {
	defer close(fs.frameChan)
	defer close(fs.errChan)
	defer stdout.Close()
	defer fs.stopCmdOut()

	frameSize := fs.width * fs.height * bytesPerPixel
	buffer := make([]byte, frameSize)

	var tick <-chan time.Time
	if fs.paced {
		ticker := time.NewTicker(time.Second / time.Duration(fs.targetFPS))
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		if tick != nil {
			select {
			case <-fs.stopChan:
				return
			case <-tick:
			}
		} else {
			select {
			case <-fs.stopChan:
				return
			default:
			}
		}

		if _, err := io.ReadFull(stdout, buffer); err != nil {
			select {
			case <-fs.stopChan:
			default:
				fs.errChan <- errors.Wrapf(ErrEndOfStream, "%s: %v", fs.name, err)
			}
			return
		}

		pixelData := make([]byte, len(buffer))
		copy(pixelData, buffer)

		img := &image.RGBA{
			Pix:    pixelData,
			Stride: fs.width * bytesPerPixel,
			Rect:   image.Rect(0, 0, fs.width, fs.height),
		}

		if fs.paced {
			select {
			case fs.frameChan <- img:
			case <-fs.stopChan:
				return
			}
		} else {
			fs.replaceLatest(img)
		}
	}
}

// replaceLatest swaps a frame nobody picked up for img.
func (fs *ffmpegStreamer) replaceLatest(img image.Image) {
	select {
	case fs.frameChan <- img:
		return
	default:
	}

	select {
	case <-fs.frameChan:
	default:
	}

	select {
	case fs.frameChan <- img:
	default:
	}
}

func (fs *ffmpegStreamer) stopCmdOut() {
	fs.killOnce.Do(func() {
		if fs.cmd != nil && fs.cmd.Process != nil {
			fs.cmd.Process.Kill()
			fs.cmd.Wait()
		}
	})
}

func (fs *ffmpegStreamer) Stop() {
	fs.stopOnce.Do(func() {
		close(fs.stopChan)
		fs.stopCmdOut()
	})
}

func (fs *ffmpegStreamer) FrameChan() <-chan image.Image { return fs.frameChan }
func (fs *ffmpegStreamer) ErrorChan() <-chan error       { return fs.errChan }
func (fs *ffmpegStreamer) Size() (int, int)              { return fs.width, fs.height }

type streamInfo struct {
	Streams []struct {
		Width  uint16 `json:"width"`
		Height uint16 `json:"height"`
	} `json:"streams"`
}

// videoDimensions checks that input can be opened and has a video stream.
func videoDimensions(input ...string) (uint16, uint16, error) {
	args := append([]string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
	}, input...)

	output, err := exec.Command("ffprobe", args...).Output()
	if err != nil {
		return 0, 0, errors.Wrapf(ErrSourceUnavailable, "ffprobe: %v", err)
	}

	return parseStreamInfo(output)
}

func parseStreamInfo(output []byte) (uint16, uint16, error) {
	var data streamInfo
	if err := json.Unmarshal(output, &data); err != nil {
		return 0, 0, errors.Wrap(err, "decode ffprobe output")
	}

	if len(data.Streams) == 0 {
		return 0, 0, errors.Wrap(ErrSourceUnavailable, "no video streams found")
	}

	return data.Streams[0].Width, data.Streams[0].Height, nil
}
