package detector

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"linecount/internal/models"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

const (
	defaultTimeout    = 2 * time.Second
	defaultRetryDelay = 5 * time.Second
	jpegQuality       = 85
)

var ErrDetectorUnavailable = errors.New("detector unavailable")

// RemoteDetector asks a detection/tracking server for the tracks in each
// frame over a websocket. Calls are synchronous: one JPEG out, one reply in,
// so replies always belong to the frame that was sent.
type RemoteDetector struct {
	serverURL  string
	classes    []string
	allowed    map[string]struct{}
	timeout    time.Duration
	retryDelay time.Duration
	dialer     *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	lastFailed time.Time
}

func NewRemoteDetector(serverURL string, classes []string, timeout time.Duration) *RemoteDetector {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	allowed := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		allowed[c] = struct{}{}
	}

	return &RemoteDetector{
		serverURL:  serverURL,
		classes:    classes,
		allowed:    allowed,
		timeout:    timeout,
		retryDelay: defaultRetryDelay,
		dialer:     &websocket.Dialer{HandshakeTimeout: timeout},
	}
}

// Track sends frame seq to the server and returns its tracked objects in
// pixel coordinates, restricted to the configured classes.
func (d *RemoteDetector) Track(ctx context.Context, seq uint64, frame image.Image) ([]models.Observation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	conn, err := d.connect(ctx)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, errors.Wrap(err, "jpeg encode")
	}

	deadline := time.Now().Add(d.timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
		d.drop(err)
		return nil, errors.Wrap(err, "send frame")
	}

	conn.SetReadDeadline(deadline)
	msgType, message, err := conn.ReadMessage()
	if err != nil {
		d.drop(err)
		return nil, errors.Wrap(err, "read tracks")
	}

	reply, err := decodeReply(msgType, message)
	if err != nil {
		return nil, err
	}

	b := frame.Bounds()
	return models.ToObservations(seq, b.Dx(), b.Dy(), d.filter(reply.Tracks)), nil
}

func (d *RemoteDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn == nil {
		return nil
	}

	d.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	err := d.conn.Close()
	d.conn = nil

	return err
}

func (d *RemoteDetector) connect(ctx context.Context) (*websocket.Conn, error) {
	if d.conn != nil {
		return d.conn, nil
	}

	if !d.lastFailed.IsZero() && time.Since(d.lastFailed) < d.retryDelay {
		return nil, ErrDetectorUnavailable
	}

	logrus.WithField("url", d.serverURL).Info("connecting to detector server")

	conn, _, err := d.dialer.DialContext(ctx, d.serverURL, nil)
	if err != nil {
		d.lastFailed = time.Now()
		logrus.WithError(err).Warnf("connection failed, retrying in %s", d.retryDelay)
		return nil, errors.Wrapf(ErrDetectorUnavailable, "dial: %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(d.hello())); err != nil {
		conn.Close()
		d.lastFailed = time.Now()
		return nil, errors.Wrapf(ErrDetectorUnavailable, "hello: %v", err)
	}

	logrus.Info("connected to detection server")

	d.conn = conn
	d.lastFailed = time.Time{}

	return conn, nil
}

func (d *RemoteDetector) drop(err error) {
	logrus.WithError(err).Warn("detector connection lost")
	d.conn.Close()
	d.conn = nil
}

// hello asks the server to track only the configured classes and keep
// identities across frames.
func (d *RemoteDetector) hello() string {
	msg, _ := sjson.Set(`{"type":"hello"}`, "persist", true)
	if len(d.classes) > 0 {
		msg, _ = sjson.Set(msg, "classes", d.classes)
	}
	return msg
}

func (d *RemoteDetector) filter(tracks []models.DetectionResult) []models.DetectionResult {
	if len(d.allowed) == 0 {
		return tracks
	}

	out := tracks[:0]
	for _, t := range tracks {
		if _, ok := d.allowed[t.Label]; ok {
			out = append(out, t)
		}
	}
	return out
}
