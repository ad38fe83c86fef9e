package ui

import (
	"context"
	"fmt"
	"image/color"
	"strconv"
	"sync"
	"time"

	"linecount/internal/config"
	"linecount/internal/ui/cwidget"
	"linecount/processing/reconcile"
	"linecount/processing/session"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	entryColor  = color.RGBA{0, 160, 0, 255}
	exitColor   = color.RGBA{220, 0, 0, 255}
	insideColor = color.RGBA{0xE3, 0x65, 0x1D, 255}
	classColor  = color.RGBA{0, 0, 220, 255}
)

const counterTextSize = 32

type DetectApp struct {
	fyneApp fyne.App
	mainWin fyne.Window

	config  *config.Config
	sink    session.EventSink
	// display outlives every session so counts and overrides survive restarts.
	display *reconcile.Reconciler
	// single runs both stages from one ticker instead of a producer goroutine.
	single  bool

	mu      sync.Mutex
	session *session.Session
	cancel  context.CancelFunc

	dynamicSettings *fyne.Container
	staticSettings  *fyne.Container

	videoCanvas  *canvas.Image
	latencyLabel *widget.Label
	fpsLabel     *widget.Label
	statusLabel  *widget.Label

	inText     *canvas.Text
	outText    *canvas.Text
	insideText *canvas.Text
	classText  *canvas.Text
}

func CreateApp(cfg *config.Config, sink session.EventSink, single bool) *DetectApp {
	a := app.New()
	title := "Human Detector"
	if single {
		title += " (single stage)"
	}
	w := a.NewWindow(title)

	w.Resize(fyne.NewSize(1600, 900))

	return &DetectApp{
		fyneApp: a,
		mainWin: w,
		config:  cfg,
		sink:    sink,
		display: reconcile.NewReconciler(),
		single:  single,
	}
}

func (a *DetectApp) Run() {
	a.dynamicSettings = container.NewVBox()

	sourceTypeSelect := widget.NewSelect(config.SourcesList[:], func(s string) {
		a.config.SetSource(config.SourceType(s))
		a.refreshSettingsUI(s)
	})

	sourceTypeSelect.SetSelected(string(a.config.GetSource()))

	settingsLabel := widget.NewLabelWithStyle("Configuration", fyne.TextAlignLeading, fyne.TextStyle{Bold: true})

	a.videoCanvas = canvas.NewImageFromImage(nil)
	a.videoCanvas.FillMode = canvas.ImageFillContain
	a.videoCanvas.SetMinSize(fyne.NewSize(960, 720))

	a.latencyLabel = widget.NewLabel(a.formatLatency(0))
	a.fpsLabel = widget.NewLabel(a.formatFPS(0))
	a.statusLabel = widget.NewLabel("Idle")

	videoContainer := container.NewBorder(
		container.NewHBox(a.fpsLabel, widget.NewSeparator(), a.latencyLabel, widget.NewSeparator(), a.statusLabel),
		nil, nil, nil,
		a.videoCanvas,
	)

	a.setupConfigSettings()

	sidebar := container.NewVBox(
		settingsLabel,
		widget.NewSeparator(),
		widget.NewLabel("Source Type:"),
		sourceTypeSelect,
		widget.NewSeparator(),
		a.dynamicSettings,
		a.staticSettings,
		widget.NewSeparator(),
		widget.NewButtonWithIcon("Start Processing", theme.MediaPlayIcon(), func() {
			a.StartProcessing(true)
		}),
		widget.NewButtonWithIcon("Stop", theme.MediaStopIcon(), func() {
			a.StopProcessing()
		}),
	)

	split := container.NewHSplit(
		container.NewPadded(sidebar),
		container.NewPadded(videoContainer),
	)
	split.SetOffset(0.2)

	content := container.NewBorder(nil, nil, nil, container.NewPadded(a.countersPanel()), split)
	a.mainWin.SetContent(content)

	a.refreshSettingsUI(string(a.config.GetSource()))

	a.mainWin.SetCloseIntercept(func() {
		a.StopProcessing()
		a.config.SaveByDefault()
		a.mainWin.Close()
	})

	a.mainWin.CenterOnScreen()
	a.mainWin.ShowAndRun()

	// The app can quit without going through the close intercept.
	a.StopProcessing()
}

func (a *DetectApp) countersPanel() fyne.CanvasObject {
	newCounter := func(c color.Color) *canvas.Text {
		t := canvas.NewText("0", c)
		t.TextSize = counterTextSize
		t.TextStyle = fyne.TextStyle{Bold: true}
		return t
	}

	a.inText = newCounter(entryColor)
	a.outText = newCounter(exitColor)
	a.insideText = newCounter(insideColor)
	a.classText = newCounter(classColor)

	override := cwidget.NewDeltaInput("TOTAL IN TRANSPORT", "people added to entry, Enter to apply", func(delta int) {
		a.applyOverride(delta)
	})

	heading := func(s string) *widget.Label {
		return widget.NewLabelWithStyle(s, fyne.TextAlignLeading, fyne.TextStyle{Bold: true})
	}

	return container.NewVBox(
		heading("TOTAL ENTRY"), a.inText,
		heading("TOTAL EXIT"), a.outText,
		heading("TOTAL INSIDE"), a.insideText,
		heading("TRANSPORT ENTRY"), a.classText,
		widget.NewSeparator(),
		override,
	)
}

func (a *DetectApp) currentSession() *session.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// applyOverride runs on the fyne thread. Without a session the correction
// still applies to the display, it just is not logged.
func (a *DetectApp) applyOverride(delta int) {
	var st reconcile.State
	if s := a.currentSession(); s != nil {
		st = s.Consumer.OverrideBy(delta)
	} else {
		st = a.display.OverrideBy(delta)
	}

	a.showCounts(st)
}

func (a *DetectApp) StopProcessing() {
	a.mu.Lock()
	s, cancel := a.session, a.cancel
	a.session, a.cancel = nil, nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s != nil {
		s.Stop()
	}
}

func (a *DetectApp) StartProcessing(forceRestart bool) {
	if a.currentSession() != nil && !forceRestart {
		return
	}

	a.StopProcessing()

	s, err := session.Open(a.config, a.display, a.sink)
	if err != nil {
		logrus.WithError(err).Error("cannot start session")
		dialog.ShowError(err, a.mainWin)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())

	a.mu.Lock()
	a.session, a.cancel = s, cancel
	a.mu.Unlock()

	a.statusLabel.SetText("Running")
	a.showCounts(a.display.State())

	if a.single {
		go a.runCooperativeLoop(ctx, s)
	} else {
		s.Start(ctx)
		go a.runPlayerLoop(ctx, s)
	}
	go a.runStatLoop(ctx, s)
}

func (a *DetectApp) runStatLoop(ctx context.Context, s *session.Session) {
	uiTicker := time.NewTicker(time.Millisecond * 200)
	defer uiTicker.Stop()

	for {
		select {
		case <-uiTicker.C:
			stats := s.Producer.Stats()
			fyne.Do(func() {
				a.latencyLabel.SetText(a.formatLatency(stats.Latency))
				a.fpsLabel.SetText(a.formatFPS(stats.FPS))
			})
		case <-ctx.Done():
			return
		}
	}
}

func (a *DetectApp) formatFPS(v uint) string {
	return fmt.Sprintf("FPS: %d", v)
}

func (a *DetectApp) formatLatency(v time.Duration) string {
	return fmt.Sprintf("Latency: %d ms", v.Milliseconds())
}

// runPlayerLoop is the consuming stage of the two-stage model.
func (a *DetectApp) runPlayerLoop(ctx context.Context, s *session.Session) {
	displayTicker := time.NewTicker(a.config.TickPeriod())
	defer displayTicker.Stop()

	for {
		select {
		case <-displayTicker.C:
			a.present(s.Consumer.Tick())

		case <-s.Done():
			// The last snapshot may still be pending.
			a.present(s.Consumer.Tick())
			a.streamEnded(s)
			return

		case <-ctx.Done():
			return
		}
	}
}

// runCooperativeLoop is the single-stage model: each tick produces at most
// one frame and then consumes it.
func (a *DetectApp) runCooperativeLoop(ctx context.Context, s *session.Session) {
	displayTicker := time.NewTicker(a.config.TickPeriod())
	defer displayTicker.Stop()

	for {
		select {
		case <-displayTicker.C:
			_, err := s.Step(ctx)
			a.present(s.Consumer.Tick())
			if err != nil {
				a.streamEnded(s)
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (a *DetectApp) present(u session.Update) {
	if u.Frame == nil && !u.Changes.Any() {
		return
	}

	fyne.Do(func() {
		if u.Frame != nil {
			a.videoCanvas.Image = u.Frame
			a.videoCanvas.Refresh()
		}
		// An override may have landed since the tick; show the latest state.
		a.showCounts(a.display.State())
	})
}

func (a *DetectApp) streamEnded(s *session.Session) {
	err := s.Producer.Err()
	logrus.WithError(err).WithField("session", s.ID).Info("live view ended")

	status := "Stream ended"
	if errors.Is(err, session.ErrStopped) {
		status = "Stopped"
	}

	fyne.Do(func() {
		a.statusLabel.SetText(status)
	})
}

// showCounts must run on the fyne thread. Only counters whose text changed
// are refreshed.
func (a *DetectApp) showCounts(st reconcile.State) {
	set := func(t *canvas.Text, v int) {
		text := strconv.Itoa(v)
		if t.Text == text {
			return
		}
		t.Text = text
		t.Refresh()
	}

	set(a.inText, st.In)
	set(a.outText, st.Out)
	set(a.insideText, st.Inside)
	set(a.classText, st.ClassCount)
}
