package main

import (
	"flag"

	"linecount/internal/config"
	ui "linecount/internal/ui"
	"linecount/processing/session"
	"linecount/processing/store"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "path to the JSON config file")
	single := flag.Bool("single", false, "run capture and display from one loop")
	flag.Parse()

	cfg := config.LoadConfigFile(*configPath)
	cfg.SetupLogging()

	var sink session.EventSink
	if cfg.Store.Path != "" {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			logrus.WithError(err).Warn("event log disabled")
		} else {
			defer db.Close()

			rec := store.NewRecorder(db, 0)
			defer rec.Close()

			sink = rec
		}
	}

	app := ui.CreateApp(cfg, sink, *single)

	app.Run()
}
