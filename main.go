package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func mainInner() error {
	var env Env
	var serverAddr string
	flag.Var(&env, "env", "evironment, dev or prod")
	flag.StringVar(&serverAddr, "addr", "127.0.0.1:9020", "HTTP server address:port")
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		return merry.Wrap(err)
	}

	cfgDir, err := MakeConfigDir()
	if err != nil {
		return merry.Wrap(err)
	}

	db, err := setupDB(cfgDir)
	if err != nil {
		return merry.Wrap(err)
	}
	defer db.Close()

	registerMetrics()

	store := &ResultStore{}
	scraper := NewScraper(cfg)
	triggerChan := make(chan struct{}, 1)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := StartHTTPServer(db, env, serverAddr, cfg, store, triggerChan); err != nil {
			log.Fatal().Stack().Err(err).Msg("")
		}
	}()

	log.Info().Str("nmi", cfg.NMI).Int("scrapeHour", cfg.ScrapeHour).Msg("starting updater")
	if err := StartUpdater(ctx, scraper, store, db, cfg, triggerChan); err != nil {
		return merry.Wrap(err)
	}
	log.Info().Msg("shutting down")
	return nil
}

func main() {
	// Logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.ErrorStackMarshaler = func(err error) interface{} { return merry.Details(err) }
	zerolog.ErrorStackFieldName = "message" //TODO: https://github.com/rs/zerolog/issues/157
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05.000"})

	if err := mainInner(); err != nil {
		log.Fatal().Stack().Err(err).Msg("")
	}
}
