package main

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"

	httputils "github.com/3bl3gamer/go-http-utils"
	"github.com/ansel1/merry"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const CtxKeyEnv = ctxKey("env")
const CtxKeyDB = ctxKey("db")
const CtxKeyTrigger = ctxKey("trigger")
const CtxKeyStore = ctxKey("store")
const CtxKeyConfig = ctxKey("config")

type statusResponse struct {
	Scraped   bool    `json:"scraped"`
	Success   bool    `json:"success"`
	NMI       string  `json:"nmi,omitempty"`
	StartedAt string  `json:"startedAt,omitempty"`
	Duration  float64 `json:"durationSeconds,omitempty"`
	ErrorKind string  `json:"errorKind,omitempty"`
	Error     string  `json:"error,omitempty"`
	DaysCount int     `json:"daysCount"`
}

func HandleAPIStatus(wr http.ResponseWriter, r *http.Request, ps httprouter.Params) (interface{}, error) {
	store := r.Context().Value(CtxKeyStore).(*ResultStore)
	res := store.Latest()
	if res == nil {
		return statusResponse{}, nil
	}
	return statusResponse{
		Scraped:   true,
		Success:   res.Success,
		NMI:       res.NMI,
		StartedAt: res.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
		Duration:  res.Duration.Seconds(),
		ErrorKind: res.ErrorKind,
		Error:     res.Error,
		DaysCount: len(res.Days),
	}, nil
}

var emptyDays = []*StoredDay{}
var emptyReadings = []*StoredReading{}

// HandleAPIReadings returns daily totals, or the interval readings of a
// single day when ?day=YYYY-MM-DD is given. Data comes from the DB so it
// survives restarts and failed scrapes.
func HandleAPIReadings(wr http.ResponseWriter, r *http.Request, ps httprouter.Params) (interface{}, error) {
	db := r.Context().Value(CtxKeyDB).(*sql.DB)
	cfg := r.Context().Value(CtxKeyConfig).(*Config)
	query := r.URL.Query()

	if day := query.Get("day"); day != "" {
		readings, err := loadDayReadings(db, cfg.NMI, day)
		if err != nil {
			return nil, merry.Wrap(err)
		}
		if readings == nil {
			readings = emptyReadings
		}
		return readings, nil
	}

	limit := int64(60)
	if limitStr := query.Get("limit"); limitStr != "" {
		var err error
		limit, err = strconv.ParseInt(limitStr, 10, 64)
		if err != nil || limit < 1 {
			return httputils.JsonError{Code: 400, Error: "WRONG_NUMBER_FORMAT", Description: limitStr}, nil
		}
	}
	days, err := loadDailyTotals(db, cfg.NMI, query.Get("before_day"), limit)
	if err != nil {
		return nil, merry.Wrap(err)
	}
	if days == nil {
		days = emptyDays
	}
	return days, nil
}

func HandleAPIScrapes(wr http.ResponseWriter, r *http.Request, ps httprouter.Params) (interface{}, error) {
	db := r.Context().Value(CtxKeyDB).(*sql.DB)
	entries, err := loadRecentScrapes(db, 25)
	if err != nil {
		return nil, merry.Wrap(err)
	}
	if entries == nil {
		entries = []*ScrapeLogEntry{}
	}
	return entries, nil
}

// HandleAPIScrape asks the updater to run a scrape soon. The trigger channel
// is buffered: if a run is already queued, this request piggybacks on it.
func HandleAPIScrape(wr http.ResponseWriter, r *http.Request, ps httprouter.Params) (interface{}, error) {
	triggerChan := r.Context().Value(CtxKeyTrigger).(chan struct{})
	select {
	case triggerChan <- struct{}{}:
	default:
	}
	return "ok", nil
}

func StartHTTPServer(db *sql.DB, env Env, address string, cfg *Config, store *ResultStore, triggerChan chan struct{}) error {
	wrapper := &httputils.Wrapper{
		ShowErrorDetails: env.IsDev(),
		ExtraChainItem: func(handle httputils.HandlerExt) httputils.HandlerExt {
			return func(wr http.ResponseWriter, r *http.Request, params httprouter.Params) error {
				log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
				r = r.WithContext(context.WithValue(r.Context(), CtxKeyEnv, env))
				r = r.WithContext(context.WithValue(r.Context(), CtxKeyDB, db))
				r = r.WithContext(context.WithValue(r.Context(), CtxKeyTrigger, triggerChan))
				r = r.WithContext(context.WithValue(r.Context(), CtxKeyStore, store))
				r = r.WithContext(context.WithValue(r.Context(), CtxKeyConfig, cfg))
				return merry.Wrap(handle(wr, r, params))
			}
		},
		LogError: func(err error, r *http.Request) {
			log.Error().Stack().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("")
		},
	}

	router := httprouter.New()
	route := func(method, path string, chain ...interface{}) {
		router.Handle(method, path, wrapper.WrapChain(chain...))
	}

	// Routes
	route("GET", "/api/status", HandleAPIStatus)
	route("GET", "/api/readings", HandleAPIReadings)
	route("GET", "/api/scrapes", HandleAPIScrapes)
	route("POST", "/api/scrape", HandleAPIScrape)
	router.Handler("GET", "/metrics", promhttp.Handler())

	// Server
	log.Info().Str("address", address).Msg("starting server")
	return merry.Wrap(http.ListenAndServe(address, router))
}
