package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog/log"
)

// nextScrapeDelay returns how long to wait until the next scheduled scrape:
// the next occurrence of scrapeHour o'clock local time, strictly after now.
func nextScrapeDelay(now time.Time, scrapeHour int, loc *time.Location) time.Duration {
	now = now.In(loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), scrapeHour, 0, 0, 0, loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}

func scrapeIter(ctx context.Context, scraper *Scraper, store *ResultStore, db *sql.DB, cfg *Config) error {
	res := scraper.Scrape(ctx)
	store.Set(res)
	updateMetrics(res, cfg)

	if err := saveScrapeLog(db, res); err != nil {
		return merry.Wrap(err)
	}
	if res.Success {
		if err := saveMeterDays(db, res.NMI, res.Days, cfg.Location); err != nil {
			return merry.Wrap(err)
		}
	}
	return nil
}

// StartUpdater runs scrapes until ctx is cancelled: one right away, then one
// per day at the configured hour, plus whenever triggerChan fires. All runs
// happen on this one goroutine, so concurrent triggers just collapse into a
// single extra run.
func StartUpdater(ctx context.Context, scraper *Scraper, store *ResultStore, db *sql.DB, cfg *Config, triggerChan chan struct{}) error {
	timer := time.NewTimer(200 * 365 * 24 * time.Hour) //timedelta can store ~292 years
	for {
		if err := scrapeIter(ctx, scraper, store, db, cfg); err != nil {
			return merry.Wrap(err)
		}
		delay := nextScrapeDelay(time.Now(), cfg.ScrapeHour, cfg.Location)

		log.Debug().Msgf("next scrape in %s", delay)
		if !timer.Stop() && len(timer.C) > 0 {
			<-timer.C
		}
		timer.Reset(delay)

		select {
		case <-ctx.Done():
			return nil
		case <-triggerChan:
			log.Debug().Int("chan len", len(triggerChan)).Msg("scrape triggered")
		case <-timer.C:
		}
		//emptying triggerChan
		for len(triggerChan) > 0 {
			<-triggerChan
		}
	}
}
