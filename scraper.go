package main

import (
	"context"
	"time"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog/log"

	"sapn_exporter/nem12"
	"sapn_exporter/sapn"
)

const (
	// How many times a single step is tried when the transport fails.
	maxNetworkAttempts = 3
	networkRetryDelay  = 2 * time.Second

	// How many times the whole login+export sequence is restarted after the
	// portal drops the session mid-flight.
	maxSessionRestarts = 1
)

type Scraper struct {
	cfg        *Config
	retryDelay time.Duration

	// Replaceable in tests to point the client at a fake portal.
	newClient func() (*sapn.Client, error)
}

func NewScraper(cfg *Config) *Scraper {
	return &Scraper{
		cfg:        cfg,
		retryDelay: networkRetryDelay,
		newClient: func() (*sapn.Client, error) {
			return sapn.NewClient(sapn.ClientOptions{
				BaseURL:  cfg.BaseURL,
				Username: cfg.Username,
				Password: cfg.Password,
			})
		},
	}
}

// Scrape runs the full pipeline once and always returns a ScrapeResult, even
// on failure. Previously published results are never touched.
func (s *Scraper) Scrape(ctx context.Context) *ScrapeResult {
	startedAt := time.Now()
	res := &ScrapeResult{NMI: s.cfg.NMI, StartedAt: startedAt}

	file, err := s.run(ctx)
	res.Duration = time.Since(startedAt)
	if err != nil {
		res.ErrorKind = classifyError(err)
		res.Error = err.Error()
		log.Error().Stack().Err(err).
			Str("kind", res.ErrorKind).
			Dur("duration", res.Duration).
			Msg("scrape failed")
		return res
	}

	res.Success = true
	res.Days = file.Days
	log.Info().
		Int("days", len(file.Days)).
		Str("nmi", file.NMI).
		Dur("duration", res.Duration).
		Msg("scrape finished")
	return res
}

// run drives login, export and decode, restarting the sequence a bounded
// number of times when the session expires between steps. Session restarts
// never apply to authentication failures: a rejected password stays rejected.
func (s *Scraper) run(ctx context.Context) (*nem12.File, error) {
	for restart := 0; ; restart++ {
		file, err := s.attempt(ctx)
		if err != nil && merry.Is(err, sapn.ErrSessionExpired) && restart < maxSessionRestarts {
			log.Warn().Err(err).Msg("session expired, logging in again")
			continue
		}
		return file, err
	}
}

func (s *Scraper) attempt(ctx context.Context) (*nem12.File, error) {
	client, err := s.newClient()
	if err != nil {
		return nil, merry.Wrap(err)
	}

	// A fresh login page is fetched on every try: the hidden form tokens
	// rotate per render and can not be reused.
	err = s.withRetry(ctx, "login", func() error {
		_, tokens, err := client.FetchLoginPage(ctx)
		if err != nil {
			return err
		}
		return client.Login(ctx, tokens)
	})
	if err != nil {
		return nil, merry.Wrap(err)
	}

	to := time.Now().In(s.cfg.Location)
	req := sapn.ExportRequest{
		NMI:  s.cfg.NMI,
		From: to.AddDate(0, 0, -s.cfg.ExportDays),
		To:   to,
	}

	var content string
	err = s.withRetry(ctx, "export", func() error {
		content, err = client.Export(ctx, req)
		return err
	})
	if err != nil {
		return nil, merry.Wrap(err)
	}

	file, err := nem12.Parse(content)
	if err != nil {
		return nil, merry.Wrap(err)
	}
	if file.NMI != s.cfg.NMI {
		log.Warn().Str("expected", s.cfg.NMI).Str("got", file.NMI).Msg("export returned data for a different NMI")
	}
	return file, nil
}

// withRetry re-runs step on transient transport errors with a growing delay.
// Any other error aborts immediately.
func (s *Scraper) withRetry(ctx context.Context, name string, step func() error) error {
	delay := s.retryDelay
	for attempt := 1; ; attempt++ {
		err := step()
		if err == nil {
			return nil
		}
		if !isTransient(err) || attempt >= maxNetworkAttempts {
			return merry.Wrap(err)
		}
		log.Warn().Err(err).
			Str("step", name).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("transient error, will retry")
		select {
		case <-ctx.Done():
			return merry.Wrap(ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
}
