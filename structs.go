package main

import (
	"sync"
	"time"

	"github.com/ansel1/merry"

	"sapn_exporter/nem12"
	"sapn_exporter/sapn"
)

// ScrapeResult is the single artifact one pipeline run produces, success or
// not. Readings are only set on success.
type ScrapeResult struct {
	Success   bool             `json:"success"`
	NMI       string           `json:"nmi"`
	Days      []nem12.MeterDay `json:"days,omitempty"`
	StartedAt time.Time        `json:"startedAt"`
	Duration  time.Duration    `json:"duration"`
	ErrorKind string           `json:"errorKind,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// ResultStore holds the latest ScrapeResult for the metrics and API readers.
// The pipeline is the only writer; a new result replaces the previous one
// atomically so readers never observe a half-updated snapshot.
type ResultStore struct {
	mutex  sync.RWMutex
	latest *ScrapeResult
}

func (s *ResultStore) Set(res *ScrapeResult) {
	s.mutex.Lock()
	s.latest = res
	s.mutex.Unlock()
}

func (s *ResultStore) Latest() *ScrapeResult {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.latest
}

// classifyError maps an error to its taxonomy label for logging, metrics and
// the scrape log. Operators need to tell "wrong password" from "portal down"
// at a glance.
func classifyError(err error) string {
	switch {
	case err == nil:
		return ""
	case merry.Is(err, sapn.ErrAuthenticationFailed):
		return "auth_failed"
	case merry.Is(err, sapn.ErrTokenNotFound):
		return "token_not_found"
	case merry.Is(err, sapn.ErrSessionExpired):
		return "session_expired"
	case merry.Is(err, sapn.ErrExportTimedOut):
		return "export_timeout"
	case merry.Is(err, sapn.ErrExportFailed):
		return "export_failed"
	case merry.Is(err, sapn.ErrResponseMalformed):
		return "response_malformed"
	case merry.Is(err, sapn.ErrNetwork):
		return "network"
	case merry.Is(err, nem12.ErrUnsupportedUnit):
		return "unsupported_unit"
	case merry.Is(err, nem12.ErrMissingHeader):
		return "missing_header"
	case merry.Is(err, nem12.ErrMalformedRecord):
		return "malformed_data"
	}
	return "other"
}

// isTransient reports whether an error is worth retrying within the same
// attempt. Only transport failures qualify: everything else is either a bad
// credential, changed markup or bad data, and will not fix itself.
func isTransient(err error) bool {
	return merry.Is(err, sapn.ErrNetwork)
}
