// Package sapn talks to the SA Power Networks customer portal: a
// server-rendered Visualforce form system with rotating anti-forgery state and
// an asynchronous remote-call export for NEM12 meter data.
package sapn

import (
	"time"

	"github.com/ansel1/merry"
)

var ErrNetwork = merry.New("network error")
var ErrTokenNotFound = merry.New("view state token not found")
var ErrAuthenticationFailed = merry.New("authentication failed")
var ErrSessionExpired = merry.New("session expired")
var ErrExportFailed = merry.New("export failed")
var ErrExportTimedOut = merry.New("export timed out")
var ErrResponseMalformed = merry.New("response data malformed")

// ViewState is the rotating hidden-field triple embedded in every rendered
// form page. It is only valid for the very next submission: each page load
// carries a fresh set and the server rejects stale ones as a session failure,
// so a set must never outlive the page it was extracted from.
type ViewState struct {
	State   string
	Version string
	MAC     string
}

// remotingContext is the form-context the remote-call endpoint expects,
// scraped from the request page's script block. Rotates per page load like
// the view state.
type remotingContext struct {
	CSRF string
	VID  string
	Ver  int
}

// ExportRequest identifies one meter-data export. Immutable once constructed.
type ExportRequest struct {
	NMI  string
	From time.Time
	To   time.Time
}

type remoteCall struct {
	Action string        `json:"action"`
	Method string        `json:"method"`
	Data   []interface{} `json:"data"`
	Type   string        `json:"type"`
	TID    int           `json:"tid"`
	Ctx    remoteCallCtx `json:"ctx"`
}

type remoteCallCtx struct {
	CSRF string `json:"csrf"`
	VID  string `json:"vid"`
	NS   string `json:"ns"`
	Ver  int    `json:"ver"`
}

type remoteEnvelope struct {
	StatusCode int          `json:"statusCode"`
	Action     string       `json:"action"`
	Method     string       `json:"method"`
	Result     remoteResult `json:"result"`
	Type       string       `json:"type"`
	TID        int          `json:"tid"`
}

type remoteResult struct {
	Status    string `json:"status"`
	ContextID string `json:"contextId"`
	Data      string `json:"data"`
	Message   string `json:"message"`
}

const (
	exportStatusComplete   = "Complete"
	exportStatusPending    = "Pending"
	exportStatusProcessing = "Processing"
	exportStatusFailed     = "Failed"
)
