package sapn

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ansel1/merry"
	"github.com/rs/zerolog/log"
)

const exportAction = "CADRequestMeterData_Ctlr"
const exportRequestMethod = "requestMeterData"
const exportStatusMethod = "checkRequestStatus"

const providerCode = "SAPN"
const reportDescriptor = "Detailed Report (NEM12)"
const formatDescriptor = "CSV"
const retentionDays = 1

// Export runs the portal's two-phase export protocol over an authenticated
// session and returns the raw NEM12 CSV text. Report generation is
// asynchronous server-side, so a single call is not guaranteed to return
// ready data: the status is polled with a fixed interval, a bounded attempt
// count and an overall wall-clock ceiling.
func (c *Client) Export(ctx context.Context, req ExportRequest) (string, error) {
	// the login page's tokens are already stale here, the request page
	// carries its own fresh set
	res, err := c.get(ctx, requestPagePath)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body()))
	if err != nil {
		return "", merry.Wrap(err)
	}
	if _, err := extractViewState(doc); err != nil {
		return "", err
	}
	rctx, err := extractRemotingContext(string(res.Body()))
	if err != nil {
		return "", err
	}
	callCtx := remoteCallCtx{CSRF: rctx.CSRF, VID: rctx.VID, NS: "", Ver: rctx.Ver}

	result, err := c.postRemote(ctx, remoteCall{
		Action: exportAction,
		Method: exportRequestMethod,
		Data: []interface{}{
			req.NMI,
			providerCode,
			req.From.Format("2006-01-02"),
			req.To.Format("2006-01-02"),
			reportDescriptor,
			formatDescriptor,
			retentionDays,
		},
		Type: "rpc",
		TID:  1,
		Ctx:  callCtx,
	})
	if err != nil {
		return "", err
	}

	// the export may complete synchronously for small ranges
	if result.Status == exportStatusComplete {
		if result.Data == "" {
			return "", ErrResponseMalformed.Here().Append("complete export with empty data")
		}
		return result.Data, nil
	}
	if result.Status == exportStatusFailed {
		return "", ErrExportFailed.Here().Append(result.Message)
	}
	if result.ContextID == "" {
		return "", ErrResponseMalformed.Here().Appendf("status %q without context id", result.Status)
	}

	return c.pollExport(ctx, callCtx, result.ContextID)
}

func (c *Client) pollExport(ctx context.Context, callCtx remoteCallCtx, contextID string) (string, error) {
	deadline := time.Now().Add(c.PollTimeout)
	timer := time.NewTimer(c.PollInterval)
	defer timer.Stop()

	for attempt := 1; attempt <= c.PollMaxAttempts; attempt++ {
		if time.Now().After(deadline) {
			return "", ErrExportTimedOut.Here().Appendf("after %d attempts", attempt-1)
		}

		timer.Reset(c.PollInterval)
		select {
		case <-ctx.Done():
			return "", merry.Wrap(ctx.Err())
		case <-timer.C:
		}

		result, err := c.postRemote(ctx, remoteCall{
			Action: exportAction,
			Method: exportStatusMethod,
			Data:   []interface{}{contextID},
			Type:   "rpc",
			TID:    1 + attempt,
			Ctx:    callCtx,
		})
		if err != nil {
			return "", err
		}

		switch result.Status {
		case exportStatusComplete:
			if result.Data == "" {
				return "", ErrResponseMalformed.Here().Append("complete export with empty data")
			}
			return result.Data, nil
		case exportStatusFailed:
			return "", ErrExportFailed.Here().Append(result.Message)
		case exportStatusPending, exportStatusProcessing:
			log.Debug().Int("attempt", attempt).Str("status", result.Status).Msg("export not ready yet")
		default:
			return "", ErrResponseMalformed.Here().Appendf("unknown export status %q", result.Status)
		}
	}
	return "", ErrExportTimedOut.Here().Appendf("after %d attempts", c.PollMaxAttempts)
}

func decodeRemoteEnvelope(body []byte) (*remoteResult, error) {
	var envelopes []remoteEnvelope
	if err := json.Unmarshal(body, &envelopes); err != nil {
		return nil, ErrResponseMalformed.Here().Append(string(body))
	}
	if len(envelopes) == 0 {
		return nil, ErrResponseMalformed.Here().Append("empty remote response")
	}
	env := envelopes[0]
	if env.StatusCode != 200 {
		return nil, ErrExportFailed.Here().Appendf("remote status %d: %s", env.StatusCode, env.Result.Message)
	}
	return &env.Result, nil
}
