package main

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleAPIStatus(t *testing.T) {
	store := &ResultStore{}
	newRequest := func() *httptest.ResponseRecorder {
		return httptest.NewRecorder()
	}
	request := httptest.NewRequest("GET", "/api/status", nil)
	request = request.WithContext(context.WithValue(request.Context(), CtxKeyStore, store))

	t.Run("before first scrape", func(t *testing.T) {
		resp, err := HandleAPIStatus(newRequest(), request, nil)
		require.NoError(t, err)
		status := resp.(statusResponse)
		assert.False(t, status.Scraped)
	})

	t.Run("after a failed scrape", func(t *testing.T) {
		store.Set(&ScrapeResult{
			NMI:       "20017512345",
			StartedAt: time.Date(2026, 1, 11, 4, 0, 0, 0, time.UTC),
			Duration:  5 * time.Second,
			ErrorKind: "network",
			Error:     "network error: connection refused",
		})
		resp, err := HandleAPIStatus(newRequest(), request, nil)
		require.NoError(t, err)
		status := resp.(statusResponse)
		assert.True(t, status.Scraped)
		assert.False(t, status.Success)
		assert.Equal(t, "network", status.ErrorKind)
		assert.Equal(t, 0, status.DaysCount)
	})
}

func TestHandleAPIScrapeCollapsesTriggers(t *testing.T) {
	triggerChan := make(chan struct{}, 1)
	request := httptest.NewRequest("POST", "/api/scrape", nil)
	request = request.WithContext(context.WithValue(request.Context(), CtxKeyTrigger, triggerChan))

	// the channel fills on the first call, later calls piggyback instead of blocking
	for i := 0; i < 3; i++ {
		resp, err := HandleAPIScrape(httptest.NewRecorder(), request, nil)
		require.NoError(t, err)
		assert.Equal(t, "ok", resp)
	}
	assert.Len(t, triggerChan, 1)
}
