package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sapn_exporter/nem12"
)

func testMeterDay(t *testing.T, date string, value string) nem12.MeterDay {
	t.Helper()
	kwh, err := nem12.ParseKwh(value)
	require.NoError(t, err)
	day, err := time.Parse("20060102", date)
	require.NoError(t, err)

	readings := make([]nem12.IntervalReading, nem12.IntervalsPerDay)
	for i := range readings {
		readings[i] = nem12.IntervalReading{Interval: i, Kwh: kwh, Quality: nem12.QualityActual}
	}
	return nem12.MeterDay{
		NMI:         "20017512345",
		MeterSerial: "METSER123",
		Unit:        "kWh",
		Date:        day,
		Readings:    readings,
	}
}

func TestSaveAndLoadReadings(t *testing.T) {
	db, err := setupDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	loc := time.FixedZone("ACDT", int(10.5*3600))
	days := []nem12.MeterDay{
		testMeterDay(t, "20260110", "0.125"),
		testMeterDay(t, "20260111", "0.1"),
	}
	require.NoError(t, saveMeterDays(db, "20017512345", days, loc))

	totals, err := loadDailyTotals(db, "20017512345", "", 60)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	// newest first
	assert.Equal(t, "2026-01-11", totals[0].Day)
	assert.Equal(t, "28.8", totals[0].Kwh)
	assert.Equal(t, "2026-01-10", totals[1].Day)
	assert.Equal(t, "36", totals[1].Kwh)

	readings, err := loadDayReadings(db, "20017512345", "2026-01-10")
	require.NoError(t, err)
	require.Len(t, readings, nem12.IntervalsPerDay)
	assert.Equal(t, 0, readings[0].Interval)
	assert.Equal(t, "0.125", readings[0].Kwh)
	assert.Equal(t, "actual", readings[0].Quality)

	want := time.Date(2026, 1, 10, 23, 55, 0, 0, loc)
	assert.True(t, readings[287].StartsAt.Equal(want),
		"last interval starts at %v, want %v", readings[287].StartsAt, want)
}

func TestSaveMeterDaysOverwritesRevisedValues(t *testing.T) {
	db, err := setupDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	loc := time.UTC
	first := []nem12.MeterDay{testMeterDay(t, "20260110", "0.125")}
	require.NoError(t, saveMeterDays(db, "20017512345", first, loc))

	revised := []nem12.MeterDay{testMeterDay(t, "20260110", "0.25")}
	revised[0].Readings[0].Quality = nem12.QualitySubstituted
	require.NoError(t, saveMeterDays(db, "20017512345", revised, loc))

	totals, err := loadDailyTotals(db, "20017512345", "", 60)
	require.NoError(t, err)
	require.Len(t, totals, 1, "re-export must update in place, not duplicate")
	assert.Equal(t, "72", totals[0].Kwh)

	readings, err := loadDayReadings(db, "20017512345", "2026-01-10")
	require.NoError(t, err)
	assert.Equal(t, "substituted", readings[0].Quality)
}

func TestLoadDailyTotalsPaging(t *testing.T) {
	db, err := setupDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	days := []nem12.MeterDay{
		testMeterDay(t, "20260109", "0.1"),
		testMeterDay(t, "20260110", "0.1"),
		testMeterDay(t, "20260111", "0.1"),
	}
	require.NoError(t, saveMeterDays(db, "20017512345", days, time.UTC))

	page, err := loadDailyTotals(db, "20017512345", "2026-01-11", 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "2026-01-10", page[0].Day)

	none, err := loadDailyTotals(db, "other-nmi", "", 60)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestScrapeLog(t *testing.T) {
	db, err := setupDB(t.TempDir())
	require.NoError(t, err)
	defer db.Close()

	ok := &ScrapeResult{
		Success:   true,
		NMI:       "20017512345",
		Days:      []nem12.MeterDay{testMeterDay(t, "20260110", "0.125")},
		StartedAt: time.Date(2026, 1, 11, 4, 0, 0, 0, time.UTC),
		Duration:  90 * time.Second,
	}
	failed := &ScrapeResult{
		NMI:       "20017512345",
		StartedAt: time.Date(2026, 1, 12, 4, 0, 0, 0, time.UTC),
		Duration:  5 * time.Second,
		ErrorKind: "auth_failed",
		Error:     "authentication failed",
	}
	require.NoError(t, saveScrapeLog(db, ok))
	require.NoError(t, saveScrapeLog(db, failed))

	entries, err := loadRecentScrapes(db, 25)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// newest first
	assert.False(t, entries[0].Success)
	assert.Equal(t, "auth_failed", entries[0].ErrorKind)
	assert.Equal(t, 0, entries[0].DaysCount)
	assert.True(t, entries[1].Success)
	assert.Empty(t, entries[1].ErrorKind)
	assert.Equal(t, 1, entries[1].DaysCount)
	assert.Equal(t, 90.0, entries[1].Duration)
}
