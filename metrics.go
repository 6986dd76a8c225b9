package main

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"sapn_exporter/nem12"
)

const (
	scrapeStatusSuccess = "success"
	scrapeStatusFailure = "failure"
)

var (
	intervalEnergyKwh = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sapn_interval_energy_kwh",
			Help: "Energy of a single five-minute interval from the latest successful scrape",
		},
		[]string{"nmi", "date", "interval"},
	)
	dailyEnergyKwh = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sapn_daily_energy_kwh",
			Help: "Total energy per day from the latest successful scrape",
		},
		[]string{"nmi", "date"},
	)
	latestReadingTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sapn_latest_reading_timestamp",
			Help: "Unix timestamp of the start of the most recent day with data",
		},
		[]string{"nmi"},
	)
	dataDaysTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sapn_data_days_total",
			Help: "Number of days of data in the latest successful scrape",
		},
		[]string{"nmi"},
	)
	scrapeSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sapn_scrape_success",
			Help: "1 if the most recent scrape succeeded, 0 otherwise",
		},
	)
	scrapeDurationSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sapn_scrape_duration_seconds",
			Help: "Duration of the most recent scrape",
		},
	)
	lastScrapeTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sapn_last_scrape_timestamp",
			Help: "Unix timestamp of the most recent scrape attempt",
		},
	)
	scrapeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sapn_scrape_total",
			Help: "Scrape attempts by outcome",
		},
		[]string{"status"},
	)
)

func registerMetrics() {
	prometheus.MustRegister(
		intervalEnergyKwh,
		dailyEnergyKwh,
		latestReadingTimestamp,
		dataDaysTotal,
		scrapeSuccess,
		scrapeDurationSeconds,
		lastScrapeTimestamp,
		scrapeTotal,
	)
}

// updateMetrics publishes one scrape outcome. Reading gauges are only touched
// on success, so the last good values stay visible while the portal is down.
func updateMetrics(res *ScrapeResult, cfg *Config) {
	lastScrapeTimestamp.Set(float64(res.StartedAt.Unix()))
	scrapeDurationSeconds.Set(res.Duration.Seconds())
	if !res.Success {
		scrapeSuccess.Set(0)
		scrapeTotal.WithLabelValues(scrapeStatusFailure).Inc()
		return
	}
	scrapeSuccess.Set(1)
	scrapeTotal.WithLabelValues(scrapeStatusSuccess).Inc()

	intervalEnergyKwh.Reset()
	dailyEnergyKwh.Reset()
	for _, day := range res.Days {
		date := day.Date.Format("2006-01-02")
		dailyEnergyKwh.WithLabelValues(res.NMI, date).Set(day.DailyTotal().Float())
		for _, reading := range day.Readings {
			intervalEnergyKwh.
				WithLabelValues(res.NMI, date, strconv.Itoa(reading.Interval)).
				Set(reading.Kwh.Float())
		}
	}
	dataDaysTotal.WithLabelValues(res.NMI).Set(float64(len(res.Days)))
	if latest, ok := latestDay(res.Days); ok {
		ts := time.Date(latest.Year(), latest.Month(), latest.Day(), 0, 0, 0, 0, cfg.Location)
		latestReadingTimestamp.WithLabelValues(res.NMI).Set(float64(ts.Unix()))
	}
}

func latestDay(days []nem12.MeterDay) (time.Time, bool) {
	var latest time.Time
	for _, day := range days {
		if day.Date.After(latest) {
			latest = day.Date
		}
	}
	return latest, !latest.IsZero()
}
