package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ansel1/merry"
	"github.com/joho/godotenv"

	"sapn_exporter/sapn"
)

type Config struct {
	Username   string
	Password   string
	NMI        string
	BaseURL    string
	ScrapeHour int
	ExportDays int
	Location   *time.Location
}

// loadConfig reads the portal credentials and scrape settings from the
// environment (a local .env file is picked up when present). All missing
// required variables are reported in one error so a first deploy does not
// turn into a guessing game.
func loadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, merry.Wrap(err)
	}

	cfg := &Config{
		Username:   os.Getenv("SAPN_USERNAME"),
		Password:   os.Getenv("SAPN_PASSWORD"),
		NMI:        os.Getenv("SAPN_NMI"),
		BaseURL:    sapn.DefaultBaseURL,
		ScrapeHour: 4,
		ExportDays: 30,
	}

	var missing []string
	if cfg.Username == "" {
		missing = append(missing, "SAPN_USERNAME")
	}
	if cfg.Password == "" {
		missing = append(missing, "SAPN_PASSWORD")
	}
	if cfg.NMI == "" {
		missing = append(missing, "SAPN_NMI")
	}
	if len(missing) > 0 {
		return nil, merry.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if baseURL := os.Getenv("SAPN_BASE_URL"); baseURL != "" {
		cfg.BaseURL = baseURL
	}

	if hourStr := os.Getenv("SCRAPE_HOUR"); hourStr != "" {
		hour, err := strconv.Atoi(hourStr)
		if err != nil || hour < 0 || hour > 23 {
			return nil, merry.Errorf("SCRAPE_HOUR must be an hour between 0 and 23, got %q", hourStr)
		}
		cfg.ScrapeHour = hour
	}

	if daysStr := os.Getenv("EXPORT_DAYS"); daysStr != "" {
		days, err := strconv.Atoi(daysStr)
		if err != nil || days < 1 {
			return nil, merry.Errorf("EXPORT_DAYS must be a positive number of days, got %q", daysStr)
		}
		cfg.ExportDays = days
	}

	tzName := os.Getenv("SAPN_TIMEZONE")
	if tzName == "" {
		tzName = "Australia/Adelaide"
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, merry.Prependf(err, "SAPN_TIMEZONE %q", tzName)
	}
	cfg.Location = loc

	return cfg, nil
}
