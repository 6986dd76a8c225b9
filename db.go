package main

import (
	"database/sql"
	"time"

	"github.com/ansel1/merry"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"sapn_exporter/nem12"
)

// StoredReading is one five-minute interval row as kept in the DB. Kwh stays
// the exact decimal string from the portal export.
type StoredReading struct {
	Interval int       `json:"interval"`
	StartsAt time.Time `json:"startsAt"`
	Kwh      string    `json:"kwh"`
	Quality  string    `json:"quality"`
}

type StoredDay struct {
	Day string `json:"day"`
	Kwh string `json:"kwh"`
}

type ScrapeLogEntry struct {
	ID        int64     `json:"id"`
	StartedAt time.Time `json:"startedAt"`
	Duration  float64   `json:"durationSeconds"`
	Success   bool      `json:"success"`
	ErrorKind string    `json:"errorKind,omitempty"`
	DaysCount int       `json:"daysCount"`
}

var migrations = []func(*sql.Tx) error{
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`
		CREATE TABLE migrations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			version INTEGER NOT NULL,
			migrated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`)
		return merry.Wrap(err)
	},
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`
		CREATE TABLE readings (
			nmi TEXT NOT NULL,
			day TEXT NOT NULL,
			interval INTEGER NOT NULL,
			starts_at DATETIME NOT NULL,
			kwh TEXT NOT NULL,
			quality TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(nmi, day, interval)
		)`)
		if err != nil {
			return merry.Wrap(err)
		}
		_, err = tx.Exec(`
		CREATE TABLE daily_totals (
			nmi TEXT NOT NULL,
			day TEXT NOT NULL,
			kwh TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(nmi, day)
		)`)
		return merry.Wrap(err)
	},
	func(tx *sql.Tx) error {
		_, err := tx.Exec(`
		CREATE TABLE scrapes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			started_at DATETIME NOT NULL,
			duration_seconds FLOAT NOT NULL,
			success INTEGER NOT NULL,
			error_kind TEXT,
			days_count INTEGER NOT NULL DEFAULT 0
		)`)
		return merry.Wrap(err)
	},
}

func createTables(db *sql.DB) error {
	lastVersion := -1
	err := db.QueryRow(`SELECT version FROM migrations ORDER BY migrated_at DESC, id DESC LIMIT 1`).Scan(&lastVersion)
	if err != nil && err != sql.ErrNoRows && err.Error() != "no such table: migrations" {
		return merry.Wrap(err)
	}
	for version := lastVersion + 1; version < len(migrations); version += 1 {
		tx, err := db.Begin()
		if err != nil {
			return merry.Wrap(err)
		}
		if err := migrations[version](tx); err != nil {
			tx.Rollback()
			return merry.Wrap(err)
		}
		if _, err := tx.Exec(`INSERT INTO migrations (version) VALUES (?)`, version); err != nil {
			tx.Rollback()
			return merry.Wrap(err)
		}
		if err := tx.Commit(); err != nil {
			tx.Rollback()
			return merry.Wrap(err)
		}
		log.Info().Int("version", version).Msg("migrated DB")
	}
	return nil
}

func setupDB(configDir string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", configDir+"/main.db")
	if err != nil {
		return nil, merry.Wrap(err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, merry.Wrap(err)
	}
	return db, nil
}

// saveMeterDays upserts all readings and daily totals of one export in a
// single transaction. A recent day may be re-exported later with revised
// values (quality moves from substituted to actual), so existing rows are
// overwritten.
func saveMeterDays(db *sql.DB, nmi string, days []nem12.MeterDay, loc *time.Location) error {
	tx, err := db.Begin()
	if err != nil {
		return merry.Wrap(err)
	}

	readingStmt, err := tx.Prepare(`
		INSERT INTO readings (nmi, day, interval, starts_at, kwh, quality)
		VALUES (?,?,?,?,?,?)
		ON CONFLICT(nmi, day, interval) DO UPDATE SET
			kwh = excluded.kwh,
			quality = excluded.quality,
			updated_at = CURRENT_TIMESTAMP`)
	if err != nil {
		tx.Rollback()
		return merry.Wrap(err)
	}
	defer readingStmt.Close()

	for _, day := range days {
		dayStr := day.Date.Format("2006-01-02")
		for _, reading := range day.Readings {
			_, err := readingStmt.Exec(
				nmi, dayStr, reading.Interval,
				day.IntervalStart(reading.Interval, loc),
				reading.Kwh.String(), string(reading.Quality))
			if err != nil {
				tx.Rollback()
				return merry.Wrap(err)
			}
		}
		_, err := tx.Exec(`
			INSERT INTO daily_totals (nmi, day, kwh) VALUES (?,?,?)
			ON CONFLICT(nmi, day) DO UPDATE SET
				kwh = excluded.kwh,
				updated_at = CURRENT_TIMESTAMP`,
			nmi, dayStr, day.DailyTotal().String())
		if err != nil {
			tx.Rollback()
			return merry.Wrap(err)
		}
	}
	return merry.Wrap(tx.Commit())
}

func saveScrapeLog(db *sql.DB, res *ScrapeResult) error {
	_, err := db.Exec(`
		INSERT INTO scrapes (started_at, duration_seconds, success, error_kind, days_count)
		VALUES (?,?,?,?,?)`,
		res.StartedAt, res.Duration.Seconds(), res.Success, res.ErrorKind, len(res.Days))
	return merry.Wrap(err)
}

func loadDailyTotals(db *sql.DB, nmi, beforeDay string, limit int64) ([]*StoredDay, error) {
	filter := ""
	args := []interface{}{nmi}
	if beforeDay != "" {
		filter = " AND day < ?"
		args = append(args, beforeDay)
	}
	args = append(args, limit)
	rows, err := db.Query(`
		SELECT day, kwh FROM daily_totals
		WHERE nmi = ?`+filter+`
		ORDER BY day DESC LIMIT ?`, args...)
	if err != nil {
		return nil, merry.Wrap(err)
	}

	var days []*StoredDay
	for rows.Next() {
		day := &StoredDay{}
		if err := rows.Scan(&day.Day, &day.Kwh); err != nil {
			return nil, merry.Wrap(err)
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, merry.Wrap(err)
	}
	return days, nil
}

func loadDayReadings(db *sql.DB, nmi, day string) ([]*StoredReading, error) {
	rows, err := db.Query(`
		SELECT interval, starts_at, kwh, quality FROM readings
		WHERE nmi = ? AND day = ?
		ORDER BY interval`, nmi, day)
	if err != nil {
		return nil, merry.Wrap(err)
	}

	var readings []*StoredReading
	for rows.Next() {
		reading := &StoredReading{}
		if err := rows.Scan(&reading.Interval, &reading.StartsAt, &reading.Kwh, &reading.Quality); err != nil {
			return nil, merry.Wrap(err)
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, merry.Wrap(err)
	}
	return readings, nil
}

func loadRecentScrapes(db *sql.DB, limit int64) ([]*ScrapeLogEntry, error) {
	rows, err := db.Query(`
		SELECT id, started_at, duration_seconds, success, COALESCE(error_kind, ''), days_count
		FROM scrapes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, merry.Wrap(err)
	}

	var entries []*ScrapeLogEntry
	for rows.Next() {
		entry := &ScrapeLogEntry{}
		if err := rows.Scan(&entry.ID, &entry.StartedAt, &entry.Duration,
			&entry.Success, &entry.ErrorKind, &entry.DaysCount); err != nil {
			return nil, merry.Wrap(err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, merry.Wrap(err)
	}
	return entries, nil
}
