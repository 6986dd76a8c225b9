// Package nem12 decodes the NEM12 interval-metering interchange format, the
// fixed CSV layout the portal's meter-data exports arrive in.
package nem12

import (
	"strings"
	"time"

	"github.com/ansel1/merry"
)

type header struct {
	nmi         string
	meterSerial string
	unit        string
}

// Parse decodes a NEM12 export strictly: any malformed 300 record aborts the
// whole file rather than producing a partial result. Record types other than
// 200 and 300 are skipped so future additions to the format don't break
// decoding.
func Parse(content string) (*File, error) {
	file := &File{}
	var head *header

	lines := strings.Split(content, "\n")
	for lineNum, line := range lines {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, ",")

		switch fields[0] {
		case "200":
			h, err := parseHeaderRecord(fields)
			if err != nil {
				return nil, merry.Prependf(err, "line %d", lineNum+1)
			}
			head = h
			if file.NMI == "" {
				file.NMI = h.nmi
			}
		case "300":
			if head == nil {
				return nil, ErrMissingHeader.Here().Appendf("line %d", lineNum+1)
			}
			day, err := parseDayRecord(fields, head)
			if err != nil {
				return nil, merry.Prependf(err, "line %d", lineNum+1)
			}
			file.Days = append(file.Days, *day)
		}
	}
	return file, nil
}

func parseHeaderRecord(fields []string) (*header, error) {
	// 200,NMI,config,register,suffix,stream,meter serial,UOM,interval length,...
	if len(fields) < 9 {
		return nil, ErrMalformedRecord.Here().Appendf("200 record has %d fields, want at least 9", len(fields))
	}
	unit := strings.TrimSpace(fields[7])
	if !strings.EqualFold(unit, "kwh") {
		return nil, ErrUnsupportedUnit.Here().Append(unit)
	}
	intervalLength := strings.TrimSpace(fields[8])
	if intervalLength != "5" {
		// a different length changes the 300 record's column count,
		// refuse instead of mis-parsing
		return nil, ErrUnsupportedUnit.Here().Appendf("interval length %s minutes, want 5", intervalLength)
	}
	return &header{
		nmi:         strings.TrimSpace(fields[1]),
		meterSerial: strings.TrimSpace(fields[6]),
		unit:        "kWh",
	}, nil
}

func parseDayRecord(fields []string, head *header) (*MeterDay, error) {
	// 300,YYYYMMDD,<288 values>,quality,<ignorable trailing fields>
	if len(fields) < 2+IntervalsPerDay+1 {
		return nil, ErrMalformedRecord.Here().Appendf(
			"300 record has %d fields, want at least %d", len(fields), 2+IntervalsPerDay+1)
	}

	date, err := time.Parse("20060102", fields[1])
	if err != nil {
		return nil, ErrMalformedRecord.Here().Appendf("bad interval date %q", fields[1])
	}

	readings := make([]IntervalReading, IntervalsPerDay)
	for i := 0; i < IntervalsPerDay; i++ {
		kwh, err := ParseKwh(fields[2+i])
		if err != nil {
			return nil, ErrMalformedRecord.Here().Appendf("interval %d: bad value %q", i, fields[2+i])
		}
		readings[i] = IntervalReading{Interval: i, Kwh: kwh}
	}

	quality, err := parseQuality(strings.TrimSpace(fields[2+IntervalsPerDay]))
	if err != nil {
		// a numeric field where the quality flag belongs usually means
		// the record carries the wrong number of interval values
		return nil, ErrMalformedRecord.Here().Appendf(
			"bad quality flag %q (wrong interval value count?)", fields[2+IntervalsPerDay])
	}
	for i := range readings {
		readings[i].Quality = quality
	}

	return &MeterDay{
		NMI:         head.nmi,
		MeterSerial: head.meterSerial,
		Unit:        head.unit,
		Date:        date,
		Readings:    readings,
	}, nil
}
