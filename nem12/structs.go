package nem12

import (
	"strconv"
	"strings"
	"time"

	"github.com/ansel1/merry"
)

var ErrMissingHeader = merry.New("300 record without preceding 200 header")
var ErrUnsupportedUnit = merry.New("unsupported unit of measure")
var ErrMalformedRecord = merry.New("malformed record")

// IntervalsPerDay is fixed by the 5-minute interval length the portal exports.
const IntervalsPerDay = 288

const IntervalLength = 5 * time.Minute

// Kwh is a fixed-point energy value in hundred-thousandths of a kWh.
// Interval values are summed a few hundred at a time, so binary floats would
// accumulate rounding; integer arithmetic keeps daily totals exact.
type Kwh int64

const kwhScale = 100000

func ParseKwh(str string) (Kwh, error) {
	str = strings.TrimSpace(str)
	if str == "" {
		return 0, merry.New("empty value")
	}
	if str[0] == '-' {
		return 0, merry.Errorf("negative value: %s", str)
	}
	intPart := str
	fracPart := ""
	if dot := strings.IndexByte(str, '.'); dot != -1 {
		intPart, fracPart = str[:dot], str[dot+1:]
	}
	if intPart == "" && fracPart == "" {
		return 0, merry.Errorf("not a number: %s", str)
	}
	var value int64
	if intPart != "" {
		n, err := strconv.ParseInt(intPart, 10, 64)
		if err != nil {
			return 0, merry.Errorf("not a number: %s", str)
		}
		value = n * kwhScale
	}
	if len(fracPart) > 5 {
		// more precision than the fixed point can hold, must not be dropped silently
		return 0, merry.Errorf("too many decimal places: %s", str)
	}
	if fracPart != "" {
		n, err := strconv.ParseInt(fracPart, 10, 64)
		if err != nil || n < 0 {
			return 0, merry.Errorf("not a number: %s", str)
		}
		for i := len(fracPart); i < 5; i++ {
			n *= 10
		}
		value += n
	}
	return Kwh(value), nil
}

func (k Kwh) Float() float64 {
	return float64(k) / kwhScale
}

func (k Kwh) String() string {
	whole := int64(k) / kwhScale
	frac := int64(k) % kwhScale
	if frac == 0 {
		return strconv.FormatInt(whole, 10)
	}
	str := strconv.FormatInt(whole, 10) + "." + zeroPad(frac)
	return strings.TrimRight(str, "0")
}

func zeroPad(frac int64) string {
	str := strconv.FormatInt(frac, 10)
	return strings.Repeat("0", 5-len(str)) + str
}

// Quality is the per-day reading quality from the 300 record's flag character.
type Quality string

const (
	QualityActual      = Quality("actual")
	QualityValidated   = Quality("validated")
	QualitySubstituted = Quality("substituted")
	QualityOther       = Quality("other")
)

func parseQuality(flag string) (Quality, error) {
	if len(flag) == 0 {
		return "", merry.New("empty quality flag")
	}
	switch flag[0] {
	case 'A':
		return QualityActual, nil
	case 'V':
		return QualityValidated, nil
	case 'S', 'F', 'E':
		return QualitySubstituted, nil
	case 'N':
		return QualityOther, nil
	}
	return "", merry.Errorf("unknown quality flag: %s", flag)
}

type IntervalReading struct {
	Interval int     `json:"interval"`
	Kwh      Kwh     `json:"kwh"`
	Quality  Quality `json:"quality"`
}

// MeterDay is one calendar day of readings. Days are all-or-nothing: a decoded
// MeterDay always carries exactly IntervalsPerDay readings in interval order.
type MeterDay struct {
	NMI         string            `json:"nmi"`
	MeterSerial string            `json:"meterSerial"`
	Unit        string            `json:"unit"`
	Date        time.Time         `json:"date"`
	Readings    []IntervalReading `json:"readings"`
}

func (d *MeterDay) DailyTotal() Kwh {
	var total Kwh
	for _, r := range d.Readings {
		total += r.Kwh
	}
	return total
}

// IntervalStart returns the absolute start time of the interval's 5-minute
// window in the given location. Interval 0 starts at midnight (the
// interval-start convention, applied consistently throughout this repo).
func (d *MeterDay) IntervalStart(interval int, loc *time.Location) time.Time {
	midnight := time.Date(d.Date.Year(), d.Date.Month(), d.Date.Day(), 0, 0, 0, 0, loc)
	return midnight.Add(time.Duration(interval) * IntervalLength)
}

// File is one decoded NEM12 export, days in file order.
type File struct {
	NMI  string     `json:"nmi"`
	Days []MeterDay `json:"days"`
}

func (f *File) LatestDate() (time.Time, bool) {
	var latest time.Time
	for _, day := range f.Days {
		if day.Date.After(latest) {
			latest = day.Date
		}
	}
	return latest, !latest.IsZero()
}
