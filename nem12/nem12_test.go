package nem12

import (
	"strings"
	"testing"
	"time"

	"github.com/ansel1/merry"
)

const headerLine = "200,20017512345,E1,E1,E1,N1,METSER123,kWh,5,20260112"

func repeatValues(value string, count int) []string {
	values := make([]string, count)
	for i := range values {
		values[i] = value
	}
	return values
}

func dayLine(date string, values []string, quality string) string {
	return "300," + date + "," + strings.Join(values, ",") + "," + quality + ",,,20260112083000"
}

func TestParse(t *testing.T) {
	values := repeatValues("0.125", IntervalsPerDay)
	values[0] = "0.134"
	content := strings.Join([]string{
		"100,NEM12,202601120830,SAPN,SAPN",
		headerLine,
		dayLine("20260110", repeatValues("0.125", IntervalsPerDay), "A"),
		dayLine("20260111", values, "S"),
		"900",
	}, "\r\n")

	file, err := Parse(content)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if file.NMI != "20017512345" {
		t.Errorf("NMI = %q, want %q", file.NMI, "20017512345")
	}
	if len(file.Days) != 2 {
		t.Fatalf("got %d days, want 2", len(file.Days))
	}

	first := file.Days[0]
	if len(first.Readings) != IntervalsPerDay {
		t.Fatalf("got %d readings, want %d", len(first.Readings), IntervalsPerDay)
	}
	if first.MeterSerial != "METSER123" || first.Unit != "kWh" {
		t.Errorf("header fields = %q/%q, want METSER123/kWh", first.MeterSerial, first.Unit)
	}
	// 288 * 0.125 has an exact sum, any rounding is a bug
	if got := first.DailyTotal().String(); got != "36" {
		t.Errorf("DailyTotal() = %q, want %q", got, "36")
	}
	if first.Readings[0].Quality != QualityActual {
		t.Errorf("quality = %q, want %q", first.Readings[0].Quality, QualityActual)
	}

	second := file.Days[1]
	if !second.Date.Equal(time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("date = %v, want 2026-01-11", second.Date)
	}
	if got := second.Readings[0].Kwh.String(); got != "0.134" {
		t.Errorf("first value = %q, want %q", got, "0.134")
	}
	if second.Readings[5].Quality != QualitySubstituted {
		t.Errorf("quality = %q, want %q", second.Readings[5].Quality, QualitySubstituted)
	}
}

func TestParseSkipsUnknownRecordTypes(t *testing.T) {
	content := strings.Join([]string{
		"100,NEM12,202601120830,SAPN,SAPN",
		headerLine,
		"400,1,288,,,",
		dayLine("20260110", repeatValues("0", IntervalsPerDay), "A"),
		"500,O,,20260112083000,",
		"900",
		"",
	}, "\n")
	file, err := Parse(content)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(file.Days) != 1 {
		t.Errorf("got %d days, want 1", len(file.Days))
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		lines   []string
		wantErr merry.Error
	}{
		{
			name:    "day record before header",
			lines:   []string{dayLine("20260110", repeatValues("0.125", IntervalsPerDay), "A")},
			wantErr: ErrMissingHeader,
		},
		{
			name:    "wrong unit",
			lines:   []string{"200,20017512345,E1,E1,E1,N1,METSER123,MWh,5,20260112"},
			wantErr: ErrUnsupportedUnit,
		},
		{
			name:    "wrong interval length",
			lines:   []string{"200,20017512345,E1,E1,E1,N1,METSER123,kWh,30,20260112"},
			wantErr: ErrUnsupportedUnit,
		},
		{
			name:    "truncated header",
			lines:   []string{"200,20017512345,E1"},
			wantErr: ErrMalformedRecord,
		},
		{
			name:    "missing interval value",
			lines:   []string{headerLine, dayLine("20260110", repeatValues("0.125", IntervalsPerDay-1), "A")},
			wantErr: ErrMalformedRecord,
		},
		{
			name:    "extra interval value",
			lines:   []string{headerLine, dayLine("20260110", repeatValues("0.125", IntervalsPerDay+1), "A")},
			wantErr: ErrMalformedRecord,
		},
		{
			name:    "bad date",
			lines:   []string{headerLine, dayLine("2026011", repeatValues("0.125", IntervalsPerDay), "A")},
			wantErr: ErrMalformedRecord,
		},
		{
			name: "negative value",
			lines: []string{headerLine, func() string {
				values := repeatValues("0.125", IntervalsPerDay)
				values[10] = "-0.5"
				return dayLine("20260110", values, "A")
			}()},
			wantErr: ErrMalformedRecord,
		},
		{
			name: "empty value",
			lines: []string{headerLine, func() string {
				values := repeatValues("0.125", IntervalsPerDay)
				values[287] = ""
				return dayLine("20260110", values, "A")
			}()},
			wantErr: ErrMalformedRecord,
		},
		{
			name:    "unknown quality flag",
			lines:   []string{headerLine, dayLine("20260110", repeatValues("0.125", IntervalsPerDay), "X")},
			wantErr: ErrMalformedRecord,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.Join(tt.lines, "\n"))
			if err == nil {
				t.Fatal("Parse() returned no error")
			}
			if !merry.Is(err, tt.wantErr) {
				t.Errorf("Parse() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseKwh(t *testing.T) {
	tests := []struct {
		in      string
		wantStr string
		wantErr bool
	}{
		{in: "0", wantStr: "0"},
		{in: "0.134", wantStr: "0.134"},
		{in: "1.5", wantStr: "1.5"},
		{in: "12.00500", wantStr: "12.005"},
		{in: ".25", wantStr: "0.25"},
		{in: "3.", wantStr: "3"},
		{in: "0.00001", wantStr: "0.00001"},
		{in: " 0.125 ", wantStr: "0.125"},
		{in: "", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "1.2.3", wantErr: true},
		{in: "0.000001", wantErr: true},
		{in: "1e3", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			kwh, err := ParseKwh(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseKwh(%q) = %v, want error", tt.in, kwh)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKwh(%q) error: %v", tt.in, err)
			}
			if kwh.String() != tt.wantStr {
				t.Errorf("ParseKwh(%q).String() = %q, want %q", tt.in, kwh.String(), tt.wantStr)
			}
		})
	}
}

func TestDailyTotalStaysExact(t *testing.T) {
	// 0.1 is not representable in binary floats, 288 of them sum to
	// 28.800000000000004 with float64
	kwh, err := ParseKwh("0.1")
	if err != nil {
		t.Fatal(err)
	}
	day := &MeterDay{Readings: make([]IntervalReading, IntervalsPerDay)}
	for i := range day.Readings {
		day.Readings[i] = IntervalReading{Interval: i, Kwh: kwh}
	}
	if got := day.DailyTotal().String(); got != "28.8" {
		t.Errorf("DailyTotal() = %q, want %q", got, "28.8")
	}
}

func TestIntervalStart(t *testing.T) {
	loc, err := time.LoadLocation("Australia/Adelaide")
	if err != nil {
		t.Fatal(err)
	}
	day := &MeterDay{Date: time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC)}

	tests := []struct {
		interval int
		want     string
	}{
		{interval: 0, want: "2026-01-11T00:00:00+10:30"},
		{interval: 1, want: "2026-01-11T00:05:00+10:30"},
		{interval: 143, want: "2026-01-11T11:55:00+10:30"},
		{interval: 287, want: "2026-01-11T23:55:00+10:30"},
	}
	for _, tt := range tests {
		got := day.IntervalStart(tt.interval, loc).Format(time.RFC3339)
		if got != tt.want {
			t.Errorf("IntervalStart(%d) = %q, want %q", tt.interval, got, tt.want)
		}
	}
}
