// Package logparse recovers structured fields from the load generator's
// free-text log reports. The report is INI-like: section headers carry the
// payload (for example "[Current rps=45.3]") and ordinary lines are noise.
package logparse

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
)

// FinishedMarker is the literal substring the load generator appends once a
// test run has completed.
const FinishedMarker = "[Test finished]"

const rpsPrefix = "Current rps="

var ErrNoTestID = errors.New("no test id in response")

var testIDPattern = regexp.MustCompile(`name=(.*log)`)

// TestID extracts the log file identifier from a test-start response body.
// The first match wins.
func TestID(text string) (string, error) {
	m := testIDPattern.FindStringSubmatch(text)
	if m == nil {
		return "", ErrNoTestID
	}
	return m[1], nil
}

// CurrentRPS returns the most recently reported requests-per-second value.
// The last "Current rps=" section in the report wins. The second return is
// false when the report carries no rps section at all; callers treat that as
// a zero observation.
func CurrentRPS(text string) (float64, bool) {
	f, err := ini.LoadSources(ini.LoadOptions{
		SkipUnrecognizableLines: true,
	}, []byte(text))
	if err != nil {
		return 0, false
	}

	sections := f.SectionStrings()
	for i := len(sections) - 1; i >= 0; i-- {
		name := sections[i]
		if !strings.HasPrefix(name, rpsPrefix) {
			continue
		}
		rps, err := strconv.ParseFloat(strings.TrimPrefix(name, rpsPrefix), 64)
		if err != nil {
			continue
		}
		return rps, true
	}
	return 0, false
}

// Finished reports whether the log text carries the terminal marker.
func Finished(text string) bool {
	return strings.Contains(text, FinishedMarker)
}
