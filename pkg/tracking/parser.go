package tracking

import (
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Telemetry devices report coordinates as "[1.3733° N, 32.2903° E]".
var locationPattern = regexp.MustCompile(`^\[([0-9.\-]+)° ([NS]), ([0-9.\-]+)° ([EW])\]$`)

// Timestamps arrive with a "UTC+3" style suffix that has to become a
// "+03:00" zone offset before either layout can parse it.
var utcOffsetPattern = regexp.MustCompile(`UTC([+-])(\d{1,2})(?::(\d{2}))?`)

const (
	timeLayoutISO = "2006-01-02 15:04:05-07:00"
	timeLayoutDMY = "02/01/2006 15:04:05-07:00"
)

// ParseLocation converts the provider's bracketed degree/hemisphere
// notation into signed decimal degrees. Southern and western hemispheres
// negate the magnitude. Returns ok=false for anything that does not
// match the pattern exactly; callers must skip such records.
func ParseLocation(raw string) (lat, lon float64, ok bool) {
	m := locationPattern.FindStringSubmatch(raw)
	if m == nil {
		return 0, 0, false
	}

	lat, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, 0, false
	}
	if m[2] == "S" {
		lat = -lat
	}

	lon, err = strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, 0, false
	}
	if m[4] == "W" {
		lon = -lon
	}

	return lat, lon, true
}

// ParseTimestamp parses the provider's two known timestamp layouts,
// "yyyy-MM-dd HH:mm:ss" and "dd/MM/yyyy HH:mm:ss", each followed by a
// UTC offset. It never fails: unparsable input falls back to the current
// wall-clock time with a logged warning, matching how the rest of the
// pipeline treats time as best-effort.
func ParseTimestamp(raw string) time.Time {
	if strings.TrimSpace(raw) == "" {
		log.Printf("[Parser] empty timestamp, using current time")
		return time.Now()
	}

	cleaned := normalizeUTCOffset(raw)

	if t, err := time.Parse(timeLayoutISO, cleaned); err == nil {
		return t
	}
	if t, err := time.Parse(timeLayoutDMY, cleaned); err == nil {
		return t
	}

	log.Printf("[Parser] failed to parse timestamp %q (cleaned: %q), using current time", raw, cleaned)
	return time.Now()
}

// normalizeUTCOffset rewrites "UTC+3" / "UTC-11" / "UTC+5:30" suffixes
// into zero-padded "+03:00" form.
func normalizeUTCOffset(raw string) string {
	return utcOffsetPattern.ReplaceAllStringFunc(raw, func(match string) string {
		m := utcOffsetPattern.FindStringSubmatch(match)
		hours, err := strconv.Atoi(m[2])
		if err != nil {
			return match
		}
		minutes := "00"
		if m[3] != "" {
			minutes = m[3]
		}
		return fmt.Sprintf("%s%02d:%s", m[1], hours, minutes)
	})
}

// ParseAcceleration reads the provider's scalar acceleration string.
// Garbage parses as zero; the sample is still usable without it.
func ParseAcceleration(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0
	}
	return v
}
