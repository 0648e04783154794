// Package uart binds the simulator to a serial line carrying one CSV frame
// per line: event,status,plate,latitude,longitude,timestamp.
package uart

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedFrame is returned for lines that are not a valid frame.
var ErrMalformedFrame = errors.New("malformed frame")

const frameFields = 6

// Frame is one decoded serial line.
type Frame struct {
	Event     string
	Status    uint8
	Plate     string
	Latitude  float64
	Longitude float64
	Timestamp uint32
}

func malformed(reason, line string) error {
	return fmt.Errorf("%w: %s: %q", ErrMalformedFrame, reason, line)
}

// ParseFrame decodes a line. Plates are normalized with NormalizePlate.
func ParseFrame(line string) (Frame, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return Frame{}, malformed("empty line", line)
	}
	fields := strings.Split(trimmed, ",")
	if len(fields) != frameFields {
		return Frame{}, malformed(fmt.Sprintf("expected %d fields, got %d", frameFields, len(fields)), trimmed)
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	f := Frame{Event: fields[0], Plate: NormalizePlate(fields[2])}
	if f.Event == "" {
		return Frame{}, malformed("missing event", trimmed)
	}
	if f.Plate == "" {
		return Frame{}, malformed("missing plate", trimmed)
	}

	status, err := strconv.ParseUint(fields[1], 10, 8)
	if err != nil {
		return Frame{}, malformed("invalid status", trimmed)
	}
	f.Status = uint8(status)

	if f.Latitude, err = parseCoordinate(fields[3]); err != nil {
		return Frame{}, malformed("invalid latitude", trimmed)
	}
	if f.Longitude, err = parseCoordinate(fields[4]); err != nil {
		return Frame{}, malformed("invalid longitude", trimmed)
	}

	ts, err := strconv.ParseUint(fields[5], 10, 32)
	if err != nil {
		return Frame{}, malformed("invalid timestamp", trimmed)
	}
	f.Timestamp = uint32(ts)
	return f, nil
}

func parseCoordinate(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("not finite")
	}
	return v, nil
}

// String encodes the frame without the trailing newline. The plate is sent
// in its compact form.
func (f Frame) String() string {
	var b strings.Builder
	b.Grow(64)
	b.WriteString(f.Event)
	b.WriteByte(',')
	b.WriteString(strconv.FormatUint(uint64(f.Status), 10))
	b.WriteByte(',')
	b.WriteString(CompactPlate(f.Plate))
	b.WriteByte(',')
	b.WriteString(FormatCoordinate(f.Latitude))
	b.WriteByte(',')
	b.WriteString(FormatCoordinate(f.Longitude))
	b.WriteByte(',')
	b.WriteString(strconv.FormatUint(uint64(f.Timestamp), 10))
	return b.String()
}

// FormatCoordinate renders degrees as fixed point with six decimals,
// independent of locale. -0.5 becomes "-0.500000".
func FormatCoordinate(v float64) string {
	scaled := int64(math.Round(v * 1e6))
	sign := ""
	if scaled < 0 {
		sign = "-"
		scaled = -scaled
	}
	return fmt.Sprintf("%s%d.%06d", sign, scaled/1_000_000, scaled%1_000_000)
}

// CompactPlate uppercases a plate and strips anything but letters and digits.
func CompactPlate(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, c := range raw {
		switch {
		case c >= 'a' && c <= 'z':
			b.WriteRune(c - 'a' + 'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		}
	}
	return b.String()
}

// NormalizePlate compacts a plate and restores the AA-123-AA hyphens for
// seven character registrations of that shape.
func NormalizePlate(raw string) string {
	p := CompactPlate(raw)
	if len(p) == 7 &&
		isLetter(p[0]) && isLetter(p[1]) &&
		isDigit(p[2]) && isDigit(p[3]) && isDigit(p[4]) &&
		isLetter(p[5]) && isLetter(p[6]) {
		return p[:2] + "-" + p[2:5] + "-" + p[5:]
	}
	return p
}

func isLetter(c byte) bool { return c >= 'A' && c <= 'Z' }
func isDigit(c byte) bool  { return c >= '0' && c <= '9' }
