package models

import (
	"fmt"
	"strings"
)

// Band identifies one of the three radio frequency groups the access
// point operates. Per-band state is held in fixed-size arrays indexed
// by Band so the "exactly three bands" invariant is enforced by the
// type system instead of string-keyed maps.
type Band int

const (
	Band2G Band = iota
	Band5G
	Band6G

	// BandCount is the fixed number of bands.
	BandCount = 3
)

var bandLabels = [BandCount]string{"2G", "5G", "6G"}

// Bands returns all bands in fixed order.
func Bands() [BandCount]Band {
	return [BandCount]Band{Band2G, Band5G, Band6G}
}

// String returns the device-side label ("2G"/"5G"/"6G") used in remote
// paths, capture file names and API payloads.
func (b Band) String() string {
	if b < 0 || b >= BandCount {
		return fmt.Sprintf("Band(%d)", int(b))
	}
	return bandLabels[b]
}

// ParseBand parses a band label. Labels are uppercase; callers
// accepting user input normalize before parsing.
func ParseBand(s string) (Band, error) {
	switch strings.TrimSpace(s) {
	case "2G":
		return Band2G, nil
	case "5G":
		return Band5G, nil
	case "6G":
		return Band6G, nil
	}
	return 0, fmt.Errorf("invalid band: %s", s)
}

// MarshalText implements encoding.TextMarshaler so Band can be used as
// a JSON object key.
func (b Band) MarshalText() ([]byte, error) {
	if b < 0 || b >= BandCount {
		return nil, fmt.Errorf("invalid band: %d", int(b))
	}
	return []byte(bandLabels[b]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (b *Band) UnmarshalText(text []byte) error {
	parsed, err := ParseBand(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// BandFromFrequency classifies an operating frequency in GHz into a
// band. The thresholds match the device's iwconfig reporting format
// and must not change: <3 GHz is 2.4GHz, <6 GHz is 5GHz, above is 6GHz.
func BandFromFrequency(ghz float64) Band {
	switch {
	case ghz < 3:
		return Band2G
	case ghz < 6:
		return Band5G
	default:
		return Band6G
	}
}

// BandFromChannel classifies a configured channel number into a band:
// channels 1-14 are 2.4GHz, up to 177 are 5GHz, above is 6GHz.
func BandFromChannel(channel int) Band {
	switch {
	case channel <= 14:
		return Band2G
	case channel <= 177:
		return Band5G
	default:
		return Band6G
	}
}

// InterfaceMap maps each band to its physical interface name (e.g.
// ath0). It either holds the configured defaults or a complete mapping
// produced by detection; partial mappings are never committed.
type InterfaceMap [BandCount]string

// Complete reports whether every band has an interface assigned.
func (m InterfaceMap) Complete() bool {
	for _, iface := range m {
		if iface == "" {
			return false
		}
	}
	return true
}

// Labeled returns the mapping keyed by band label, for API payloads.
func (m InterfaceMap) Labeled() map[string]string {
	out := make(map[string]string, BandCount)
	for _, b := range Bands() {
		out[b.String()] = m[b]
	}
	return out
}

// RadioMap maps each band to the device's configuration-store radio
// identifier (e.g. wifi0), which is distinct from the runtime
// interface name.
type RadioMap [BandCount]string

// Labeled returns the mapping keyed by band label.
func (m RadioMap) Labeled() map[string]string {
	out := make(map[string]string, BandCount)
	for _, b := range Bands() {
		out[b.String()] = m[b]
	}
	return out
}
