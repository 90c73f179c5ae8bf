// Package detect probes the access point to discover which physical
// interface and which configuration-store radio serve each band. The
// mapping is not stable across firmware updates or radio reloads, so
// it is re-derived at runtime instead of configured.
package detect

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/models"
	"github.com/wifi-sniffer/wifi-sniffer-pro/internal/remote"
)

// ErrIncompleteDetection is returned when the probe did not classify
// exactly one interface per band. The caller must leave its existing
// mapping untouched: a partial mapping is never adopted.
var ErrIncompleteDetection = errors.New("detection incomplete: did not find exactly one interface per band")

const probeTimeout = 10 * time.Second

// The probe commands match the device's reporting format; the grep
// patterns and classification thresholds must stay as-is.
const (
	interfaceProbeCmd = `iwconfig 2>/dev/null | grep -E '^ath[0-2]|Frequency'`
	radioProbeCmd     = `uci show wireless | grep -E 'wifi[0-2]\.(channel|htmode|band|hwmode)'`
)

var frequencyRE = regexp.MustCompile(`Frequency[:\s]*(\d+\.?\d*)`)

// Detector issues detection probes. It holds no state of its own; the
// session manager owns the mappings and commits probe results.
type Detector struct {
	exec remote.Executor
}

// New creates a detector over the given executor.
func New(exec remote.Executor) *Detector {
	return &Detector{exec: exec}
}

// ProbeInterfaces inspects per-interface radio status and classifies
// each interface reporting an operating frequency into a band. The
// result is complete or nothing: ErrIncompleteDetection is returned
// unless exactly one interface was found for every band.
func (d *Detector) ProbeInterfaces() (models.InterfaceMap, error) {
	ok, stdout, stderr := d.exec.Execute(interfaceProbeCmd, probeTimeout)
	if !ok {
		return models.InterfaceMap{}, fmt.Errorf("interface probe failed: %s", strings.TrimSpace(stderr))
	}
	return parseInterfaceReport(stdout)
}

// parseInterfaceReport walks iwconfig output: an interface line names
// the current interface, the following Frequency line classifies it.
func parseInterfaceReport(out string) (models.InterfaceMap, error) {
	var mapping models.InterfaceMap
	var found [models.BandCount]int

	current := ""
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "ath"):
			current = strings.Fields(line)[0]
		case strings.Contains(line, "Frequency") && current != "":
			m := frequencyRE.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			ghz, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			band := models.BandFromFrequency(ghz)
			log.Debug().Str("interface", current).Float64("ghz", ghz).Stringer("band", band).Msg("classified interface")
			mapping[band] = current
			found[band]++
			current = ""
		}
	}

	for _, b := range models.Bands() {
		if found[b] != 1 {
			return models.InterfaceMap{}, ErrIncompleteDetection
		}
	}
	return mapping, nil
}

// RadioProbe is the result of a configuration-store scan: which radio
// serves each band, and the channel/bandwidth the device actually has
// configured. Configs entries are nil for bands whose radio was not
// identified.
type RadioProbe struct {
	Radios  models.RadioMap
	Configs [models.BandCount]*models.ChannelConfig
}

// ProbeRadios reads each radio's configured channel and bandwidth mode
// from the device's configuration store and classifies radios into
// bands by channel number. Unlike interface detection this is applied
// per radio found; the believed channel configuration is reconciled to
// device truth for every band a radio was identified for. Radios are
// classified in device output order, so when two radios land on the
// same band the later one wins deterministically.
func (d *Detector) ProbeRadios() (RadioProbe, error) {
	var probe RadioProbe

	ok, stdout, stderr := d.exec.Execute(radioProbeCmd, probeTimeout)
	if !ok {
		return probe, fmt.Errorf("radio probe failed: %s", strings.TrimSpace(stderr))
	}

	order, radios := parseRadioProperties(stdout)
	for _, radio := range order {
		props := radios[radio]
		channel, err := strconv.Atoi(props["channel"])
		if err != nil || channel <= 0 {
			continue
		}
		band := models.BandFromChannel(channel)
		probe.Radios[band] = radio

		cfg := &models.ChannelConfig{Channel: channel, Bandwidth: props["htmode"]}
		probe.Configs[band] = cfg
		log.Debug().Str("radio", radio).Stringer("band", band).Int("channel", channel).
			Str("htmode", cfg.Bandwidth).Msg("classified radio")
	}
	return probe, nil
}

// parseRadioProperties parses `uci show wireless` lines of the form
// wireless.wifi0.channel='6' into per-radio property maps. Radios are
// returned in first-seen order: when two radios classify into the same
// band the later one in the device's output wins, so the result must
// not depend on map iteration order.
func parseRadioProperties(out string) ([]string, map[string]map[string]string) {
	var order []string
	radios := make(map[string]map[string]string)
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimPrefix(key, "wireless.")
		radio, prop, ok := strings.Cut(key, ".")
		if !ok {
			continue
		}
		if radios[radio] == nil {
			radios[radio] = make(map[string]string)
			order = append(order, radio)
		}
		radios[radio][prop] = strings.Trim(value, `'"`)
	}
	return order, radios
}

// ProbeChannelConfig reads one radio's current channel and bandwidth
// for a force-refreshed configuration view.
func (d *Detector) ProbeChannelConfig(radio string) (models.ChannelConfig, error) {
	cmd := fmt.Sprintf(
		"uci get wireless.%s.channel 2>/dev/null; uci get wireless.%s.htmode 2>/dev/null",
		radio, radio)

	ok, stdout, stderr := d.exec.Execute(cmd, probeTimeout)
	if !ok || strings.TrimSpace(stdout) == "" {
		return models.ChannelConfig{}, fmt.Errorf("config read failed for %s: %s", radio, strings.TrimSpace(stderr))
	}

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	channel, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil || channel <= 0 {
		return models.ChannelConfig{}, fmt.Errorf("unparseable channel for %s: %q", radio, lines[0])
	}

	cfg := models.ChannelConfig{Channel: channel}
	if len(lines) > 1 {
		cfg.Bandwidth = strings.TrimSpace(lines[1])
	}
	return cfg, nil
}
