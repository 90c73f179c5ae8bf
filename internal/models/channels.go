package models

// ChannelConfig holds the tuning parameters for one band: the channel
// number and the bandwidth (htmode) string the device understands.
type ChannelConfig struct {
	Channel   int    `json:"channel"`
	Bandwidth string `json:"bandwidth"`
}

// ChannelConfigMap is the per-band channel configuration. It is the
// orchestrator's believed device configuration and is only trusted
// immediately after a successful read-back from the device.
type ChannelConfigMap [BandCount]ChannelConfig

// Labeled returns the configuration keyed by band label.
func (m ChannelConfigMap) Labeled() map[string]ChannelConfig {
	out := make(map[string]ChannelConfig, BandCount)
	for _, b := range Bands() {
		out[b.String()] = m[b]
	}
	return out
}

// validChannels lists the channel numbers the device accepts per band.
var validChannels = [BandCount][]int{
	Band2G: rangeChannels(1, 14, 1),
	Band5G: {36, 40, 44, 48, 52, 56, 60, 64, 100, 104, 108, 112, 116, 120, 124,
		128, 132, 136, 140, 144, 149, 153, 157, 161, 165},
	Band6G: rangeChannels(1, 233, 4),
}

// validBandwidths lists the htmode values the device accepts per band.
var validBandwidths = [BandCount][]string{
	Band2G: {"HT20", "HT40"},
	Band5G: {"EHT20", "EHT40", "EHT80", "EHT160"},
	Band6G: {"EHT20", "EHT40", "EHT80", "EHT160", "EHT320"},
}

func rangeChannels(from, to, step int) []int {
	var out []int
	for ch := from; ch <= to; ch += step {
		out = append(out, ch)
	}
	return out
}

// ValidChannel reports whether channel is selectable on the band.
func ValidChannel(b Band, channel int) bool {
	for _, ch := range validChannels[b] {
		if ch == channel {
			return true
		}
	}
	return false
}

// ValidBandwidth reports whether the htmode string is selectable on
// the band.
func ValidBandwidth(b Band, bandwidth string) bool {
	for _, bw := range validBandwidths[b] {
		if bw == bandwidth {
			return true
		}
	}
	return false
}

// Channels returns the selectable channels for a band.
func Channels(b Band) []int {
	out := make([]int, len(validChannels[b]))
	copy(out, validChannels[b])
	return out
}

// Bandwidths returns the selectable bandwidth modes for a band.
func Bandwidths(b Band) []string {
	out := make([]string, len(validBandwidths[b]))
	copy(out, validBandwidths[b])
	return out
}
