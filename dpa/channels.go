package dpa

import "github.com/signalsfoundry/sas-coexistence/model"

// escFloorMHz is the lower edge of the band an ESC sensor protects channel by
// channel. Everything below it is protected as one always-on channel.
const escFloorMHz = 3550.0

// DefaultFreqRange is protected when a definition names no range.
var DefaultFreqRange = model.FreqRange{LowMHz: 3550, HighMHz: 3700}

// Channels returns the sorted, de-duplicated 10 MHz channels covering
// ranges. For ESC-monitored DPAs the channels below 3550 MHz collapse into
// the first channel above it.
func Channels(ranges []model.FreqRange, monitor model.MonitorType) []model.Channel {
	seen := make(map[model.Channel]bool)
	var out []model.Channel
	add := func(ch model.Channel) {
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	for _, r := range ranges {
		for _, ch := range r.ChannelsIn() {
			if monitor == model.MonitorESC && ch.LowMHz < escFloorMHz {
				ch = model.Channel{LowMHz: escFloorMHz, HighMHz: escFloorMHz + model.ChannelBandwidthMHz}
			}
			add(ch)
		}
	}
	model.SortChannels(out)
	return out
}

func sameChannels(a, b []model.Channel) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
