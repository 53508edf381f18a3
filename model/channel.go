package model

import (
	"fmt"
	"math"
	"sort"
)

// ChannelBandwidthMHz is the width of every DPA protection channel.
const ChannelBandwidthMHz = 10.0

// Channel is a 10 MHz protection channel, in MHz.
type Channel struct {
	LowMHz  float64
	HighMHz float64
}

func (c Channel) String() string {
	return fmt.Sprintf("%g-%g", c.LowMHz, c.HighMHz)
}

// LowHz and HighHz return the channel edges in Hz.
func (c Channel) LowHz() float64  { return c.LowMHz * 1e6 }
func (c Channel) HighHz() float64 { return c.HighMHz * 1e6 }

// Overlaps reports whether the channel intersects [lowHz, highHz] with a
// non-zero width.
func (c Channel) Overlaps(lowHz, highHz float64) bool {
	return math.Min(highHz, c.HighHz()) > math.Max(lowHz, c.LowHz())
}

// FreqRange is a closed frequency range in MHz.
type FreqRange struct {
	LowMHz  float64
	HighMHz float64
}

// ChannelsIn returns the 10 MHz aligned channels that lie entirely inside r,
// in ascending order.
func (r FreqRange) ChannelsIn() []Channel {
	if r.HighMHz <= r.LowMHz {
		return nil
	}
	first := math.Ceil(r.LowMHz/ChannelBandwidthMHz-1e-9) * ChannelBandwidthMHz
	var out []Channel
	for lo := first; lo+ChannelBandwidthMHz <= r.HighMHz+1e-9; lo += ChannelBandwidthMHz {
		out = append(out, Channel{LowMHz: lo, HighMHz: lo + ChannelBandwidthMHz})
	}
	return out
}

// SortChannels orders channels by lower edge.
func SortChannels(chs []Channel) {
	sort.Slice(chs, func(i, j int) bool { return chs[i].LowMHz < chs[j].LowMHz })
}
