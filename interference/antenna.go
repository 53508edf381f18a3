package interference

import "math"

const (
	// maxCbsdAttenuationDb caps the CBSD off-axis attenuation.
	maxCbsdAttenuationDb = 20.0
	// RadarSidelobeDb is the radar attenuation outside its main beam.
	RadarSidelobeDb = 25.0
)

// angleDiff returns the absolute difference of two bearings, in [0, 180].
func angleDiff(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

// CbsdAttenuationDb is how far below peak gain a CBSD antenna radiates
// toward bearing, given its pointing azimuth and 3 dB beamwidth. A beamwidth
// of 0 or 360 is omnidirectional.
func CbsdAttenuationDb(bearing, azimuth, beamwidth float64) float64 {
	if beamwidth <= 0 || beamwidth >= 360 {
		return 0
	}
	theta := angleDiff(bearing, azimuth)
	return math.Min(12*(theta/beamwidth)*(theta/beamwidth), maxCbsdAttenuationDb)
}

// RadarAttenuationDb is the radar antenna attenuation toward a CBSD seen at
// bearing while the radar points at pointing.
func RadarAttenuationDb(bearing, pointing, beamwidth float64) float64 {
	if angleDiff(bearing, pointing) <= beamwidth/2 {
		return 0
	}
	return RadarSidelobeDb
}
