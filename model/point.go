package model

import "fmt"

// ProtectionPoint is a protected location inside a DPA, in WGS84 degrees.
type ProtectionPoint struct {
	Longitude float64
	Latitude  float64
}

func (p ProtectionPoint) String() string {
	return fmt.Sprintf("(%.6f, %.6f)", p.Longitude, p.Latitude)
}
