package kb

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/signalsfoundry/sas-coexistence/model"
)

// DPA feature property names.
const (
	propName              = "name"
	propThreshold         = "threshold"
	propRadarHeight       = "radarHeight"
	propBeamwidth         = "beamwidth"
	propAzimuthRange      = "azimuthRange"
	propNeighborDistances = "neighborDistances"
	propFreqRanges        = "freqRanges"
	propMonitorType       = "monitorType"
)

// LoadDpas reads DPA definitions from a GeoJSON FeatureCollection. Each
// feature's geometry is the DPA area; its properties carry the name and the
// optional overrides:
//
//	{"name": "East1", "threshold": -144, "radarHeight": 50, "beamwidth": 3,
//	 "azimuthRange": [0, 360], "freqRanges": [[3550, 3650]], "monitorType": "esc",
//	 "neighborDistances": {"catA": 150, "catB": 200, "catAOOB": 0, "catBOOB": 25}}
func LoadDpas(r io.Reader) ([]model.DpaDefinition, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: DPA collection: %v", model.ErrBadInput, err)
	}
	out := make([]model.DpaDefinition, 0, len(fc.Features))
	for i, f := range fc.Features {
		def, err := dpaFromFeature(f)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}
		out = append(out, def)
	}
	return out, nil
}

// LoadDpaFile is LoadDpas on a file.
func LoadDpaFile(path string) ([]model.DpaDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadDpas(f)
}

func dpaFromFeature(f *geojson.Feature) (model.DpaDefinition, error) {
	props := f.Properties
	def := model.DpaDefinition{
		Name:        props.MustString(propName, ""),
		Geometry:    f.Geometry,
		RadarHeight: props.MustFloat64(propRadarHeight, 0),
		Beamwidth:   props.MustFloat64(propBeamwidth, 0),
	}
	if def.Name == "" {
		return def, fmt.Errorf("%w: DPA feature without a name", model.ErrBadInput)
	}
	if def.Geometry == nil {
		return def, fmt.Errorf("%w: DPA %q has no geometry", model.ErrBadInput, def.Name)
	}
	if _, ok := props[propThreshold]; ok {
		t := props.MustFloat64(propThreshold, 0)
		def.ThresholdDbm = &t
	}
	if s, ok := props[propMonitorType]; ok {
		str, _ := s.(string)
		mt, err := model.ParseMonitorType(str)
		if err != nil {
			return def, fmt.Errorf("DPA %q: %w", def.Name, err)
		}
		def.MonitorType = mt
	}
	if v, ok := props[propAzimuthRange]; ok {
		pair, err := floatPair(v)
		if err != nil {
			return def, fmt.Errorf("DPA %q %s: %w", def.Name, propAzimuthRange, err)
		}
		def.AzimuthRange = &model.AzimuthRange{Min: pair[0], Max: pair[1]}
	}
	if v, ok := props[propFreqRanges]; ok {
		list, ok := v.([]interface{})
		if !ok {
			return def, fmt.Errorf("%w: DPA %q %s is not a list", model.ErrBadInput, def.Name, propFreqRanges)
		}
		for _, item := range list {
			pair, err := floatPair(item)
			if err != nil {
				return def, fmt.Errorf("DPA %q %s: %w", def.Name, propFreqRanges, err)
			}
			if pair[1] <= pair[0] {
				return def, fmt.Errorf("%w: DPA %q frequency range %v", model.ErrBadInput, def.Name, pair)
			}
			def.FreqRanges = append(def.FreqRanges, model.FreqRange{LowMHz: pair[0], HighMHz: pair[1]})
		}
	}
	if v, ok := props[propNeighborDistances]; ok {
		// Round-trip through JSON to reuse the struct tags.
		raw, err := json.Marshal(v)
		if err != nil {
			return def, err
		}
		nd := model.DefaultNeighborDistances
		if err := json.Unmarshal(raw, &nd); err != nil {
			return def, fmt.Errorf("%w: DPA %q %s: %v", model.ErrBadInput, def.Name, propNeighborDistances, err)
		}
		def.NeighborDistances = &nd
	}
	return def, nil
}

func floatPair(v interface{}) ([2]float64, error) {
	list, ok := v.([]interface{})
	if !ok || len(list) != 2 {
		return [2]float64{}, fmt.Errorf("%w: want a [low, high] pair, got %v", model.ErrBadInput, v)
	}
	var out [2]float64
	for i, item := range list {
		f, ok := item.(float64)
		if !ok {
			return [2]float64{}, fmt.Errorf("%w: %v is not a number", model.ErrBadInput, item)
		}
		out[i] = f
	}
	return out, nil
}

// LoadProtectionZone reads a GeoJSON geometry, feature, or feature
// collection. Collections become an orb.Collection of their geometries.
func LoadProtectionZone(r io.Reader) (orb.Geometry, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: protection zone: %v", model.ErrBadInput, err)
	}
	switch head.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: protection zone: %v", model.ErrBadInput, err)
		}
		var coll orb.Collection
		for _, f := range fc.Features {
			if f.Geometry != nil {
				coll = append(coll, f.Geometry)
			}
		}
		if len(coll) == 1 {
			return coll[0], nil
		}
		return coll, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: protection zone: %v", model.ErrBadInput, err)
		}
		return f.Geometry, nil
	default:
		g, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: protection zone: %v", model.ErrBadInput, err)
		}
		return g.Geometry(), nil
	}
}

// LoadProtectionZoneFile is LoadProtectionZone on a file.
func LoadProtectionZoneFile(path string) (orb.Geometry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadProtectionZone(f)
}

// grantFile accepts either a bare array of records or {"grants": [...]}.
type grantFile struct {
	Grants []model.GrantRecord `json:"grants"`
}

// LoadGrants reads grant records from JSON and converts them to grants. elev
// normalizes AMSL heights and may be nil when every record is AGL. The first
// bad record fails the load.
func LoadGrants(r io.Reader, elev model.ElevationSource) ([]model.Grant, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var records []model.GrantRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		var wrapped grantFile
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil {
			return nil, fmt.Errorf("%w: grant records: %v", model.ErrBadInput, err)
		}
		records = wrapped.Grants
	}
	out := make([]model.Grant, 0, len(records))
	for _, rec := range records {
		g, err := rec.ToGrant(elev)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, nil
}

// LoadGrantFile is LoadGrants on a file.
func LoadGrantFile(path string, elev model.ElevationSource) ([]model.Grant, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadGrants(f, elev)
}
