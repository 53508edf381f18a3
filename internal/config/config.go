// Package config loads the engine configuration from an optional file plus
// SAS_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalsfoundry/sas-coexistence/internal/logging"
	"github.com/signalsfoundry/sas-coexistence/internal/observability"
	"github.com/signalsfoundry/sas-coexistence/model"
)

// EnvPrefix namespaces the environment variables: terrain.cache_size is
// read from SAS_TERRAIN_CACHE_SIZE.
const EnvPrefix = "SAS"

var ErrInvalid = errors.New("invalid configuration")

// TileConfig locates a tile store and sizes its cache.
type TileConfig struct {
	Dir             string `mapstructure:"dir"`
	CacheSize       int    `mapstructure:"cache_size"`
	PixelsPerDegree int    `mapstructure:"pixels_per_degree"`
	Overlap         int    `mapstructure:"overlap"`
}

type FileConfig struct {
	File string `mapstructure:"file"`
}

type ExportConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Exporter    string  `mapstructure:"exporter"`
	Endpoint    string  `mapstructure:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// DpaOverride replaces fields of a loaded DPA definition. Zero values leave
// the definition alone.
type DpaOverride struct {
	Threshold         *float64                 `mapstructure:"threshold"`
	RadarHeight       float64                  `mapstructure:"radar_height"`
	Beamwidth         float64                  `mapstructure:"beamwidth"`
	AzimuthRange      []float64                `mapstructure:"azimuth_range"`
	NeighborDistances *model.NeighborDistances `mapstructure:"neighbor_distances"`
}

// Config is the full engine configuration.
type Config struct {
	NumIteration   int           `mapstructure:"num_iteration"`
	Seed           uint64        `mapstructure:"seed"`
	PoolDegree     int           `mapstructure:"pool_degree"`
	Terrain        TileConfig    `mapstructure:"terrain"`
	LandCover      TileConfig    `mapstructure:"landcover"`
	ProtectionZone string        `mapstructure:"protection_zone"`
	Dpa            FileConfig    `mapstructure:"dpa"`
	Grants         FileConfig    `mapstructure:"grants"`
	Export         ExportConfig  `mapstructure:"export"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	Log            LogConfig     `mapstructure:"log"`
	Tracing        TracingConfig `mapstructure:"tracing"`

	// DpaOverrides is keyed by lower-cased DPA name.
	DpaOverrides map[string]DpaOverride `mapstructure:"dpa_overrides"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("num_iteration", 2000)
	v.SetDefault("seed", 0)
	v.SetDefault("pool_degree", -1)
	for _, kind := range []string{"terrain", "landcover"} {
		v.SetDefault(kind+".dir", "")
		v.SetDefault(kind+".cache_size", 8)
		v.SetDefault(kind+".pixels_per_degree", 3600)
		v.SetDefault(kind+".overlap", 6)
	}
	v.SetDefault("protection_zone", "")
	v.SetDefault("dpa.file", "")
	v.SetDefault("grants.file", "")
	v.SetDefault("export.dir", "")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", observability.DefaultServiceName)
	v.SetDefault("tracing.exporter", "stdout")
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads path, if non-empty, then overlays the environment and
// validates the result. The file format follows its extension.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	// Environment variables take precedence over the config file.
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the engine cannot run with.
func (c *Config) Validate() error {
	if c.NumIteration <= 0 {
		return fmt.Errorf("%w: num_iteration %d", ErrInvalid, c.NumIteration)
	}
	if c.PoolDegree == 0 || c.PoolDegree < -2 {
		return fmt.Errorf("%w: pool_degree %d", ErrInvalid, c.PoolDegree)
	}
	for name, tc := range map[string]TileConfig{"terrain": c.Terrain, "landcover": c.LandCover} {
		if tc.CacheSize <= 0 {
			return fmt.Errorf("%w: %s.cache_size %d", ErrInvalid, name, tc.CacheSize)
		}
		if tc.PixelsPerDegree <= 0 || tc.Overlap < 1 {
			return fmt.Errorf("%w: %s geometry %d px/deg, overlap %d", ErrInvalid, name, tc.PixelsPerDegree, tc.Overlap)
		}
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log.format %q", ErrInvalid, c.Log.Format)
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("%w: tracing.sample_ratio %v", ErrInvalid, c.Tracing.SampleRatio)
	}
	for name, o := range c.DpaOverrides {
		if len(o.AzimuthRange) != 0 && len(o.AzimuthRange) != 2 {
			return fmt.Errorf("%w: dpa_overrides.%s.azimuth_range needs two values", ErrInvalid, name)
		}
		if o.RadarHeight < 0 || o.Beamwidth < 0 {
			return fmt.Errorf("%w: dpa_overrides.%s has a negative radar field", ErrInvalid, name)
		}
	}
	return nil
}

// ResolvedSeed returns Seed, or a seed derived from now when Seed is 0.
func (c *Config) ResolvedSeed(now time.Time) uint64 {
	if c.Seed != 0 {
		return c.Seed
	}
	return uint64(now.UnixNano())
}

// ApplyOverrides applies the override configured for def.Name, if any, and
// reports whether one was configured.
func (c *Config) ApplyOverrides(def *model.DpaDefinition) bool {
	o, ok := c.DpaOverrides[strings.ToLower(def.Name)]
	if !ok {
		return false
	}
	if o.Threshold != nil {
		t := *o.Threshold
		def.ThresholdDbm = &t
	}
	if o.RadarHeight > 0 {
		def.RadarHeight = o.RadarHeight
	}
	if o.Beamwidth > 0 {
		def.Beamwidth = o.Beamwidth
	}
	if len(o.AzimuthRange) == 2 {
		def.AzimuthRange = &model.AzimuthRange{Min: o.AzimuthRange[0], Max: o.AzimuthRange[1]}
	}
	if o.NeighborDistances != nil {
		nd := *o.NeighborDistances
		def.NeighborDistances = &nd
	}
	return true
}

// LoggingConfig maps the log section onto the logging package.
func (c *Config) LoggingConfig() logging.Config {
	return logging.Config{Level: c.Log.Level, Format: c.Log.Format}
}

// OTelConfig maps the tracing section onto the observability package.
func (c *Config) OTelConfig() observability.TracingConfig {
	return observability.TracingConfig{
		Enabled:     c.Tracing.Enabled,
		ServiceName: c.Tracing.ServiceName,
		Exporter:    c.Tracing.Exporter,
		Endpoint:    c.Tracing.Endpoint,
		SampleRatio: c.Tracing.SampleRatio,
	}
}
