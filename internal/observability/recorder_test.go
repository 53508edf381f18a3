package observability_test

import (
	"github.com/signalsfoundry/sas-coexistence/dpa"
	"github.com/signalsfoundry/sas-coexistence/internal/observability"
	"github.com/signalsfoundry/sas-coexistence/propagation"
	"github.com/signalsfoundry/sas-coexistence/terrain"
)

var (
	_ terrain.CacheRecorder      = (*observability.EngineCollector)(nil)
	_ propagation.OpcodeRecorder = (*observability.EngineCollector)(nil)
	_ dpa.Recorder               = (*observability.EngineCollector)(nil)
)
