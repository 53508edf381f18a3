package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/signalsfoundry/sas-coexistence/dpa"
	"github.com/signalsfoundry/sas-coexistence/internal/config"
	"github.com/signalsfoundry/sas-coexistence/internal/logging"
	"github.com/signalsfoundry/sas-coexistence/kb"
	"github.com/signalsfoundry/sas-coexistence/model"
)

// buildFunc builds the move-list manager of one DPA definition.
type buildFunc func(def model.DpaDefinition) (*dpa.Dpa, error)

// managerSet keeps one manager per DPA in step with the knowledge base. A
// DPA update rebuilds that DPA's manager and hands it the current grants.
type managerSet struct {
	build buildFunc
	log   logging.Logger

	mu     sync.Mutex
	byName map[string]*dpa.Dpa
	names  []string
	grants []model.Grant
	err    error
}

func newManagerSet(defs []model.DpaDefinition, build buildFunc, log logging.Logger) (*managerSet, error) {
	if log == nil {
		log = logging.Noop()
	}
	s := &managerSet{build: build, log: log, byName: make(map[string]*dpa.Dpa, len(defs))}
	for _, def := range defs {
		m, err := build(def)
		if err != nil {
			return nil, err
		}
		s.byName[def.Name] = m
		s.names = append(s.names, def.Name)
	}
	return s, nil
}

// handle is the knowledge-base subscriber.
func (s *managerSet) handle(ev kb.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Type {
	case kb.EventGrantsUpdated:
		s.grants = ev.Grants
		for _, m := range s.byName {
			m.SetGrants(ev.Grants)
		}
	case kb.EventDpaUpdated:
		if _, ok := s.byName[ev.Dpa.Name]; !ok {
			return
		}
		m, err := s.build(ev.Dpa)
		if err != nil {
			s.log.Error(context.Background(), "rebuild after DPA update failed",
				logging.String("dpa", ev.Dpa.Name), logging.Err(err))
			if s.err == nil {
				s.err = fmt.Errorf("rebuild DPA %q: %w", ev.Dpa.Name, err)
			}
			return
		}
		m.SetGrants(s.grants)
		s.byName[ev.Dpa.Name] = m
		s.log.Debug(context.Background(), "DPA manager rebuilt",
			logging.String("dpa", ev.Dpa.Name),
			logging.Int("channels", len(m.Channels())),
		)
	}
}

// Err returns the first rebuild failure.
func (s *managerSet) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Get returns the current manager of the named DPA.
func (s *managerSet) Get(name string) *dpa.Dpa {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byName[name]
}

// List returns the current managers ordered by DPA name.
func (s *managerSet) List() []*dpa.Dpa {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*dpa.Dpa, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.byName[name])
	}
	return out
}

// applyOverrides publishes the configured per-DPA overrides as updates, so
// subscribers rebuild the affected managers.
func applyOverrides(cfg *config.Config, store *kb.KnowledgeBase, set *managerSet) error {
	for _, m := range set.List() {
		def, ok := store.GetDpa(m.Name())
		if !ok || !cfg.ApplyOverrides(&def) {
			continue
		}
		if err := store.UpdateDpa(&def); err != nil {
			return err
		}
	}
	return set.Err()
}
