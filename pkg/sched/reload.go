package sched

import (
	"context"
	"sort"
	"time"

	"github.com/licenseforge/foreman/pkg/config"
	"github.com/licenseforge/foreman/pkg/events"
	"github.com/licenseforge/foreman/pkg/health"
	"github.com/licenseforge/foreman/pkg/log"
	"github.com/licenseforge/foreman/pkg/metrics"
	"github.com/licenseforge/foreman/pkg/types"
)

// loadFleet populates the host registry from the current config. Host IDs
// are sorted so registration order, and with it first-fit placement, is
// deterministic across reloads.
func (s *Scheduler) loadFleet() error {
	ids := make([]string, 0, len(s.cfg.Hosts))
	for id := range s.cfg.Hosts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		entry := s.cfg.Hosts[id]
		host := &types.Host{
			ID:        id,
			Address:   entry.Address,
			AgentDir:  entry.Dir,
			MaxAgents: entry.Max,
		}
		if s.hosts.Add(host) {
			s.logger.Debug().
				Str("host_id", id).
				Str("address", entry.Address).
				Str("dir", entry.Dir).
				Int("max", entry.Max).
				Msg("Added host")
		}
	}
	metrics.HostsTotal.Set(float64(s.hosts.Len()))
	return nil
}

// loadKinds populates the kind registry from the agents.d directory.
func (s *Scheduler) loadKinds() error {
	kinds, err := config.LoadKinds(s.setupDir)
	if err != nil {
		return err
	}
	for _, k := range kinds {
		if s.kinds.Add(k.Default.Name, k.Default.Command, k.Default.Max, k.Exclusive()) {
			s.logger.Debug().
				Str("name", k.Default.Name).
				Bool("exclusive", k.Exclusive()).
				Msg("Added agent kind")
		}
	}
	return nil
}

// validateFleet probes every host for every registered kind: remote hosts
// get a TCP reachability check, local hosts get the agent command resolved
// against the agent directory. Failures are logged; scheduling decisions
// are not blocked on them.
func (s *Scheduler) validateFleet() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.hosts.ForEach(func(h *types.Host) {
		hlog := log.WithHostID(h.ID)
		if h.Address != "localhost" && h.Address != "127.0.0.1" {
			res := health.NewTCPChecker(h.Address + ":22").Check(ctx)
			if !res.Healthy {
				hlog.Error().
					Str("message", res.Message).
					Msg("Host unreachable")
			}
			return
		}
		for _, name := range s.kinds.Names() {
			kind, ok := s.kinds.Get(name)
			if !ok {
				continue
			}
			res := health.NewExecChecker(h.AgentDir, kind.Command).Check(ctx)
			if !res.Healthy {
				hlog.Error().
					Str("kind", name).
					Str("message", res.Message).
					Msg("Agent command does not resolve on host")
			}
		}
	})
}

// reload rebuilds the registries from the config files. Running agents are
// untouched: a host that disappeared from the config keeps its accounting
// on the departed list until its agents drain. Reloading twice with the
// same files yields the same registry state as reloading once.
func (s *Scheduler) reload() {
	cfg, err := config.Load(s.setupDir)
	if err != nil {
		s.logger.Error().Err(err).Msg("Config reload failed, keeping previous configuration")
		return
	}
	// The control interface port is bound at startup; a changed port takes
	// effect on the next restart.
	cfg.Port = s.cfg.Port
	s.cfg = cfg

	s.hosts.Clear()
	s.kinds.Clear()

	if err := s.loadFleet(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to reload hosts")
	}
	if err := s.loadKinds(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to reload agent kinds")
	}
	s.validateFleet()

	s.logger.Info().
		Int("hosts", s.hosts.Len()).
		Int("kinds", s.kinds.Len()).
		Msg("Configuration reloaded")
	s.broker.Publish(&events.Notice{
		Type:    events.NoticeConfigReloaded,
		Message: "configuration reloaded",
	})
}
