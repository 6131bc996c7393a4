package sched

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/licenseforge/foreman/pkg/types"
)

// installSignals bridges OS signals into loop events. No scheduler state is
// touched here; the goroutine only enqueues, and the real work happens when
// the loop processes the event.
//
// Child exits do not arrive this way: the Go runtime owns SIGCHLD and the
// supervisor's per-process waiters deliver deaths to the loop instead.
func (s *Scheduler) installSignals() {
	ch := make(chan os.Signal, 8)
	signal.Notify(ch,
		syscall.SIGTERM,
		syscall.SIGQUIT,
		syscall.SIGINT,
		syscall.SIGHUP,
		syscall.SIGALRM,
	)

	go func() {
		for sig := range ch {
			switch sig {
			case syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT:
				s.logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
				s.loop.Signal(types.EventSchedulerClose, nil)
			case syscall.SIGHUP:
				s.logger.Info().Msg("Received SIGHUP, reloading configuration")
				s.loop.Signal(types.EventConfigReload, nil)
			case syscall.SIGALRM:
				// Operators can force a check cycle between ticker firings.
				s.loop.Signal(types.EventAgentUpdate, nil)
				s.loop.Signal(types.EventDatabaseUpdate, nil)
			}
		}
	}()
}
