package iface

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/licenseforge/foreman/pkg/log"
	"github.com/licenseforge/foreman/pkg/sched"
	"github.com/licenseforge/foreman/pkg/types"
	"github.com/rs/zerolog"
)

// Server is the TCP control interface. Operators (and the platform's web
// frontend) connect with a line-oriented protocol; every command either
// reads a snapshot or admits an event into the scheduler loop. The
// interface itself never mutates scheduler state.
type Server struct {
	scheduler *sched.Scheduler
	logger    zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]bool
	closed   bool
}

// NewServer creates a control interface over the scheduler.
func NewServer(s *sched.Scheduler) *Server {
	return &Server{
		scheduler: s,
		logger:    log.WithComponent("iface"),
		conns:     make(map[net.Conn]bool),
	}
}

// Start binds the control port and begins accepting sessions.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to bind control port %d: %w", port, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info().Int("port", port).Msg("Control interface listening")

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				s.mu.Lock()
				closed := s.closed
				s.mu.Unlock()
				if closed {
					return
				}
				s.logger.Warn().Err(err).Msg("Accept failed")
				continue
			}
			s.mu.Lock()
			s.conns[conn] = true
			s.mu.Unlock()
			go s.serve(conn)
		}
	}()
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open session.
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
}

// serve handles one operator session.
func (s *Server) serve(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !s.handle(conn, line) {
			return
		}
	}
}

// handle runs one command; it returns false when the session should end.
func (s *Server) handle(conn net.Conn, line string) bool {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])

	switch cmd {
	case "status":
		snap := s.scheduler.Snapshot()
		fmt.Fprintf(conn, "closing:%t lockout:%t agents:%d jobs_active:%d jobs_pending:%d hosts:%d\n",
			snap.Closing, snap.Lockout, snap.LiveAgents, snap.ActiveJobs, snap.PendingJobs, snap.Hosts)
		for _, a := range snap.Agents {
			fmt.Fprintf(conn, "agent pid:%d host:%s kind:%s job:%s state:%s\n",
				a.PID, a.HostID, a.Kind, a.JobID, a.State)
		}
		fmt.Fprintln(conn, "end")

	case "verbose":
		if len(fields) < 2 {
			fmt.Fprintln(conn, "err: verbose <level>")
			break
		}
		n, err := strconv.Atoi(fields[1])
		if err != nil {
			fmt.Fprintln(conn, "err: verbose level must be an integer")
			break
		}
		s.scheduler.SetVerbosity(n)
		fmt.Fprintln(conn, "ok")

	case "queue":
		if len(fields) < 3 {
			fmt.Fprintln(conn, "err: queue <kind> <payload> [priority]")
			break
		}
		priority := 0
		if len(fields) > 3 {
			n, err := strconv.Atoi(fields[3])
			if err != nil {
				fmt.Fprintln(conn, "err: priority must be an integer")
				break
			}
			priority = n
		}
		id, err := s.scheduler.Enqueue(fields[1], fields[2], priority)
		if err != nil {
			fmt.Fprintf(conn, "err: %v\n", err)
			break
		}
		fmt.Fprintf(conn, "ok %s\n", id)

	case "reload":
		s.scheduler.Loop().Signal(types.EventConfigReload, nil)
		fmt.Fprintln(conn, "ok")

	case "stop", "close":
		s.scheduler.Loop().Signal(types.EventSchedulerClose, nil)
		fmt.Fprintln(conn, "ok")
		return false

	case "watch":
		// Stream notices until the client disconnects.
		s.stream(conn)
		return false

	case "quit", "exit":
		return false

	default:
		fmt.Fprintf(conn, "err: unknown command %q\n", cmd)
	}
	return true
}

// stream forwards scheduler notices to the session.
func (s *Server) stream(conn net.Conn) {
	sub := s.scheduler.Broker().Subscribe()
	defer s.scheduler.Broker().Unsubscribe(sub)

	for notice := range sub {
		if _, err := fmt.Fprintf(conn, "%s %s %s\n",
			notice.Timestamp.Format("15:04:05"), notice.Type, notice.Message); err != nil {
			return
		}
	}
}
