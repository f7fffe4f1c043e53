package device

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/tagsync/logger"
)

// Identification is the string the simulator returns for "*IDN?".
const Identification = "TAGSYNC,TIME-TAGGER-SIM,0000001,1.0"

// Simulator is the in-process stand-in for the hardware time tagger's
// command interface. It accepts any number of connections and answers each
// command line per the device contract: "*IDN?" yields the identification
// string, "REC:"- and "RAW"-prefixed commands yield "OK", anything else
// yields an error line.
type Simulator struct {
	listener net.Listener
	logger   logger.Logger
	wg       sync.WaitGroup
	closed   atomic.Bool

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	recStarts atomic.Int64

	// ReplyDelay delays every reply, for exercising bridge timeouts.
	ReplyDelay time.Duration
}

// StartSimulator binds a simulator to addr (":0" for an ephemeral port) and
// starts serving.
func StartSimulator(addr string, l logger.Logger) (*Simulator, error) {
	if l == nil {
		l = logger.GetLogger()
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind device simulator: %w", err)
	}

	sim := &Simulator{
		listener: listener,
		logger:   l.With("component", "device-sim"),
		conns:    make(map[net.Conn]struct{}),
	}

	sim.wg.Add(1)
	go sim.acceptLoop()

	return sim, nil
}

// RecStartCount reports how many begin-recording commands the simulator
// has acknowledged.
func (s *Simulator) RecStartCount() int64 {
	return s.recStarts.Load()
}

// Addr returns the simulator's listen address in host:port form.
func (s *Simulator) Addr() string {
	return s.listener.Addr().String()
}

func (s *Simulator) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.logger.Debug("simulator accept failed", "error", err)
			return
		}

		s.connMu.Lock()
		s.conns[conn] = struct{}{}
		s.connMu.Unlock()

		s.wg.Add(1)
		go s.serveConn(conn)
	}
}

func (s *Simulator) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.connMu.Lock()
		delete(s.conns, conn)
		s.connMu.Unlock()
		_ = conn.Close()
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}

		cmd := strings.TrimRight(line, "\r\n")
		reply := s.handle(cmd)

		if s.ReplyDelay > 0 {
			time.Sleep(s.ReplyDelay)
		}

		if _, err := fmt.Fprintf(conn, "%s\n", reply); err != nil {
			return
		}
	}
}

func (s *Simulator) handle(cmd string) string {
	switch {
	case cmd == "*IDN?":
		return Identification
	case strings.HasPrefix(cmd, "REC:"):
		if cmd == "REC:STArt" {
			s.recStarts.Add(1)
		}
		return "OK"
	case strings.HasPrefix(cmd, "RAW"):
		return "OK"
	default:
		return fmt.Sprintf("ERR: unknown command %q", cmd)
	}
}

// Close stops the simulator and waits for its connections to drain.
func (s *Simulator) Close() error {
	s.closed.Store(true)
	err := s.listener.Close()

	s.connMu.Lock()
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.connMu.Unlock()

	s.wg.Wait()

	return err
}
