package server

import (
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mbndr/logo"
	"github.com/projectdiscovery/gologger"

	"alkemi.dev/ipveil/common"
	"alkemi.dev/ipveil/pkg/helper"
)

const defaultMaxConns = 512

var (
	srv *Server
	log *logo.Logger
)

// Server is the forwarding front. It owns the listener, hands every
// accepted connection to its own handler goroutine, and coordinates the
// drain on shutdown.
type Server struct {
	Options *common.Options

	listener net.Listener
	quit     chan struct{}
	stop     sync.Once
	wg       sync.WaitGroup
	slots    chan struct{}

	connMu sync.Mutex
	conns  map[net.Conn]struct{}

	sessions atomic.Uint64
	started  time.Time
}

// Run starts accepting on the configured address and blocks until the
// server is stopped. Failure to bind is fatal.
func Run(opt *common.Options) {
	log = opt.Logger
	if log == nil {
		log = helper.NewLogger(common.App, opt.LogFile, opt.Verbose)
	}

	maxConns := opt.MaxConns
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}

	srv = &Server{
		Options: opt,
		quit:    make(chan struct{}),
		slots:   make(chan struct{}, maxConns),
		conns:   make(map[net.Conn]struct{}),
		started: time.Now(),
	}

	listener, err := net.Listen("tcp", opt.Address)
	if err != nil {
		gologger.Fatal().Msgf("Error! %s", err)
	}

	srv.listener = listener

	log.Infof("Proxy server started on %s", opt.Address)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go interrupt(sig)

	srv.acceptLoop()

	srv.wg.Wait()
	log.Info("Proxy server stopped")
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}

			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				time.Sleep(50 * time.Millisecond)
				continue
			}

			log.Errorf("accept: %s", err)

			return
		}

		select {
		case s.slots <- struct{}{}:
		default:
			log.Warnf("%s: connection slots exhausted, refusing", conn.RemoteAddr())
			_ = conn.Close()

			continue
		}

		s.wg.Add(1)

		go func(c net.Conn) {
			defer s.wg.Done()
			defer func() { <-s.slots }()

			s.handle(c)
		}(conn)
	}
}

func (s *Server) track(conn net.Conn) {
	s.connMu.Lock()
	s.conns[conn] = struct{}{}
	s.connMu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.connMu.Lock()
	delete(s.conns, conn)
	s.connMu.Unlock()
}

func (s *Server) closeAll() {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	for conn := range s.conns {
		_ = conn.Close()
	}
}
