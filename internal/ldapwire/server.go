package ldapwire

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Server is an LDAP server front-end: it accepts TCP connections, decodes
// LDAP PDUs, and drives a Handler for each decoded request. It owns no
// merging or directory logic itself — that lives in internal/dispatcher
// and internal/merger, reached only through Handler.
type Server struct {
	Listener     net.Listener
	ReadTimeout  time.Duration // optional read timeout
	WriteTimeout time.Duration // optional write timeout

	Logger *zap.Logger

	chDone    chan bool
	clientsMu sync.Mutex
	clients   map[int]*client

	// OnNewConnection, if non-nil, is called on new connections. If it
	// returns non-nil, the connection is closed.
	OnNewConnection func(c net.Conn) error

	// OnConnectionClosed, if non-nil, is called once a connection's serve
	// loop has fully torn down.
	OnConnectionClosed func(c net.Conn)

	// Handler handles every decoded LDAP message.
	Handler Handler
}

// NewServer returns an LDAP Server with no handler set; callers MUST set
// Handler and MAY set Logger before Listen.
func NewServer() *Server {
	return &Server{
		chDone:  make(chan bool),
		clients: make(map[int]*client),
		Logger:  zap.NewNop(),
	}
}

// Handle registers the handler for the server. Handle panics if a handler
// is already registered.
func (s *Server) Handle(h Handler) {
	if s.Handler != nil {
		panic("ldapwire: multiple Handler registrations")
	}
	s.Handler = h
}

// Listen uses the given Listener to accept incoming requests.
func (s *Server) Listen(listener net.Listener) error {
	s.Listener = listener
	s.Logger.Info("listening", zap.Stringer("addr", s.Listener.Addr()))
	return s.serve()
}

// ListenAndServe listens on the TCP network address addr and then serves
// requests on incoming connections. If addr is blank, ":389" is used.
func (s *Server) ListenAndServe(addr string) error {
	if addr == "" {
		addr = ":389"
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	return s.Listen(listener)
}

func (s *Server) serve() error {
	defer s.Listener.Close()

	if s.Handler == nil {
		panic("ldapwire: no Handler defined")
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}

	i := 0

	for {
		select {
		case <-s.chDone:
			s.Logger.Info("stopping server")
			return nil
		default:
		}

		rw, err := s.Listener.Accept()
		if err != nil {
			if opErr, ok := err.(*net.OpError); ok && opErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				select {
				case <-s.chDone:
					s.Logger.Info("stopping server")
					return nil
				default:
					return err
				}
			}
			s.Logger.Error("accept", zap.Error(err))
			continue
		}

		if s.ReadTimeout != 0 {
			rw.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		}
		if s.WriteTimeout != 0 {
			rw.SetWriteDeadline(time.Now().Add(s.WriteTimeout))
		}

		cli := s.newClient(rw)

		i++
		cli.Numero = i
		s.Logger.Info("connection accepted", zap.Int("client", cli.Numero), zap.String("remote", cli.RemoteAddr().String()))

		s.clientsMu.Lock()
		s.clients[i] = cli
		s.clientsMu.Unlock()

		go func() {
			cli.serve()
			s.clientsMu.Lock()
			delete(s.clients, cli.Numero)
			s.clientsMu.Unlock()
		}()
	}
}

func (s *Server) newClient(conn net.Conn) *client {
	return &client{
		Conn:               conn,
		br:                 bufio.NewReader(conn),
		bw:                 bufio.NewWriter(conn),
		onNewConnection:    s.OnNewConnection,
		onConnectionClosed: s.OnConnectionClosed,
		Handler:            s.Handler,
		ReadTimeout:        s.ReadTimeout,
		WriteTimeout:       s.WriteTimeout,
		Logger:             s.Logger,
	}
}

// Stop terminates the server: every connected client is sent a Notice of
// Disconnection and the listener is closed. See RFC 4511 §4.4.1.
func (s *Server) Stop() {
	close(s.chDone)
	s.Logger.Info("closing client connections")

	s.clientsMu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		c.close()
	}

	s.Logger.Info("all client connections closed")
	s.Listener.Close()
}
