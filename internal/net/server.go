package net

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"kestrel/internal/common"
	"kestrel/internal/engine"
	"kestrel/internal/worker"
)

const (
	defaultNWorkers    = 10
	defaultReadTimeout = 30 * time.Second
	writeTimeout       = 5 * time.Second
)

var (
	ErrImproperConversion = errors.New("improper type conversion")
	ErrClientDoesNotExist = errors.New("client does not exist")
	ErrDuplicateOrderID   = errors.New("order id already in use")
)

// Books looks up the engine trading an instrument.
type Books interface {
	Engine(symbol string) (*engine.Engine, error)
}

// ClientSession contains relevant information pertaining to an individual
// connected TCP session.
type ClientSession struct {
	id   string
	conn net.Conn
	mu   sync.Mutex // serialises writes
}

func (c *ClientSession) send(typeOf uint16, body []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return WriteFrame(c.conn, typeOf, body)
}

func (c *ClientSession) report(r Report) error {
	body, err := r.Serialize()
	if err != nil {
		return err
	}
	return c.send(uint16(r.MessageType), body)
}

type Option func(*Server)

func WithWorkers(n uint) Option {
	return func(s *Server) { s.pool = worker.NewPool(n) }
}

// WithReadTimeout closes sessions that stay silent for longer than d.
// Clients keep idle sessions open with heartbeats.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.readTimeout = d }
}

// Server is the TCP order gateway. Each connection is served by one
// worker from the pool for its whole lifetime, so a session's requests
// reach the engines in the order they were sent. The server is also a
// dispatcher sink: engine events come back to it and are reported to
// the session that entered the order.
type Server struct {
	address     string
	port        int
	books       Books
	pool        *worker.Pool
	readTimeout time.Duration

	clientSessions     map[string]*ClientSession
	clientSessionsLock sync.Mutex

	// Order id to owning session id.
	routes     map[string]string
	routesLock sync.Mutex

	listener net.Listener
	ready    chan struct{}
}

func New(address string, port int, books Books, opts ...Option) *Server {
	s := &Server{
		address:        address,
		port:           port,
		books:          books,
		pool:           worker.NewPool(defaultNWorkers),
		readTimeout:    defaultReadTimeout,
		clientSessions: make(map[string]*ClientSession),
		routes:         make(map[string]string),
		ready:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Addr blocks until the server listens and returns its address.
func (s *Server) Addr() net.Addr {
	<-s.ready
	return s.listener.Addr()
}

// Run serves until ctx is cancelled, then closes every session.
func (s *Server) Run(ctx context.Context) error {
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		return fmt.Errorf("unable to start listener: %w", err)
	}
	s.listener = listener
	close(s.ready)

	// Start the worker pool.
	s.pool.Setup(t, s.handleConnection)

	// Unblock the accept loop and every worker once we start dying.
	t.Go(func() error {
		<-t.Dying()
		log.Info().Msg("server shutting down")
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error().Err(err).Msg("unable to close listener")
		}
		s.closeClientSessions()
		return nil
	})

	t.Go(func() error {
		return s.accept(t)
	})

	log.Info().Str("address", listener.Addr().String()).Int("workers", s.pool.Size()).Msg("server running")
	if err := t.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) accept(t *tomb.Tomb) error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-t.Dying():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error().Err(err).Msg("error accepting client")
			continue
		}

		log.Info().
			Str("address", conn.RemoteAddr().String()).
			Msg("new client added")
		// Add the client to client sessions we are tracking.
		// We expect to potentially maintain a long TCP session.
		s.addClientSession(conn)

		// Pass over the connection to be served.
		if !s.pool.AddTask(t, conn) {
			_ = conn.Close()
			return nil
		}
	}
}

// handleConnection serves one session until the client leaves, goes
// idle or the server shuts down. Errors returned from here kill the
// server, so connection failures are logged and swallowed.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}
	address := conn.RemoteAddr().String()
	defer s.deleteClientSession(address)

	session, err := s.clientSession(address)
	if err != nil {
		_ = conn.Close()
		return nil
	}

	for {
		select {
		case <-t.Dying():
			return nil
		default:
		}

		if s.readTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
				log.Error().Err(err).Str("address", address).Msg("failed setting deadline for connection")
				return nil
			}
		}

		typeOf, body, err := ReadFrame(conn)
		if err != nil {
			var netErr net.Error
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
				log.Info().Str("address", address).Msg("client disconnected")
			case errors.As(err, &netErr) && netErr.Timeout():
				log.Warn().Str("address", address).Msg("closing idle client")
			default:
				// The stream can no longer be framed.
				log.Error().Err(err).Str("address", address).Msg("error reading from connection")
				_ = session.report(errorReport(err))
			}
			return nil
		}

		message, err := parseMessage(typeOf, body)
		if err != nil {
			log.Warn().Err(err).Str("address", address).Msg("error parsing message")
			if err := session.report(errorReport(err)); err != nil {
				return nil
			}
			continue
		}

		if err := s.handleMessage(session, message); err != nil {
			log.Warn().Err(err).Str("address", address).Msg("unable to reply to client")
			return nil
		}
	}
}

// handleMessage applies one request. Outcomes that produce engine
// events are reported through Publish; anything else is answered here
// with an error report.
func (s *Server) handleMessage(session *ClientSession, message Message) error {
	var (
		result engine.Result
		err    error
	)
	switch m := message.(type) {
	case BaseMessage:
		return session.send(uint16(Heartbeat), nil)

	case NewOrderMessage:
		id := m.ClientID
		if id == "" {
			id = uuid.NewString()
		}
		if !s.route(id, session.id) {
			return session.report(errorReport(fmt.Errorf("%w: %s", ErrDuplicateOrderID, id)))
		}
		eng, lookupErr := s.books.Engine(m.Instrument)
		if lookupErr != nil {
			s.unroute(id)
			return session.report(errorReport(lookupErr))
		}
		result, err = eng.Submit(m.Order(id))
		if err != nil && len(result.Events) == 0 {
			s.unroute(id)
		}

	case CancelOrderMessage:
		eng, lookupErr := s.owned(session, m.Instrument, m.OrderID)
		if lookupErr != nil {
			return session.report(errorReport(lookupErr))
		}
		result, err = eng.Cancel(m.OrderID)

	case ModifyOrderMessage:
		eng, lookupErr := s.owned(session, m.Instrument, m.OrderID)
		if lookupErr != nil {
			return session.report(errorReport(lookupErr))
		}
		result, err = eng.Modify(m.OrderID, m.Quantity, m.LimitPrice)

	default:
		return session.report(errorReport(ErrInvalidMessageType))
	}

	if err != nil && (len(result.Events) == 0 || errors.Is(err, common.ErrCrossedBook)) {
		return session.report(errorReport(err))
	}
	return nil
}

// owned resolves the engine for an order this session entered. Orders
// of other sessions look unknown.
func (s *Server) owned(session *ClientSession, instrument, id string) (*engine.Engine, error) {
	s.routesLock.Lock()
	owner, ok := s.routes[id]
	s.routesLock.Unlock()
	if !ok || owner != session.id {
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownOrder, id)
	}
	return s.books.Engine(instrument)
}

func (s *Server) Name() string { return "gateway" }

// Publish reports each event to the session owning the order it
// concerns. Executions go to both the maker's and the taker's session.
func (s *Server) Publish(_ context.Context, events []common.Event) error {
	for _, event := range events {
		ids := []string{event.OrderID}
		if event.Kind == common.TradeExecuted && event.Trade != nil {
			ids = []string{event.Trade.TakerOrderID, event.Trade.MakerOrderID}
		}

		for _, id := range ids {
			sessionID, ok := s.lookupRoute(id)
			if !ok {
				continue
			}
			session, err := s.clientSession(sessionID)
			if err != nil {
				log.Debug().Str("order", id).Str("session", sessionID).Msg("owner not connected, dropping report")
				continue
			}
			if err := session.report(eventReport(event, id)); err != nil {
				log.Error().Err(err).Str("session", sessionID).Msg("unable to send report")
				s.deleteClientSession(sessionID)
			}
		}

		if closesOrder(event) {
			s.unroute(event.OrderID)
		}
	}
	return nil
}

// closesOrder reports events after which an order id is finished with.
// A modify that loses priority cancels with "replaced" and carries on
// under the same id.
func closesOrder(event common.Event) bool {
	switch event.Kind {
	case common.OrderFilled, common.OrderRejected:
		return true
	case common.OrderCancelled:
		return event.Reason != "replaced"
	}
	return false
}

// route claims id for the session, failing if the id is already live.
func (s *Server) route(id, sessionID string) bool {
	s.routesLock.Lock()
	defer s.routesLock.Unlock()
	if _, ok := s.routes[id]; ok {
		return false
	}
	s.routes[id] = sessionID
	return true
}

func (s *Server) lookupRoute(id string) (string, bool) {
	s.routesLock.Lock()
	defer s.routesLock.Unlock()
	sessionID, ok := s.routes[id]
	return sessionID, ok
}

func (s *Server) unroute(id string) {
	s.routesLock.Lock()
	defer s.routesLock.Unlock()
	delete(s.routes, id)
}

// addClientSession is an atomic map add
func (s *Server) addClientSession(conn net.Conn) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	address := conn.RemoteAddr().String()
	s.clientSessions[address] = &ClientSession{id: address, conn: conn}
}

func (s *Server) clientSession(address string) (*ClientSession, error) {
	s.clientSessionsLock.Lock()
	defer s.clientSessionsLock.Unlock()

	session, ok := s.clientSessions[address]
	if !ok {
		return nil, ErrClientDoesNotExist
	}
	return session, nil
}

// deleteClientSession is an atomic map remove that also closes the
// connection.
func (s *Server) deleteClientSession(address string) {
	s.clientSessionsLock.Lock()
	session, ok := s.clientSessions[address]
	delete(s.clientSessions, address)
	s.clientSessionsLock.Unlock()

	if ok {
		if err := session.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			log.Error().Err(err).Str("address", address).Msg("unable to close connection")
		}
	}
}

func (s *Server) closeClientSessions() {
	s.clientSessionsLock.Lock()
	addresses := make([]string, 0, len(s.clientSessions))
	for address := range s.clientSessions {
		addresses = append(addresses, address)
	}
	s.clientSessionsLock.Unlock()

	for _, address := range addresses {
		s.deleteClientSession(address)
	}
}
