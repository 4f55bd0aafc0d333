package server

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/netkit-io/netconf/ncerr"
	"github.com/netkit-io/netconf/nclog"
	"github.com/netkit-io/netconf/schema"
	"github.com/netkit-io/netconf/session"
	"github.com/netkit-io/netconf/transport"
)

const (
	// DefaultPortSSH is the IANA NETCONF-over-SSH port.
	DefaultPortSSH = 830
	// DefaultPortTLS is the IANA NETCONF-over-TLS port.
	DefaultPortTLS = 6513
)

// Options carries process-wide server configuration.
type Options struct {
	// Schema is the shared schema context handed to every session.
	Schema *schema.Context
	// Capabilities advertised in the server <hello>;
	// session.DefaultCapabilities when empty.
	Capabilities session.Capabilities
	// WithDefaults, when set, advertises the with-defaults capability
	// with this basic-mode ("report-all", "trim", "explicit",
	// "report-all-tagged").
	WithDefaults string
	// HelloTimeout bounds each accepted connection's hello exchange.
	HelloTimeout time.Duration
	// IdleTimeout tears down sessions with no RPC activity. Zero
	// disables idle teardown.
	IdleTimeout time.Duration
	// Logger receives server logging; silent when unset.
	Logger *zerolog.Logger
}

// Endpoint is one named listening endpoint.
type Endpoint struct {
	Name    string
	Kind    transport.Kind
	Address string
	Port    int

	ln   net.Listener
	done chan struct{}
}

type inbound struct {
	conn net.Conn
	kind transport.Kind
}

// Server is a multi-transport NETCONF server.
type Server struct {
	opts Options
	log  zerolog.Logger

	// bind list, guarded by mu
	mu        sync.Mutex
	endpoints []*Endpoint

	sshOpts SSHOptions
	tlsOpts TLSOptions

	nextSID uint32 // atomic

	incoming chan inbound          // raw accepted TCP connections
	pending  chan *session.Session // ready sibling SSH sessions
}

// New returns a Server with the given process-wide options.
func New(opts Options) *Server {
	s := &Server{
		opts:     opts,
		log:      nclog.Nop(),
		incoming: make(chan inbound, 8),
		pending:  make(chan *session.Session, 8),
	}
	if opts.Logger != nil {
		s.log = *opts.Logger
	}
	if s.opts.HelloTimeout == 0 {
		s.opts.HelloTimeout = session.DefaultHelloTimeout
	}
	if len(s.opts.Capabilities) == 0 {
		s.opts.Capabilities = session.DefaultCapabilities()
	}
	if s.opts.WithDefaults != "" {
		s.opts.Capabilities = append(s.opts.Capabilities,
			session.CapWithDefaultsPrefix+"?basic-mode="+s.opts.WithDefaults)
	}
	s.sshOpts.init()
	s.tlsOpts.init()
	return s
}

// SSH returns the server's SSH transport options.
func (s *Server) SSH() *SSHOptions { return &s.sshOpts }

// TLS returns the server's TLS transport options.
func (s *Server) TLS() *TLSOptions { return &s.tlsOpts }

// nextSessionID assigns a session-id unique within the process.
func (s *Server) nextSessionID() uint32 {
	for {
		if id := atomic.AddUint32(&s.nextSID, 1); id != 0 {
			return id
		}
	}
}

// AddEndpoint binds a named listening endpoint for the given
// transport kind. A zero port selects the kind's default port.
func (s *Server) AddEndpoint(name string, kind transport.Kind, address string, port int) error {
	if kind != transport.KindSSH && kind != transport.KindTLS {
		return errors.Wrap(ncerr.ErrArgument, "endpoint kind must be ssh or tls")
	}
	if port == 0 {
		if kind == transport.KindSSH {
			port = DefaultPortSSH
		} else {
			port = DefaultPortTLS
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findEndpointLocked(name, kind) != nil {
		return errors.Wrapf(ncerr.ErrArgument, "endpoint %s/%s exists", name, kind)
	}
	ep := &Endpoint{Name: name, Kind: kind, Address: address, Port: port}
	if err := s.bindLocked(ep); err != nil {
		return err
	}
	s.endpoints = append(s.endpoints, ep)
	s.log.Info().Str("endpoint", name).Stringer("kind", kind).
		Str("address", address).Int("port", port).Msg("endpoint bound")
	return nil
}

// SetEndpointPort rebinds a named endpoint onto a new port.
func (s *Server) SetEndpointPort(name string, kind transport.Kind, port int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep := s.findEndpointLocked(name, kind)
	if ep == nil {
		return errors.Wrapf(ncerr.ErrArgument, "no endpoint %s/%s", name, kind)
	}
	s.unbindLocked(ep)
	ep.Port = port
	return s.bindLocked(ep)
}

// DelEndpoint removes a named endpoint and closes its listener.
func (s *Server) DelEndpoint(name string, kind transport.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, ep := range s.endpoints {
		if ep.Name == name && ep.Kind == kind {
			s.unbindLocked(ep)
			s.endpoints = append(s.endpoints[:i], s.endpoints[i+1:]...)
			return nil
		}
	}
	return errors.Wrapf(ncerr.ErrArgument, "no endpoint %s/%s", name, kind)
}

// Close unbinds every endpoint.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ep := range s.endpoints {
		s.unbindLocked(ep)
	}
	s.endpoints = nil
}

func (s *Server) findEndpointLocked(name string, kind transport.Kind) *Endpoint {
	for _, ep := range s.endpoints {
		if ep.Name == name && ep.Kind == kind {
			return ep
		}
	}
	return nil
}

// bindLocked opens the endpoint's listener and starts its accept pump.
func (s *Server) bindLocked(ep *Endpoint) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(ep.Address, strconv.Itoa(ep.Port)))
	if err != nil {
		return errors.Wrap(err, "bind endpoint")
	}
	ep.ln = ln
	ep.done = make(chan struct{})
	go s.acceptPump(ep.Name, ep.Kind, ln, ep.done)
	return nil
}

func (s *Server) unbindLocked(ep *Endpoint) {
	if ep.ln != nil {
		close(ep.done)
		_ = ep.ln.Close()
		ep.ln = nil
	}
}

// acceptPump feeds raw TCP connections from one listener into the
// server's incoming queue until the endpoint is unbound.
func (s *Server) acceptPump(name string, kind transport.Kind, ln net.Listener, done chan struct{}) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-done:
			default:
				s.log.Warn().Err(err).Str("endpoint", name).Msg("accept")
			}
			return
		}
		select {
		case s.incoming <- inbound{conn: conn, kind: kind}:
		case <-done:
			_ = conn.Close()
			return
		}
	}
}

// Accept waits up to timeout for an inbound connection on any bound
// endpoint, runs the transport and NETCONF handshakes and returns a
// running server session.
//
// Additional NETCONF channels opened by a peer over an established
// SSH connection also surface here as ready sessions. On
// authentication failure no session is produced and the TCP
// connection is closed; Accept returns ncerr.ErrAuthFailed.
func (s *Server) Accept(timeout time.Duration) (*session.Session, error) {
	// ready sibling sessions first
	select {
	case sess := <-s.pending:
		return sess, nil
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case sess := <-s.pending:
		return sess, nil
	case in := <-s.incoming:
		return s.handshake(in)
	case <-t.C:
		return nil, ncerr.ErrTimeout
	}
}

func (s *Server) handshake(in inbound) (*session.Session, error) {
	var (
		sess *session.Session
		err  error
	)
	switch in.kind {
	case transport.KindSSH:
		sess, err = s.acceptSSH(in.conn)
	case transport.KindTLS:
		sess, err = s.acceptTLS(in.conn)
	default:
		err = errors.Wrap(ncerr.ErrArgument, "unsupported transport kind")
	}
	if err != nil {
		_ = in.conn.Close()
		if errors.Is(err, ncerr.ErrAuthFailed) {
			metricAuthFailures.WithLabelValues(in.kind.String()).Inc()
		}
		return nil, err
	}
	metricSessionsAccepted.WithLabelValues(in.kind.String()).Inc()
	return sess, nil
}

// newSessionConfig builds the per-session config shared by every
// acceptor path.
func (s *Server) newSessionConfig(addr net.Addr) session.Config {
	host, port := "", ""
	if addr != nil {
		host, port, _ = net.SplitHostPort(addr.String())
	}
	var logger *zerolog.Logger
	if s.opts.Logger != nil {
		logger = s.opts.Logger
	}
	return session.Config{
		Role:         session.RoleServer,
		ID:           s.nextSessionID(),
		Capabilities: s.opts.Capabilities,
		HelloTimeout: s.opts.HelloTimeout,
		Schema:       s.opts.Schema,
		Logger:       logger,
		PeerHost:     host,
		PeerPort:     port,
	}
}

// establish runs the NETCONF hello exchange on a freshly attached
// transport and applies the idle deadline.
func (s *Server) establish(t transport.Transport, cfg session.Config, username string) (*session.Session, error) {
	sess := session.New(t, cfg)
	sess.SetUsername(username)
	if err := sess.Handshake(); err != nil {
		return nil, err
	}
	sess.TouchIdle(s.opts.IdleTimeout)
	return sess, nil
}
