package session

import (
	"sync"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/rs/zerolog"

	"github.com/netkit-io/netconf/nclog"
	"github.com/netkit-io/netconf/schema"
	"github.com/netkit-io/netconf/transport"
)

// Role is the session's side of the conversation.
type Role int

const (
	// RoleClient is the management station side.
	RoleClient Role = iota
	// RoleServer is the managed device side.
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// Status is a session's lifecycle state. Transitions run forward
// only: starting, running, closing, invalid.
type Status int

const (
	// StatusStarting is the initial state; the transport is attached
	// but the hello exchange has not completed.
	StatusStarting Status = iota
	// StatusRunning permits RPC traffic.
	StatusRunning
	// StatusClosing indicates teardown is in progress.
	StatusClosing
	// StatusInvalid is the terminal state.
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusClosing:
		return "closing"
	default:
		return "invalid"
	}
}

// TermReason records why a session reached StatusInvalid.
type TermReason int

const (
	// ReasonNone means the session has not terminated.
	ReasonNone TermReason = iota
	// ReasonClosed means the peer or the caller closed the session
	// cooperatively via <close-session>.
	ReasonClosed
	// ReasonKilled means the session was terminated by <kill-session>.
	ReasonKilled
	// ReasonDropped means the transport closed unexpectedly.
	ReasonDropped
	// ReasonTimeout means the session idled or the hello exchange
	// exceeded its deadline.
	ReasonTimeout
	// ReasonBadHello means the peer's <hello> was invalid or no
	// common base capability existed.
	ReasonBadHello
	// ReasonOther covers all remaining causes, including malformed
	// framing or XML.
	ReasonOther
)

func (r TermReason) String() string {
	switch r {
	case ReasonClosed:
		return "closed"
	case ReasonKilled:
		return "killed"
	case ReasonDropped:
		return "dropped"
	case ReasonTimeout:
		return "timeout"
	case ReasonBadHello:
		return "bad-hello"
	case ReasonOther:
		return "other"
	default:
		return "none"
	}
}

// Version is the NETCONF protocol version negotiated at handshake.
type Version int

const (
	// Version10 is NETCONF 1.0, end-of-message framing.
	Version10 Version = iota
	// Version11 is NETCONF 1.1, chunked framing.
	Version11
)

func (v Version) String() string {
	if v == Version11 {
		return "1.1"
	}
	return "1.0"
}

// DefaultHelloTimeout bounds the hello exchange when the Config does
// not set one.
const DefaultHelloTimeout = 60 * time.Second

// Config carries session construction parameters.
type Config struct {
	// Role selects the session side.
	Role Role
	// ID is the server-assigned session-id. It must be non-zero for
	// server sessions and zero for client sessions.
	ID uint32
	// Capabilities are advertised in our <hello>; DefaultCapabilities
	// when empty.
	Capabilities Capabilities
	// HelloTimeout bounds the hello exchange; DefaultHelloTimeout
	// when zero.
	HelloTimeout time.Duration
	// FirstMessageID seeds the client's outgoing message-id counter;
	// 1 when zero.
	FirstMessageID uint64
	// Schema is the external schema context handle, shared or owned.
	Schema *schema.Context
	// Logger receives session logging; silent when unset.
	Logger *zerolog.Logger
	// PeerHost and PeerPort identify the remote endpoint.
	PeerHost string
	PeerPort string
}

// Session is a single NETCONF conversation with a peer.
type Session struct {
	cfg Config
	t   transport.Transport
	log zerolog.Logger

	// ioMu serializes whole-message reads and writes. For SSH
	// transports it is the mutex shared by every sibling session on
	// the same connection.
	ioMu *sync.Mutex
	r    *transport.Reader
	w    *transport.Writer

	mu       sync.Mutex
	status   Status
	reason   TermReason
	version  Version
	id       uint32
	peerCaps Capabilities

	// client side
	nextMsgID uint64
	replyQ    []*xmlquery.Node
	notifQ    []*xmlquery.Node

	// server side
	username     string
	idleDeadline time.Time
}

// New returns a Session in StatusStarting over t. SSH transports
// share their connection's transport mutex with sibling sessions.
func New(t transport.Transport, cfg Config) *Session {
	s := &Session{
		cfg:       cfg,
		t:         t,
		status:    StatusStarting,
		nextMsgID: cfg.FirstMessageID,
		log:       nclog.Nop(),
	}
	if cfg.Logger != nil {
		s.log = cfg.Logger.With().
			Str("role", cfg.Role.String()).
			Uint32("session-id", cfg.ID).
			Logger()
	}
	if s.nextMsgID == 0 {
		s.nextMsgID = 1
	}
	if len(s.cfg.Capabilities) == 0 {
		s.cfg.Capabilities = DefaultCapabilities()
	}
	if s.cfg.HelloTimeout == 0 {
		s.cfg.HelloTimeout = DefaultHelloTimeout
	}
	if ssht, ok := t.(*transport.SSH); ok {
		s.ioMu = ssht.Owner().IOLock()
	} else {
		s.ioMu = &sync.Mutex{}
	}
	s.r = transport.NewReader(t)
	s.w = transport.NewWriter(t)
	return s
}

// Role returns the session side.
func (s *Session) Role() Role { return s.cfg.Role }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// TermReason returns why the session terminated; ReasonNone while
// alive.
func (s *Session) TermReason() TermReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Version returns the negotiated protocol version. Valid once the
// session is running.
func (s *Session) Version() Version {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// ID returns the session-id: the configured id for servers, the id
// received in the server's <hello> for clients.
func (s *Session) ID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// PeerCapabilities returns the capability URIs advertised by the peer.
func (s *Session) PeerCapabilities() Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(Capabilities{}, s.peerCaps...)
}

// Transport returns the session's byte-stream transport.
func (s *Session) Transport() transport.Transport { return s.t }

// IOLock returns the transport mutex. Poll dispatchers try-lock it to
// claim exclusive whole-message I/O on the session.
func (s *Session) IOLock() *sync.Mutex { return s.ioMu }

// Schema returns the session's schema context handle, possibly nil.
func (s *Session) Schema() *schema.Context { return s.cfg.Schema }

// PeerHost returns the remote host.
func (s *Session) PeerHost() string { return s.cfg.PeerHost }

// PeerPort returns the remote port.
func (s *Session) PeerPort() string { return s.cfg.PeerPort }

// Username returns the authenticated username of a server session.
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// SetUsername records the transport-authenticated username on a
// server session.
func (s *Session) SetUsername(name string) {
	s.mu.Lock()
	s.username = name
	s.mu.Unlock()
}

// TouchIdle pushes the server session's idle deadline out by timeout.
// A zero timeout clears the deadline.
func (s *Session) TouchIdle(timeout time.Duration) {
	s.mu.Lock()
	if timeout <= 0 {
		s.idleDeadline = time.Time{}
	} else {
		s.idleDeadline = time.Now().Add(timeout)
	}
	s.mu.Unlock()
}

// IdleExpired reports whether the session's idle deadline has passed.
func (s *Session) IdleExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.idleDeadline.IsZero() && time.Now().After(s.idleDeadline)
}

// advance moves the status forward to at most target; backward
// transitions are ignored.
func (s *Session) advance(target Status) {
	s.mu.Lock()
	if target > s.status {
		s.status = target
	}
	s.mu.Unlock()
}

// invalidate tears the session down with the given reason. The first
// reason recorded wins.
func (s *Session) invalidate(reason TermReason) {
	s.mu.Lock()
	if s.status == StatusInvalid {
		s.mu.Unlock()
		return
	}
	if s.status < StatusClosing {
		s.status = StatusClosing
	}
	if s.reason == ReasonNone {
		s.reason = reason
	}
	s.replyQ = nil
	s.notifQ = nil
	s.status = StatusInvalid
	reason = s.reason
	s.mu.Unlock()

	if err := s.t.Close(); err != nil {
		s.log.Debug().Err(err).Msg("transport close")
	}
	if ctx := s.cfg.Schema; ctx != nil && !ctx.IsShared() {
		ctx.Close()
	}
	s.log.Info().Stringer("reason", reason).Msg("session terminated")
}

// Close tears the session down cooperatively. Client sessions still
// running first send <close-session> on a best-effort basis.
func (s *Session) Close() error {
	if s.Status() == StatusInvalid {
		return nil
	}
	if s.cfg.Role == RoleClient && s.Status() == StatusRunning {
		s.sendCloseSession()
	}
	s.advance(StatusClosing)
	s.invalidate(ReasonClosed)
	return nil
}

// Kill terminates the session in response to <kill-session>.
func (s *Session) Kill() {
	s.advance(StatusClosing)
	s.invalidate(ReasonKilled)
}

// CloseIdle terminates a server session whose idle deadline passed.
func (s *Session) CloseIdle() {
	s.advance(StatusClosing)
	s.invalidate(ReasonTimeout)
}

func (s *Session) enqueueReply(n *xmlquery.Node) {
	s.mu.Lock()
	s.replyQ = append(s.replyQ, n)
	s.mu.Unlock()
}

func (s *Session) enqueueNotification(n *xmlquery.Node) {
	s.mu.Lock()
	s.notifQ = append(s.notifQ, n)
	s.mu.Unlock()
}

// takeReply removes and returns the queued reply with the given
// message-id, or nil.
func (s *Session) takeReply(messageID string) *xmlquery.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.replyQ {
		if replyMessageID(n) == messageID {
			s.replyQ = append(s.replyQ[:i], s.replyQ[i+1:]...)
			return n
		}
	}
	return nil
}

// takeNotification removes and returns the oldest queued
// notification, or nil.
func (s *Session) takeNotification() *xmlquery.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.notifQ) == 0 {
		return nil
	}
	n := s.notifQ[0]
	s.notifQ = s.notifQ[1:]
	return n
}
