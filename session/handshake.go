package session

import (
	"strconv"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
	"github.com/pkg/errors"

	"github.com/netkit-io/netconf/message"
	"github.com/netkit-io/netconf/ncerr"
	"github.com/netkit-io/netconf/transport"
)

var (
	xpHello      = xpath.MustCompile(`/hello[namespace-uri()='urn:ietf:params:xml:ns:netconf:base:1.0']`)
	xpCapability = xpath.MustCompile(`/hello[namespace-uri()='urn:ietf:params:xml:ns:netconf:base:1.0']/capabilities/capability`)
	xpSessionID  = xpath.MustCompile(`/hello[namespace-uri()='urn:ietf:params:xml:ns:netconf:base:1.0']/session-id`)
)

// Handshake performs the <hello> exchange, intersects capabilities,
// selects the protocol version and moves the session to
// StatusRunning.
//
// Our hello is sent first; the peer's must arrive within the
// configured hello timeout. On failure the session is invalidated
// with reason bad-hello (invalid hello or no common base capability),
// timeout, or dropped.
func (s *Session) Handshake() error {
	if s.Status() != StatusStarting {
		return errors.Wrap(ncerr.ErrArgument, "handshake on a started session")
	}
	if s.cfg.Role == RoleServer && s.cfg.ID == 0 {
		return errors.Wrap(ncerr.ErrArgument, "server session requires a non-zero id")
	}
	if s.cfg.Role == RoleClient && s.cfg.ID != 0 {
		return errors.Wrap(ncerr.ErrArgument, "client session must not configure an id")
	}

	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	hello := message.Hello(s.cfg.Capabilities, s.cfg.ID)
	if err := s.writeLocked(hello); err != nil {
		return err
	}
	return s.recvHelloLocked()
}

func (s *Session) recvHelloLocked() error {
	deadline := time.Now().Add(s.cfg.HelloTimeout)

	switch res, err := s.PollIn(time.Until(deadline)); {
	case err != nil:
		s.invalidate(ReasonDropped)
		return errors.Wrap(ncerr.ErrTransport, err.Error())
	case res == transport.PollTimeout:
		s.invalidate(ReasonTimeout)
		return errors.Wrap(ncerr.ErrTimeout, "no <hello> before timeout")
	case res == transport.PollDisconnect:
		s.invalidate(ReasonDropped)
		return errors.Wrap(ncerr.ErrTransport, "peer disconnected before <hello>")
	}

	body, err := s.r.ReadMessage()
	if err != nil {
		s.invalidate(ReasonDropped)
		return errors.Wrap(ncerr.ErrTransport, err.Error())
	}
	doc, err := message.Parse(body)
	if err != nil {
		s.invalidate(ReasonBadHello)
		return err
	}
	if hello := xmlquery.QuerySelector(doc, xpHello); hello == nil {
		s.invalidate(ReasonBadHello)
		return errors.Wrap(ncerr.ErrProtocol, "missing <hello> element")
	}

	var caps Capabilities
	for _, el := range xmlquery.QuerySelectorAll(doc, xpCapability) {
		if x := strings.TrimSpace(el.InnerText()); x != "" {
			caps = append(caps, x)
		}
	}
	if len(caps) == 0 {
		s.invalidate(ReasonBadHello)
		return errors.Wrap(ncerr.ErrProtocol, "missing non-empty <capability> element(s)")
	}

	// the session-id element must be present for clients (sent by the
	// server) and absent for servers
	sid := xmlquery.QuerySelector(doc, xpSessionID)
	switch {
	case s.cfg.Role == RoleClient && sid == nil:
		s.invalidate(ReasonBadHello)
		return errors.Wrap(ncerr.ErrProtocol, "no session-id received for client session")
	case s.cfg.Role == RoleServer && sid != nil:
		s.invalidate(ReasonBadHello)
		return errors.Wrap(ncerr.ErrProtocol, "session-id received from client peer")
	case sid != nil:
		v, perr := strconv.ParseUint(strings.TrimSpace(sid.InnerText()), 10, 32)
		if perr != nil || v == 0 {
			s.invalidate(ReasonBadHello)
			return errors.Wrap(ncerr.ErrProtocol, "invalid session-id value")
		}
		s.setEstablished(uint32(v), caps)
	default:
		s.setEstablished(s.cfg.ID, caps)
	}

	// select the highest version both peers support
	ours := s.cfg.Capabilities
	switch {
	case ours.Has(CapBase11) && caps.Has(CapBase11):
		s.setVersion(Version11)
	case ours.Has(CapBase10) && caps.Has(CapBase10):
		s.setVersion(Version10)
	default:
		s.invalidate(ReasonBadHello)
		return errors.Wrap(ncerr.ErrProtocol, "no common base capability")
	}

	s.advance(StatusRunning)
	s.log.Info().
		Stringer("version", s.Version()).
		Uint32("session-id", s.ID()).
		Msg("session established")
	return nil
}

func (s *Session) setEstablished(id uint32, caps Capabilities) {
	s.mu.Lock()
	s.id = id
	s.peerCaps = caps
	s.mu.Unlock()
}

// setVersion fixes the protocol version and switches both framer
// directions. The version is set exactly once, before the session
// runs.
func (s *Session) setVersion(v Version) {
	s.mu.Lock()
	s.version = v
	s.mu.Unlock()
	chunked := v == Version11
	s.r.SetFramingMode(chunked)
	s.w.SetFramingMode(chunked)
}
