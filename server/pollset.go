package server

import (
	"encoding/xml"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/pkg/errors"

	"github.com/netkit-io/netconf/message"
	"github.com/netkit-io/netconf/ncerr"
	"github.com/netkit-io/netconf/session"
	"github.com/netkit-io/netconf/transport"
)

// RPCHandler answers one server rpc. It returns the <rpc-reply> body
// (defaulting to <ok/> when empty) or an rpc-error to report to the
// peer. <close-session> and <kill-session> are handled by the poll
// set before the handler sees them.
//
// The handler runs with the session's transport mutex claimed and
// must not perform session I/O itself; the poll set writes the reply.
type RPCHandler func(sess *session.Session, rpc *xmlquery.Node) (string, *ncerr.RPCError)

// DispatchResult is the outcome of one Poll call.
type DispatchResult int

const (
	// DispatchTimeout means no session became ready in time.
	DispatchTimeout DispatchResult = iota
	// Dispatched means a ready session was serviced without a
	// complete rpc exchange.
	Dispatched
	// SessionClosed means a session ended: closed by the peer,
	// killed, idle-expired or its transport dropped. The session has
	// been removed from the set.
	SessionClosed
	// ReplySent means one rpc was read, handled and answered.
	ReplySent
	// ReplyError means one rpc was read and answered with rpc-error.
	ReplyError
	// DispatchError means servicing a ready session failed.
	DispatchError
)

// sweepInterval paces readiness scans across the member sessions.
const sweepInterval = 2 * time.Millisecond

// PollSet multiplexes established server sessions across worker
// goroutines.
//
// Multiple workers may call Poll concurrently. Each Poll scans the
// members from a rotating offset and claims a ready session with a
// try-lock on its transport mutex, so a session is serviced by at
// most one worker at a time and no ready session is dispatched
// twice for one readiness event.
type PollSet struct {
	handler RPCHandler

	// IdleTimeout, when non-zero, renews each serviced session's
	// idle deadline. Members whose idle deadline passed are torn down
	// whatever its value.
	IdleTimeout time.Duration

	mu       sync.Mutex
	sessions []*session.Session
	offset   int
}

// NewPollSet returns an empty poll set dispatching rpcs to handler.
func NewPollSet(handler RPCHandler) *PollSet {
	return &PollSet{handler: handler}
}

// Add places sess in the set.
func (p *PollSet) Add(sess *session.Session) {
	p.mu.Lock()
	p.sessions = append(p.sessions, sess)
	p.mu.Unlock()
	metricSessionsActive.Inc()
}

// Remove takes sess out of the set.
func (p *PollSet) Remove(sess *session.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, m := range p.sessions {
		if m == sess {
			p.sessions = append(p.sessions[:i], p.sessions[i+1:]...)
			metricSessionsActive.Dec()
			return
		}
	}
}

// Clear empties the set. Member sessions are left running.
func (p *PollSet) Clear() {
	p.mu.Lock()
	metricSessionsActive.Sub(float64(len(p.sessions)))
	p.sessions = nil
	p.mu.Unlock()
}

// Len returns the member count.
func (p *PollSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

// snapshot copies the member list and rotates the scan offset so
// successive polls favor different sessions.
func (p *PollSet) snapshot() ([]*session.Session, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	members := append([]*session.Session{}, p.sessions...)
	start := 0
	if len(members) > 0 {
		start = p.offset % len(members)
		p.offset++
	}
	return members, start
}

// Poll waits up to timeout for any member session to become readable
// or disconnect, then dispatches exactly one ready session: read one
// rpc, invoke the handler, write the reply.
//
// It returns the dispatch outcome and the session it applied to (nil
// on timeout).
func (p *PollSet) Poll(timeout time.Duration) (DispatchResult, *session.Session, error) {
	deadline := time.Now().Add(timeout)
	for {
		members, start := p.snapshot()
		for i := range members {
			sess := members[(start+i)%len(members)]
			if sess.Status() != session.StatusRunning {
				p.Remove(sess)
				return SessionClosed, sess, nil
			}
			if sess.IdleExpired() {
				sess.CloseIdle()
				p.Remove(sess)
				return SessionClosed, sess, nil
			}
			if !sess.TryClaim() {
				continue // another worker is servicing this session
			}
			ready, err := sess.PollIn(0)
			if err == nil && ready == transport.PollTimeout {
				sess.Release()
				continue
			}
			res, derr := p.dispatch(sess)
			sess.Release()
			if res == SessionClosed {
				p.Remove(sess)
			}
			return res, sess, derr
		}
		if !time.Now().Before(deadline) {
			return DispatchTimeout, nil, nil
		}
		time.Sleep(sweepInterval)
	}
}

// dispatch services one claimed, readable session.
func (p *PollSet) dispatch(sess *session.Session) (DispatchResult, error) {
	rcv, err := sess.ReadMessageClaimed(0)
	switch {
	case err == nil:
	case errors.Is(err, ncerr.ErrWouldBlock):
		return Dispatched, nil
	case errors.Is(err, ncerr.ErrTransport):
		return SessionClosed, nil
	case errors.Is(err, ncerr.ErrWrongSide):
		metricDispatchErrors.Inc()
		return DispatchError, err
	default:
		metricDispatchErrors.Inc()
		return SessionClosed, err
	}

	rpcEl := rcv.Root
	msgid := message.MessageID(rpcEl)
	if msgid == "" {
		_ = p.sendErrorClaimed(sess, msgid, ncerr.MissingAttribute("message-id", "rpc", ncerr.WithType(ncerr.TypeRPC)))
		return ReplyError, nil
	}
	if p.IdleTimeout > 0 {
		sess.TouchIdle(p.IdleTimeout)
	}

	op := firstElement(rpcEl)
	if op == nil {
		_ = p.sendErrorClaimed(sess, msgid, ncerr.MissingElement("rpc"))
		return ReplyError, nil
	}
	switch {
	case op.NamespaceURI == message.NSBase && op.Data == "close-session":
		err := sess.SendReplyClaimed(msgid, "<ok/>")
		sess.Close()
		return SessionClosed, err
	case op.NamespaceURI == message.NSBase && op.Data == "kill-session":
		return p.killSession(sess, msgid, op)
	}

	if p.handler == nil {
		_ = p.sendErrorClaimed(sess, msgid, ncerr.OperationNotSupported(ncerr.WithType(ncerr.TypeProtocol)))
		return ReplyError, nil
	}
	reply, rpcErr := p.handler(sess, rpcEl)
	if rpcErr != nil {
		if err := p.sendErrorClaimed(sess, msgid, rpcErr); err != nil {
			return DispatchError, err
		}
		return ReplyError, nil
	}
	if reply == "" {
		reply = "<ok/>"
	}
	if err := sess.SendReplyClaimed(msgid, reply); err != nil {
		metricDispatchErrors.Inc()
		return DispatchError, err
	}
	metricRPCsDispatched.Inc()
	return ReplySent, nil
}

// killSession terminates the set member named by <kill-session>.
func (p *PollSet) killSession(sess *session.Session, msgid string, op *xmlquery.Node) (DispatchResult, error) {
	var target uint32
	if el := op.SelectElement("session-id"); el != nil {
		v, err := strconv.ParseUint(strings.TrimSpace(el.InnerText()), 10, 32)
		if err == nil {
			target = uint32(v)
		}
	}
	if target == 0 {
		_ = p.sendErrorClaimed(sess, msgid, ncerr.InvalidValue(
			ncerr.WithType(ncerr.TypeProtocol), ncerr.WithMessage("session-id must be non-zero")))
		return ReplyError, nil
	}
	if target == sess.ID() {
		_ = p.sendErrorClaimed(sess, msgid, ncerr.InvalidValue(
			ncerr.WithType(ncerr.TypeProtocol), ncerr.WithMessage("cannot kill own session")))
		return ReplyError, nil
	}
	victim := p.findByID(target)
	if victim == nil {
		_ = p.sendErrorClaimed(sess, msgid, ncerr.InvalidValue(
			ncerr.WithType(ncerr.TypeProtocol), ncerr.WithMessage("unknown session-id")))
		return ReplyError, nil
	}
	victim.Kill()
	p.Remove(victim)
	if err := sess.SendReplyClaimed(msgid, "<ok/>"); err != nil {
		return DispatchError, err
	}
	metricRPCsDispatched.Inc()
	return ReplySent, nil
}

func (p *PollSet) findByID(id uint32) *session.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range p.sessions {
		if m.ID() == id {
			return m
		}
	}
	return nil
}

func (p *PollSet) sendErrorClaimed(sess *session.Session, msgid string, rpcErrs ...*ncerr.RPCError) error {
	body, err := marshalRPCErrors(rpcErrs)
	if err != nil {
		return err
	}
	return sess.SendReplyClaimed(msgid, body)
}

// marshalRPCErrors renders rpc-error elements for an error reply.
func marshalRPCErrors(rpcErrs []*ncerr.RPCError) (string, error) {
	var body strings.Builder
	for _, e := range rpcErrs {
		b, err := xml.Marshal(e)
		if err != nil {
			return "", errors.Wrap(ncerr.ErrArgument, err.Error())
		}
		body.Write(b)
	}
	return body.String(), nil
}

// firstElement returns the first element child of n.
func firstElement(n *xmlquery.Node) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c
		}
	}
	return nil
}
