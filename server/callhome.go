package server

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/netkit-io/netconf/ncerr"
	"github.com/netkit-io/netconf/session"
	"github.com/netkit-io/netconf/transport"
)

// CallHome dials out to a listening client at address and establishes
// a server session over it. Once the TCP connection exists the
// transport handshake and session state machine are identical to the
// accepting direction: this server still runs the SSH or TLS server
// role and sends the server <hello>.
func (s *Server) CallHome(kind transport.Kind, address string, timeout time.Duration) (*session.Session, error) {
	if kind != transport.KindSSH && kind != transport.KindTLS {
		return nil, errors.Wrap(ncerr.ErrArgument, "call home kind must be ssh or tls")
	}
	conn, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		return nil, errors.Wrap(ncerr.ErrTransport, err.Error())
	}
	sess, err := s.handshake(inbound{conn: conn, kind: kind})
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("address", address).Stringer("kind", kind).Msg("call home established")
	return sess, nil
}
