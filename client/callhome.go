package client

import (
	"crypto/tls"
	"net"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/netkit-io/netconf/ncerr"
	"github.com/netkit-io/netconf/session"
	"github.com/netkit-io/netconf/transport"
)

const (
	// DefaultCallHomePortSSH is the IANA NETCONF call-home SSH port.
	DefaultCallHomePortSSH = 4334
	// DefaultCallHomePortTLS is the IANA NETCONF call-home TLS port.
	DefaultCallHomePortTLS = 4335
)

// CallHomeListener accepts reverse-direction connections: the client
// binds and listens, the server dials out. Once a TCP connection
// exists the transport handshake and session state machine are
// identical to the dialing direction — the remote peer still runs the
// SSH or TLS server role.
type CallHomeListener struct {
	kind    transport.Kind
	ln      net.Listener
	sshOpts SSHOptions
	tlsOpts TLSOptions
	cfg     Config
}

// ListenCallHomeSSH binds address for SSH call home.
func ListenCallHomeSSH(address string, opts SSHOptions, cfg Config) (*CallHomeListener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrap(ncerr.ErrTransport, err.Error())
	}
	return &CallHomeListener{kind: transport.KindSSH, ln: ln, sshOpts: opts, cfg: cfg}, nil
}

// ListenCallHomeTLS binds address for TLS call home.
func ListenCallHomeTLS(address string, opts TLSOptions, cfg Config) (*CallHomeListener, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, errors.Wrap(ncerr.ErrTransport, err.Error())
	}
	return &CallHomeListener{kind: transport.KindTLS, ln: ln, tlsOpts: opts, cfg: cfg}, nil
}

// Accept waits up to timeout for a server to dial in, then performs
// the transport and NETCONF handshakes and returns a running client
// session.
func (l *CallHomeListener) Accept(timeout time.Duration) (*session.Session, error) {
	if tcpLn, ok := l.ln.(*net.TCPListener); ok {
		_ = tcpLn.SetDeadline(time.Now().Add(timeout))
	}
	conn, err := l.ln.Accept()
	if err != nil {
		if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
			return nil, ncerr.ErrTimeout
		}
		return nil, errors.Wrap(ncerr.ErrTransport, err.Error())
	}
	sess, err := l.establish(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return sess, nil
}

func (l *CallHomeListener) establish(conn net.Conn) (*session.Session, error) {
	remote := conn.RemoteAddr().String()
	switch l.kind {
	case transport.KindSSH:
		ccfg, err := l.sshOpts.clientConfig()
		if err != nil {
			return nil, err
		}
		sconn, chans, reqs, err := ssh.NewClientConn(conn, remote, ccfg)
		if err != nil {
			return nil, errors.Wrap(ncerr.ErrAuthFailed, err.Error())
		}
		client := ssh.NewClient(sconn, chans, reqs)
		host, port := splitHostPort(remote)
		c := &Conn{
			conn:  client.Conn,
			owner: transport.NewSSHConn(client.Conn),
			cfg:   l.cfg,
			host:  host,
			port:  port,
		}
		return c.Session()
	case transport.KindTLS:
		tcfg, crls, err := l.tlsOpts.tlsConfig()
		if err != nil {
			return nil, err
		}
		if tcfg.ServerName == "" {
			tcfg.ServerName, _ = splitHostPort(remote)
		}
		tconn := tls.Client(conn, tcfg)
		if err := tconn.Handshake(); err != nil {
			return nil, errors.Wrap(ncerr.ErrAuthFailed, err.Error())
		}
		return tlsSession(tconn, crls, l.cfg, remote)
	default:
		return nil, errors.Wrap(ncerr.ErrArgument, "unsupported call home kind")
	}
}

// Addr returns the listener's bound address.
func (l *CallHomeListener) Addr() net.Addr { return l.ln.Addr() }

// Close stops listening for call-home connections.
func (l *CallHomeListener) Close() error { return l.ln.Close() }
