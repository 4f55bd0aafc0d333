package transport

import (
	"crypto/tls"
	"crypto/x509"
	"io"
)

// TLS is a Transport over a TLS connection.
type TLS struct {
	poller
	conn *tls.Conn
}

// NewTLS returns a Transport over conn. The TLS handshake must have
// completed before the transport carries NETCONF traffic.
func NewTLS(conn *tls.Conn) *TLS {
	return &TLS{poller: poller{src: conn}, conn: conn}
}

// Kind reports KindTLS.
func (t *TLS) Kind() Kind { return KindTLS }

// PeerCertificate returns the peer's leaf certificate, or nil when
// the peer presented none.
func (t *TLS) PeerCertificate() *x509.Certificate {
	state := t.conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	return state.PeerCertificates[0]
}

// Write writes b in full to the connection.
func (t *TLS) Write(b []byte) (int, error) {
	n, err := t.conn.Write(b)
	if err == nil && n < len(b) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Close closes the TLS connection.
func (t *TLS) Close() error { return t.conn.Close() }
