package client

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"

	"github.com/pkg/errors"

	"github.com/netkit-io/netconf/ncerr"
	"github.com/netkit-io/netconf/session"
	"github.com/netkit-io/netconf/transport"
)

// TLSOptions carries client TLS transport configuration.
type TLSOptions struct {
	// CertFile and KeyFile name the client certificate pair offered
	// to the server.
	CertFile string
	KeyFile  string
	// CAFiles name PEM files trusted to sign the server certificate.
	CAFiles []string
	// CRLFiles name revocation lists checked against the server
	// certificate.
	CRLFiles []string
	// ServerName overrides the name verified against the server
	// certificate; the dialed host when empty.
	ServerName string
}

func (o TLSOptions) tlsConfig() (*tls.Config, []*x509.RevocationList, error) {
	cfg := &tls.Config{ServerName: o.ServerName}
	if o.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, nil, errors.Wrap(err, "load client certificate")
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	if len(o.CAFiles) > 0 {
		pool := x509.NewCertPool()
		for _, path := range o.CAFiles {
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, nil, errors.Wrap(err, "read CA file")
			}
			if !pool.AppendCertsFromPEM(b) {
				return nil, nil, errors.Wrapf(ncerr.ErrArgument, "no certificates in %s", path)
			}
		}
		cfg.RootCAs = pool
	}
	var crls []*x509.RevocationList
	for _, path := range o.CRLFiles {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, errors.Wrap(err, "read CRL file")
		}
		if block, _ := pem.Decode(b); block != nil {
			b = block.Bytes
		}
		crl, err := x509.ParseRevocationList(b)
		if err != nil {
			return nil, nil, errors.Wrap(err, "parse CRL")
		}
		crls = append(crls, crl)
	}
	return cfg, crls, nil
}

// DialTLS connects to a NETCONF-over-TLS server and opens a session.
func DialTLS(address string, opts TLSOptions, cfg Config) (*session.Session, error) {
	tcfg, crls, err := opts.tlsConfig()
	if err != nil {
		return nil, err
	}
	conn, err := tls.Dial("tcp", address, tcfg)
	if err != nil {
		return nil, errors.Wrap(ncerr.ErrAuthFailed, err.Error())
	}
	return tlsSession(conn, crls, cfg, address)
}

func tlsSession(conn *tls.Conn, crls []*x509.RevocationList, cfg Config, address string) (*session.Session, error) {
	t := transport.NewTLS(conn)
	if peer := t.PeerCertificate(); peer != nil && certRevoked(crls, peer) {
		_ = conn.Close()
		return nil, errors.Wrap(ncerr.ErrAuthFailed, "server certificate revoked")
	}
	host, port := splitHostPort(address)
	sess := session.New(t, cfg.sessionConfig(host, port))
	if err := sess.Handshake(); err != nil {
		return nil, err
	}
	return sess, nil
}

func certRevoked(crls []*x509.RevocationList, cert *x509.Certificate) bool {
	for _, crl := range crls {
		if crl.Issuer.String() != cert.Issuer.String() {
			continue
		}
		for _, rc := range crl.RevokedCertificateEntries {
			if rc.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return true
			}
		}
	}
	return false
}

func splitHostPort(address string) (host, port string) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return address, ""
	}
	return host, port
}
