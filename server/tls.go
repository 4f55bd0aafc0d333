package server

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/netkit-io/netconf/ncerr"
	"github.com/netkit-io/netconf/session"
	"github.com/netkit-io/netconf/transport"
)

// TLSOptions carries the server's TLS transport configuration. All
// accessors serialize on the option mutex; acceptors snapshot the
// options into each handshake.
type TLSOptions struct {
	mu        sync.Mutex
	cert      *tls.Certificate
	clientCAs *x509.CertPool
	crls      []*x509.RevocationList
	ctn       []CTNEntry
}

func (o *TLSOptions) init() {
	o.clientCAs = x509.NewCertPool()
}

// SetCertificate installs the server certificate and key from PEM
// bytes.
func (o *TLSOptions) SetCertificate(certPEM, keyPEM []byte) error {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return errors.Wrap(err, "load certificate")
	}
	o.mu.Lock()
	o.cert = &cert
	o.mu.Unlock()
	return nil
}

// SetCertificateFile installs the server certificate and key from
// PEM files.
func (o *TLSOptions) SetCertificateFile(certPath, keyPath string) error {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return errors.Wrap(err, "load certificate")
	}
	o.mu.Lock()
	o.cert = &cert
	o.mu.Unlock()
	return nil
}

// AddTrustedCA adds a PEM certificate to the client trust store.
func (o *TLSOptions) AddTrustedCA(pemBytes []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.clientCAs.AppendCertsFromPEM(pemBytes) {
		return errors.Wrap(ncerr.ErrArgument, "no certificates in PEM input")
	}
	return nil
}

// AddTrustedCAFile adds the PEM certificates in path to the client
// trust store.
func (o *TLSOptions) AddTrustedCAFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read CA file")
	}
	return o.AddTrustedCA(b)
}

// AddTrustedCADir adds every .pem/.crt file under dir to the client
// trust store.
func (o *TLSOptions) AddTrustedCADir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrap(err, "read CA directory")
	}
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".pem", ".crt":
			if err := o.AddTrustedCAFile(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddCRL adds a DER or PEM revocation list.
func (o *TLSOptions) AddCRL(b []byte) error {
	if block, _ := pem.Decode(b); block != nil {
		b = block.Bytes
	}
	crl, err := x509.ParseRevocationList(b)
	if err != nil {
		return errors.Wrap(err, "parse CRL")
	}
	o.mu.Lock()
	o.crls = append(o.crls, crl)
	o.mu.Unlock()
	return nil
}

// AddCRLFile adds the revocation list in path.
func (o *TLSOptions) AddCRLFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read CRL file")
	}
	return o.AddCRL(b)
}

// AddCTN adds a cert-to-name rule.
func (o *TLSOptions) AddCTN(entry CTNEntry) {
	o.mu.Lock()
	o.ctn = append(o.ctn, entry)
	o.mu.Unlock()
}

// DelCTN removes the cert-to-name rule with the given id.
func (o *TLSOptions) DelCTN(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, e := range o.ctn {
		if e.ID == id {
			o.ctn = append(o.ctn[:i], o.ctn[i+1:]...)
			return
		}
	}
}

// snapshot copies the options for one handshake.
func (o *TLSOptions) snapshot() (tls.Certificate, *x509.CertPool, []*x509.RevocationList, []CTNEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cert == nil {
		return tls.Certificate{}, nil, nil, nil, errors.Wrap(ncerr.ErrArgument, "no TLS certificate configured")
	}
	return *o.cert, o.clientCAs.Clone(),
		append([]*x509.RevocationList{}, o.crls...),
		append([]CTNEntry{}, o.ctn...), nil
}

// acceptTLS runs the TLS handshake over conn, maps the peer
// certificate to a username through the cert-to-name list and
// returns the established session. A client certificate is required
// whenever any cert-to-name entry is configured.
func (s *Server) acceptTLS(conn net.Conn) (*session.Session, error) {
	cert, cas, crls, ctn, err := s.tlsOpts.snapshot()
	if err != nil {
		return nil, err
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	if len(ctn) > 0 {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
		cfg.ClientCAs = cas
	}
	tconn := tls.Server(conn, cfg)
	_ = conn.SetDeadline(time.Now().Add(defaultAuthTimeout))
	if err := tconn.Handshake(); err != nil {
		return nil, errors.Wrap(ncerr.ErrAuthFailed, err.Error())
	}
	_ = conn.SetDeadline(time.Time{})

	t := transport.NewTLS(tconn)
	username := ""
	if len(ctn) > 0 {
		peer := t.PeerCertificate()
		if peer == nil {
			return nil, errors.Wrap(ncerr.ErrAuthFailed, "no client certificate")
		}
		if revoked(crls, peer) {
			return nil, errors.Wrap(ncerr.ErrAuthFailed, "client certificate revoked")
		}
		if username, err = ctnResolve(ctn, peer); err != nil {
			return nil, err
		}
	}
	return s.establish(t, s.newSessionConfig(conn.RemoteAddr()), username)
}

// revoked reports whether cert's serial appears on any revocation
// list from its issuer.
func revoked(crls []*x509.RevocationList, cert *x509.Certificate) bool {
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
