package server

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netkit-io/netconf/ncerr"
)

func selfSignedCert(t *testing.T) *x509.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:   big.NewInt(1),
		Subject:        pkix.Name{CommonName: "netconf-client"},
		NotBefore:      time.Now().Add(-time.Hour),
		NotAfter:       time.Now().Add(time.Hour),
		EmailAddresses: []string{"ops@example.com"},
		DNSNames:       []string{"client.example.com"},
		IPAddresses:    []net.IP{net.ParseIP("192.0.2.1")},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

func fingerprintSHA256(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}

func TestCTNMapTypes(t *testing.T) {
	cert := selfSignedCert(t)
	for _, tc := range []struct {
		mapType CTNMapType
		want    string
	}{
		{CTNSpecified, "alice"},
		{CTNSanRFC822, "ops@example.com"},
		{CTNSanDNS, "client.example.com"},
		{CTNSanIP, "192.0.2.1"},
		{CTNSanAny, "ops@example.com"},
		{CTNCommonName, "netconf-client"},
	} {
		t.Run(tc.mapType.String(), func(t *testing.T) {
			name, err := ctnResolve([]CTNEntry{{ID: 1, MapType: tc.mapType, Name: "alice"}}, cert)
			assert.NoError(t, err)
			assert.Equal(t, tc.want, name)
		})
	}
}

func TestCTNFingerprintMatch(t *testing.T) {
	ck := assert.New(t)
	cert := selfSignedCert(t)
	fp := fingerprintSHA256(cert)

	name, err := ctnResolve([]CTNEntry{
		{ID: 1, Fingerprint: fp, MapType: CTNSpecified, Name: "matched"},
	}, cert)
	ck.NoError(err)
	ck.Equal("matched", name)

	// a colon-separated uppercase fingerprint matches too
	var pretty string
	for i := 0; i < len(fp); i += 2 {
		if i > 0 {
			pretty += ":"
		}
		pretty += string(fp[i]) + string(fp[i+1])
	}
	name, err = ctnResolve([]CTNEntry{
		{ID: 1, Fingerprint: pretty, MapType: CTNSpecified, Name: "matched"},
	}, cert)
	ck.NoError(err)
	ck.Equal("matched", name)

	// a mismatching fingerprint never matches
	other := selfSignedCert(t)
	_, err = ctnResolve([]CTNEntry{
		{ID: 1, Fingerprint: fingerprintSHA256(other), MapType: CTNSpecified, Name: "x"},
	}, cert)
	ck.True(errors.Is(err, ncerr.ErrAuthFailed))
}

func TestCTNOrderingFirstMatchWins(t *testing.T) {
	ck := assert.New(t)
	cert := selfSignedCert(t)
	name, err := ctnResolve([]CTNEntry{
		{ID: 20, MapType: CTNSpecified, Name: "second"},
		{ID: 10, MapType: CTNSpecified, Name: "first"},
	}, cert)
	ck.NoError(err)
	ck.Equal("first", name)

	// an entry whose map source is absent falls through to the next
	bare := selfSignedCert(t)
	bare.EmailAddresses = nil
	name, err = ctnResolve([]CTNEntry{
		{ID: 1, MapType: CTNSanRFC822},
		{ID: 2, MapType: CTNSpecified, Name: "fallback"},
	}, bare)
	ck.NoError(err)
	ck.Equal("fallback", name)
}

func TestCTNNoEntries(t *testing.T) {
	_, err := ctnResolve(nil, selfSignedCert(t))
	assert.True(t, errors.Is(err, ncerr.ErrAuthFailed))
}
