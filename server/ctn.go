package server

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/netkit-io/netconf/ncerr"
)

// CTNMapType selects how a matched certificate maps to a username.
type CTNMapType int

const (
	// CTNSpecified uses the entry's own Name value.
	CTNSpecified CTNMapType = iota
	// CTNSanRFC822 uses the certificate's rfc822Name SAN.
	CTNSanRFC822
	// CTNSanDNS uses the certificate's dNSName SAN.
	CTNSanDNS
	// CTNSanIP uses the certificate's iPAddress SAN.
	CTNSanIP
	// CTNSanAny uses the first present SAN: rfc822, DNS, then IP.
	CTNSanAny
	// CTNCommonName uses the certificate subject's common name.
	CTNCommonName
)

func (t CTNMapType) String() string {
	switch t {
	case CTNSpecified:
		return "specified"
	case CTNSanRFC822:
		return "san-rfc822-name"
	case CTNSanDNS:
		return "san-dns-name"
	case CTNSanIP:
		return "san-ip-address"
	case CTNSanAny:
		return "san-any"
	case CTNCommonName:
		return "common-name"
	default:
		return "unknown"
	}
}

// CTNEntry is one cert-to-name rule. Entries are evaluated in
// ascending ID order; the first entry whose fingerprint matches the
// peer certificate and whose map type yields a name wins.
type CTNEntry struct {
	// ID orders the entry within the rule list.
	ID int
	// Fingerprint is a colon-separated hex digest of the certificate
	// (MD5, SHA-1 or SHA-256, chosen by digest length). Empty matches
	// any certificate.
	Fingerprint string
	// MapType selects the username source.
	MapType CTNMapType
	// Name is the username for CTNSpecified entries.
	Name string
}

// matches reports whether the entry's fingerprint matches cert.
func (e CTNEntry) matches(cert *x509.Certificate) bool {
	fp := normalizeFingerprint(e.Fingerprint)
	if fp == "" {
		return true
	}
	var digest []byte
	switch len(fp) {
	case 2 * md5.Size:
		sum := md5.Sum(cert.Raw)
		digest = sum[:]
	case 2 * sha1.Size:
		sum := sha1.Sum(cert.Raw)
		digest = sum[:]
	case 2 * sha256.Size:
		sum := sha256.Sum256(cert.Raw)
		digest = sum[:]
	default:
		return false
	}
	return fp == hex.EncodeToString(digest)
}

// username resolves the entry's username from cert, or empty when the
// map type's source is absent.
func (e CTNEntry) username(cert *x509.Certificate) string {
	switch e.MapType {
	case CTNSpecified:
		return e.Name
	case CTNSanRFC822:
		if len(cert.EmailAddresses) > 0 {
			return cert.EmailAddresses[0]
		}
	case CTNSanDNS:
		if len(cert.DNSNames) > 0 {
			return cert.DNSNames[0]
		}
	case CTNSanIP:
		if len(cert.IPAddresses) > 0 {
			return cert.IPAddresses[0].String()
		}
	case CTNSanAny:
		switch {
		case len(cert.EmailAddresses) > 0:
			return cert.EmailAddresses[0]
		case len(cert.DNSNames) > 0:
			return cert.DNSNames[0]
		case len(cert.IPAddresses) > 0:
			return cert.IPAddresses[0].String()
		}
	case CTNCommonName:
		return cert.Subject.CommonName
	}
	return ""
}

func normalizeFingerprint(fp string) string {
	return strings.ToLower(strings.ReplaceAll(fp, ":", ""))
}

// ctnResolve maps cert to a username through the ordered rule list.
func ctnResolve(entries []CTNEntry, cert *x509.Certificate) (string, error) {
	sorted := append([]CTNEntry{}, entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	for _, e := range sorted {
		if !e.matches(cert) {
			continue
		}
		if name := e.username(cert); name != "" {
			return name, nil
		}
	}
	return "", errors.Wrap(ncerr.ErrAuthFailed, "no cert-to-name entry matched")
}
