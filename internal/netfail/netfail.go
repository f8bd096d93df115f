// Package netfail classifies transport and navigation failures into a small
// set of kinds so callers can tell a broken site from a broken scanner.
//
// Classification is structural first (errors.As / errors.Is against the net,
// syscall and crypto error types) and falls back to substring matching for
// errors that arrive as text, such as Chrome's net::ERR_* codes.
package netfail

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind is the category of a failure.
type Kind int

const (
	KindNone Kind = iota
	KindDNS
	KindRefused
	KindUnreachable
	KindTLS
	KindTimeout
	KindReset
	// KindNetwork is a navigation error the browser attributes to the
	// network without a more specific code.
	KindNetwork
	KindOther
)

// Sentinel errors for each failure kind. Use errors.Is on a wrapped error.
var (
	ErrDNS         = errors.New("netfail: DNS resolution failed")
	ErrRefused     = errors.New("netfail: connection refused")
	ErrUnreachable = errors.New("netfail: network unreachable")
	ErrTLS         = errors.New("netfail: TLS handshake failed")
	ErrTimeout     = errors.New("netfail: timed out")
	ErrReset       = errors.New("netfail: connection reset")
	ErrNetwork     = errors.New("netfail: network error")
)

var kindNames = map[Kind]string{
	KindNone:        "none",
	KindDNS:         "dns",
	KindRefused:     "refused",
	KindUnreachable: "unreachable",
	KindTLS:         "tls",
	KindTimeout:     "timeout",
	KindReset:       "reset",
	KindNetwork:     "network",
	KindOther:       "other",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinel returns the sentinel error for k, or nil for KindNone and KindOther.
func (k Kind) Sentinel() error {
	switch k {
	case KindDNS:
		return ErrDNS
	case KindRefused:
		return ErrRefused
	case KindUnreachable:
		return ErrUnreachable
	case KindTLS:
		return ErrTLS
	case KindTimeout:
		return ErrTimeout
	case KindReset:
		return ErrReset
	case KindNetwork:
		return ErrNetwork
	}
	return nil
}

// SiteIssue reports whether the failure is attributable to the target site
// or the path to it, rather than to the scanner.
func (k Kind) SiteIssue() bool {
	return k != KindNone && k != KindOther
}

// Label is the short vendor-column label for a definite connection failure.
func (k Kind) Label() string {
	switch k {
	case KindDNS:
		return "DNS Error"
	case KindRefused:
		return "Connection Refused"
	case KindUnreachable:
		return "Network Error"
	case KindTLS:
		return "SSL Error"
	case KindTimeout:
		return "Timeout"
	}
	return "Unreachable"
}

// Describe is the human message for a definite connection failure.
func (k Kind) Describe() string {
	switch k {
	case KindDNS:
		return "Domain does not resolve"
	case KindRefused:
		return "Server refused connection"
	case KindUnreachable:
		return "Site unreachable"
	case KindTLS:
		return "SSL certificate verification failed"
	case KindTimeout:
		return "Timed out"
	}
	return "Connection failed"
}

// Wrap annotates err with the sentinel for its kind.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	if s := Classify(err).Sentinel(); s != nil && !errors.Is(err, s) {
		return fmt.Errorf("%w: %w", s, err)
	}
	return err
}

// Classify returns the kind of err.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if k := classifyStructured(err); k != KindNone {
		return k
	}
	return classifyText(err.Error())
}

func classifyStructured(err error) Kind {
	for _, k := range []Kind{KindDNS, KindRefused, KindUnreachable, KindTLS, KindTimeout, KindReset, KindNetwork} {
		if errors.Is(err, k.Sentinel()) {
			return k
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return KindTimeout
		}
		return KindDNS
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return KindRefused
	case errors.Is(err, syscall.ENETUNREACH), errors.Is(err, syscall.EHOSTUNREACH):
		return KindUnreachable
	case errors.Is(err, syscall.ECONNRESET):
		return KindReset
	}

	var (
		verifyErr    *tls.CertificateVerificationError
		recordErr    tls.RecordHeaderError
		alertErr     tls.AlertError
		authorityErr x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
	)
	if errors.As(err, &verifyErr) || errors.As(err, &recordErr) || errors.As(err, &alertErr) ||
		errors.As(err, &authorityErr) || errors.As(err, &hostnameErr) || errors.As(err, &invalidErr) {
		return KindTLS
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	return KindNone
}

// indicators is checked in order; earlier kinds win.
var indicators = []struct {
	kind    Kind
	phrases []string
}{
	{KindDNS, []string{"err_name_not_resolved", "no such host", "name or service not known", "getaddrinfo", "dns"}},
	{KindRefused, []string{"err_connection_refused", "connection refused"}},
	{KindUnreachable, []string{"err_address_unreachable", "err_internet_disconnected", "no route to host", "network is unreachable", "unreachable"}},
	{KindTLS, []string{"err_cert_", "err_ssl_", "x509", "certificate", "tls:", "ssl"}},
	{KindTimeout, []string{"err_timed_out", "deadline exceeded", "timed out", "timeout"}},
	{KindReset, []string{"err_connection_reset", "err_connection_closed", "connection reset"}},
	{KindNetwork, []string{"net::err_", "err_connection", "neterror"}},
}

func classifyText(msg string) Kind {
	lower := strings.ToLower(msg)
	for _, ind := range indicators {
		for _, p := range ind.phrases {
			if strings.Contains(lower, p) {
				return ind.kind
			}
		}
	}
	return KindOther
}
