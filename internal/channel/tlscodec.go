package channel

import (
	"crypto/tls"
	"fmt"
)

// CertSource mints a leaf certificate for a given SNI/CONNECT host. Satisfied
// by cert.CA; kept as a narrow interface here so this package doesn't import
// cert directly.
type CertSource interface {
	GetCert(commonName string) (*tls.Certificate, error)
}

// TLSServerCodec installs the MITM server-side TLS handshake on a Channel
// (spec.md §4.2 HANDSHAKING state, grounded on the teacher's
// attacker.serverTLSHandshake): it swaps the raw net.Conn for a *tls.Conn
// configured to mint a fresh leaf certificate per SNI via CertSource, then
// replaces the channel's underlying connection with the handshaked one.
type TLSServerCodec struct {
	certs CertSource
}

func NewTLSServerCodec(certs CertSource) *TLSServerCodec {
	return &TLSServerCodec{certs: certs}
}

func (c *TLSServerCodec) Name() string { return "tls" }

func (c *TLSServerCodec) OnInstall(ch *Channel) {
	cfg := &tls.Config{
		GetConfigForClient: func(hello *tls.ClientHelloInfo) (*tls.Config, error) {
			name := hello.ServerName
			if name == "" {
				name = hostOf(ch.RemoteAddr().String())
			}
			cert, err := c.certs.GetCert(name)
			if err != nil {
				return nil, fmt.Errorf("mint leaf cert for %q: %w", name, err)
			}
			return &tls.Config{Certificates: []tls.Certificate{*cert}}, nil
		},
	}
	tlsConn := tls.Server(ch.Conn(), cfg)
	ch.SetConn(tlsConn)
}

func (c *TLSServerCodec) OnRemove(*Channel) {}

// TLSClientCodec installs the client-side TLS handshake used when dialing an
// origin or chained proxy over TLS (grounded on the teacher's HTTPSTLSDial).
type TLSClientCodec struct {
	serverName         string
	insecureSkipVerify bool
}

func NewTLSClientCodec(serverName string, insecureSkipVerify bool) *TLSClientCodec {
	return &TLSClientCodec{serverName: serverName, insecureSkipVerify: insecureSkipVerify}
}

func (c *TLSClientCodec) Name() string { return "tls" }

func (c *TLSClientCodec) OnInstall(ch *Channel) {
	cfg := &tls.Config{
		ServerName:         c.serverName,
		InsecureSkipVerify: c.insecureSkipVerify,
	}
	tlsConn := tls.Client(ch.Conn(), cfg)
	ch.SetConn(tlsConn)
}

func (c *TLSClientCodec) OnRemove(*Channel) {}

func hostOf(addr string) string {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i]
		}
	}
	return addr
}
