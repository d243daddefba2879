// Package cert manages the self-signed certificate authority used to mint
// leaf certificates for MITM interception of the client TLS leg.
package cert

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// CA is the minimal surface the proxy needs from a certificate authority:
// a root certificate to present for trust, and per-host leaf certs minted
// on demand (the KeyStoreManager/SslContextFactory contract from spec §6).
type CA interface {
	GetRootCA() *x509.Certificate
	GetCert(commonName string) (*tls.Certificate, error)
}

const (
	rootCAName  = "relayproxy.ca"
	rootKeyBits = 2048
	leafKeyBits = 2048
	leafTTL     = 7 * 24 * time.Hour
	rootTTL     = 10 * 365 * 24 * time.Hour
)

// SelfSignCA is a self-signed root certificate plus an in-memory cache of
// per-host leaf certificates signed by that root.
type SelfSignCA struct {
	storePath string

	RootCert   *x509.Certificate
	RootCertRaw []byte
	PrivateKey rsa.PrivateKey

	mu    sync.Mutex
	cache map[string]*tls.Certificate
}

var _ CA = (*SelfSignCA)(nil)

// NewSelfSignCA loads (or creates and persists) the root CA under storePath.
// An empty storePath resolves to the OS user-config directory.
func NewSelfSignCA(storePath string) (CA, error) {
	path, err := getStorePath(storePath)
	if err != nil {
		return nil, fmt.Errorf("resolve cert store path: %w", err)
	}

	ca := &SelfSignCA{
		storePath: path,
		cache:     make(map[string]*tls.Certificate),
	}

	if err := ca.loadOrCreate(); err != nil {
		return nil, err
	}

	return ca, nil
}

func getStorePath(storePath string) (string, error) {
	if storePath != "" {
		return storePath, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, "relayproxy")
	if err := os.MkdirAll(path, 0o700); err != nil {
		return "", err
	}
	return path, nil
}

func (ca *SelfSignCA) caFile() string {
	return filepath.Join(ca.storePath, rootCAName+".pem")
}

func (ca *SelfSignCA) loadOrCreate() error {
	data, err := os.ReadFile(ca.caFile())
	if err == nil {
		return ca.loadFromPEM(data)
	}
	if !os.IsNotExist(err) {
		return err
	}
	return ca.generate()
}

func (ca *SelfSignCA) loadFromPEM(data []byte) error {
	var certBlock, keyBlock *pem.Block
	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			certBlock = block
		case "PRIVATE KEY", "RSA PRIVATE KEY":
			keyBlock = block
		}
	}
	if certBlock == nil || keyBlock == nil {
		return fmt.Errorf("cert store at %s is missing a certificate or key block", ca.caFile())
	}

	parsedCert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return fmt.Errorf("parse root certificate: %w", err)
	}
	key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("parse root key: %w", err)
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return fmt.Errorf("root key is not RSA")
	}

	ca.RootCert = parsedCert
	ca.RootCertRaw = certBlock.Bytes
	ca.PrivateKey = *rsaKey
	return nil
}

func (ca *SelfSignCA) generate() error {
	key, err := rsa.GenerateKey(rand.Reader, rootKeyBits)
	if err != nil {
		return fmt.Errorf("generate root key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(0).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName:   "relayproxy MITM root CA",
			Organization: []string{"relayproxy"},
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(rootTTL),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	raw, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create root certificate: %w", err)
	}
	parsed, err := x509.ParseCertificate(raw)
	if err != nil {
		return fmt.Errorf("parse created root certificate: %w", err)
	}

	ca.RootCert = parsed
	ca.RootCertRaw = raw
	ca.PrivateKey = *key

	buf := &bytes.Buffer{}
	if err := ca.saveTo(buf); err != nil {
		return err
	}
	return os.WriteFile(ca.caFile(), buf.Bytes(), 0o600)
}

// saveTo PEM-encodes the root certificate and private key to w, in that order.
func (ca *SelfSignCA) saveTo(w *bytes.Buffer) error {
	if err := pem.Encode(w, &pem.Block{Type: "CERTIFICATE", Bytes: ca.RootCertRaw}); err != nil {
		return err
	}
	keyBytes, err := x509.MarshalPKCS8PrivateKey(&ca.PrivateKey)
	if err != nil {
		return err
	}
	return pem.Encode(w, &pem.Block{Type: "PRIVATE KEY", Bytes: keyBytes})
}

// GetRootCA returns the parsed root certificate, for presenting to callers
// that want to trust it (e.g. writing it to a system trust store).
func (ca *SelfSignCA) GetRootCA() *x509.Certificate {
	return ca.RootCert
}

// GetCert returns a leaf certificate for commonName, minting and caching one
// signed by the root CA if none exists yet. Safe for concurrent use; this is
// called from the TLS handshake's GetConfigForClient callback.
func (ca *SelfSignCA) GetCert(commonName string) (*tls.Certificate, error) {
	ca.mu.Lock()
	defer ca.mu.Unlock()

	if cached, ok := ca.cache[commonName]; ok {
		return cached, nil
	}

	tlsCert, err := ca.DummyCert(commonName)
	if err != nil {
		return nil, err
	}
	ca.cache[commonName] = tlsCert
	return tlsCert, nil
}

// DummyCert mints a fresh leaf certificate for commonName without touching
// the cache. GetCert calls it on a cache miss.
func (ca *SelfSignCA) DummyCert(commonName string) (*tls.Certificate, error) {
	key, err := rsa.GenerateKey(rand.Reader, leafKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate leaf key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, big.NewInt(0).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(leafTTL),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if ip := parseIP(commonName); ip != nil {
		template.IPAddresses = append(template.IPAddresses, ip)
	} else {
		template.DNSNames = []string{commonName}
	}

	raw, err := x509.CreateCertificate(rand.Reader, template, ca.RootCert, &key.PublicKey, &ca.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("create leaf certificate: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{raw, ca.RootCertRaw},
		PrivateKey:  key,
		Leaf:        nil,
	}, nil
}

func parseIP(host string) net.IP {
	return net.ParseIP(host)
}
