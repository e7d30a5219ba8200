/*
Copyright 2024 NSL Labs

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tlsca implements the private X.509 certificate authority:
// a self-generated long-lived root and short-lived leaf certificates
// signed from CSRs.
package tlsca

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"log/slog"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nsl-labs/router"
	"github.com/nsl-labs/router/lib/defaults"
	logutils "github.com/nsl-labs/router/lib/utils/log"
)

var certsIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "router_certificates_issued_total",
	Help: "Number of leaf certificates issued.",
})

func init() {
	prometheus.MustRegister(certsIssuedTotal)
}

const rsaKeySize = 2048

// CertAuthority is the in-process X.509 issuer. It is initialized
// once before the server accepts requests and is read-only
// afterwards.
type CertAuthority struct {
	cert    *x509.Certificate
	signer  crypto.Signer
	certPEM []byte

	serverDomain string
	validity     time.Duration
	clock        clockwork.Clock
	log          *slog.Logger
}

// Config configures CA bootstrap.
type Config struct {
	// CertPath and KeyPath locate the PEM-encoded root material. If
	// either file is missing a fresh root is generated and persisted.
	CertPath string
	KeyPath  string
	// ServerDomain, when set, adds a *.<ServerDomain> SAN to every
	// leaf.
	ServerDomain string
	// Validity is the leaf certificate lifetime, default 72h.
	Validity time.Duration
	// Clock overrides the time source, used in tests.
	Clock clockwork.Clock
}

// CheckAndSetDefaults checks and sets default values.
func (c *Config) CheckAndSetDefaults() error {
	if c.CertPath == "" {
		c.CertPath = defaults.CACertPath
	}
	if c.KeyPath == "" {
		c.KeyPath = defaults.CAKeyPath
	}
	if c.Validity <= 0 {
		c.Validity = defaults.CertValidity
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Load bootstraps the certificate authority: it reads the root
// material from disk, generating and persisting a self-signed root
// first if either file is missing. A parse failure is fatal.
func Load(cfg Config) (*CertAuthority, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	log := logutils.NewPackageLogger(router.ComponentKey, router.ComponentAuthority)

	if !fileExists(cfg.CertPath) || !fileExists(cfg.KeyPath) {
		log.InfoContext(context.Background(), "No CA material found, generating a new root.",
			"cert_path", cfg.CertPath, "key_path", cfg.KeyPath)
		if err := generateAndPersistRoot(cfg); err != nil {
			return nil, trace.Wrap(err)
		}
	}

	certPEM, err := os.ReadFile(cfg.CertPath)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	keyPEM, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, trace.Wrap(err, "parsing CA certificate %v", cfg.CertPath)
	}
	signer, err := ParsePrivateKeyPEM(keyPEM)
	if err != nil {
		return nil, trace.Wrap(err, "parsing CA private key %v", cfg.KeyPath)
	}

	return &CertAuthority{
		cert:         cert,
		signer:       signer,
		certPEM:      certPEM,
		serverDomain: cfg.ServerDomain,
		validity:     cfg.Validity,
		clock:        cfg.Clock,
		log:          log,
	}, nil
}

// generateAndPersistRoot writes a fresh self-signed root to the
// configured paths, creating parent directories as needed.
func generateAndPersistRoot(cfg Config) error {
	key, err := rsa.GenerateKey(rand.Reader, rsaKeySize)
	if err != nil {
		return trace.Wrap(err)
	}
	ski, err := computeSubjectKeyID(key.Public())
	if err != nil {
		return trace.Wrap(err)
	}

	notBefore := cfg.Clock.Now().UTC()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			CommonName:         router.ProductName,
			Organization:       []string{router.OrgName},
			OrganizationalUnit: []string{router.OrgUnit},
		},
		NotBefore:             notBefore,
		NotAfter:              notBefore.Add(defaults.CAValidity),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		SubjectKeyId:          ski,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		return trace.Wrap(err)
	}

	for _, dir := range []string{filepath.Dir(cfg.CertPath), filepath.Dir(cfg.KeyPath)} {
		if err := os.MkdirAll(dir, defaults.DirMode); err != nil {
			return trace.ConvertSystemError(err)
		}
	}
	if err := os.WriteFile(cfg.CertPath, MarshalCertificateDERToPEM(der), defaults.CACertFileMode); err != nil {
		return trace.ConvertSystemError(err)
	}
	if err := os.WriteFile(cfg.KeyPath, MarshalPrivateKeyPEM(key), defaults.CAKeyFileMode); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}

// SignedCertificate is the result of signing one CSR.
type SignedCertificate struct {
	// CertPEM is the PEM-encoded leaf certificate.
	CertPEM []byte
	// NotAfter is the leaf's expiry.
	NotAfter time.Time
}

// SignCSR signs a PEM-encoded certificate signing request for an
// authenticated user. The CSR's common name must equal the user id;
// nothing else in the CSR is validated beyond its self-signature.
func (ca *CertAuthority) SignCSR(csrPEM []byte, userID, publicIP string) (*SignedCertificate, error) {
	csr, err := ParseCertificateRequestPEM(csrPEM)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := csr.CheckSignature(); err != nil {
		return nil, trace.BadParameter("failed to verify CSR signature: %v", err)
	}
	if csr.Subject.CommonName != userID {
		return nil, trace.BadParameter("CSR common name %q does not match user id %q",
			csr.Subject.CommonName, userID)
	}

	serial, err := newLeafSerial()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ski, err := computeSubjectKeyID(csr.PublicKey)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	// SAN order is fixed: the configured wildcard first, *.nip.io
	// always, the caller's public IP last.
	var dnsNames []string
	if ca.serverDomain != "" {
		dnsNames = append(dnsNames, "*."+ca.serverDomain)
	}
	dnsNames = append(dnsNames, defaults.WildcardNipIO)
	var ipAddresses []net.IP
	if publicIP != "" {
		if ip := net.ParseIP(publicIP); ip != nil {
			ipAddresses = append(ipAddresses, ip)
		}
	}

	notBefore := ca.clock.Now().UTC()
	notAfter := notBefore.Add(ca.validity)
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               csr.Subject,
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
		DNSNames:              dnsNames,
		IPAddresses:           ipAddresses,
		SubjectKeyId:          ski,
	}
	// Carry the subject over verbatim, including attributes pkix.Name
	// does not model.
	if len(csr.RawSubject) > 0 {
		template.RawSubject = csr.RawSubject
	}

	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, csr.PublicKey, ca.signer)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	certsIssuedTotal.Inc()
	ca.log.InfoContext(context.Background(), "Issued leaf certificate.",
		"user", userID, "not_after", notAfter, "dns_names", dnsNames)

	return &SignedCertificate{
		CertPEM:  MarshalCertificateDERToPEM(der),
		NotAfter: notAfter,
	}, nil
}

// CertPEM returns the cached PEM bytes of the root certificate.
func (ca *CertAuthority) CertPEM() []byte {
	return ca.certPEM
}

// Subject returns the root certificate subject.
func (ca *CertAuthority) Subject() pkix.Name {
	return ca.cert.Subject
}

// newLeafSerial builds the wire-compatible leaf serial: the literal
// "00" followed by 15 random bytes hex-encoded. The leading zero byte
// keeps the DER integer positive.
func newLeafSerial() (*big.Int, error) {
	random := make([]byte, 15)
	if _, err := rand.Read(random); err != nil {
		return nil, trace.Wrap(err)
	}
	serial, ok := new(big.Int).SetString("00"+hex.EncodeToString(random), 16)
	if !ok {
		return nil, trace.BadParameter("failed to build certificate serial")
	}
	return serial, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
