// Package cert provides certificate generation and management for mTLS communication.
package cert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const organization = "gpuctl agent"

// Issuer signs agent server and client certificates with its CA
type Issuer struct {
	// CA certificate and key
	caCert *x509.Certificate
	caKey  *rsa.PrivateKey
	bits   int
}

// NewIssuer creates a new issuer with a self-signed CA. bits is the RSA
// key size of the CA and of every certificate it issues; zero means 2048.
func NewIssuer(bits int) (*Issuer, error) {
	if bits == 0 {
		bits = 2048
	}

	caKey, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	caTemplate := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   "gpuctl agent CA",
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(10 * 365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	caCertDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	caCert, err := x509.ParseCertificate(caCertDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	return &Issuer{caCert: caCert, caKey: caKey, bits: bits}, nil
}

// CA returns the issuer's CA certificate
func (i *Issuer) CA() *x509.Certificate {
	return i.caCert
}

// SaveCA saves the CA certificate and key to files
func (i *Issuer) SaveCA(certPath, keyPath string) error {
	if err := writePEM(certPath, "CERTIFICATE", i.caCert.Raw, 0o644); err != nil {
		return fmt.Errorf("failed to write CA cert: %w", err)
	}
	if err := writePEM(keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(i.caKey), 0o600); err != nil {
		return fmt.Errorf("failed to write CA key: %w", err)
	}
	return nil
}

// LoadCA loads CA certificate and key from files
func LoadCA(certPath, keyPath string) (*Issuer, error) {
	caCert, err := ReadCertificate(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA cert: %w", err)
	}

	keyPEM, err := os.ReadFile(keyPath) // #nosec G304 -- keyPath is a user-specified CA key file path
	if err != nil {
		return nil, fmt.Errorf("failed to read CA key: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return nil, fmt.Errorf("failed to decode CA key PEM")
	}

	caKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA key: %w", err)
	}

	return &Issuer{caCert: caCert, caKey: caKey, bits: caKey.N.BitLen()}, nil
}

// IssueServer generates a server certificate valid for the given host names
// and IP addresses
func (i *Issuer) IssueServer(hosts []string, validity time.Duration) (*Certificate, error) {
	template := &x509.Certificate{
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   "gpuctl agent",
		},
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}
	return i.issue(template, validity)
}

// IssueClient generates a client certificate with the given common name
func (i *Issuer) IssueClient(name string, validity time.Duration) (*Certificate, error) {
	return i.issue(&x509.Certificate{
		Subject: pkix.Name{
			Organization: []string{organization},
			CommonName:   name,
		},
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}, validity)
}

func (i *Issuer) issue(template *x509.Certificate, validity time.Duration) (*Certificate, error) {
	if validity <= 0 {
		validity = 365 * 24 * time.Hour
	}

	key, err := rsa.GenerateKey(rand.Reader, i.bits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template.SerialNumber = serial
	template.NotBefore = now.Add(-time.Minute)
	template.NotAfter = now.Add(validity)
	template.KeyUsage = x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature

	certDER, err := x509.CreateCertificate(rand.Reader, template, i.caCert, &key.PublicKey, i.caKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &Certificate{Certificate: cert, PrivateKey: key, IssuedAt: now}, nil
}

// Certificate represents an issued certificate
type Certificate struct {
	*x509.Certificate
	PrivateKey *rsa.PrivateKey
	IssuedAt   time.Time
}

// Save saves the certificate and key to files
func (c *Certificate) Save(certPath, keyPath string) error {
	if err := writePEM(certPath, "CERTIFICATE", c.Raw, 0o644); err != nil {
		return fmt.Errorf("failed to write cert: %w", err)
	}

	// Save private key if path provided
	if keyPath != "" {
		if err := writePEM(keyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(c.PrivateKey), 0o600); err != nil {
			return fmt.Errorf("failed to write key: %w", err)
		}
	}

	return nil
}

// PEM returns the certificate as PEM-encoded string
func (c *Certificate) PEM() string {
	return string(pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: c.Raw,
	}))
}

// Bundle is the file set an agent deployment needs
type Bundle struct {
	CAFile         string
	CAKeyFile      string
	ServerCertFile string
	ServerKeyFile  string
	ClientCertFile string
	ClientKeyFile  string
}

// GenerateBundle creates a CA plus one server and one client certificate in
// dir
func GenerateBundle(dir string, hosts []string, bits int) (*Bundle, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create certs directory: %w", err)
	}

	issuer, err := NewIssuer(bits)
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		CAFile:         filepath.Join(dir, "ca.pem"),
		CAKeyFile:      filepath.Join(dir, "ca-key.pem"),
		ServerCertFile: filepath.Join(dir, "server.pem"),
		ServerKeyFile:  filepath.Join(dir, "server-key.pem"),
		ClientCertFile: filepath.Join(dir, "client.pem"),
		ClientKeyFile:  filepath.Join(dir, "client-key.pem"),
	}

	if err := issuer.SaveCA(b.CAFile, b.CAKeyFile); err != nil {
		return nil, err
	}

	server, err := issuer.IssueServer(hosts, 0)
	if err != nil {
		return nil, err
	}
	if err := server.Save(b.ServerCertFile, b.ServerKeyFile); err != nil {
		return nil, err
	}

	client, err := issuer.IssueClient("gpuctl client", 0)
	if err != nil {
		return nil, err
	}
	if err := client.Save(b.ClientCertFile, b.ClientKeyFile); err != nil {
		return nil, err
	}

	return b, nil
}

func randomSerial() (*big.Int, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}
	return serial, nil
}

func writePEM(path, blockType string, der []byte, perm os.FileMode) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm) // #nosec G304 -- path is provided by the user
	if err != nil {
		return err
	}
	if err := pem.Encode(out, &pem.Block{Type: blockType, Bytes: der}); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
