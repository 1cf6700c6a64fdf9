package cert

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
	"time"
)

// Usage is the role a certificate was issued for
type Usage string

const (
	UsageServer  Usage = "server"
	UsageClient  Usage = "client"
	UsageCA      Usage = "ca"
	UsageUnknown Usage = "unknown"
)

// VerifyResult contains the result of certificate verification
type VerifyResult struct {
	Valid       bool
	Usage       Usage
	Hosts       []string
	ExpiresIn   time.Duration
	Error       string
	Certificate *x509.Certificate
}

// ReadCertificate loads the first PEM certificate in a file
func ReadCertificate(path string) (*x509.Certificate, error) {
	certPEM, err := os.ReadFile(path) // #nosec G304 -- path is a user-specified certificate file
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate: %w", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}

	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// VerifyCertificateFile verifies a certificate file against a CA file
func VerifyCertificateFile(certPath, caCertPath string) (*VerifyResult, error) {
	cert, err := ReadCertificate(certPath)
	if err != nil {
		return nil, err
	}

	caCert, err := ReadCertificate(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load CA certificate: %w", err)
	}

	return Verify(cert, caCert), nil
}

// Verify checks cert against caCert for the role the certificate claims
func Verify(cert, caCert *x509.Certificate) *VerifyResult {
	roots := x509.NewCertPool()
	roots.AddCert(caCert)

	result := &VerifyResult{
		Certificate: cert,
		Usage:       usageOf(cert),
		ExpiresIn:   time.Until(cert.NotAfter),
	}
	result.Hosts = append(result.Hosts, cert.DNSNames...)
	for _, ip := range cert.IPAddresses {
		result.Hosts = append(result.Hosts, ip.String())
	}

	opts := x509.VerifyOptions{Roots: roots}
	switch result.Usage {
	case UsageServer:
		opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth}
	case UsageClient:
		opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}
	default:
		opts.KeyUsages = []x509.ExtKeyUsage{x509.ExtKeyUsageAny}
	}

	if _, err := cert.Verify(opts); err != nil {
		result.Error = err.Error()
	} else {
		result.Valid = true
	}
	return result
}

func usageOf(cert *x509.Certificate) Usage {
	if cert.IsCA {
		return UsageCA
	}
	for _, u := range cert.ExtKeyUsage {
		switch u {
		case x509.ExtKeyUsageServerAuth:
			return UsageServer
		case x509.ExtKeyUsageClientAuth:
			return UsageClient
		}
	}
	return UsageUnknown
}

// FormatVerifyResult formats verification result for display
func FormatVerifyResult(result *VerifyResult) string {
	var sb strings.Builder

	sb.WriteString("Certificate Verification Result\n")
	sb.WriteString("===============================\n\n")

	if result.Valid {
		sb.WriteString("Status: VALID\n")
	} else {
		sb.WriteString("Status: INVALID\n")
		sb.WriteString(fmt.Sprintf("Error: %s\n", result.Error))
	}

	sb.WriteString("\nCertificate Details:\n")
	sb.WriteString(fmt.Sprintf("  Subject: %s\n", result.Certificate.Subject))
	sb.WriteString(fmt.Sprintf("  Issuer: %s\n", result.Certificate.Issuer))
	sb.WriteString(fmt.Sprintf("  Usage: %s\n", result.Usage))
	sb.WriteString(fmt.Sprintf("  Serial: %s\n", result.Certificate.SerialNumber))
	sb.WriteString(fmt.Sprintf("  Valid From: %s\n", result.Certificate.NotBefore))
	sb.WriteString(fmt.Sprintf("  Valid Until: %s\n", result.Certificate.NotAfter))
	if len(result.Hosts) > 0 {
		sb.WriteString(fmt.Sprintf("  Hosts: %s\n", strings.Join(result.Hosts, ", ")))
	}

	return sb.String()
}
