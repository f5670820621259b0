package server

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// certExpiryWarning is how close to expiry a certificate gets logged.
const certExpiryWarning = 14 * 24 * time.Hour

// CertificateInfo describes the leaf certificate of a PEM file
type CertificateInfo struct {
	Subject  string
	Issuer   string
	NotAfter time.Time
	DNSNames []string
}

// DaysLeft returns the whole days until the certificate expires
func (c *CertificateInfo) DaysLeft() int {
	return int(time.Until(c.NotAfter).Hours() / 24)
}

// LoadTLS loads the listener key pair and warns when it is about to expire.
func LoadTLS(certFile, keyFile string, logger *slog.Logger) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	if info, err := ReadCertificateInfo(certFile); err == nil {
		if time.Until(info.NotAfter) < certExpiryWarning {
			logger.Warn("TLS certificate expires soon",
				"subject", info.Subject,
				"not_after", info.NotAfter,
				"days_left", info.DaysLeft(),
			)
		}
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// ReadCertificateInfo parses the first certificate of a PEM file
func ReadCertificateInfo(certFile string) (*CertificateInfo, error) {
	data, err := os.ReadFile(certFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("failed to decode PEM block")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	return &CertificateInfo{
		Subject:  cert.Subject.CommonName,
		Issuer:   cert.Issuer.CommonName,
		NotAfter: cert.NotAfter,
		DNSNames: cert.DNSNames,
	}, nil
}
