package issuer

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// ErrCANotConfigured signals missing CA material. Callers must treat it as a
// fatal configuration error and refuse to issue anything.
var ErrCANotConfigured = errors.New("client CA is not configured")

// CAMaterial holds the client CA used to sign tenant certificates. It is
// parsed once at startup and only read afterwards; the issuer never mutates it.
type CAMaterial struct {
	cert    *x509.Certificate
	key     *rsa.PrivateKey
	certPEM string
}

// LoadCAMaterial parses the CA certificate (PEM) and private key (base64
// encoded PKCS#8 DER, as delivered by the secret store). Any parse failure is
// fatal: issuing against a half-loaded CA would silently produce unverifiable
// certificates.
func LoadCAMaterial(certPEM, keyDERBase64 string) (*CAMaterial, error) {
	certPEM = strings.TrimSpace(certPEM)
	keyDERBase64 = strings.TrimSpace(keyDERBase64)
	if certPEM == "" || keyDERBase64 == "" {
		return nil, ErrCANotConfigured
	}

	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("client CA certificate: expected CERTIFICATE PEM block")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse client CA certificate: %w", err)
	}

	keyPEM := DERToPEM(keyDERBase64)
	keyBlock, _ := pem.Decode([]byte(keyPEM))
	if keyBlock == nil {
		return nil, fmt.Errorf("client CA key: invalid PEM after DER conversion")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse client CA key: %w", err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("client CA key: expected RSA, got %T", parsed)
	}

	return &CAMaterial{cert: cert, key: key, certPEM: certPEM}, nil
}

// CertPEM returns the CA certificate PEM for inclusion in credential bundles.
func (ca *CAMaterial) CertPEM() string {
	return ca.certPEM
}

// DERToPEM wraps a base64 DER private key into a PEM block. pem encoding
// wraps the base64 body at 64 columns, matching what openssl emits.
func DERToPEM(derBase64 string) string {
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(derBase64))
	if err != nil {
		// Let the PEM parser surface the failure with context.
		return ""
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
}
