package issuer

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/vinayakr/nofrillsdb/platform/go/tenant"
)

// IssuedClientCredential is the immutable result of one issuance call. The
// private key exists only in this value and is never persisted.
type IssuedClientCredential struct {
	Role                 string
	PrivateKeyPEM        string
	CertificatePEM       string
	SerialHex            string
	FingerprintSHA256Hex string
	IssuedAt             time.Time
	ExpiresAt            time.Time
}

// Issuer signs short-lived client certificates against the process-wide CA
// material. It holds no mutable state, so concurrent issuance is safe.
type Issuer struct {
	ca *CAMaterial
}

// New constructs an Issuer around already-loaded CA material.
func New(ca *CAMaterial) *Issuer {
	if ca == nil {
		panic("issuer requires CA material")
	}
	return &Issuer{ca: ca}
}

// CACertPEM exposes the signing CA certificate for bundle assembly.
func (i *Issuer) CACertPEM() string {
	return i.ca.CertPEM()
}

// IssueClientCredential generates a key pair and a signed mTLS client
// certificate for the given role. The validity window starts five minutes in
// the past to tolerate minor clock drift on the verifying side.
func (i *Issuer) IssueClientCredential(role string, validityDays int, keyAlgorithm string, rsaBits int) (IssuedClientCredential, error) {
	if err := tenant.ValidateRoleName(role); err != nil {
		return IssuedClientCredential{}, err
	}
	if validityDays <= 0 {
		return IssuedClientCredential{}, fmt.Errorf("validity days must be positive, got %d", validityDays)
	}

	signer, pub, err := generateKeyPair(keyAlgorithm, rsaBits)
	if err != nil {
		return IssuedClientCredential{}, err
	}

	now := time.Now().UTC()
	notBefore := now.Add(-5 * time.Minute)
	notAfter := now.AddDate(0, 0, validityDays)

	serial, err := randomSerial()
	if err != nil {
		return IssuedClientCredential{}, err
	}

	ski, err := subjectKeyID(pub)
	if err != nil {
		return IssuedClientCredential{}, err
	}
	aki := i.ca.cert.SubjectKeyId
	if len(aki) == 0 {
		if aki, err = subjectKeyID(i.ca.cert.PublicKey); err != nil {
			return IssuedClientCredential{}, err
		}
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: role},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		BasicConstraintsValid: true,
		IsCA:                  false,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		SubjectKeyId:          ski,
		AuthorityKeyId:        aki,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, i.ca.cert, pub, i.ca.key)
	if err != nil {
		return IssuedClientCredential{}, fmt.Errorf("sign client certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return IssuedClientCredential{}, fmt.Errorf("reparse issued certificate: %w", err)
	}

	// Self-check before the credential leaves the issuer: a CA key/cert
	// mismatch must never surface as a delivered but unverifiable bundle.
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return IssuedClientCredential{}, fmt.Errorf("issued certificate validity window does not cover now")
	}
	if err := i.ca.cert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature); err != nil {
		return IssuedClientCredential{}, fmt.Errorf("issued certificate failed CA verification: %w", err)
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(signer)
	if err != nil {
		return IssuedClientCredential{}, fmt.Errorf("encode private key: %w", err)
	}

	fingerprint := sha256.Sum256(der)

	return IssuedClientCredential{
		Role:                 role,
		PrivateKeyPEM:        string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER})),
		CertificatePEM:       string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})),
		SerialHex:            strings.ToUpper(serial.Text(16)),
		FingerprintSHA256Hex: hex.EncodeToString(fingerprint[:]),
		IssuedAt:             now,
		ExpiresAt:            notAfter,
	}, nil
}

func generateKeyPair(algorithm string, rsaBits int) (crypto.Signer, crypto.PublicKey, error) {
	if strings.EqualFold(algorithm, "RSA") {
		key, err := rsa.GenerateKey(rand.Reader, rsaBits)
		if err != nil {
			return nil, nil, fmt.Errorf("generate RSA key: %w", err)
		}
		return key, &key.PublicKey, nil
	}
	// Fixed curve for the non-RSA path; RSA stays the default for widest
	// client compatibility.
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate EC key: %w", err)
	}
	return key, &key.PublicKey, nil
}

// randomSerial returns a positive random 128-bit serial number.
func randomSerial() (*big.Int, error) {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}
	return new(big.Int).SetBytes(bytes), nil
}

// subjectKeyID derives the RFC 5280 key identifier: SHA-1 over the subject
// public key bit string.
func subjectKeyID(pub crypto.PublicKey) ([]byte, error) {
	spki, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal public key: %w", err)
	}
	var decoded struct {
		Algorithm pkix.AlgorithmIdentifier
		PublicKey asn1.BitString
	}
	if _, err := asn1.Unmarshal(spki, &decoded); err != nil {
		return nil, fmt.Errorf("unmarshal public key info: %w", err)
	}
	sum := sha1.Sum(decoded.PublicKey.Bytes)
	return sum[:], nil
}
