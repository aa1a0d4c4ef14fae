package issuer

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vinayakr/nofrillsdb/platform/go/tenant"
)

func newTestCA(t *testing.T) (certPEM string, keyDERBase64 string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "clients-ca-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		BasicConstraintsValid: true,
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)

	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyDERBase64 = base64.StdEncoding.EncodeToString(keyDER)
	return certPEM, keyDERBase64
}

func TestLoadCAMaterial(t *testing.T) {
	certPEM, keyB64 := newTestCA(t)

	ca, err := LoadCAMaterial(certPEM, keyB64)
	require.NoError(t, err)
	require.Equal(t, certPEM, ca.CertPEM())
}

func TestLoadCAMaterialMissing(t *testing.T) {
	certPEM, keyB64 := newTestCA(t)

	_, err := LoadCAMaterial("", keyB64)
	require.ErrorIs(t, err, ErrCANotConfigured)

	_, err = LoadCAMaterial(certPEM, "")
	require.ErrorIs(t, err, ErrCANotConfigured)

	_, err = LoadCAMaterial("not a pem", keyB64)
	require.Error(t, err)
}

func TestIssueClientCredential(t *testing.T) {
	certPEM, keyB64 := newTestCA(t)
	ca, err := LoadCAMaterial(certPEM, keyB64)
	require.NoError(t, err)
	iss := New(ca)

	role := "crt_role_0192aabbccdd70008000112233445566"
	cred, err := iss.IssueClientCredential(role, 7, "RSA", 2048)
	require.NoError(t, err)

	require.Equal(t, role, cred.Role)
	require.Contains(t, cred.PrivateKeyPEM, "PRIVATE KEY")

	block, _ := pem.Decode([]byte(cred.CertificatePEM))
	require.NotNil(t, block)
	cert, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)

	require.Equal(t, role, cert.Subject.CommonName)
	require.False(t, cert.IsCA)
	require.True(t, cert.BasicConstraintsValid)
	require.Equal(t, x509.KeyUsageDigitalSignature|x509.KeyUsageKeyEncipherment, cert.KeyUsage)
	require.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}, cert.ExtKeyUsage)
	require.Equal(t, x509.SHA256WithRSA, cert.SignatureAlgorithm)
	require.NotEmpty(t, cert.SubjectKeyId)
	require.NotEmpty(t, cert.AuthorityKeyId)

	now := time.Now()
	require.True(t, cert.NotBefore.Before(now))
	require.True(t, cert.NotAfter.After(now.Add(6*24*time.Hour)))

	caBlock, _ := pem.Decode([]byte(certPEM))
	caCert, err := x509.ParseCertificate(caBlock.Bytes)
	require.NoError(t, err)
	require.NoError(t, caCert.CheckSignature(cert.SignatureAlgorithm, cert.RawTBSCertificate, cert.Signature))

	require.Equal(t, strings.ToUpper(cred.SerialHex), cred.SerialHex)
	require.Equal(t, cred.SerialHex, strings.ToUpper(cert.SerialNumber.Text(16)))

	sum := sha256.Sum256(block.Bytes)
	require.Equal(t, hex.EncodeToString(sum[:]), cred.FingerprintSHA256Hex)

	require.WithinDuration(t, cert.NotAfter, cred.ExpiresAt, time.Second)
}

func TestIssueClientCredentialRejectsBadInput(t *testing.T) {
	certPEM, keyB64 := newTestCA(t)
	ca, err := LoadCAMaterial(certPEM, keyB64)
	require.NoError(t, err)
	iss := New(ca)

	_, err = iss.IssueClientCredential("Robert'); DROP ROLE x;--", 7, "RSA", 2048)
	require.ErrorIs(t, err, tenant.ErrInvalidName)

	_, err = iss.IssueClientCredential("crt_role_abc", 0, "RSA", 2048)
	require.Error(t, err)
}

func TestIssueClientCredentialSerialsDiffer(t *testing.T) {
	certPEM, keyB64 := newTestCA(t)
	ca, err := LoadCAMaterial(certPEM, keyB64)
	require.NoError(t, err)
	iss := New(ca)

	a, err := iss.IssueClientCredential("crt_role_aaa", 1, "RSA", 2048)
	require.NoError(t, err)
	b, err := iss.IssueClientCredential("crt_role_bbb", 1, "RSA", 2048)
	require.NoError(t, err)
	require.NotEqual(t, a.SerialHex, b.SerialHex)
	require.NotEqual(t, a.FingerprintSHA256Hex, b.FingerprintSHA256Hex)
}
