package ca

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/vinayakr/nofrillsdb/domains/credentials/be/issuer"
)

// Command groups client CA helpers: generating the signing CA and issuing
// certificates offline for break-glass access.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ca",
		Short: "Manage the client certificate authority",
	}

	cmd.AddCommand(newCommand())
	cmd.AddCommand(issueCommand())
	return cmd
}

func newCommand() *cobra.Command {
	var (
		commonName string
		years      int
		rsaBits    int
		outDir     string
	)

	c := &cobra.Command{
		Use:   "new",
		Short: "Generate a self-signed client CA",
		Long: "Generate a self-signed client CA and write clients_ca.crt (PEM) and " +
			"clients_ca.key (base64 PKCS#8 DER, the CLIENT_CA_KEY format).",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := rsa.GenerateKey(rand.Reader, rsaBits)
			if err != nil {
				return fmt.Errorf("generate CA key: %w", err)
			}

			serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
			if err != nil {
				return fmt.Errorf("generate CA serial: %w", err)
			}

			spki, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
			if err != nil {
				return fmt.Errorf("marshal CA public key: %w", err)
			}
			ski := sha1.Sum(spki)

			now := time.Now().UTC()
			template := &x509.Certificate{
				SerialNumber:          serial,
				Subject:               pkix.Name{CommonName: commonName},
				NotBefore:             now.Add(-5 * time.Minute),
				NotAfter:              now.AddDate(years, 0, 0),
				BasicConstraintsValid: true,
				IsCA:                  true,
				KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
				SubjectKeyId:          ski[:],
			}

			der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
			if err != nil {
				return fmt.Errorf("self-sign CA certificate: %w", err)
			}

			keyDER, err := x509.MarshalPKCS8PrivateKey(key)
			if err != nil {
				return fmt.Errorf("encode CA key: %w", err)
			}

			certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
			keyB64 := base64.StdEncoding.EncodeToString(keyDER)

			err = multierr.Combine(
				os.WriteFile(filepath.Join(outDir, "clients_ca.crt"), certPEM, 0o644),
				os.WriteFile(filepath.Join(outDir, "clients_ca.key"), []byte(keyB64+"\n"), 0o600),
			)
			if err != nil {
				return fmt.Errorf("write CA material: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s and %s\n",
				filepath.Join(outDir, "clients_ca.crt"),
				filepath.Join(outDir, "clients_ca.key"))
			return nil
		},
	}

	c.Flags().StringVar(&commonName, "cn", "nofrillsdb clients CA", "CA subject common name")
	c.Flags().IntVar(&years, "years", 10, "CA validity in years")
	c.Flags().IntVar(&rsaBits, "rsa-bits", 4096, "CA key size")
	c.Flags().StringVar(&outDir, "out", ".", "output directory")
	return c
}

func issueCommand() *cobra.Command {
	var (
		caCertPath   string
		caKeyPath    string
		role         string
		validityDays int
		rsaBits      int
		outDir       string
	)

	c := &cobra.Command{
		Use:   "issue",
		Short: "Issue a client certificate offline",
		Long: "Issue a client certificate for an existing role without going through " +
			"the API. Intended for break-glass access; the role itself is not created or altered.",
		RunE: func(cmd *cobra.Command, args []string) error {
			certPEM, err := os.ReadFile(caCertPath)
			if err != nil {
				return fmt.Errorf("read CA certificate: %w", err)
			}
			keyB64, err := os.ReadFile(caKeyPath)
			if err != nil {
				return fmt.Errorf("read CA key: %w", err)
			}

			ca, err := issuer.LoadCAMaterial(string(certPEM), string(keyB64))
			if err != nil {
				return fmt.Errorf("load CA material: %w", err)
			}

			cred, err := issuer.New(ca).IssueClientCredential(role, validityDays, "RSA", rsaBits)
			if err != nil {
				return fmt.Errorf("issue certificate: %w", err)
			}

			err = multierr.Combine(
				os.WriteFile(filepath.Join(outDir, role+".key"), []byte(cred.PrivateKeyPEM), 0o600),
				os.WriteFile(filepath.Join(outDir, role+".crt"), []byte(cred.CertificatePEM), 0o644),
			)
			if err != nil {
				return fmt.Errorf("write credential files: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "issued %s (serial %s, expires %s)\n",
				role, cred.SerialHex, cred.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	c.Flags().StringVar(&caCertPath, "ca-cert", "clients_ca.crt", "path to the CA certificate PEM")
	c.Flags().StringVar(&caKeyPath, "ca-key", "clients_ca.key", "path to the base64 PKCS#8 CA key")
	c.Flags().StringVar(&role, "role", "", "login role the certificate is bound to")
	c.Flags().IntVar(&validityDays, "days", 365, "certificate validity in days")
	c.Flags().IntVar(&rsaBits, "rsa-bits", 2048, "client key size")
	c.Flags().StringVar(&outDir, "out", ".", "output directory")
	_ = c.MarkFlagRequired("role")
	return c
}
