package issuer

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/xdg-go/scram"
)

const (
	// passwordLength satisfies the historical 12-63 character policy for
	// tenant passwords with comfortable margin.
	passwordLength = 32

	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// scramIterations matches the PostgreSQL default for scram-sha-256.
	scramIterations = 4096
)

// GeneratePassword returns a random alphanumeric secret.
func GeneratePassword() (string, error) {
	max := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, passwordLength)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}

// ScramSHA256Verifier computes the SCRAM-SHA-256 stored-credentials string in
// the format PostgreSQL accepts for CREATE/ALTER ROLE ... PASSWORD, so the
// plaintext secret never travels to the server:
//
//	SCRAM-SHA-256${iters}:{b64-salt}${b64-storedKey}:{b64-serverKey}
func ScramSHA256Verifier(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password must be non-empty")
	}

	saltBytes := make([]byte, 16)
	if _, err := rand.Read(saltBytes); err != nil {
		return "", fmt.Errorf("generate scram salt: %w", err)
	}

	// Username and authorization id do not contribute to the stored keys.
	client, err := scram.SHA256.NewClient("postgres", password, "")
	if err != nil {
		return "", fmt.Errorf("create scram client: %w", err)
	}

	creds := client.GetStoredCredentials(scram.KeyFactors{
		Salt:  string(saltBytes),
		Iters: scramIterations,
	})

	return fmt.Sprintf(
		"SCRAM-SHA-256$%d:%s$%s:%s",
		scramIterations,
		base64.StdEncoding.EncodeToString(saltBytes),
		base64.StdEncoding.EncodeToString(creds.StoredKey),
		base64.StdEncoding.EncodeToString(creds.ServerKey),
	), nil
}
