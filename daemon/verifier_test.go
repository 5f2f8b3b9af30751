package daemon

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neromon/dhtcore/record"
)

func signDoc(t *testing.T, priv *rsa.PrivateKey, doc map[string]json.RawMessage) string {
	t.Helper()
	digest, err := signedDigest(doc)
	require.NoError(t, err)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest)
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(sig)
}

func publicPEM(t *testing.T, priv *rsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func rawString(t *testing.T, s string) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(s)
	require.NoError(t, err)
	return b
}

func TestUserRecordVerifiedWithInlineKey(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	doc := map[string]json.RawMessage{
		"public_key":     rawString(t, string(publicPEM(t, priv))),
		"monero_address": rawString(t, "4Axx"),
		"created_at":     rawString(t, "2026-01-01T00:00:00Z"),
	}
	doc["signature"] = rawString(t, signDoc(t, priv, doc))

	verify := KeyDirVerifier(t.TempDir())
	require.NoError(t, verify(record.TagUser, doc))
}

func TestUserRecordBadSignatureRejected(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	doc := map[string]json.RawMessage{
		"public_key":     rawString(t, string(publicPEM(t, priv))),
		"monero_address": rawString(t, "4Axx"),
		"created_at":     rawString(t, "2026-01-01T00:00:00Z"),
	}
	doc["signature"] = rawString(t, signDoc(t, priv, doc))
	// Tamper after signing.
	doc["monero_address"] = rawString(t, "4Ayy")

	verify := KeyDirVerifier(t.TempDir())
	require.Error(t, verify(record.TagUser, doc))
}

func TestListingVerifiedAgainstKeyDir(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	keyDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(keyDir, "seller-1.pub"), publicPEM(t, priv), 0o644))

	doc := map[string]json.RawMessage{
		"id":        rawString(t, "l-1"),
		"seller_id": rawString(t, "seller-1"),
		"price":     json.RawMessage(`12`),
	}
	doc["signature"] = rawString(t, signDoc(t, priv, doc))

	verify := KeyDirVerifier(keyDir)
	require.NoError(t, verify(record.TagListing, doc))
}

func TestUnknownSignerPasses(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	doc := map[string]json.RawMessage{
		"id":        rawString(t, "l-1"),
		"seller_id": rawString(t, "stranger"),
	}
	doc["signature"] = rawString(t, signDoc(t, priv, doc))

	// No key on disk for "stranger": the record is structurally complete
	// and cannot be verified locally, so it passes.
	verify := KeyDirVerifier(t.TempDir())
	require.NoError(t, verify(record.TagListing, doc))
}

func TestGarbageSignatureRejected(t *testing.T) {
	doc := map[string]json.RawMessage{
		"id":        rawString(t, "l-1"),
		"seller_id": rawString(t, "s"),
		"signature": rawString(t, "!!not-base64!!"),
	}
	verify := KeyDirVerifier(t.TempDir())
	require.Error(t, verify(record.TagListing, doc))
}
