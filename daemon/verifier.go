package daemon

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/neromon/dhtcore/record"
)

// KeyDirVerifier returns the record.SignatureVerifier the daemon
// installs into the record validator, which itself checks structure only
// and delegates cryptographic verification here.
//
// User records carry their public key inline; other tags name a signer
// whose key may live under keyDir as <address>.pub, written by the
// external wallet (the daemon only reads the directory). A signer
// whose key file is absent passes: records relayed for users this daemon
// has never transacted with cannot be verified locally, and rejecting
// them would partition the DHT.
func KeyDirVerifier(keyDir string) record.SignatureVerifier {
	return func(tag record.Tag, doc map[string]json.RawMessage) error {
		sigB64, err := stringField(doc, "signature")
		if err != nil {
			return err
		}
		sig, err := base64.StdEncoding.DecodeString(sigB64)
		if err != nil {
			return errors.Wrap(err, "daemon: signature is not base64")
		}

		pub, err := signerKey(tag, doc, keyDir)
		if err != nil {
			return err
		}
		if pub == nil {
			return nil
		}

		digest, err := signedDigest(doc)
		if err != nil {
			return err
		}
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest, sig); err != nil {
			return errors.Wrap(err, "daemon: rsa verification failed")
		}
		return nil
	}
}

// signerKey resolves the RSA public key that must have produced the
// record's signature: inline for user records, keyDir for the rest. A nil
// key with nil error means "unverifiable here".
func signerKey(tag record.Tag, doc map[string]json.RawMessage, keyDir string) (*rsa.PublicKey, error) {
	if tag == record.TagUser {
		pemStr, err := stringField(doc, "public_key")
		if err != nil {
			return nil, err
		}
		return parseRSAPublicKey([]byte(pemStr))
	}

	signerField := "seller_id"
	if tag == record.TagProductRating || tag == record.TagSellerRating {
		signerField = "rater_id"
	}
	signer, err := stringField(doc, signerField)
	if err != nil {
		return nil, err
	}
	pemBytes, err := os.ReadFile(filepath.Join(keyDir, signer+".pub"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "daemon: cannot read signer key")
	}
	return parseRSAPublicKey(pemBytes)
}

func parseRSAPublicKey(pemBytes []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("daemon: signer key is not PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "daemon: cannot parse signer key")
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("daemon: signer key is not RSA")
	}
	return rsaPub, nil
}

// signedDigest hashes the canonical form of the document with its
// signature field removed, which is the shape the wallet signs.
func signedDigest(doc map[string]json.RawMessage) ([]byte, error) {
	unsigned := make(map[string]json.RawMessage, len(doc))
	for k, v := range doc {
		if k == "signature" {
			continue
		}
		unsigned[k] = v
	}
	raw, err := json.Marshal(unsigned)
	if err != nil {
		return nil, errors.Wrap(err, "daemon: cannot marshal unsigned document")
	}
	canon, err := record.Canonical(raw)
	if err != nil {
		return nil, err
	}
	digest := sha256.Sum256(canon)
	return digest[:], nil
}

func stringField(doc map[string]json.RawMessage, field string) (string, error) {
	raw, ok := doc[field]
	if !ok {
		return "", errors.Newf("daemon: missing %s field", field)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errors.Wrapf(err, "daemon: %s is not a string", field)
	}
	return s, nil
}
