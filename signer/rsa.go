// Package signer holds the pure cryptographic transforms the bank protocols need:
// RSA signatures over canonical strings and 3DES encryption of sign data.
package signer

import (
	"bytes"
	"crypto"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"encoding/xml"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// rsaKeyValue is the .NET XML key format banks hand out to merchants
type rsaKeyValue struct {
	XMLName  xml.Name `xml:"RSAKeyValue"`
	Modulus  string   `xml:"Modulus"`
	Exponent string   `xml:"Exponent"`
	P        string   `xml:"P"`
	Q        string   `xml:"Q"`
	DP       string   `xml:"DP"`
	DQ       string   `xml:"DQ"`
	InverseQ string   `xml:"InverseQ"`
	D        string   `xml:"D"`
}

// LoadPrivateKeyFile reads a merchant key from path. XML RSAKeyValue, PEM
// (PKCS#1 or PKCS#8) and PKCS#12 bundles are accepted; password only applies to PKCS#12.
func LoadPrivateKeyFile(path, password string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signer: failed to read key file: %w", err)
	}
	return ParsePrivateKey(data, password)
}

// ParsePrivateKey detects the key encoding and parses it
func ParsePrivateKey(data []byte, password string) (*rsa.PrivateKey, error) {
	trimmed := bytes.TrimSpace(data)
	switch {
	case bytes.HasPrefix(trimmed, []byte("<")):
		return parseXMLKey(trimmed)
	case bytes.HasPrefix(trimmed, []byte("-----BEGIN")):
		return parsePEMKey(trimmed)
	default:
		return parsePKCS12Key(data, password)
	}
}

func parseXMLKey(data []byte) (*rsa.PrivateKey, error) {
	var kv rsaKeyValue
	if err := xml.Unmarshal(data, &kv); err != nil {
		return nil, fmt.Errorf("signer: invalid XML key: %w", err)
	}

	ints := make(map[string]*big.Int, 5)
	for name, v := range map[string]string{
		"Modulus": kv.Modulus, "Exponent": kv.Exponent, "D": kv.D, "P": kv.P, "Q": kv.Q,
	} {
		n, err := decodeBigInt(v)
		if err != nil {
			return nil, fmt.Errorf("signer: invalid XML key element %s: %w", name, err)
		}
		ints[name] = n
	}
	if !ints["Exponent"].IsInt64() {
		return nil, errors.New("signer: XML key exponent is too large")
	}

	key := &rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: ints["Modulus"], E: int(ints["Exponent"].Int64())},
		D:         ints["D"],
		Primes:    []*big.Int{ints["P"], ints["Q"]},
	}
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("signer: XML key is inconsistent: %w", err)
	}
	key.Precompute()
	return key, nil
}

func decodeBigInt(s string) (*big.Int, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("empty value")
	}
	return new(big.Int).SetBytes(raw), nil
}

func parsePEMKey(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("signer: no PEM block found")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		k, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("signer: invalid PKCS#8 key: %w", err)
		}
		rk, ok := k.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("signer: PKCS#8 key is not RSA")
		}
		return rk, nil
	default:
		return nil, fmt.Errorf("signer: unsupported PEM block %q", block.Type)
	}
}

func parsePKCS12Key(data []byte, password string) (*rsa.PrivateKey, error) {
	k, _, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("signer: invalid PKCS#12 bundle: %w", err)
	}
	rk, ok := k.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("signer: PKCS#12 key is not RSA")
	}
	return rk, nil
}

// SignSHA1 signs the SHA1 digest of data with PKCS#1 v1.5 and returns it base64 encoded.
// The signature is deterministic for a given key and input.
func SignSHA1(key *rsa.PrivateKey, data string) (string, error) {
	if key == nil {
		return "", errors.New("signer: nil private key")
	}
	digest := sha1.Sum([]byte(data))
	sig, err := rsa.SignPKCS1v15(nil, key, crypto.SHA1, digest[:])
	if err != nil {
		return "", fmt.Errorf("signer: failed to sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// CanonicalString joins fields as #f1#f2#...#
func CanonicalString(fields ...string) string {
	return "#" + strings.Join(fields, "#") + "#"
}
