package signer

import (
	"bytes"
	"crypto/des"
	"encoding/base64"
	"fmt"
)

// EncryptTripleDES encrypts plaintext with 3DES-EDE3 in ECB mode and PKCS#7
// padding. The key is base64 encoded and the result is base64 encoded.
func EncryptTripleDES(base64Key, plaintext string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return "", fmt.Errorf("signer: invalid base64 key: %w", err)
	}
	block, err := des.NewTripleDESCipher(key)
	if err != nil {
		return "", fmt.Errorf("signer: invalid 3DES key: %w", err)
	}

	bs := block.BlockSize()
	padded := pkcs7Pad([]byte(plaintext), bs)
	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += bs {
		block.Encrypt(out[i:i+bs], padded[i:i+bs])
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}
