package webhook

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
)

var errPadding = errors.New("bad padding")

// Sign returns the signature the platform attaches to an event: unpadded
// base64url of HMAC-SHA256 over "appid:topic:nonce:time:encrypted_data".
func Sign(appID, appKey, topic, nonce string, ts int64, encrypted string) string {
	mac := hmac.New(sha256.New, []byte(appKey))
	fmt.Fprintf(mac, "%s:%s:%s:%s:%s", appID, topic, nonce, strconv.FormatInt(ts, 10), encrypted)
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// cipherKey is the hex MD5 of the app key, used as raw key bytes.
func cipherKey(appKey string) []byte {
	sum := md5.Sum([]byte(appKey))
	return []byte(hex.EncodeToString(sum[:]))
}

func nonceIV(nonce string) ([]byte, error) {
	if len(nonce) < aes.BlockSize {
		return nil, fmt.Errorf("nonce shorter than %d bytes", aes.BlockSize)
	}
	return []byte(nonce[:aes.BlockSize]), nil
}

// Decrypt opens a base64 AES-CBC payload.
func Decrypt(encrypted, appKey, nonce string) ([]byte, error) {
	iv, err := nonceIV(nonce)
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("payload is not a whole number of blocks")
	}
	block, err := aes.NewCipher(cipherKey(appKey))
	if err != nil {
		return nil, err
	}
	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)
	return unpad(plain)
}

// Encrypt is the inverse of Decrypt.
func Encrypt(plain []byte, appKey, nonce string) (string, error) {
	iv, err := nonceIV(nonce)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(cipherKey(appKey))
	if err != nil {
		return "", err
	}
	padded := pad(plain)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(out), nil
}

func pad(b []byte) []byte {
	n := aes.BlockSize - len(b)%aes.BlockSize
	return append(bytes.Clone(b), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(b []byte) ([]byte, error) {
	n := int(b[len(b)-1])
	if n == 0 || n > aes.BlockSize || n > len(b) {
		return nil, errPadding
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errPadding
		}
	}
	return b[:len(b)-n], nil
}
