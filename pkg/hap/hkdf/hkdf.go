package hkdf

import (
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the output length of every derivation in the pairing protocol.
const KeySize = 32

// Sha512 derives a KeySize key from key material and the literal salt and
// info labels. Labels are part of the wire protocol and must be passed
// byte-for-byte.
func Sha512(key []byte, salt, info string) ([]byte, error) {
	return Sha512N(key, salt, info, KeySize)
}

// Sha512N is Sha512 with an explicit output length.
func Sha512N(key []byte, salt, info string, length int) ([]byte, error) {
	r := hkdf.New(sha512.New, key, []byte(salt), []byte(info))

	buf := make([]byte, length)
	_, err := io.ReadFull(r, buf)

	return buf, err
}
