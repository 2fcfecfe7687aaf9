package cipherstream

import (
	"crypto/sha1"

	"github.com/templexxx/xorsimd"
	"golang.org/x/crypto/pbkdf2"
)

var (
	keystreamSalt = []byte("dbridge/keystream")
)

// keyWindow is the number of keystream bytes a record consumes. The
// expanded table is twice that, so every window offset yields a full run.
const keyWindow = 1024

// keystream is the obfuscation mask applied to record payloads. Each
// record starts at the window offset carried in its flag byte, so two
// records with equal plaintext produce equal ciphertext only when they
// draw the same offset.
type keystream struct {
	table []byte
}

func newKeystream(key []byte) *keystream {
	return &keystream{
		table: pbkdf2.Key(key, keystreamSalt, 4, keyWindow*2, sha1.New),
	}
}

// apply XORs buf in place. It is its own inverse for the same offset.
func (ks *keystream) apply(buf []byte, offset byte) {
	window := ks.table[int(offset)%keyWindow:][:keyWindow]
	for len(buf) > 0 {
		n := len(buf)
		if n > keyWindow {
			n = keyWindow
		}
		xorsimd.Bytes(buf[:n], buf[:n], window)
		buf = buf[n:]
	}
}
