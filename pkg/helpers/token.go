package helpers

import (
	"crypto/rand"
)

const (
	tokenLength   = 25
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// GenSubscriptionToken returns a 25-character case-sensitive alphanumeric
// token for confirmation links, roughly 148 bits of entropy. Bytes outside
// the largest multiple of the alphabet size are discarded so every
// character is equally likely.
func GenSubscriptionToken() (string, error) {
	// 248 is the largest multiple of 62 that fits in a byte
	const limit = byte(len(tokenAlphabet) * (256 / len(tokenAlphabet)))

	out := make([]byte, 0, tokenLength)
	buf := make([]byte, 2*tokenLength)
	for {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == tokenLength {
				return string(out), nil
			}
		}
	}
}
