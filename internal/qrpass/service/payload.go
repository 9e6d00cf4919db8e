package service

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// PayloadAlphabet is ASCII letters, digits and punctuation: 94 symbols, so
// a 12-symbol payload carries about 78 bits.
const PayloadAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789" +
	"!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// DefaultPayloadLength is the number of symbols per payload.
const DefaultPayloadLength = 12

// PayloadGenerator returns a fresh random payload.
type PayloadGenerator func() (string, error)

// RandomPayload draws n symbols uniformly from PayloadAlphabet using
// crypto/rand.
func RandomPayload(n int) (string, error) {
	if n < DefaultPayloadLength {
		n = DefaultPayloadLength
	}
	max := big.NewInt(int64(len(PayloadAlphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("random payload: %w", err)
		}
		out[i] = PayloadAlphabet[idx.Int64()]
	}
	return string(out), nil
}

func defaultGenerator() (string, error) { return RandomPayload(DefaultPayloadLength) }
