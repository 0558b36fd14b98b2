package roster

import (
	"crypto/rand"
	"math/big"
)

const (
	classCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	classCodeLength   = 6
)

// GenerateClassCode returns a random 6-character uppercase alphanumeric code.
func GenerateClassCode() string {
	max := big.NewInt(int64(len(classCodeAlphabet)))
	b := make([]byte, classCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = classCodeAlphabet[n.Int64()]
	}
	return string(b)
}
