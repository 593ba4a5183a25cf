package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	pinDigits  = 5
	tourIDLen  = 9
	idAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// NewPIN returns a 5-digit numeric verification code. Every digit is
// drawn uniformly from 0-9 and leading zeros are preserved, so the code
// is always exactly five characters.
func NewPIN() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(100000))
	if err != nil {
		return "", fmt.Errorf("session: generate pin: %w", err)
	}
	return fmt.Sprintf("%0*d", pinDigits, n.Int64()), nil
}

// NewTourID returns a 9-character opaque instance identifier. It is
// what clients and the robot see; the numeric history-row id never
// leaves the storage layer.
func NewTourID() (string, error) {
	buf := make([]byte, tourIDLen)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("session: generate tour id: %w", err)
		}
		buf[i] = idAlphabet[n.Int64()]
	}
	return string(buf), nil
}
