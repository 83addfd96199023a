package crypto

import (
	"crypto/rand"
	"errors"
	"math/big"
)

const (
	lowerSet  = "abcdefghijkmnopqrstuvwxyz"
	upperSet  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitSet  = "23456789"
	symbolSet = "!#%+-=?@_"

	MinPasswordLength = 12
	MaxPasswordLength = 128
)

var ErrPasswordLength = errors.New("generated password length must be between 12 and 128")

// GeneratePassword returns a random initial password of the given length
// containing at least one character from each class. Visually ambiguous
// characters (0/O, 1/l/I) are left out because operators read these aloud.
func GeneratePassword(length int) (string, error) {
	if length < MinPasswordLength || length > MaxPasswordLength {
		return "", ErrPasswordLength
	}

	sets := []string{lowerSet, upperSet, digitSet, symbolSet}
	pool := lowerSet + upperSet + digitSet + symbolSet

	out := make([]byte, length)
	for i, set := range sets {
		c, err := pick(set)
		if err != nil {
			return "", err
		}
		out[i] = c
	}
	for i := len(sets); i < length; i++ {
		c, err := pick(pool)
		if err != nil {
			return "", err
		}
		out[i] = c
	}

	// Fisher-Yates so the guaranteed characters are not always in front.
	for i := length - 1; i > 0; i-- {
		j, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", err
		}
		out[i], out[j.Int64()] = out[j.Int64()], out[i]
	}

	return string(out), nil
}

func pick(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}
