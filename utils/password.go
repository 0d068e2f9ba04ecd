package utils

import (
	"crypto/rand"
	"math/big"

	"golang.org/x/crypto/bcrypt"
)

const (
	passwordUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	passwordLowercase = "abcdefghijklmnopqrstuvwxyz"
	passwordDigits    = "0123456789"
	passwordSymbols   = "!@#$%^&*-_=+?"

	// TempPasswordLength is the length of generated temporary passwords.
	TempPasswordLength = 12
)

var passwordAlphabet = passwordUppercase + passwordLowercase + passwordDigits + passwordSymbols

// GenerateTempPassword returns a random temporary password of the given
// length containing at least one uppercase letter, one lowercase letter,
// one digit and one symbol. The result is shuffled so the guaranteed
// characters do not sit at fixed positions.
func GenerateTempPassword(length int) string {
	if length < 4 {
		length = TempPasswordLength
	}

	chars := make([]byte, 0, length)
	chars = append(chars,
		passwordUppercase[randomIndex(len(passwordUppercase))],
		passwordLowercase[randomIndex(len(passwordLowercase))],
		passwordDigits[randomIndex(len(passwordDigits))],
		passwordSymbols[randomIndex(len(passwordSymbols))],
	)
	for len(chars) < length {
		chars = append(chars, passwordAlphabet[randomIndex(len(passwordAlphabet))])
	}

	// Fisher-Yates shuffle
	for i := len(chars) - 1; i > 0; i-- {
		j := randomIndex(i + 1)
		chars[i], chars[j] = chars[j], chars[i]
	}

	return string(chars)
}

func randomIndex(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is broken
		panic(err)
	}
	return int(v.Int64())
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPasswordHash compares password with hash
func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
