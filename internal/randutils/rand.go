package randutils

import (
	"crypto/rand"

	"github.com/google/uuid"
)

const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func RandString(n int) string {
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	if err != nil {
		panic(err)
	}
	for i, b := range buf {
		buf[i] = charset[b%byte(len(charset))]
	}
	return string(buf)
}

// UUID returns a random (version 4) UUID string.
func UUID() string { return uuid.NewString() }
