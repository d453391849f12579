package usecase

import "math/rand"

// shareCodeAlphabet is alphanumeric minus the visually ambiguous characters
// (0/O/o, I/l/1/L). Share codes are read aloud and retyped by hand; an
// alphabet a user cannot mistranscribe matters more than entropy density.
const shareCodeAlphabet = "abcdefghijkmnpqrstuvwxyzABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateShareID returns a random share code of the given length.
func GenerateShareID(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = shareCodeAlphabet[rand.Intn(len(shareCodeAlphabet))]
	}
	return string(b)
}
