// Пакет credential — генерация анонимных учётных данных для голосования.
//
// Credential — 256 бит из криптографического ГСЧ в hex (64 символа).
// Хранится только SHA-256 дайджест; открытое значение возвращается
// участнику один раз и нигде не сохраняется.
package credential

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// Bytes — размер случайного значения в байтах.
	Bytes = 32
	// Length — длина credential и дайджеста в hex-символах.
	Length = Bytes * 2
)

// ErrMalformed — строка не похожа на credential или дайджест.
var ErrMalformed = errors.New("некорректный формат учётных данных")

// Issued — пара «открытое значение + дайджест».
type Issued struct {
	// Plaintext отдаётся участнику и не сохраняется.
	Plaintext string
	// Hash — SHA-256 от Plaintext в hex.
	Hash string
}

// New генерирует новый credential.
func New() (Issued, error) {
	buf := make([]byte, Bytes)
	if _, err := rand.Read(buf); err != nil {
		return Issued{}, fmt.Errorf("ошибка генерации credential: %w", err)
	}
	plain := hex.EncodeToString(buf)
	return Issued{Plaintext: plain, Hash: Digest(plain)}, nil
}

// NewBatch генерирует n credentials.
func NewBatch(n int) ([]Issued, error) {
	out := make([]Issued, 0, n)
	for i := 0; i < n; i++ {
		c, err := New()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// Digest вычисляет дайджест credential.
func Digest(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Parse проверяет формат credential, полученного от клиента,
// и возвращает его дайджест.
func Parse(plaintext string) (string, error) {
	if !IsHex64(plaintext) {
		return "", ErrMalformed
	}
	return Digest(plaintext), nil
}

// Matches сравнивает credential с дайджестом за постоянное время.
func Matches(plaintext, hash string) bool {
	return subtle.ConstantTimeCompare([]byte(Digest(plaintext)), []byte(hash)) == 1
}

// IsHex64 проверяет, что строка — 64 символа lowercase hex.
func IsHex64(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
