package engine

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
	"lukechampine.com/blake3"

	"lockstep-server/pkg/api"
	"lockstep-server/pkg/utils"
)

// newChallenge - свежая соль для SERVER_NEED_PASSWORD.
func newChallenge() []byte {
	return utils.RandomBytes(api.SaltLen)
}

// PasswordDigest - ответ клиента на вызов: blake3(соль || пароль).
// Пароль не уходит в сеть, а перехваченный ответ не подходит к новой соли.
func PasswordDigest(salt []byte, password string) []byte {
	h := blake3.New(api.DigestLen, nil)
	h.Write(salt)
	h.Write([]byte(password))
	return h.Sum(nil)
}

// checkPasswordDigest сравнивает ответ с ожидаемым за постоянное время.
func checkPasswordDigest(salt []byte, password string, digest []byte) bool {
	return subtle.ConstantTimeCompare(PasswordDigest(salt, password), digest) == 1
}

// HashPassword готовит bcrypt-хеш для rcon_password_hash / admin_password_hash.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPasswordHash сверяет пароль с bcrypt-хешем. Пустой хеш не пускает никого.
func CheckPasswordHash(hash, password string) error {
	if hash == "" {
		return ErrAuthFailed
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrAuthFailed
	}
	return nil
}
