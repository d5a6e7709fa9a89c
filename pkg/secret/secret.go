// Package secret шифрует чувствительные настройки перед сохранением.
package secret

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	prefix    = "enc:v1:"
	nonceSize = 24
	keySize   = 32
)

// salt фиксирован: ключ должен восстанавливаться из одной парольной фразы
var salt = []byte("lmscenter/settings/v1")

// ErrDecrypt возвращается, если значение не удалось расшифровать
var ErrDecrypt = errors.New("failed to decrypt value")

// Box шифрует и расшифровывает строки ключом, выведенным из парольной фразы
type Box struct {
	key     [keySize]byte
	enabled bool
}

// New создает Box. Пустая фраза отключает шифрование.
func New(passphrase string) (*Box, error) {
	box := &Box{}
	if passphrase == "" {
		return box, nil
	}

	derived, err := scrypt.Key([]byte(passphrase), salt, 1<<15, 8, 1, keySize)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	copy(box.key[:], derived)
	box.enabled = true
	return box, nil
}

// Enabled сообщает, включено ли шифрование
func (b *Box) Enabled() bool {
	return b != nil && b.enabled
}

// Seal шифрует значение. Без ключа возвращает его как есть.
func (b *Box) Seal(plain string) (string, error) {
	if !b.Enabled() || plain == "" {
		return plain, nil
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, &b.key)
	return prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open расшифровывает значение. Значения без префикса считаются открытыми.
func (b *Box) Open(value string) (string, error) {
	if !strings.HasPrefix(value, prefix) {
		return value, nil
	}
	if !b.Enabled() {
		return "", fmt.Errorf("%w: no key configured", ErrDecrypt)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	if len(raw) < nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%w: value too short", ErrDecrypt)
	}

	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])

	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &b.key)
	if !ok {
		return "", ErrDecrypt
	}
	return string(plain), nil
}
