package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// fieldSeparator разделяет поля отпечатка, чтобы ("1", "100") и ("11", "00") не совпадали
const fieldSeparator = "\x1f"

// Fingerprint возвращает hex-отпечаток BLAKE2b-256 набора полей
func Fingerprint(fields ...string) string {
	sum := blake2b.Sum256([]byte(strings.Join(fields, fieldSeparator)))
	return hex.EncodeToString(sum[:])
}

// RandomDigits возвращает строку из n случайных цифр, первая не ноль
func RandomDigits(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("некорректная длина: %d", n)
	}
	low := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n-1)), nil)
	span := new(big.Int).Sub(new(big.Int).Mul(low, big.NewInt(10)), low)

	v, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("ошибка генерации случайных цифр: %w", err)
	}
	return v.Add(v, low).String(), nil
}
