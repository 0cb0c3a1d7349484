package checksum

import (
	"bytes"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// PayloadHash: SHA256 компактного JSON. Одинаковый payload с разными
// пробелами даёт одинаковый хеш.
func (g *Generator) PayloadHash(payload []byte) (string, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, payload); err != nil {
		return "", fmt.Errorf("compact payload: %w", err)
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// NewHash подбирает алгоритм по длине hex-строки: 32: md5, 40: sha1, 64: sha256.
// Для пустой или нераспознанной строки возвращает nil.
func (g *Generator) NewHash(declared string) hash.Hash {
	declared = normalizeDigest(declared)
	if _, err := hex.DecodeString(declared); err != nil {
		return nil
	}
	switch len(declared) {
	case 32:
		return md5.New()
	case 40:
		return sha1.New()
	case 64:
		return sha256.New()
	}
	return nil
}

// Matches сравнивает посчитанный хеш с заявленным
func (g *Generator) Matches(h hash.Hash, declared string) bool {
	return hex.EncodeToString(h.Sum(nil)) == normalizeDigest(declared)
}

// VerifyFile проверяет файл против заявленного хеша. Нераспознанный формат
// хеша не считается ошибкой: (true, nil).
func (g *Generator) VerifyFile(path, declared string) (bool, error) {
	h := g.NewHash(declared)
	if h == nil {
		return true, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(h, file); err != nil {
		return false, err
	}
	return g.Matches(h, declared), nil
}

func normalizeDigest(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	// "sha256:abcd..." / "md5:..."
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}
	return s
}
