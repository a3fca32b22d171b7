// Package canonhash computes content-addressable SHA-256 digests over raw bytes
// and over canonical JSON.
package canonhash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"strings"
)

const prefix = "sha256:"

// Canonicalize renders v as canonical JSON: object keys sorted, no HTML
// escaping, no insignificant whitespace, numbers kept as written.
func Canonicalize(v any) ([]byte, error) {
	first, err := encode(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(first))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return encode(generic)
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// SumObject hashes the canonical JSON form of v and returns the hex digest
// together with the exact bytes that were hashed.
func SumObject(v any) (string, []byte, error) {
	b, err := Canonicalize(v)
	if err != nil {
		return "", nil, err
	}
	return SumBytes(b), b, nil
}

// SumBytes returns the hex SHA-256 of b.
func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// SumReader streams r through SHA-256.
func SumReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WithPrefix renders a hex digest in "sha256:<hex>" form.
func WithPrefix(hexDigest string) string {
	if strings.HasPrefix(hexDigest, prefix) {
		return hexDigest
	}
	return prefix + hexDigest
}

// StripPrefix drops a leading "sha256:" if present.
func StripPrefix(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), prefix)
}

// Equal compares two digests ignoring the optional prefix and hex case.
func Equal(a, b string) bool {
	a, b = StripPrefix(a), StripPrefix(b)
	if a == "" || b == "" {
		return false
	}
	return strings.EqualFold(a, b)
}
