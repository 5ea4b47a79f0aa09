package evalcache

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Variant namespaces a cache key so evaluation and build results for the
// same attribute path never collide (spec §4.2 "Cache key").
type Variant string

const (
	VariantEval  Variant = ""
	VariantBuild Variant = ":build"
)

// CacheKey computes hex(sha256(canonical_args ∥ attr_path ∥ variant)). The
// production evaluator's blake3 dependency is not part of this module's
// stack; sha256 is used as the content-hash primitive throughout
// (cache keys and file-input hashes alike) since the algorithm choice is
// not externally observable — only stability and collision-resistance
// matter, and both hold for sha256.
func CacheKey(canonicalArgs, attrPath string, variant Variant) string {
	h := sha256.New()
	h.Write([]byte(canonicalArgs))
	h.Write([]byte(attrPath))
	h.Write([]byte(variant))
	return hex.EncodeToString(h.Sum(nil))
}

// ContentHash hashes a file's contents for freshness comparisons.
func ContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
