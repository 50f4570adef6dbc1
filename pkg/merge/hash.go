package merge

import (
	"cmp"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base32"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultHashFunction     = "sha256"
	DefaultHashDigest       = "hex"
	DefaultHashDigestLength = 20
)

// HashOptions is the build-level content hash configuration.
type HashOptions struct {
	Function     string // md5, sha1, sha256 (default), sha384, sha512, xxhash64
	Digest       string // hex (default), base32, base64, base64url
	DigestLength int    // 0 means DefaultHashDigestLength, negative keeps the full digest
	Salt         string // written before the content

	// New, if set, replaces the built-in hash function lookup.
	New func(function string) (hash.Hash, error)
}

// Sum returns the (truncated) digest of content.
func (o HashOptions) Sum(content string) (string, error) {
	h, err := o.newHash()
	if err != nil {
		return "", err
	}

	if o.Salt != "" {
		_, _ = io.WriteString(h, o.Salt)
	}
	_, _ = io.WriteString(h, content)

	sum, err := encodeDigest(cmp.Or(o.Digest, DefaultHashDigest), h.Sum(nil))
	if err != nil {
		return "", err
	}

	n := o.DigestLength
	if n == 0 {
		n = DefaultHashDigestLength
	}
	if n > 0 && n < len(sum) {
		sum = sum[:n]
	}
	return sum, nil
}

func (o HashOptions) newHash() (hash.Hash, error) {
	function := cmp.Or(o.Function, DefaultHashFunction)
	if o.New != nil {
		return o.New(function)
	}

	switch strings.ToLower(function) {
	case "md5":
		return md5.New(), nil
	case "sha1":
		return sha1.New(), nil
	case "sha256":
		return sha256.New(), nil
	case "sha384":
		return sha512.New384(), nil
	case "sha512":
		return sha512.New(), nil
	case "xxhash64":
		return xxhash.New(), nil
	}
	return nil, fmt.Errorf("unsupported hash function %q", function)
}

func encodeDigest(digest string, sum []byte) (string, error) {
	switch strings.ToLower(digest) {
	case "hex":
		return hex.EncodeToString(sum), nil
	case "base64":
		return base64.StdEncoding.EncodeToString(sum), nil
	case "base64url":
		return base64.RawURLEncoding.EncodeToString(sum), nil
	case "base32":
		return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum)), nil
	}
	return "", fmt.Errorf("unsupported hash digest %q", digest)
}

// FileNameFunc derives the emitted name from the output name split into
// base and extension (with its leading dot) plus the content hash.
type FileNameFunc func(base, ext, hash string) string

var (
	extPattern    = regexp.MustCompile(`\.[^.]*$`)
	suffixPattern = regexp.MustCompile(`(\.min)?\.\w+(\.map)?$`)
	mapPattern    = regexp.MustCompile(`\.map$`)
	wordExtension = regexp.MustCompile(`\.\w+$`)
)

// FileName returns the emitted name for output name with the given hash.
// With fn, the result of fn is used verbatim. Otherwise "-<hash>" lands in
// front of the extension, keeping ".min" and ".map" suffixes after it:
//
//	app.js     -> app-<hash>.js
//	app.min.js -> app-<hash>.min.js
//	app.js.map -> app-<hash>.js.map
func FileName(name, hash string, fn FileNameFunc) string {
	if fn != nil {
		ext := extPattern.FindString(name)
		return fn(strings.TrimSuffix(name, ext), ext, hash)
	}

	if loc := suffixPattern.FindStringIndex(name); loc != nil {
		return name[:loc[0]] + "-" + hash + name[loc[0]:]
	}
	return name + "-" + hash
}

// unitIdentity strips a trailing ".map" and then the extension.
func unitIdentity(name string) string {
	return wordExtension.ReplaceAllString(mapPattern.ReplaceAllString(name, ""), "")
}
