package merge_test

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"hash"
	"hash/fnv"
	"testing"

	"github.com/open-policy-agent/merge-into-file/pkg/merge"
)

func TestHashOptionsSum(t *testing.T) {
	md5Sum := func(s string) string {
		h := md5.Sum([]byte(s))
		return hex.EncodeToString(h[:])
	}

	cases := []struct {
		note    string
		opts    merge.HashOptions
		content string
		exp     string
		expErr  bool
	}{
		{
			note:    "defaults",
			content: "abc",
			exp:     sum("abc"),
		},
		{
			note:    "md5, full digest",
			opts:    merge.HashOptions{Function: "md5", DigestLength: -1},
			content: "abc",
			exp:     md5Sum("abc"),
		},
		{
			note:    "md5, truncated",
			opts:    merge.HashOptions{Function: "MD5", DigestLength: 8},
			content: "abc",
			exp:     md5Sum("abc")[:8],
		},
		{
			note:    "salt is hashed first",
			opts:    merge.HashOptions{Function: "md5", DigestLength: -1, Salt: "pepper:"},
			content: "abc",
			exp:     md5Sum("pepper:abc"),
		},
		{
			note:    "length beyond digest",
			opts:    merge.HashOptions{Function: "md5", DigestLength: 100},
			content: "abc",
			exp:     md5Sum("abc"),
		},
		{
			note:    "base64url",
			opts:    merge.HashOptions{Function: "md5", Digest: "base64url", DigestLength: -1},
			content: "abc",
			exp:     "kAFQmDzST7DWlj99KOF_cg",
		},
		{
			note:   "unknown function",
			opts:   merge.HashOptions{Function: "md4"},
			expErr: true,
		},
		{
			note:   "unknown digest",
			opts:   merge.HashOptions{Digest: "latin1"},
			expErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			got, err := tc.opts.Sum(tc.content)
			if tc.expErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.exp {
				t.Fatalf("expected %q, got %q", tc.exp, got)
			}
		})
	}
}

func TestHashOptionsCustomFunction(t *testing.T) {
	opts := merge.HashOptions{
		Function: "fnv",
		New: func(function string) (hash.Hash, error) {
			if function != "fnv" {
				return nil, errors.New("unexpected")
			}
			return fnv.New32a(), nil
		},
	}

	got, err := opts.Sum("abc")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 8 {
		t.Fatalf("expected full 32 bit hex digest, got %q", got)
	}
}

func TestHashIsDeterministic(t *testing.T) {
	for _, fn := range []string{"md5", "sha1", "sha256", "sha384", "sha512", "xxhash64"} {
		t.Run(fn, func(t *testing.T) {
			opts := merge.HashOptions{Function: fn}
			a, err := opts.Sum("content")
			if err != nil {
				t.Fatal(err)
			}
			b, _ := opts.Sum("content")
			c, _ := opts.Sum("content!")
			if a != b {
				t.Fatalf("expected stable hash, got %q and %q", a, b)
			}
			if a == c {
				t.Fatalf("expected different hashes for different content")
			}
		})
	}
}

func TestFileName(t *testing.T) {
	custom := func(base, ext, hash string) string {
		return base + "." + hash + ext
	}

	cases := []struct {
		note string
		name string
		fn   merge.FileNameFunc
		exp  string
	}{
		{note: "plain", name: "script.js", exp: "script-H.js"},
		{note: "min", name: "app.min.js", exp: "app-H.min.js"},
		{note: "source map", name: "app.js.map", exp: "app-H.js.map"},
		{note: "min source map", name: "app.min.js.map", exp: "app-H.min.js.map"},
		{note: "directory", name: "static/style.css", exp: "static/style-H.css"},
		{note: "no extension", name: "LICENSE", exp: "LICENSE-H"},
		{note: "custom", name: "style.css", fn: custom, exp: "style.H.css"},
		{note: "custom, last extension only", name: "app.min.js", fn: custom, exp: "app.min.H.js"},
		{note: "custom, no extension", name: "LICENSE", fn: custom, exp: "LICENSE.H"},
	}

	for _, tc := range cases {
		t.Run(tc.note, func(t *testing.T) {
			if got := merge.FileName(tc.name, "H", tc.fn); got != tc.exp {
				t.Fatalf("expected %q, got %q", tc.exp, got)
			}
		})
	}
}
