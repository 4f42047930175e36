//go:build fuzz

package keys

import (
	"testing"
)

func FuzzValidate(f *testing.F) {
	// Seed corpus: accepted shapes, boundary lengths, and hostile inputs

	// Derived and externally supplied keys
	f.Add("a3f9c2e1b4d60587")
	f.Add("9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08")
	f.Add("Doc_Cache-Entry_01")

	// Boundaries
	f.Add("")
	f.Add("k")
	f.Add(string(make([]byte, MaxLength)))
	f.Add(string(make([]byte, MaxLength+1)))

	// Path escapes and control characters
	f.Add("../escape")
	f.Add("..\\escape")
	f.Add("/etc/passwd")
	f.Add("a/b/c")
	f.Add(".")
	f.Add("..")
	f.Add("key\x00null")
	f.Add("key\nnewline")

	// Unicode
	f.Add("clé")
	f.Add("ключ")
	f.Add("🔑")

	f.Fuzz(func(t *testing.T, key string) {
		err := Validate(key)

		// Accepted keys must be non-empty, bounded and contain no byte
		// that could alter path resolution.
		if err == nil {
			if len(key) == 0 || len(key) > MaxLength {
				t.Errorf("accepted key with invalid length %d", len(key))
			}
			for i := 0; i < len(key); i++ {
				c := key[i]
				if c == '/' || c == '\\' || c == '.' || c < 0x20 || c >= 0x80 {
					t.Errorf("accepted key with unsafe byte %#x at %d", c, i)
				}
			}
		}
	})
}

func FuzzDerive(f *testing.F) {
	f.Add("path", "/data/doc.pdf")
	f.Add("", "")
	f.Add("param\x00", "value\xff")
	f.Add("nested", `{"a":1}`)

	f.Fuzz(func(t *testing.T, name, value string) {
		// Derivation must never panic and always yield a valid key for
		// string parameters.
		key, err := Derive(map[string]any{name: value})
		if err != nil {
			return
		}
		if verr := Validate(key); verr != nil {
			t.Errorf("derived key %q failed validation: %v", key, verr)
		}

		// Same input, same key.
		again, err := Derive(map[string]any{name: value})
		if err != nil {
			t.Errorf("second derivation failed: %v", err)
		}
		if key != again {
			t.Errorf("derivation not deterministic: %q vs %q", key, again)
		}
	})
}
