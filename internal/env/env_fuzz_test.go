package env

import (
	"strings"
	"testing"
)

// FuzzBuild checks that composed output is always well formed and that
// inputs without '$' never grow placeholders.
func FuzzBuild(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"), []byte("C=${B}-y"))
	f.Add([]byte("FOO=bar"), []byte("FOO=${FOO}"))
	f.Add([]byte("X=$Y"), []byte("Y=${X}"))
	f.Add([]byte("P=${unterminated"), []byte("=novalue"))

	f.Fuzz(func(t *testing.T, baseB []byte, pairsB []byte) {
		base := splitNZ(string(baseB))
		pairs := splitNZ(string(pairsB))
		if len(base) > 20 {
			base = base[:20]
		}
		if len(pairs) > 20 {
			pairs = pairs[:20]
		}

		out := New().Pairs(base).Pairs(pairs).Build()
		for _, kv := range out {
			if !strings.Contains(kv, "=") || strings.HasPrefix(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
		}
		for _, s := range append(append([]string{}, base...), pairs...) {
			if strings.ContainsRune(s, '$') {
				return
			}
		}
		for _, kv := range out {
			if strings.Contains(kv, "${") {
				t.Fatalf("unexpected placeholder: %q", kv)
			}
		}
	})
}

func splitNZ(s string) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			out = append(out, ln)
		}
	}
	return out
}
