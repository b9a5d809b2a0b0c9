// Package env composes the environment handed to the tagger worker.
package env

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/subosito/gotenv"
)

type Var map[string]string

// Builder layers variables: a base, then .env files, then explicit pairs.
// Later layers override earlier ones.
type Builder struct {
	vars      Var
	inherited map[string]bool // OS values, copied by Build without expansion
}

// New returns an empty Builder.
func New() *Builder { return &Builder{vars: make(Var), inherited: make(map[string]bool)} }

// FromOS returns a Builder seeded with the current process environment.
func FromOS() *Builder {
	b := New()
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			b.vars[kv[:i]] = kv[i+1:]
			b.inherited[kv[:i]] = true
		}
	}
	return b
}

// Set sets K=V. Empty keys are ignored.
func (b *Builder) Set(k, v string) *Builder {
	if k != "" {
		b.vars[k] = v
		delete(b.inherited, k)
	}
	return b
}

// Pairs applies "K=V" entries; malformed entries are skipped.
func (b *Builder) Pairs(kvs []string) *Builder {
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			b.Set(kv[:i], kv[i+1:])
		}
	}
	return b
}

// File applies a .env file parsed with dotenv rules: KEY=VALUE lines,
// # comments, single or double quotes and an optional export prefix.
// References in the file are resolved by the parser against earlier lines of
// the same file and the OS environment.
func (b *Builder) File(path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read env file: %w", err)
	}
	defer func() { _ = f.Close() }()
	vars, err := gotenv.StrictParse(f)
	if err != nil {
		return fmt.Errorf("parse env file %s: %w", path, err)
	}
	for k, v := range vars {
		b.Set(k, v)
	}
	return nil
}

// Lookup returns the raw (unexpanded) value of k.
func (b *Builder) Lookup(k string) (string, bool) {
	v, ok := b.vars[k]
	return v, ok
}

// Build returns the sorted "K=V" list. ${VAR} references in file and pair
// values are expanded once against the composed set; inherited OS values are
// copied as they are. Unknown references are left as they are. The result is
// never nil, so an empty Builder yields an empty environment.
func (b *Builder) Build() []string {
	out := make([]string, 0, len(b.vars))
	for k, v := range b.vars {
		if !b.inherited[k] {
			v = expand(v, b.vars)
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func expand(s string, m Var) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var sb strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			sb.WriteString(s)
			return sb.String()
		}
		sb.WriteString(s[:i])
		name := s[i+2 : i+j]
		if v, ok := m[name]; ok {
			sb.WriteString(v)
		} else {
			sb.WriteString(s[i : i+j+1])
		}
		s = s[i+j+1:]
	}
}

// Compose builds the worker environment: the OS environment when useOS is
// set, then files in order, then pairs.
func Compose(useOS bool, files, pairs []string) ([]string, error) {
	b := New()
	if useOS {
		b = FromOS()
	}
	for _, f := range files {
		if err := b.File(f); err != nil {
			return nil, err
		}
	}
	b.Pairs(pairs)
	return b.Build(), nil
}
