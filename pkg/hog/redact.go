package hog

import (
	"sort"
	"strings"
)

// Mask replaces secret material in logs and errors.
const Mask = "***"

// Secrets shorter than this are not replaced literally; masking them would mangle unrelated text.
const minSecretLength = 3

// Redactor masks known secret strings.
type Redactor struct {
	secrets  []string
	replacer *strings.Replacer
}

func NewRedactor(secrets ...string) *Redactor {
	seen := map[string]bool{}
	var kept []string
	for _, s := range secrets {
		if len(s) < minSecretLength || seen[s] {
			continue
		}
		seen[s] = true
		kept = append(kept, s)
	}
	// Longest first so that a secret containing another one is replaced whole.
	sort.Slice(kept, func(i, j int) bool {
		if len(kept[i]) != len(kept[j]) {
			return len(kept[i]) > len(kept[j])
		}
		return kept[i] < kept[j]
	})
	pairs := make([]string, 0, len(kept)*2)
	for _, s := range kept {
		pairs = append(pairs, s, Mask)
	}
	return &Redactor{secrets: kept, replacer: strings.NewReplacer(pairs...)}
}

// With returns a redactor that also masks the given secrets.
func (r *Redactor) With(secrets ...string) *Redactor {
	if r == nil {
		return NewRedactor(secrets...)
	}
	return NewRedactor(append(append([]string{}, r.secrets...), secrets...)...)
}

// Redact replaces every known secret in s.
func (r *Redactor) Redact(s string) string {
	if r == nil || len(r.secrets) == 0 {
		return s
	}
	return r.replacer.Replace(s)
}

// mask is applied to strings known to carry secret data: known secrets are replaced
// in place, and if none is found (an encoded secret, for example) the whole string goes.
func (r *Redactor) mask(s string) string {
	if s == "" {
		return s
	}
	red := r.Redact(s)
	if red == s {
		return Mask
	}
	return red
}
