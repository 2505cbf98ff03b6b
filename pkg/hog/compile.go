package hog

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
)

// Program is a parsed script. It holds no execution state and is safe to share.
type Program struct {
	source string
	hash   string
	body   []stmt
	inputs []string
	// dynamic is the first read of inputs whose key is not a literal.
	dynamic *Pos
}

// Compile parses source into a Program.
func Compile(source string) (*Program, error) {
	body, err := parseProgram(source)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256([]byte(source))
	p := &Program{
		source: source,
		hash:   hex.EncodeToString(sum[:]),
		body:   body,
	}
	p.inputs, p.dynamic = referencedKeys(body, "inputs")
	return p, nil
}

// MustCompile is like Compile but panics on error. Intended for static scripts and tests.
func MustCompile(source string) *Program {
	p, err := Compile(source)
	if err != nil {
		panic(err)
	}
	return p
}

func (p *Program) Source() string {
	return p.source
}

// Hash is the hex SHA-256 of the source.
func (p *Program) Hash() string {
	return p.hash
}

// ReferencedInputs lists, sorted, every key read as inputs.<key> or inputs['key'].
func (p *Program) ReferencedInputs() []string {
	out := make([]string, len(p.inputs))
	copy(out, p.inputs)
	return out
}

// DynamicInputs reports the position of the first read of inputs that
// ReferencedInputs cannot see: an alias such as `let i := inputs`, a computed key
// such as inputs[k], or iteration over inputs itself.
func (p *Program) DynamicInputs() (Pos, bool) {
	if p.dynamic == nil {
		return Pos{}, false
	}
	return *p.dynamic, true
}

// referencedKeys collects literal keys read from root. Any other use of root is
// returned as dynamic.
func referencedKeys(body []stmt, root string) ([]string, *Pos) {
	seen := map[string]bool{}
	static := map[*identExpr]bool{}
	var dynamic *Pos
	for _, s := range body {
		walk(s, func(n node) {
			switch n := n.(type) {
			case *memberExpr:
				if id, ok := n.obj.(*identExpr); ok && id.name == root {
					seen[n.name] = true
					static[id] = true
				}
			case *indexExpr:
				id, ok := n.obj.(*identExpr)
				if !ok || id.name != root {
					return
				}
				if lit, ok := n.index.(*literalExpr); ok && lit.val.Kind() == KindString {
					seen[lit.val.Str()] = true
					static[id] = true
				}
			case *identExpr:
				// parents are visited first, so static uses are already marked
				if n.name == root && !static[n] && dynamic == nil {
					pos := n.pos
					dynamic = &pos
				}
			}
		})
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, dynamic
}
