// Package expand implements the Expansion Engine (C2): turning textual
// rvalues containing $(...)/${...}/@(...) references into concrete values,
// including the naked-reference and data-or-list-reference rules.
package expand

import "strings"

// reference is one `$(...)`/`${...}`/`@(...)` span found in a scalar.
type reference struct {
	start, end int    // byte offsets of the whole "$(...)"  span, end exclusive
	inner      string // the text between the delimiters, itself possibly containing references
	sigil      byte   // '$' or '@', the leading character that opened the reference
	open       byte   // '(' or '{', for verbatim reconstruction of an unresolved reference
	naked      bool   // true if the sigil/delimiter pair is @( )/${ } rather than $( )
}

// findReferences scans s left to right for well-formed, balanced
// `$(...)`, `${...}`, and `@(...)` spans. Nesting is balanced by counting
// delimiters of the same kind the reference opened with.
func findReferences(s string) []reference {
	var refs []reference
	i := 0
	for i < len(s) {
		if s[i] == '$' || s[i] == '@' {
			sigil := s[i]
			if i+1 < len(s) && (s[i+1] == '(' || s[i+1] == '{') {
				open := s[i+1]
				close := byte(')')
				if open == '{' {
					close = '}'
				}
				depth := 1
				j := i + 2
				for j < len(s) && depth > 0 {
					switch s[j] {
					case open:
						depth++
					case close:
						depth--
					}
					j++
				}
				if depth == 0 {
					refs = append(refs, reference{
						start: i,
						end:   j,
						inner: s[i+2 : j-1],
						sigil: sigil,
						open:  open,
						naked: sigil == '@' || open == '{',
					})
					i = j
					continue
				}
			}
		}
		i++
	}
	return refs
}

// ReferencedNames returns the (unexpanded) names of every top-level
// reference found in s — used by the iteration engine (pkg/iterate) to
// discover candidate wheel axes before expansion runs.
func ReferencedNames(s string) []string {
	refs := findReferences(s)
	names := make([]string, 0, len(refs))
	for _, r := range refs {
		names = append(names, r.inner)
	}
	return names
}

// IsNaked reports whether rawScalar is exactly one `@(name)`/`${name}`
// reference spanning the whole string — the naked-reference rule that
// causes a list rvalue to be inlined rather than stringified.
func IsNaked(rawScalar string) (name string, ok bool) {
	refs := findReferences(rawScalar)
	if len(refs) != 1 {
		return "", false
	}
	r := refs[0]
	if !r.naked {
		return "", false // whole string is a bare $(name), not @(name)/${name}
	}
	if r.start != 0 || r.end != len(rawScalar) {
		return "", false
	}
	if strings.ContainsAny(r.inner, "$@") {
		return "", false // contains nested references; not a bare name
	}
	return r.inner, true
}
