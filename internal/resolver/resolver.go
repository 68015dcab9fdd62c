// Package resolver turns free-text athlete names into canonical identities.
// Identity equality is the sole basis for duplicate detection in the game
// core, so all matching policy (casing, trimming, fuzziness) lives here.
package resolver

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Identity is the resolver's notion of one real-world athlete.
type Identity struct {
	ID            string // stable entity key, e.g. a Wikidata Q-ID
	CanonicalName string // official display name, e.g. "Lionel Messi"
}

// Resolution is the outcome of a resolve call. Exactly one of the following
// holds: Match is set (single identity), Candidates has two or more entries
// (ambiguous, a hint is needed), or both are empty (unknown name).
// Transport failures and timeouts are reported as errors instead.
type Resolution struct {
	Match      *Identity
	Candidates []string
}

// Ambiguous reports whether the name matched more than one identity.
func (r *Resolution) Ambiguous() bool {
	return r.Match == nil && len(r.Candidates) > 1
}

// Unknown reports whether no identity could be established.
func (r *Resolution) Unknown() bool {
	return r.Match == nil && len(r.Candidates) == 0
}

// Resolver is the external name-resolution boundary.
type Resolver interface {
	Resolve(ctx context.Context, name, sportQID, hint string) (*Resolution, error)
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName lowercases, collapses whitespace and strips diacritics so
// that "José  Mourinho" and "jose mourinho" compare equal.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.Join(strings.Fields(name), " ")
	if folded, _, err := transform.String(foldTransformer, name); err == nil {
		name = folded
	}
	return name
}

// namesSimilar guards against a submission resolving to an entity whose
// canonical name has nothing to do with the input (e.g. a generic first
// name landing on an arbitrary search hit). Containment covers nicknames
// and bare surnames: "messi" vs "lionel messi".
func namesSimilar(submitted, canonical string) bool {
	s, c := NormalizeName(submitted), NormalizeName(canonical)
	if s == c || strings.Contains(c, s) || strings.Contains(s, c) {
		return true
	}
	// Any shared name token counts: "cristiano" vs "cristiano ronaldo".
	cTokens := make(map[string]bool)
	for _, tok := range strings.Fields(c) {
		cTokens[tok] = true
	}
	for _, tok := range strings.Fields(s) {
		if cTokens[tok] {
			return true
		}
	}
	return false
}
