package trellis

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

type versionState int

const (
	versionUnspecified versionState = iota
	versionExists
	versionNonExisting
)

// Version is an optimistic-concurrency token derived from entity state, not
// stored as a plain column. For content attributes the token is a hash over
// the content id and mimetype. A Version is in one of three states:
// unspecified (zero value), exactly a token, or non-existing (the entity has
// no versioned state, e.g. no content).
type Version struct {
	state versionState
	token string
	weak  bool
}

// ExactVersion returns a strong version with the given token.
func ExactVersion(token string) Version {
	return Version{state: versionExists, token: token}
}

// WeakVersion returns a weak version with the given token. Weak versions
// never satisfy strong (If-Match) preconditions.
func WeakVersion(token string) Version {
	return Version{state: versionExists, token: token, weak: true}
}

// NonExistingVersion returns the version of absent state.
func NonExistingVersion() Version {
	return Version{state: versionNonExisting}
}

// Exists reports whether the version denotes existing state.
func (v Version) Exists() bool { return v.state == versionExists }

// Token returns the version token; empty unless Exists.
func (v Version) Token() string { return v.token }

// Weak reports whether the version is weak.
func (v Version) Weak() bool { return v.weak }

func (v Version) String() string {
	switch v.state {
	case versionExists:
		if v.weak {
			return `W/"` + v.token + `"`
		}
		return `"` + v.token + `"`
	case versionNonExisting:
		return "<non-existing>"
	default:
		return "<unspecified>"
	}
}

// ComputeVersion derives the strong version of a content attribute from its
// content id and mimetype. The token is stable across processes: equal
// inputs always produce the same version.
func ComputeVersion(contentID, mimetype string) Version {
	h := sha256.New()
	h.Write([]byte(contentID))
	h.Write([]byte{0})
	h.Write([]byte(mimetype))
	return ExactVersion(hex.EncodeToString(h.Sum(nil)))
}

type constraintKind int

const (
	constraintAny constraintKind = iota
	constraintIfMatch
	constraintIfNoneMatch
)

// VersionConstraint is a conditional-request precondition evaluated against
// a Version with HTTP If-Match/If-None-Match semantics. The zero value is
// AnyVersion (always satisfied).
type VersionConstraint struct {
	kind   constraintKind
	tokens []string
}

// AnyVersion returns the constraint that every version satisfies.
func AnyVersion() VersionConstraint {
	return VersionConstraint{}
}

// IfMatch returns a strong precondition: satisfied when the current version
// exists and strongly matches one of the tokens. The token "*" matches any
// existing version. Weak versions never satisfy IfMatch.
func IfMatch(tokens ...string) VersionConstraint {
	return VersionConstraint{kind: constraintIfMatch, tokens: tokens}
}

// IfNoneMatch returns the negative precondition: satisfied when the current
// version weakly matches none of the tokens. The token "*" requires the
// state to not exist.
func IfNoneMatch(tokens ...string) VersionConstraint {
	return VersionConstraint{kind: constraintIfNoneMatch, tokens: tokens}
}

// SatisfiedBy evaluates the constraint against a version.
func (c VersionConstraint) SatisfiedBy(v Version) bool {
	switch c.kind {
	case constraintAny:
		return true
	case constraintIfMatch:
		if !v.Exists() || v.Weak() {
			// Weak comparison never matches for strong preconditions.
			return false
		}
		for _, t := range c.tokens {
			if t == "*" || t == v.Token() {
				return true
			}
		}
		return false
	case constraintIfNoneMatch:
		for _, t := range c.tokens {
			if t == "*" {
				if v.Exists() {
					return false
				}
				continue
			}
			// Weak comparison: the weak flag is ignored on both sides.
			if v.Exists() && t == v.Token() {
				return false
			}
		}
		return true
	}
	return false
}

func (c VersionConstraint) String() string {
	switch c.kind {
	case constraintIfMatch:
		return "if-match(" + strings.Join(c.tokens, ", ") + ")"
	case constraintIfNoneMatch:
		return "if-none-match(" + strings.Join(c.tokens, ", ") + ")"
	default:
		return "any"
	}
}
