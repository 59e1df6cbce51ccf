// Package gitref normalizes user-supplied repository references into a
// canonical host/path form and assembles clone URLs from stored
// credentials. All functions are pure.
package gitref

import (
	"errors"
	"fmt"
	"strings"

	"github.com/berthd/berth/internal/core/domain"
)

// ErrEmptyRef is returned when the raw reference is blank.
var ErrEmptyRef = errors.New("empty repository reference")

// Ref is a canonical repository locator: host/path with no scheme, no
// credentials, and no .git suffix.
type Ref struct {
	// Canonical is the host/path form, e.g. "github.com/acme/app".
	Canonical string

	// Insecure is set when the original reference used plain http://.
	// Clones and pulls for such repositories stay on HTTP.
	Insecure bool
}

// Host returns the host component of the canonical reference.
func (r Ref) Host() string {
	if i := strings.Index(r.Canonical, "/"); i >= 0 {
		return r.Canonical[:i]
	}
	return r.Canonical
}

// Normalize canonicalizes a raw repository reference.
//
// Accepted forms all normalize to the same host/path string:
//
//	https://github.com/acme/app.git
//	http://github.com/acme/app
//	ssh://git@github.com/acme/app
//	git://github.com/acme/app
//	git@github.com:acme/app.git
func Normalize(raw string) (Ref, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Ref{}, ErrEmptyRef
	}

	ref := Ref{}

	switch {
	case strings.HasPrefix(s, "http://"):
		s = strings.TrimPrefix(s, "http://")
		ref.Insecure = true
	case strings.HasPrefix(s, "https://"):
		s = strings.TrimPrefix(s, "https://")
	case strings.HasPrefix(s, "ssh://"):
		s = strings.TrimPrefix(s, "ssh://")
	case strings.HasPrefix(s, "git://"):
		s = strings.TrimPrefix(s, "git://")
	}

	s = strings.TrimSuffix(s, ".git")

	// ssh-style authority: drop everything through the first "@", then
	// the first ":" separates host from path.
	if at := strings.Index(s, "@"); at >= 0 {
		s = s[at+1:]
		s = strings.Replace(s, ":", "/", 1)
	}

	if s == "" {
		return Ref{}, ErrEmptyRef
	}

	ref.Canonical = s
	return ref, nil
}

// ResolveToken picks the stored credential for a canonical reference.
//
// The GitHub host is matched first against a dedicated token; other
// stored tokens are matched by URL prefix in order, first match wins.
// A nil return means the clone proceeds unauthenticated.
func ResolveToken(ref Ref, tokens []domain.Token) *domain.Token {
	for i := range tokens {
		t := &tokens[i]
		if t.Provider == domain.ProviderGitHub && strings.HasPrefix(ref.Canonical, domain.GitHubHost) {
			return t
		}
	}
	for i := range tokens {
		t := &tokens[i]
		if t.Provider == domain.ProviderGitHub {
			continue
		}
		if t.HostPrefix != "" && strings.HasPrefix(ref.Canonical, t.HostPrefix) {
			return t
		}
	}
	return nil
}

// CloneURL reassembles a fetchable URL from the canonical reference and
// an optional credential. Without a credential the URL carries no
// authority segment; an authenticated clone of a private repository
// will then fail at the VCS layer, which is surfaced as a clone error.
func CloneURL(ref Ref, tok *domain.Token) string {
	scheme := "https"
	if ref.Insecure {
		scheme = "http"
	}

	if tok == nil {
		return fmt.Sprintf("%s://%s", scheme, ref.Canonical)
	}

	user := tok.Username
	if tok.Provider == domain.ProviderGitHub && user == "" {
		user = domain.GitHubCloneUser
	}

	return fmt.Sprintf("%s://%s:%s@%s", scheme, user, tok.Token, ref.Canonical)
}
