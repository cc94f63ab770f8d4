package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Identity is a resolved, authenticated operator. It lives only as long as
// the provider session that produced it.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// Superior reports whether the identity holds a superior rank.
func (i *Identity) Superior() bool {
	return i != nil && IsSuperior(i.Role)
}

// TopDirector reports whether the identity holds the top rank.
func (i *Identity) TopDirector() bool {
	return i != nil && IsTopDirector(i.Role)
}

// ProviderUser is what the identity provider knows about a signed-in user.
type ProviderUser struct {
	UID   string
	Email string
	// TokenID is the jti of the credential the user signed in with.
	TokenID string
}

// UsernameFromEmail returns the local part of email in lower case.
func UsernameFromEmail(email string) string {
	local, _, _ := strings.Cut(strings.TrimSpace(email), "@")
	return strings.ToLower(local)
}

// DisplayName returns username with its first letter upper-cased.
func DisplayName(username string) string {
	if username == "" {
		return ""
	}
	r, size := utf8.DecodeRuneInString(username)
	return string(unicode.ToUpper(r)) + username[size:]
}
