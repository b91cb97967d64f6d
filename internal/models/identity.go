package models

// IdentityKind is the authentication level of the current session.
//
// Transitions happen only inside the session manager:
//
//	Unauthenticated -> Anonymous | Federated  (startup resolution)
//	Anonymous       -> Federated              (explicit sign-in)
//	Federated       -> Anonymous              (sign-out; anonymous is the floor)
type IdentityKind string

const (
	IdentityUnauthenticated IdentityKind = "unauthenticated"
	IdentityAnonymous       IdentityKind = "anonymous"
	IdentityFederated       IdentityKind = "federated"
)

// DefaultDisplayName is used for profiles whose identity carries no name.
const DefaultDisplayName = "Anonymous User"

// Identity is who the client is currently acting as. Exactly one Identity is
// live at any time; it is owned by the session manager and read everywhere else.
type Identity struct {
	Kind        IdentityKind `json:"kind"`
	UID         string       `json:"uid,omitempty"`
	DisplayName string       `json:"display_name,omitempty"`
	Email       string       `json:"email,omitempty"`
}

func Unauthenticated() Identity {
	return Identity{Kind: IdentityUnauthenticated}
}

func Anonymous(uid string) Identity {
	return Identity{Kind: IdentityAnonymous, UID: uid}
}

func Federated(uid, displayName, email string) Identity {
	return Identity{Kind: IdentityFederated, UID: uid, DisplayName: displayName, Email: email}
}

// SignedIn reports whether any backend principal exists (anonymous counts).
func (i Identity) SignedIn() bool {
	return i.Kind == IdentityAnonymous || i.Kind == IdentityFederated
}

func (i Identity) Federated() bool {
	return i.Kind == IdentityFederated
}

// ProfileName is the display name used when creating a profile document for
// this identity: the provider-supplied name, or DefaultDisplayName without one.
func (i Identity) ProfileName() string {
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return DefaultDisplayName
}
