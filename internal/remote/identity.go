package remote

// IdentityProvider supplies the signed-in user. No user means the engine runs
// local-only.
type IdentityProvider interface {
	UserID() (string, bool)
}

// StaticIdentity is an IdentityProvider with a fixed user id
type StaticIdentity struct {
	ID string
}

// UserID returns the configured id; ok is false when it is empty
func (s StaticIdentity) UserID() (string, bool) {
	return s.ID, s.ID != ""
}
