package domain

// Role names understood by the access rules.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// AuthMethod is the deployment-wide authentication method. It is read once at
// startup and injected into the components that depend on it.
type AuthMethod string

const (
	AuthMethodPassword AuthMethod = "password"
	AuthMethodKeycloak AuthMethod = "keycloak"
	AuthMethodAPIKey   AuthMethod = "api-key"
)

// Valid reports whether m is a known authentication method.
func (m AuthMethod) Valid() bool {
	switch m {
	case AuthMethodPassword, AuthMethodKeycloak, AuthMethodAPIKey:
		return true
	}
	return false
}

// Identity is the calling identity context handed over by the HTTP layer.
type Identity struct {
	UserID       string
	UserRole     string
	IsAPIKeyAuth bool
}

// IsGlobal reports whether the caller may see every client.
func (i Identity) IsGlobal() bool {
	return i.IsAPIKeyAuth || i.UserRole == RoleAdmin
}

// AccessResult is the outcome of a single-client access check.
type AccessResult struct {
	HasAccess  bool    `json:"hasAccess"`
	IsCreator  bool    `json:"isCreator"`
	ClientRole *string `json:"clientRole,omitempty"`
}
