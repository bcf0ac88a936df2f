package domain

import (
	"time"

	"github.com/google/uuid"
)

// ShadowUser is the secret-free mirror of a primary user. OriginalUserID is nil
// once the source user has been hard-deleted.
type ShadowUser struct {
	ID             uuid.UUID `json:"id"`
	OriginalUserID *string   `json:"original_user_id,omitempty"`
	Role           string    `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ShadowUserAttributes are the mutable, non-secret user attributes.
type ShadowUserAttributes struct {
	Role string
}

// ShadowClient mirrors a primary client without its credentials.
type ShadowClient struct {
	ID                 uuid.UUID `json:"id"`
	OriginalClientID   string    `json:"original_client_id"`
	Name               string    `json:"name"`
	Endpoint           string    `json:"endpoint"`
	AuthenticationType string    `json:"authentication_type"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// ShadowClientAttributes are the mutable, non-secret client attributes.
type ShadowClientAttributes struct {
	Name               string
	Endpoint           string
	AuthenticationType string
}

// ShadowAgent mirrors an agent living in a client's agent manager. Agent ids are
// only unique per client, so the natural key is (OriginalAgentID, ShadowClientID).
type ShadowAgent struct {
	ID              uuid.UUID `json:"id"`
	OriginalAgentID string    `json:"original_agent_id"`
	ShadowClientID  uuid.UUID `json:"statistics_client_id"`
	AgentType       *string   `json:"agent_type,omitempty"`
	ContainerType   *string   `json:"container_type,omitempty"`
	Name            *string   `json:"name,omitempty"`
	Description     *string   `json:"description,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ShadowAgentAttributes is a patch: nil fields keep the stored value, so an
// empty patch is a no-op on an existing row.
type ShadowAgentAttributes struct {
	AgentType     *string
	ContainerType *string
	Name          *string
	Description   *string
}

// IsEmpty reports whether the patch carries no attribute at all.
func (a ShadowAgentAttributes) IsEmpty() bool {
	return a.AgentType == nil && a.ContainerType == nil && a.Name == nil && a.Description == nil
}

// ShadowClientUser mirrors a client membership.
type ShadowClientUser struct {
	ID                   uuid.UUID `json:"id"`
	OriginalClientUserID string    `json:"original_client_user_id"`
	ShadowClientID       uuid.UUID `json:"statistics_client_id"`
	ShadowUserID         uuid.UUID `json:"statistics_user_id"`
	Role                 string    `json:"role"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// ShadowClientUserAttributes describes a membership shadow row to store.
type ShadowClientUserAttributes struct {
	ShadowClientID uuid.UUID
	ShadowUserID   uuid.UUID
	Role           string
}

// ShadowProvisioningReference mirrors a cloud provisioning reference. ProviderMetadata
// always holds sanitized JSON, or nil when nothing non-secret remained.
type ShadowProvisioningReference struct {
	ID                              uuid.UUID `json:"id"`
	OriginalProvisioningReferenceID string    `json:"original_provisioning_reference_id"`
	ShadowClientID                  uuid.UUID `json:"statistics_client_id"`
	ProviderType                    string    `json:"provider_type"`
	ServerID                        *string   `json:"server_id,omitempty"`
	ServerName                      *string   `json:"server_name,omitempty"`
	PublicIP                        *string   `json:"public_ip,omitempty"`
	PrivateIP                       *string   `json:"private_ip,omitempty"`
	ProviderMetadata                *string   `json:"provider_metadata,omitempty"`
	CreatedAt                       time.Time `json:"created_at"`
	UpdatedAt                       time.Time `json:"updated_at"`
}

// ShadowProvisioningReferenceAttributes describes a provisioning shadow row to store.
type ShadowProvisioningReferenceAttributes struct {
	ShadowClientID   uuid.UUID
	ProviderType     string
	ServerID         *string
	ServerName       *string
	PublicIP         *string
	PrivateIP        *string
	ProviderMetadata *string
}
