package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EntityType enumerates the primary entity kinds whose lifecycle is logged.
type EntityType string

const (
	EntityTypeUser                  EntityType = "user"
	EntityTypeClient                EntityType = "client"
	EntityTypeAgent                 EntityType = "agent"
	EntityTypeClientUser            EntityType = "client_user"
	EntityTypeProvisioningReference EntityType = "provisioning_reference"
)

// AllEntityTypes lists every known entity type.
var AllEntityTypes = []EntityType{
	EntityTypeUser,
	EntityTypeClient,
	EntityTypeAgent,
	EntityTypeClientUser,
	EntityTypeProvisioningReference,
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	for _, known := range AllEntityTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ParseEntityType converts free text into an EntityType.
func ParseEntityType(value string) (EntityType, error) {
	entityType := EntityType(value)
	if !entityType.Valid() {
		return "", fmt.Errorf("invalid entity type %q", value)
	}
	return entityType, nil
}

// EventType enumerates lifecycle transitions.
type EventType string

const (
	EventTypeCreated EventType = "created"
	EventTypeUpdated EventType = "updated"
	EventTypeDeleted EventType = "deleted"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	return t == EventTypeCreated || t == EventTypeUpdated || t == EventTypeDeleted
}

// ParseEventType converts free text into an EventType.
func ParseEventType(value string) (EventType, error) {
	eventType := EventType(value)
	if !eventType.Valid() {
		return "", fmt.Errorf("invalid event type %q", value)
	}
	return eventType, nil
}

// EntityEvent is an append-only lifecycle log row. OriginalEntityID, EntityType and
// OccurredAt stay meaningful after the primary entity is gone; the shadow
// references are resolved when the event is written and never rewritten.
type EntityEvent struct {
	ID                            uuid.UUID  `json:"id"`
	EventType                     EventType  `json:"event_type"`
	EntityType                    EntityType `json:"entity_type"`
	OriginalEntityID              string     `json:"original_entity_id"`
	OccurredAt                    time.Time  `json:"occurred_at"`
	ActingShadowUserID            *uuid.UUID `json:"acting_statistics_user_id,omitempty"`
	ShadowUserID                  *uuid.UUID `json:"statistics_users_id,omitempty"`
	ShadowClientID                *uuid.UUID `json:"statistics_clients_id,omitempty"`
	ShadowAgentID                 *uuid.UUID `json:"statistics_agents_id,omitempty"`
	ShadowClientUserID            *uuid.UUID `json:"statistics_client_users_id,omitempty"`
	ShadowProvisioningReferenceID *uuid.UUID `json:"statistics_provisioning_references_id,omitempty"`
}
