package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rpattn/agentstats/internal/domain"
	"github.com/rpattn/agentstats/internal/repository"
	"github.com/rpattn/agentstats/pkg/sanitizer"
	"github.com/rpattn/agentstats/pkg/validator"

	"github.com/google/uuid"
)

// recordEntity resolves the shadow references for change and appends one
// entity event. No event is written when an error is returned.
func (r *Recorder) recordEntity(ctx context.Context, eventType domain.EventType, change EntityChange) (domain.EntityEvent, error) {
	if !change.EntityType.Valid() {
		return domain.EntityEvent{}, fmt.Errorf("%w: %q", ErrUnsupportedEntityType, change.EntityType)
	}
	if strings.TrimSpace(change.OriginalEntityID) == "" {
		return domain.EntityEvent{}, fmt.Errorf("%w: original entity id is required", ErrInvalidMetadata)
	}

	var (
		refs eventRefs
		err  error
	)
	switch eventType {
	case domain.EventTypeCreated, domain.EventTypeUpdated:
		refs, err = r.upsertShadow(ctx, eventType, change)
	case domain.EventTypeDeleted:
		refs, err = r.lookupDeleted(ctx, change)
	default:
		return domain.EntityEvent{}, fmt.Errorf("%w: event type %q", ErrInvalidMetadata, eventType)
	}
	if err != nil {
		return domain.EntityEvent{}, err
	}

	event := domain.EntityEvent{
		ID:                            uuid.New(),
		EventType:                     eventType,
		EntityType:                    change.EntityType,
		OriginalEntityID:              change.OriginalEntityID,
		OccurredAt:                    r.now(),
		ActingShadowUserID:            r.resolveShadowUser(ctx, change.ActingUserID),
		ShadowUserID:                  refs.user,
		ShadowClientID:                refs.client,
		ShadowAgentID:                 refs.agent,
		ShadowClientUserID:            refs.clientUser,
		ShadowProvisioningReferenceID: refs.provisioningReference,
	}
	event, err = r.repos.Events.Append(ctx, event)
	if err != nil {
		return domain.EntityEvent{}, err
	}
	r.invalidateAccess(ctx, change)
	return event, nil
}

// invalidateAccess drops the cached access set of the user whose accessible
// clients change with this event. Failures only leave the entry to expire.
func (r *Recorder) invalidateAccess(ctx context.Context, change EntityChange) {
	if r.access == nil {
		return
	}
	var userID string
	switch change.EntityType {
	case domain.EntityTypeClientUser:
		userID, _ = validator.StringValue(change.Metadata, "userId")
	case domain.EntityTypeClient:
		if change.ActingUserID != nil {
			userID = *change.ActingUserID
		}
	}
	if userID == "" {
		return
	}
	if err := r.access.Invalidate(ctx, userID); err != nil {
		r.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to invalidate access cache")
	}
}

type eventRefs struct {
	user                  *uuid.UUID
	client                *uuid.UUID
	agent                 *uuid.UUID
	clientUser            *uuid.UUID
	provisioningReference *uuid.UUID
}

func (r *Recorder) upsertShadow(ctx context.Context, eventType domain.EventType, change EntityChange) (eventRefs, error) {
	if eventType == domain.EventTypeUpdated &&
		(change.EntityType == domain.EntityTypeClientUser || change.EntityType == domain.EntityTypeProvisioningReference) {
		return eventRefs{}, fmt.Errorf("%w: %s %s", ErrNotImplemented, eventType, change.EntityType)
	}

	if result := r.validator.Validate(string(change.EntityType), change.Metadata); !result.IsValid {
		return eventRefs{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, result.Err())
	}

	switch change.EntityType {
	case domain.EntityTypeUser:
		return r.upsertUser(ctx, change)
	case domain.EntityTypeClient:
		return r.upsertClient(ctx, change)
	case domain.EntityTypeAgent:
		return r.upsertAgent(ctx, change)
	case domain.EntityTypeClientUser:
		return r.createClientUser(ctx, change)
	case domain.EntityTypeProvisioningReference:
		return r.createProvisioningReference(ctx, change)
	default:
		return eventRefs{}, fmt.Errorf("%w: %q", ErrUnsupportedEntityType, change.EntityType)
	}
}

func (r *Recorder) upsertUser(ctx context.Context, change EntityChange) (eventRefs, error) {
	role, ok := validator.StringValue(change.Metadata, "role")
	if !ok {
		role = domain.RoleUser
	}
	user, err := r.repos.Users.Upsert(ctx, change.OriginalEntityID, domain.ShadowUserAttributes{Role: role})
	if err != nil {
		return eventRefs{}, err
	}
	return eventRefs{user: &user.ID}, nil
}

func (r *Recorder) upsertClient(ctx context.Context, change EntityChange) (eventRefs, error) {
	client, err := r.syncShadowClient(ctx, change.OriginalEntityID)
	if err != nil {
		return eventRefs{}, err
	}
	return eventRefs{client: &client.ID}, nil
}

func (r *Recorder) upsertAgent(ctx context.Context, change EntityChange) (eventRefs, error) {
	client, err := r.findShadowClient(ctx, change.Metadata)
	if err != nil {
		return eventRefs{}, err
	}

	agent, err := r.repos.Agents.Upsert(ctx, change.OriginalEntityID, client.ID, domain.ShadowAgentAttributes{
		AgentType:     validator.StringPointer(change.Metadata, "agentType"),
		ContainerType: validator.StringPointer(change.Metadata, "containerType"),
		Name:          validator.StringPointer(change.Metadata, "name"),
		Description:   validator.StringPointer(change.Metadata, "description"),
	})
	if err != nil {
		return eventRefs{}, err
	}
	return eventRefs{agent: &agent.ID}, nil
}

func (r *Recorder) createClientUser(ctx context.Context, change EntityChange) (eventRefs, error) {
	client, err := r.findShadowClient(ctx, change.Metadata)
	if err != nil {
		return eventRefs{}, err
	}

	userID, _ := validator.StringValue(change.Metadata, "userId")
	user, err := r.repos.Users.FindByOriginalID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return eventRefs{}, fmt.Errorf("%w: %s", ErrShadowUserMissing, userID)
		}
		return eventRefs{}, err
	}

	role, ok := validator.StringValue(change.Metadata, "role")
	if !ok {
		role = domain.RoleUser
	}
	membership, err := r.repos.ClientUsers.Upsert(ctx, change.OriginalEntityID, domain.ShadowClientUserAttributes{
		ShadowClientID: client.ID,
		ShadowUserID:   user.ID,
		Role:           role,
	})
	if err != nil {
		return eventRefs{}, err
	}
	return eventRefs{clientUser: &membership.ID}, nil
}

func (r *Recorder) createProvisioningReference(ctx context.Context, change EntityChange) (eventRefs, error) {
	client, err := r.findShadowClient(ctx, change.Metadata)
	if err != nil {
		return eventRefs{}, err
	}

	providerType, _ := validator.StringValue(change.Metadata, "providerType")
	ref, err := r.repos.ProvisioningReferences.Upsert(ctx, change.OriginalEntityID, domain.ShadowProvisioningReferenceAttributes{
		ShadowClientID:   client.ID,
		ProviderType:     providerType,
		ServerID:         validator.StringPointer(change.Metadata, "serverId"),
		ServerName:       validator.StringPointer(change.Metadata, "serverName"),
		PublicIP:         validator.StringPointer(change.Metadata, "publicIp"),
		PrivateIP:        validator.StringPointer(change.Metadata, "privateIp"),
		ProviderMetadata: sanitizedProviderMetadata(change.Metadata["providerMetadata"]),
	})
	if err != nil {
		return eventRefs{}, err
	}
	return eventRefs{provisioningReference: &ref.ID}, nil
}

// sanitizedProviderMetadata returns the secret-free JSON of raw, or nil when
// nothing non-secret remains.
func sanitizedProviderMetadata(raw any) *string {
	var encoded string
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		encoded = v
	case []byte:
		encoded = string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		encoded = string(b)
	}

	sanitized := sanitizer.Sanitize(encoded)
	if sanitizer.IsEmpty(sanitized) {
		return nil
	}
	return &sanitized
}

func (r *Recorder) findShadowClient(ctx context.Context, metadata map[string]any) (domain.ShadowClient, error) {
	clientID, _ := validator.StringValue(metadata, "clientId")
	client, err := r.repos.Clients.FindByOriginalID(ctx, clientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ShadowClient{}, fmt.Errorf("%w: %s", ErrShadowClientMissing, clientID)
		}
		return domain.ShadowClient{}, err
	}
	return client, nil
}

// lookupDeleted keeps shadow rows in place. Only user and client deletions
// resolve their shadow id; the other types are correlated through the
// original id alone.
func (r *Recorder) lookupDeleted(ctx context.Context, change EntityChange) (eventRefs, error) {
	switch change.EntityType {
	case domain.EntityTypeUser:
		user, err := r.repos.Users.FindByOriginalID(ctx, change.OriginalEntityID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return eventRefs{}, nil
			}
			return eventRefs{}, err
		}
		return eventRefs{user: &user.ID}, nil
	case domain.EntityTypeClient:
		client, err := r.repos.Clients.FindByOriginalID(ctx, change.OriginalEntityID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return eventRefs{}, nil
			}
			return eventRefs{}, err
		}
		return eventRefs{client: &client.ID}, nil
	default:
		return eventRefs{}, nil
	}
}
