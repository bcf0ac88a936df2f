package domain

import "time"

// ChatIOView is the presentation shape of a chat I/O record: shadow ids are
// translated back to original ids and display names.
type ChatIOView struct {
	ID         string        `json:"id"`
	Direction  ChatDirection `json:"direction"`
	WordCount  int           `json:"wordCount"`
	CharCount  int           `json:"charCount"`
	OccurredAt time.Time     `json:"occurredAt"`
	ClientID   string        `json:"clientId"`
	ClientName string        `json:"clientName"`
	AgentID    *string       `json:"agentId,omitempty"`
	AgentName  *string       `json:"agentName,omitempty"`
	UserID     *string       `json:"userId,omitempty"`
}

// FilterRecordView is the presentation shape of a filter drop or flag.
type FilterRecordView struct {
	ID                string          `json:"id"`
	Direction         FilterDirection `json:"direction"`
	FilterType        string          `json:"filterType"`
	FilterDisplayName string          `json:"filterDisplayName"`
	FilterReason      *string         `json:"filterReason,omitempty"`
	WordCount         int             `json:"wordCount"`
	CharCount         int             `json:"charCount"`
	OccurredAt        time.Time       `json:"occurredAt"`
	ClientID          string          `json:"clientId"`
	ClientName        string          `json:"clientName"`
	AgentID           *string         `json:"agentId,omitempty"`
	AgentName         *string         `json:"agentName,omitempty"`
	UserID            *string         `json:"userId,omitempty"`
}

// EntityEventView is the presentation shape of a lifecycle event.
type EntityEventView struct {
	ID               string     `json:"id"`
	EventType        EventType  `json:"eventType"`
	EntityType       EntityType `json:"entityType"`
	OriginalEntityID string     `json:"entityId"`
	OccurredAt       time.Time  `json:"occurredAt"`
	ClientID         *string    `json:"clientId,omitempty"`
	ClientName       *string    `json:"clientName,omitempty"`
	AgentName        *string    `json:"agentName,omitempty"`
	ActingUserID     *string    `json:"actingUserId,omitempty"`
}

// ClientView describes an accessible client by its original id.
type ClientView struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Endpoint           string    `json:"endpoint"`
	AuthenticationType string    `json:"authenticationType"`
	CreatedAt          time.Time `json:"createdAt"`
}

// AgentView describes a shadow agent by its original ids.
type AgentView struct {
	ID            string  `json:"id"`
	ClientID      string  `json:"clientId"`
	Name          *string `json:"name,omitempty"`
	Description   *string `json:"description,omitempty"`
	AgentType     *string `json:"agentType,omitempty"`
	ContainerType *string `json:"containerType,omitempty"`
}
