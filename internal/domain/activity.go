package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ChatDirection tells whether a chat message went into or came out of an agent.
type ChatDirection string

const (
	ChatDirectionInput  ChatDirection = "input"
	ChatDirectionOutput ChatDirection = "output"
)

// Valid reports whether d is a known chat direction.
func (d ChatDirection) Valid() bool {
	return d == ChatDirectionInput || d == ChatDirectionOutput
}

// FilterDirection tells whether a filtered message was incoming or outgoing.
type FilterDirection string

const (
	FilterDirectionIncoming FilterDirection = "incoming"
	FilterDirectionOutgoing FilterDirection = "outgoing"
)

// Valid reports whether d is a known filter direction.
func (d FilterDirection) Valid() bool {
	return d == FilterDirectionIncoming || d == FilterDirectionOutgoing
}

// ParseFilterDirection converts free text into a FilterDirection.
func ParseFilterDirection(value string) (FilterDirection, error) {
	direction := FilterDirection(value)
	if !direction.Valid() {
		return "", fmt.Errorf("invalid filter direction %q", value)
	}
	return direction, nil
}

// FilterRecordKind distinguishes blocked messages from modified/allowed ones.
// Both kinds share one record shape.
type FilterRecordKind string

const (
	FilterRecordDrop FilterRecordKind = "drop"
	FilterRecordFlag FilterRecordKind = "flag"
)

// ChatIORecord is one append-only chat message measurement.
type ChatIORecord struct {
	ID             uuid.UUID     `json:"id"`
	Direction      ChatDirection `json:"direction"`
	WordCount      int           `json:"word_count"`
	CharCount      int           `json:"char_count"`
	OccurredAt     time.Time     `json:"occurred_at"`
	ShadowClientID uuid.UUID     `json:"statistics_client_id"`
	ShadowAgentID  *uuid.UUID    `json:"statistics_agent_id,omitempty"`
	ShadowUserID   *uuid.UUID    `json:"statistics_user_id,omitempty"`
}

// FilterRecord is one append-only content filter decision. Word and char counts
// may legitimately be zero when the pipeline could not measure the content.
type FilterRecord struct {
	ID                uuid.UUID        `json:"id"`
	Kind              FilterRecordKind `json:"kind"`
	Direction         FilterDirection  `json:"direction"`
	FilterType        string           `json:"filter_type"`
	FilterDisplayName string           `json:"filter_display_name"`
	FilterReason      *string          `json:"filter_reason,omitempty"`
	WordCount         int              `json:"word_count"`
	CharCount         int              `json:"char_count"`
	OccurredAt        time.Time        `json:"occurred_at"`
	ShadowClientID    uuid.UUID        `json:"statistics_client_id"`
	ShadowAgentID     *uuid.UUID       `json:"statistics_agent_id,omitempty"`
	ShadowUserID      *uuid.UUID       `json:"statistics_user_id,omitempty"`
}
