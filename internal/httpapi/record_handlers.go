package httpapi

import (
	"net/http"

	"github.com/rpattn/agentstats/internal/domain"
	"github.com/rpattn/agentstats/internal/recorder"
)

type chatIORequest struct {
	Direction string  `json:"direction" validate:"required,oneof=input output"`
	ClientID  string  `json:"clientId" validate:"required"`
	AgentID   string  `json:"agentId" validate:"required"`
	WordCount int     `json:"wordCount" validate:"gte=0"`
	CharCount int     `json:"charCount" validate:"gte=0"`
	UserID    *string `json:"userId,omitempty"`
}

type filterRecordRequest struct {
	Direction         string  `json:"direction" validate:"required,oneof=incoming outgoing"`
	ClientID          string  `json:"clientId" validate:"required"`
	AgentID           string  `json:"agentId" validate:"required"`
	FilterType        string  `json:"filterType" validate:"required,max=255"`
	FilterDisplayName string  `json:"filterDisplayName" validate:"max=255"`
	FilterReason      *string `json:"filterReason,omitempty"`
	WordCount         int     `json:"wordCount" validate:"gte=0"`
	CharCount         int     `json:"charCount" validate:"gte=0"`
	UserID            *string `json:"userId,omitempty"`
}

type entityEventRequest struct {
	EventType    string         `json:"eventType" validate:"required,oneof=created updated deleted"`
	EntityType   string         `json:"entityType" validate:"required,oneof=user client agent client_user provisioning_reference"`
	EntityID     string         `json:"entityId" validate:"required"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ActingUserID *string        `json:"actingUserId,omitempty"`
}

var accepted = Response{Message: "accepted"}

func (h *Handler) handleRecordChatIO(w http.ResponseWriter, r *http.Request) {
	var req chatIORequest
	if !Read(w, r, &req) {
		return
	}
	activity := recorder.ChatActivity{
		ClientID:  req.ClientID,
		AgentID:   req.AgentID,
		WordCount: req.WordCount,
		CharCount: req.CharCount,
		UserID:    req.UserID,
	}
	if domain.ChatDirection(req.Direction) == domain.ChatDirectionInput {
		h.recorder.RecordChatInput(r.Context(), activity)
	} else {
		h.recorder.RecordChatOutput(r.Context(), activity)
	}
	Write(w, http.StatusAccepted, accepted)
}

func (h *Handler) handleRecordFilterDrop(w http.ResponseWriter, r *http.Request) {
	var req filterRecordRequest
	if !Read(w, r, &req) {
		return
	}
	h.recorder.RecordChatFilterDrop(r.Context(), req.activity())
	Write(w, http.StatusAccepted, accepted)
}

func (h *Handler) handleRecordFilterFlag(w http.ResponseWriter, r *http.Request) {
	var req filterRecordRequest
	if !Read(w, r, &req) {
		return
	}
	h.recorder.RecordChatFilterFlag(r.Context(), req.activity())
	Write(w, http.StatusAccepted, accepted)
}

func (req filterRecordRequest) activity() recorder.FilterActivity {
	return recorder.FilterActivity{
		ClientID:          req.ClientID,
		AgentID:           req.AgentID,
		Direction:         domain.FilterDirection(req.Direction),
		FilterType:        req.FilterType,
		FilterDisplayName: req.FilterDisplayName,
		FilterReason:      req.FilterReason,
		WordCount:         req.WordCount,
		CharCount:         req.CharCount,
		UserID:            req.UserID,
	}
}

func (h *Handler) handleRecordEntityEvent(w http.ResponseWriter, r *http.Request) {
	var req entityEventRequest
	if !Read(w, r, &req) {
		return
	}
	h.recorder.RecordEntity(r.Context(), domain.EventType(req.EventType), recorder.EntityChange{
		EntityType:       domain.EntityType(req.EntityType),
		OriginalEntityID: req.EntityID,
		Metadata:         req.Metadata,
		ActingUserID:     req.ActingUserID,
	})
	Write(w, http.StatusAccepted, accepted)
}
