package httpapi

import (
	"context"
	"io"
	"net/http"

	"github.com/rpattn/agentstats/internal/auth"
	"github.com/rpattn/agentstats/internal/domain"
	"github.com/rpattn/agentstats/internal/export"
	"github.com/rpattn/agentstats/internal/recorder"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// StatisticsService is the query engine behind the read endpoints.
type StatisticsService interface {
	ListChatIO(ctx context.Context, identity domain.Identity, filter domain.ListFilter) (domain.Page[domain.ChatIOView], error)
	ListFilterDrops(ctx context.Context, identity domain.Identity, filter domain.ListFilter) (domain.Page[domain.FilterRecordView], error)
	ListFilterFlags(ctx context.Context, identity domain.Identity, filter domain.ListFilter) (domain.Page[domain.FilterRecordView], error)
	ListEntityEvents(ctx context.Context, identity domain.Identity, filter domain.ListFilter) (domain.Page[domain.EntityEventView], error)
	Summary(ctx context.Context, identity domain.Identity, filter domain.SummaryFilter) (domain.Summary, error)
	ListClients(ctx context.Context, identity domain.Identity) ([]domain.ClientView, error)
	ListAgents(ctx context.Context, identity domain.Identity, clientID string) ([]domain.AgentView, error)
}

// Recorder accepts best-effort recordings.
type Recorder interface {
	RecordChatInput(ctx context.Context, activity recorder.ChatActivity)
	RecordChatOutput(ctx context.Context, activity recorder.ChatActivity)
	RecordChatFilterDrop(ctx context.Context, activity recorder.FilterActivity)
	RecordChatFilterFlag(ctx context.Context, activity recorder.FilterActivity)
	RecordEntity(ctx context.Context, eventType domain.EventType, change recorder.EntityChange)
}

// Exporter renders list queries as files.
type Exporter interface {
	Collect(ctx context.Context, req export.Request) (export.Table, error)
	FileName(kind export.Kind, format export.Format) string
	Write(w io.Writer, table export.Table, format export.Format) error
}

type Handler struct {
	stats      StatisticsService
	recorder   Recorder
	exporter   Exporter
	authMethod domain.AuthMethod
	logger     zerolog.Logger
}

func NewHandler(stats StatisticsService, rec Recorder, exporter Exporter, authMethod domain.AuthMethod, logger zerolog.Logger) *Handler {
	return &Handler{
		stats:      stats,
		recorder:   rec,
		exporter:   exporter,
		authMethod: authMethod,
		logger:     logger.With().Str("component", "httpapi").Logger(),
	}
}

// Routes returns the router to mount under /api/statistics.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(auth.Middleware)

	r.Get("/summary", h.handleSummary)
	r.Get("/chat-io", h.handleChatIO)
	r.Get("/filter-drops", h.handleFilterDrops)
	r.Get("/filter-flags", h.handleFilterFlags)
	r.Get("/entity-events", h.handleEntityEvents)
	r.Get("/export/{kind}", h.handleExport)

	r.Get("/clients", h.handleClients)
	r.Route("/clients/{clientId}", func(r chi.Router) {
		r.Get("/summary", h.handleSummary)
		r.Get("/chat-io", h.handleChatIO)
		r.Get("/filter-drops", h.handleFilterDrops)
		r.Get("/filter-flags", h.handleFilterFlags)
		r.Get("/entity-events", h.handleEntityEvents)
		r.Get("/agents", h.handleAgents)
		r.Get("/export/{kind}", h.handleExport)
	})

	r.Route("/record", func(r chi.Router) {
		r.Use(auth.RequireAPIKey(h.authMethod))
		r.Post("/chat-io", h.handleRecordChatIO)
		r.Post("/filter-drop", h.handleRecordFilterDrop)
		r.Post("/filter-flag", h.handleRecordFilterFlag)
		r.Post("/entity-event", h.handleRecordEntityEvent)
	})
	return r
}

func identityOf(r *http.Request) domain.Identity {
	identity, _ := auth.IdentityFromContext(r.Context())
	return identity
}

// clientParam returns the {clientId} path segment of client-scoped routes.
func clientParam(r *http.Request) *string {
	clientID := chi.URLParam(r, "clientId")
	if clientID == "" {
		return nil
	}
	return &clientID
}
