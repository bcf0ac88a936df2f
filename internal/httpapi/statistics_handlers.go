package httpapi

import (
	"net/http"

	"github.com/rpattn/agentstats/internal/domain"
	"github.com/rpattn/agentstats/internal/export"

	"github.com/go-chi/chi/v5"
)

var (
	chatDirections   = []string{string(domain.ChatDirectionInput), string(domain.ChatDirectionOutput)}
	filterDirections = []string{string(domain.FilterDirectionIncoming), string(domain.FilterDirectionOutgoing)}
)

// parseListFilter reads the list query params of r. directions restricts the
// direction param; nil means the list has no direction.
func parseListFilter(r *http.Request, directions []string) (domain.ListFilter, error) {
	vals := r.URL.Query()
	p := NewQueryParamParser()

	filter := domain.ListFilter{
		ClientID: clientParam(r),
		AgentID:  p.OptionalString(vals, "agentId"),
		From:     p.Time(vals, "from", domain.ParseFromBound),
		To:       p.Time(vals, "to", domain.ParseToBound),
		Search:   p.String(vals, "", "search"),
		Limit:    p.NonNegativeInt(vals, domain.DefaultListLimit, "limit"),
		Offset:   p.NonNegativeInt(vals, 0, "offset"),
	}
	if directions != nil {
		filter.Direction = p.OneOf(vals, "direction", directions...)
		filter.FilterType = p.String(vals, "", "filterType")
	} else {
		filter.EntityType = ParseCustom(p, vals, (*domain.EntityType)(nil), "entityType", func(v string) (*domain.EntityType, error) {
			entityType, err := domain.ParseEntityType(v)
			return &entityType, err
		})
		filter.EventType = ParseCustom(p, vals, (*domain.EventType)(nil), "eventType", func(v string) (*domain.EventType, error) {
			eventType, err := domain.ParseEventType(v)
			return &eventType, err
		})
	}
	if err := p.Err(); err != nil {
		return domain.ListFilter{}, err
	}
	return filter, nil
}

func parseSummaryFilter(r *http.Request) (domain.SummaryFilter, error) {
	vals := r.URL.Query()
	p := NewQueryParamParser()

	filter := domain.SummaryFilter{
		ClientID: clientParam(r),
		AgentID:  p.OptionalString(vals, "agentId"),
		From:     p.Time(vals, "from", domain.ParseFromBound),
		To:       p.Time(vals, "to", domain.ParseToBound),
		GroupBy: ParseCustom(p, vals, (*domain.Granularity)(nil), "groupBy", func(v string) (*domain.Granularity, error) {
			granularity, err := domain.ParseGranularity(v)
			return &granularity, err
		}),
	}
	if err := p.Err(); err != nil {
		return domain.SummaryFilter{}, err
	}
	return filter, nil
}

func (h *Handler) handleSummary(w http.ResponseWriter, r *http.Request) {
	filter, err := parseSummaryFilter(r)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	summary, err := h.stats.Summary(r.Context(), identityOf(r), filter)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	Write(w, http.StatusOK, summary)
}

func (h *Handler) handleChatIO(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r, chatDirections)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	page, err := h.stats.ListChatIO(r.Context(), identityOf(r), filter)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	Write(w, http.StatusOK, page)
}

func (h *Handler) handleFilterDrops(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r, filterDirections)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	page, err := h.stats.ListFilterDrops(r.Context(), identityOf(r), filter)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	Write(w, http.StatusOK, page)
}

func (h *Handler) handleFilterFlags(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r, filterDirections)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	page, err := h.stats.ListFilterFlags(r.Context(), identityOf(r), filter)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	Write(w, http.StatusOK, page)
}

func (h *Handler) handleEntityEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r, nil)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	page, err := h.stats.ListEntityEvents(r.Context(), identityOf(r), filter)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	Write(w, http.StatusOK, page)
}

func (h *Handler) handleClients(w http.ResponseWriter, r *http.Request) {
	clients, err := h.stats.ListClients(r.Context(), identityOf(r))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	Write(w, http.StatusOK, map[string]any{"data": clients})
}

func (h *Handler) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.stats.ListAgents(r.Context(), identityOf(r), chi.URLParam(r, "clientId"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	Write(w, http.StatusOK, map[string]any{"data": agents})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	kind, err := export.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	var directions []string
	switch kind {
	case export.KindChatIO:
		directions = chatDirections
	case export.KindFilterDrops, export.KindFilterFlags:
		directions = filterDirections
	}
	filter, err := parseListFilter(r, directions)
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, h.logger, r, domain.ValidationError{Field: "format", Detail: err.Error()})
		return
	}

	table, err := h.exporter.Collect(r.Context(), export.Request{
		Identity: identityOf(r),
		Kind:     kind,
		Format:   format,
		Filter:   filter,
	})
	if err != nil {
		writeError(w, h.logger, r, err)
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+h.exporter.FileName(kind, format)+`"`)
	w.WriteHeader(http.StatusOK)
	if err := h.exporter.Write(w, table, format); err != nil {
		h.logger.Error().Err(err).Str("kind", string(kind)).Msg("failed to stream export")
	}
}
