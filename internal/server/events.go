package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"cycleline/internal/engine"
	"cycleline/internal/repo"
)

func registerEvents(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "listEvents",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		WorkflowID string `query:"workflow_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursor int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil || parsed <= 0 {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
			}
			cursor = parsed
		}
		items, err := eng.Repo.LatestEventsFrom(ctx, limit+1, cursor, repo.EventFilters{
			WorkflowID: input.WorkflowID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		next := ""
		if len(items) > limit {
			next = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		out := make([]EventResponse, 0, len(items))
		for _, e := range items {
			out = append(out, eventResponse(e))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: paginatedEvents{Items: out, NextCursor: next}}, nil
	})
}
