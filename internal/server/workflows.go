package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"cycleline/internal/domain"
	"cycleline/internal/engine"
	"cycleline/internal/recurrence"
	"cycleline/internal/repo"
)

func registerWorkflows(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "createWorkflow",
		Method:        http.MethodPost,
		Path:          "/workflows",
		Summary:       "Create workflow",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkflowRequest `json:"body"`
	}) (*struct {
		Body engine.WorkflowView `json:"body"`
	}, error) {
		actorID, errResp := actorIDFromContext(ctx)
		if errResp != nil {
			return nil, errResp
		}
		opts := engine.WorkflowCreateOptions{
			ID:                   stringOrEmpty(input.Body.ID),
			ParentID:             input.Body.ParentID,
			Title:                input.Body.Title,
			Description:          stringOrEmpty(input.Body.Description),
			Owners:               input.Body.Owners,
			Contact:              stringOrEmpty(input.Body.Contact),
			Unit:                 input.Body.Unit,
			RepeatEvery:          input.Body.RepeatEvery,
			IsVerificationNeeded: input.Body.IsVerificationNeeded,
			ActorID:              actorID,
		}
		if input.Body.RepeatMultiplier != nil {
			opts.RepeatMultiplier = *input.Body.RepeatMultiplier
		}
		w, err := eng.CreateWorkflow(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		view, err := eng.GetWorkflowView(ctx, w.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.WorkflowView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "listWorkflows",
		Method:      http.MethodGet,
		Path:        "/workflows",
		Summary:     "List workflows",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status    string `query:"status" doc:"Draft, Active or Inactive"`
		ParentID  string `query:"parent_id"`
		Templates bool   `query:"templates" doc:"Only workflows without a parent"`
		Limit     int    `query:"limit"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedWorkflows `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
		}
		items, err := eng.Repo.ListWorkflows(ctx, repo.WorkflowFilters{
			Status:          input.Status,
			ParentID:        input.ParentID,
			TemplatesOnly:   input.Templates,
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		next := ""
		if len(items) > limit {
			last := items[limit-1]
			next = composeCursor(last.CreatedAt, last.ID)
			items = items[:limit]
		}
		views, err := eng.ListWorkflowViews(ctx, items)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedWorkflows `json:"body"`
		}{Body: paginatedWorkflows{Items: emptyIfNil(views), NextCursor: next}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "getWorkflow",
		Method:      http.MethodGet,
		Path:        "/workflows/{id}",
		Summary:     "Get workflow",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.WorkflowView `json:"body"`
	}, error) {
		view, err := eng.GetWorkflowView(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.WorkflowView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "updateWorkflow",
		Method:      http.MethodPatch,
		Path:        "/workflows/{id}",
		Summary:     "Update workflow",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body UpdateWorkflowRequest `json:"body"`
	}) (*struct {
		Body engine.WorkflowView `json:"body"`
	}, error) {
		actorID, errResp := actorIDFromContext(ctx)
		if errResp != nil {
			return nil, errResp
		}
		raw := rawBodyMap(ctx)
		opts := engine.WorkflowUpdateOptions{
			ID:                   input.ID,
			Title:                input.Body.Title,
			Description:          input.Body.Description,
			Contact:              input.Body.Contact,
			Owners:               input.Body.Owners,
			IsVerificationNeeded: input.Body.IsVerificationNeeded,
			Recurrence:           recurrenceChange(raw, input.Body),
			ActorID:              actorID,
		}
		if v, ok := raw["parent_id"]; ok {
			parent := ""
			if !isNullRaw(v) {
				parent = stringOrEmpty(input.Body.ParentID)
			}
			opts.SetParent = &parent
		}
		w, err := eng.UpdateWorkflow(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		view, err := eng.GetWorkflowView(ctx, w.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.WorkflowView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "cloneWorkflow",
		Method:        http.MethodPost,
		Path:          "/workflows/{id}/clone",
		Summary:       "Clone workflow as a new draft",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body CloneWorkflowRequest `json:"body" required:"false"`
	}) (*struct {
		Body domain.Workflow `json:"body"`
	}, error) {
		actorID, errResp := actorIDFromContext(ctx)
		if errResp != nil {
			return nil, errResp
		}
		w, err := eng.CloneWorkflow(ctx, engine.CloneOptions{
			SourceID:             input.ID,
			Title:                input.Body.Title,
			IsVerificationNeeded: input.Body.IsVerificationNeeded,
			ClonePeople:          input.Body.ClonePeople,
			ActorID:              actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workflow `json:"body"`
		}{Body: w}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activateWorkflow",
		Method:      http.MethodPost,
		Path:        "/workflows/{id}/activate",
		Summary:     "Activate workflow",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.ActivateResult `json:"body"`
	}, error) {
		actorID, errResp := actorIDFromContext(ctx)
		if errResp != nil {
			return nil, errResp
		}
		res, err := eng.ActivateWorkflow(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		res.Cycles = emptyIfNil(res.Cycles)
		return &struct {
			Body engine.ActivateResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "deactivateWorkflow",
		Method:      http.MethodPost,
		Path:        "/workflows/{id}/deactivate",
		Summary:     "Deactivate workflow",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Workflow `json:"body"`
	}, error) {
		actorID, errResp := actorIDFromContext(ctx)
		if errResp != nil {
			return nil, errResp
		}
		w, err := eng.DeactivateWorkflow(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Workflow `json:"body"`
		}{Body: w}, nil
	})
}

// recurrenceChange reports unit and repeat_every as set only when their
// keys are present in the request body.
func recurrenceChange(raw map[string]json.RawMessage, body UpdateWorkflowRequest) recurrence.Change {
	var ch recurrence.Change
	if v, ok := raw["unit"]; ok {
		ch.UnitSet = true
		if !isNullRaw(v) {
			ch.Unit = body.Unit
		}
	}
	if v, ok := raw["repeat_every"]; ok {
		ch.RepeatEverySet = true
		if !isNullRaw(v) {
			ch.RepeatEvery = body.RepeatEvery
		}
	}
	return ch
}
