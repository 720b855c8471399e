package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"cycleline/internal/domain"
	"cycleline/internal/engine"
	"cycleline/internal/lifecycle"
	"cycleline/internal/repo"
	"cycleline/internal/scheduler"
)

func registerCycles(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "generateCycle",
		Method:        http.MethodPost,
		Path:          "/workflows/{id}/cycles",
		Summary:       "Generate the next cycle",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.CycleView `json:"body"`
	}, error) {
		actorID, errResp := actorIDFromContext(ctx)
		if errResp != nil {
			return nil, errResp
		}
		c, err := eng.GenerateCycle(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		view, err := eng.GetCycleView(ctx, c.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CycleView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "listCycles",
		Method:      http.MethodGet,
		Path:        "/workflows/{id}/cycles",
		Summary:     "List cycles of a workflow",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		Current string `query:"current" doc:"true for current cycles, false for history"`
		Limit   int    `query:"limit"`
	}) (*struct {
		Body cycleList `json:"body"`
	}, error) {
		if _, err := eng.Repo.GetWorkflow(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		filters := repo.CycleFilters{WorkflowID: input.ID, Limit: normalizeLimit(input.Limit)}
		if input.Current != "" {
			current, err := strconv.ParseBool(input.Current)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "current must be true or false", map[string]any{"field": "current"})
			}
			filters.Current = &current
		}
		items, err := eng.Repo.ListCycles(ctx, filters)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body cycleList `json:"body"`
		}{Body: cycleList{Items: emptyIfNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "getCycle",
		Method:      http.MethodGet,
		Path:        "/cycles/{id}",
		Summary:     "Get cycle with its groups and tasks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body engine.CycleView `json:"body"`
	}, error) {
		view, err := eng.GetCycleView(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.CycleView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "updateCycle",
		Method:      http.MethodPatch,
		Path:        "/cycles/{id}",
		Summary:     "Update cycle",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body UpdateCycleRequest `json:"body"`
	}) (*struct {
		Body domain.Cycle `json:"body"`
	}, error) {
		actorID, errResp := actorIDFromContext(ctx)
		if errResp != nil {
			return nil, errResp
		}
		c, err := eng.UpdateCycle(ctx, engine.CycleUpdateOptions{
			ID:                   input.ID,
			Title:                input.Body.Title,
			Description:          input.Body.Description,
			Contact:              input.Body.Contact,
			StartDate:            input.Body.StartDate,
			EndDate:              input.Body.EndDate,
			IsVerificationNeeded: input.Body.IsVerificationNeeded,
			ActorID:              actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Cycle `json:"body"`
		}{Body: c}, nil
	})
}

func registerStatus(api huma.API, eng engine.Engine) {
	routes := []struct {
		operationID string
		path        string
		kind        lifecycle.Kind
	}{
		{"setCycleStatus", "/cycles/{id}/status", lifecycle.KindCycle},
		{"setCycleTaskGroupStatus", "/cycle-task-groups/{id}/status", lifecycle.KindCycleTaskGroup},
		{"setCycleTaskStatus", "/cycle-tasks/{id}/status", lifecycle.KindCycleTask},
	}
	for _, route := range routes {
		kind := route.kind
		huma.Register(api, huma.Operation{
			OperationID: route.operationID,
			Method:      http.MethodPut,
			Path:        route.path,
			Summary:     "Set " + string(kind) + " status",
			Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
		}, func(ctx context.Context, input *struct {
			ID   string           `path:"id"`
			Body SetStatusRequest `json:"body"`
		}) (*struct {
			Body engine.StatusResult `json:"body"`
		}, error) {
			actorID, errResp := actorIDFromContext(ctx)
			if errResp != nil {
				return nil, errResp
			}
			res, err := eng.SetStatus(ctx, engine.SetStatusOptions{
				Kind:    string(kind),
				ID:      input.ID,
				Status:  input.Body.Status,
				ActorID: actorID,
			})
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body engine.StatusResult `json:"body"`
			}{Body: res}, nil
		})
	}
}

func registerSchedule(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "runSchedule",
		Method:      http.MethodPost,
		Path:        "/schedule/run",
		Summary:     "Generate every due cycle now",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body generateDueResponse `json:"body"`
	}, error) {
		if _, errResp := actorIDFromContext(ctx); errResp != nil {
			return nil, errResp
		}
		generated, err := eng.GenerateDueCycles(ctx, scheduler.ActorID)
		out := generateDueResponse{Generated: emptyIfNil(generated)}
		if err != nil {
			out.Error = err.Error()
		}
		return &struct {
			Body generateDueResponse `json:"body"`
		}{Body: out}, nil
	})
}
