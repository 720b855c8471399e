package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"cycleline/internal/domain"
	"cycleline/internal/engine"
)

func registerTaskGroups(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "createTaskGroup",
		Method:        http.MethodPost,
		Path:          "/workflows/{id}/task-groups",
		Summary:       "Create task group",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body CreateTaskGroupRequest `json:"body"`
	}) (*struct {
		Body domain.TaskGroup `json:"body"`
	}, error) {
		actorID, errResp := actorIDFromContext(ctx)
		if errResp != nil {
			return nil, errResp
		}
		g, err := eng.CreateTaskGroup(ctx, engine.TaskGroupCreateOptions{
			WorkflowID:  input.ID,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			Contact:     stringOrEmpty(input.Body.Contact),
			SortIndex:   stringOrEmpty(input.Body.SortIndex),
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskGroup `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "listTaskGroups",
		Method:      http.MethodGet,
		Path:        "/workflows/{id}/task-groups",
		Summary:     "List task groups",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body taskGroupList `json:"body"`
	}, error) {
		if _, err := eng.GetWorkflowView(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := eng.Repo.ListTaskGroups(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body taskGroupList `json:"body"`
		}{Body: taskGroupList{Items: emptyIfNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "updateTaskGroup",
		Method:      http.MethodPatch,
		Path:        "/task-groups/{id}",
		Summary:     "Update task group",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body UpdateTaskGroupRequest `json:"body"`
	}) (*struct {
		Body domain.TaskGroup `json:"body"`
	}, error) {
		actorID, errResp := actorIDFromContext(ctx)
		if errResp != nil {
			return nil, errResp
		}
		g, err := eng.UpdateTaskGroup(ctx, engine.TaskGroupUpdateOptions{
			ID:          input.ID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Contact:     input.Body.Contact,
			SortIndex:   input.Body.SortIndex,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskGroup `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "deleteTaskGroup",
		Method:        http.MethodDelete,
		Path:          "/task-groups/{id}",
		Summary:       "Delete task group and its task definitions",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, errResp := actorIDFromContext(ctx)
		if errResp != nil {
			return nil, errResp
		}
		if err := eng.DeleteTaskGroup(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerTaskDefinitions(api huma.API, eng engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "createTask",
		Method:        http.MethodPost,
		Path:          "/task-groups/{id}/tasks",
		Summary:       "Create task definition",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.TaskDefinition `json:"body"`
	}, error) {
		actorID, errResp := actorIDFromContext(ctx)
		if errResp != nil {
			return nil, errResp
		}
		t, err := eng.CreateTaskDefinition(ctx, engine.TaskDefinitionCreateOptions{
			TaskGroupID:     input.ID,
			Title:           input.Body.Title,
			Description:     stringOrEmpty(input.Body.Description),
			Contact:         stringOrEmpty(input.Body.Contact),
			StartDate:       stringOrEmpty(input.Body.StartDate),
			EndDate:         stringOrEmpty(input.Body.EndDate),
			TaskType:        input.Body.TaskType,
			ResponseOptions: input.Body.ResponseOptions,
			SortIndex:       stringOrEmpty(input.Body.SortIndex),
			ObjectApproval:  input.Body.ObjectApproval,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskDefinition `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "listTasks",
		Method:      http.MethodGet,
		Path:        "/task-groups/{id}/tasks",
		Summary:     "List task definitions",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body taskList `json:"body"`
	}, error) {
		if _, err := eng.Repo.GetTaskGroup(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		items, err := eng.Repo.ListTaskDefinitions(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body taskList `json:"body"`
		}{Body: taskList{Items: emptyIfNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "updateTask",
		Method:      http.MethodPatch,
		Path:        "/tasks/{id}",
		Summary:     "Update task definition",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body domain.TaskDefinition `json:"body"`
	}, error) {
		actorID, errResp := actorIDFromContext(ctx)
		if errResp != nil {
			return nil, errResp
		}
		t, err := eng.UpdateTaskDefinition(ctx, engine.TaskDefinitionUpdateOptions{
			ID:              input.ID,
			Title:           input.Body.Title,
			Description:     input.Body.Description,
			Contact:         input.Body.Contact,
			StartDate:       input.Body.StartDate,
			EndDate:         input.Body.EndDate,
			TaskType:        input.Body.TaskType,
			ResponseOptions: input.Body.ResponseOptions,
			SortIndex:       input.Body.SortIndex,
			ObjectApproval:  input.Body.ObjectApproval,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TaskDefinition `json:"body"`
		}{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "deleteTask",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task definition",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		actorID, errResp := actorIDFromContext(ctx)
		if errResp != nil {
			return nil, errResp
		}
		if err := eng.DeleteTaskDefinition(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}
