package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/neomorfeo/orderdesk/internal/dispatch"
	"github.com/neomorfeo/orderdesk/internal/domain"
)

// ActorHeaders identify the caller of a task-submitting route.
type ActorHeaders struct {
	ActorID   string `header:"X-Actor-ID" required:"true" minLength:"1" doc:"Identity of the caller"`
	ActorRole string `header:"X-Actor-Role" required:"true" enum:"customer,operator" doc:"Role of the caller"`
	ReplyTo   string `header:"X-Reply-To" required:"false" doc:"Reply channel for the result envelope (default: polling)"`
}

func (h ActorHeaders) actor() dispatch.ActorPayload {
	return dispatch.ActorPayload{ID: h.ActorID, Role: domain.Role(h.ActorRole)}
}

// AcceptedOutput is returned by every task-submitting route.
type AcceptedOutput struct {
	Location string `header:"Location"`
	Body     dispatch.Handle
}

// --- Create Order ---

type CreateOrderInput struct {
	ActorHeaders
	Body struct {
		CustomerID  string `json:"customer_id,omitempty" doc:"Customer the order is for (defaults to the caller)"`
		Service     string `json:"service" enum:"web_site,mobile_app,desktop_app" doc:"Catalog service"`
		Description string `json:"description" maxLength:"4000" doc:"Free-text requirements"`
	}
}

// --- Get Order ---

type GetOrderInput struct {
	ActorHeaders
	ID string `path:"id" doc:"Order ID"`
}

// --- List Orders ---

type ListOrdersInput struct {
	ActorHeaders
	Status     string `query:"status" required:"false" doc:"Filter by status"`
	CustomerID string `query:"customer_id" required:"false" doc:"Filter by customer"`
	Limit      int    `query:"limit" required:"false" default:"50" minimum:"0" doc:"Max results"`
	Offset     int    `query:"offset" required:"false" default:"0" minimum:"0" doc:"Pagination offset"`
}

// --- Transition ---

type TransitionInput struct {
	ActorHeaders
	ID   string `path:"id" doc:"Order ID"`
	Body struct {
		Action  string `json:"action" enum:"validate,reject,cancel,schedule,start,complete" doc:"Lifecycle action to request"`
		Comment string `json:"comment,omitempty" maxLength:"1000" doc:"Note recorded in the order history"`
	}
}

// --- Task Status ---

type GetTaskInput struct {
	ID string `path:"id" doc:"Task correlation ID"`
}

type GetTaskOutput struct {
	Body dispatch.TaskStatus
}

// Register adds the order and task routes to the Huma API. Order routes only
// enqueue work; results are read back through the task route or the
// requested reply channel.
func Register(api huma.API, submitter dispatch.Submitter, tracker dispatch.Tracker) {
	submit := func(ctx context.Context, op dispatch.Operation, payload any, replyTo string) (*AcceptedOutput, error) {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, toHumaError(err)
		}
		h, err := submitter.Submit(ctx, op, raw, replyTo)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &AcceptedOutput{Location: "/api/v1/tasks/" + h.CorrelationID, Body: h}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID:   "create-order",
		Method:        http.MethodPost,
		Path:          "/api/v1/orders",
		Summary:       "Submit a new order",
		Tags:          []string{"Orders"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *CreateOrderInput) (*AcceptedOutput, error) {
		customer := input.Body.CustomerID
		if customer == "" {
			customer = input.ActorID
		}
		return submit(ctx, dispatch.OpCreate, dispatch.CreatePayload{
			CustomerID:  customer,
			Service:     domain.Service(input.Body.Service),
			Description: input.Body.Description,
			Actor:       input.actor(),
		}, input.ReplyTo)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "get-order",
		Method:        http.MethodGet,
		Path:          "/api/v1/orders/{id}",
		Summary:       "Request an order by ID",
		Tags:          []string{"Orders"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *GetOrderInput) (*AcceptedOutput, error) {
		return submit(ctx, dispatch.OpRead, dispatch.ReadPayload{OrderID: input.ID}, input.ReplyTo)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "list-orders",
		Method:        http.MethodGet,
		Path:          "/api/v1/orders",
		Summary:       "Request a list of orders",
		Tags:          []string{"Orders"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *ListOrdersInput) (*AcceptedOutput, error) {
		return submit(ctx, dispatch.OpList, dispatch.ListPayload{
			Status:     input.Status,
			CustomerID: input.CustomerID,
			Limit:      input.Limit,
			Offset:     input.Offset,
		}, input.ReplyTo)
	})

	huma.Register(api, huma.Operation{
		OperationID:   "transition-order",
		Method:        http.MethodPost,
		Path:          "/api/v1/orders/{id}/transitions",
		Summary:       "Request a lifecycle transition",
		Tags:          []string{"Orders"},
		DefaultStatus: http.StatusAccepted,
	}, func(ctx context.Context, input *TransitionInput) (*AcceptedOutput, error) {
		return submit(ctx, dispatch.Operation(input.Body.Action), dispatch.ChangePayload{
			OrderID: input.ID,
			Actor:   input.actor(),
			Comment: input.Body.Comment,
		}, input.ReplyTo)
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/api/v1/tasks/{id}",
		Summary:     "Get the progress and result of a task",
		Tags:        []string{"Tasks"},
	}, func(ctx context.Context, input *GetTaskInput) (*GetTaskOutput, error) {
		status, err := tracker.Status(ctx, input.ID)
		if err != nil {
			return nil, toHumaError(err)
		}
		return &GetTaskOutput{Body: status}, nil
	})
}

// toHumaError translates submission and tracking errors to Huma HTTP errors.
func toHumaError(err error) error {
	if errors.Is(err, dispatch.ErrTaskNotFound) {
		return huma.Error404NotFound("task not found")
	}

	switch domain.KindOf(err) {
	case domain.KindInvalidRequest:
		return huma.Error400BadRequest(err.Error())
	case domain.KindStorageUnavailable:
		return huma.Error503ServiceUnavailable("storage unavailable")
	}

	return huma.Error500InternalServerError("internal server error")
}
