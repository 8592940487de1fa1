// Package dispatch validates registry commands and routes them to the
// request lifecycle.
package dispatch

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"registry/internal/middleware"
	"registry/internal/models"
	"registry/internal/observability"
	"registry/internal/service"
)

// Command names.
const (
	CommandCopy           = "copy"
	CommandDelete         = "delete"
	CommandPollCopy       = "pollcopy"
	CommandPollDeletion   = "polldeletion"
	CommandCancelCopy     = "cancelcopy"
	CommandCancelDeletion = "canceldeletion"
)

// Commands lists every command in the order they are advertised.
var Commands = []string{
	CommandCopy, CommandDelete, CommandPollCopy, CommandPollDeletion, CommandCancelCopy, CommandCancelDeletion,
}

// Result tags.
const (
	ResultOK            = "OK"
	ResultEmpty         = "EmptyResult"
	ResultBadRequest    = "BadRequest"
	ResultInternalError = "InternalError"
)

// Response is the outcome of one command.
type Response struct {
	StatusCode int
	Result     string
	Message    string
	Data       interface{}
}

// Lifecycle is the request engine the dispatcher drives.
type Lifecycle interface {
	SubmitCopy(ctx context.Context, caller models.Caller, p service.RequestParams) (*service.CopyResult, error)
	SubmitDeletion(ctx context.Context, caller models.Caller, p service.RequestParams) (*service.DeletionResult, error)
	PollCopy(ctx context.Context, caller models.Caller, p service.RequestParams) (*service.CopyResult, error)
	PollDeletion(ctx context.Context, caller models.Caller, p service.RequestParams) (*service.DeletionResult, error)
	CancelCopy(ctx context.Context, caller models.Caller, p service.RequestParams) (*service.CopyResult, error)
	CancelDeletion(ctx context.Context, caller models.Caller, p service.RequestParams) (*service.DeletionResult, error)
	ListCopies(ctx context.Context, caller models.Caller, f service.AdminFilter) (*service.CopyResult, error)
	ListDeletions(ctx context.Context, caller models.Caller, f service.AdminFilter) (*service.DeletionResult, error)
}

// Dispatcher turns raw commands into lifecycle calls.
type Dispatcher struct {
	svc Lifecycle
}

// New returns a Dispatcher driving svc.
func New(svc Lifecycle) *Dispatcher {
	return &Dispatcher{svc: svc}
}

// IsCommand reports whether command is a registry command.
func IsCommand(command string) bool {
	for _, c := range Commands {
		if c == command {
			return true
		}
	}
	return false
}

// IsPoll reports whether command only reads.
func IsPoll(command string) bool {
	return command == CommandPollCopy || command == CommandPollDeletion
}

// Dispatch validates and runs one command on behalf of caller.
func (d *Dispatcher) Dispatch(ctx context.Context, command string, fields Fields, caller models.Caller) Response {
	label := command
	if !IsCommand(command) {
		label = "unknown"
	}
	ctx, span := observability.StartCommandSpan(ctx, label, caller.UserID)

	resp, err := d.dispatch(ctx, command, fields, caller)
	if err != nil {
		resp = errorResponse(ctx, label, err)
	}

	observability.EndSpan(span, err)
	observability.CommandsTotal.WithLabelValues(label, resp.Result).Inc()
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, command string, fields Fields, caller models.Caller) (Response, error) {
	if !IsCommand(command) {
		return Response{}, models.NewBadRequestError(
			"Invalid command (possible values: " + strings.Join(Commands, ", ") + ")")
	}
	if !caller.Known() {
		return Response{}, models.NewBadRequestError("Unknown user")
	}
	if !IsPoll(command) && !caller.Authorized {
		return Response{}, models.NewBadRequestError("User not authorized")
	}

	p, err := sanitize(command, fields)
	if err != nil {
		return Response{}, err
	}

	switch command {
	case CommandCopy:
		return copyResponse(d.svc.SubmitCopy(ctx, caller, p))
	case CommandDelete:
		return deletionResponse(d.svc.SubmitDeletion(ctx, caller, p))
	case CommandPollCopy:
		return copyResponse(d.svc.PollCopy(ctx, caller, p))
	case CommandPollDeletion:
		return deletionResponse(d.svc.PollDeletion(ctx, caller, p))
	case CommandCancelCopy:
		return copyResponse(d.svc.CancelCopy(ctx, caller, p))
	default:
		return deletionResponse(d.svc.CancelDeletion(ctx, caller, p))
	}
}

// List runs the operator listing for family.
func (d *Dispatcher) List(ctx context.Context, family string, fields Fields, caller models.Caller) Response {
	label := "list"
	ctx, span := observability.StartCommandSpan(ctx, label, caller.UserID)

	resp, err := d.list(ctx, family, fields, caller)
	if err != nil {
		resp = errorResponse(ctx, label, err)
	}

	observability.EndSpan(span, err)
	observability.CommandsTotal.WithLabelValues(label, resp.Result).Inc()
	return resp
}

func (d *Dispatcher) list(ctx context.Context, family string, fields Fields, caller models.Caller) (Response, error) {
	fam, ok := models.ParseFamily(family)
	if !ok {
		return Response{}, models.NewBadRequestError("Invalid request family (possible values: copy, deletion)")
	}
	if !caller.Known() {
		return Response{}, models.NewBadRequestError("Unknown user")
	}
	f, err := sanitizeListing(fam, fields)
	if err != nil {
		return Response{}, err
	}
	if fam == models.FamilyCopy {
		return copyResponse(d.svc.ListCopies(ctx, caller, f))
	}
	return deletionResponse(d.svc.ListDeletions(ctx, caller, f))
}

func copyResponse(res *service.CopyResult, err error) (Response, error) {
	if err != nil {
		return Response{}, err
	}
	if res.Empty {
		return Response{StatusCode: http.StatusOK, Result: ResultEmpty, Message: res.Message}, nil
	}
	return Response{
		StatusCode: http.StatusOK, Result: ResultOK, Message: res.Message, Data: models.CopyViews(res.Requests),
	}, nil
}

func deletionResponse(res *service.DeletionResult, err error) (Response, error) {
	if err != nil {
		return Response{}, err
	}
	if res.Empty {
		return Response{StatusCode: http.StatusOK, Result: ResultEmpty, Message: res.Message}, nil
	}
	return Response{
		StatusCode: http.StatusOK, Result: ResultOK, Message: res.Message, Data: models.DeletionViews(res.Requests),
	}, nil
}

// errorResponse maps err onto the envelope. Internal details are logged, not returned.
func errorResponse(ctx context.Context, command string, err error) Response {
	appErr := models.AsAppError(err)
	if appErr.Code == models.CodeBadRequest {
		return Response{
			StatusCode: http.StatusBadRequest, Result: ResultBadRequest, Message: appErr.Message, Data: appErr.Data,
		}
	}

	middleware.Logger.ErrorContext(ctx, "command failed",
		slog.String("command", command),
		slog.String("error", err.Error()),
	)
	return Response{
		StatusCode: http.StatusInternalServerError, Result: ResultInternalError, Message: appErr.Message,
	}
}
