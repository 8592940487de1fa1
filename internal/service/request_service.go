// Package service implements the registry's request lifecycle.
package service

import (
	"context"
	"log/slog"

	"registry/internal/guard"
	"registry/internal/middleware"
	"registry/internal/models"
	"registry/internal/notifications"
	"registry/internal/observability"
	"registry/internal/repository"
)

// Response messages shared with the dispatcher and handlers.
const (
	MsgCopyRequested     = "Copy requested"
	MsgRequestUpdated    = "Request updated"
	MsgDeletionRequested = "Deletion requested"
	MsgRequestExists     = "Request exists"
	MsgRequestFound      = "Request found"
	MsgRequestNotFound   = "Request not found"
	MsgRequestCancelled  = "Request cancelled"
	MsgAlreadyCancelled  = "Request already cancelled"
)

// EventPublisher receives lifecycle events after a command commits.
type EventPublisher interface {
	Notify(ctx context.Context, ev notifications.RequestEvent)
}

// RequestParams are the coerced fields of one command.
type RequestParams struct {
	RequestID uint
	Items     models.ItemFilter
	Site      *string
	Group     *string
	N         *int
}

// filter matches item sets exactly, as submissions require.
func (p RequestParams) filter() models.RequestFilter {
	return models.RequestFilter{RequestID: p.RequestID, Items: p.Items, Site: p.Site}
}

// pollFilter lets a plain single item match any request holding it.
func (p RequestParams) pollFilter() models.RequestFilter {
	f := p.filter()
	f.ItemMatch = p.Items.PollMatch()
	return f
}

// CopyResult is a successful copy command outcome. Empty marks a poll with no matches.
type CopyResult struct {
	Message  string
	Empty    bool
	Requests []models.CopyRequest
}

// DeletionResult is a successful deletion command outcome.
type DeletionResult struct {
	Message  string
	Empty    bool
	Requests []models.DeletionRequest
}

// RequestService is the lifecycle engine for copy and deletion requests.
type RequestService struct {
	copies       repository.CopyRequestRepository
	deletions    repository.DeletionRequestRepository
	guard        guard.Guard
	events       EventPublisher
	defaultGroup string
}

// NewRequestService returns a new RequestService. events may be nil.
func NewRequestService(
	copies repository.CopyRequestRepository,
	deletions repository.DeletionRequestRepository,
	g guard.Guard,
	events EventPublisher,
	defaultGroup string,
) *RequestService {
	return &RequestService{
		copies:       copies,
		deletions:    deletions,
		guard:        g,
		events:       events,
		defaultGroup: defaultGroup,
	}
}

// lock takes the guard for the caller's scope of family.
func (s *RequestService) lock(ctx context.Context, family models.Family, ownerID uint) (guard.Release, error) {
	release, err := s.guard.Acquire(ctx, family, ownerID)
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "guard acquisition failed",
			slog.String("family", string(family)),
			slog.String("backend", s.guard.Backend()),
			slog.String("error", err.Error()),
		)
		return nil, models.NewInternalError("Could not acquire request lock", err)
	}
	return release, nil
}

// underGuard runs fn and releases the guard however fn exits. Events are
// returned for publishing once the guard is gone.
func underGuard[T any](release guard.Release, fn func() (T, []notifications.RequestEvent, error)) (T, []notifications.RequestEvent, error) {
	defer release()
	return fn()
}

func (s *RequestService) publish(ctx context.Context, events []notifications.RequestEvent) {
	if s.events == nil {
		return
	}
	for _, ev := range events {
		s.events.Notify(ctx, ev)
	}
}

func requireItemAndSite(p RequestParams) error {
	if p.RequestID != 0 {
		return nil
	}
	if !p.Items.Given || len(p.Items.Items) == 0 {
		return models.NewBadRequestError("Item not given")
	}
	if p.Site == nil || *p.Site == "" {
		return models.NewBadRequestError("Site not given")
	}
	return nil
}

// SubmitCopy creates a copy request or resubmits the caller's matching live ones.
func (s *RequestService) SubmitCopy(ctx context.Context, caller models.Caller, p RequestParams) (*CopyResult, error) {
	if err := requireItemAndSite(p); err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, models.FamilyCopy, caller.UserID)
	if err != nil {
		return nil, err
	}
	res, events, err := underGuard(release, func() (*CopyResult, []notifications.RequestEvent, error) {
		return s.submitCopyLocked(ctx, caller, p)
	})

	s.publish(ctx, events)
	return res, err
}

func (s *RequestService) submitCopyLocked(ctx context.Context, caller models.Caller, p RequestParams) (*CopyResult, []notifications.RequestEvent, error) {
	existing, err := s.copies.Fetch(ctx, caller.UserID, p.filter())
	if err != nil {
		return nil, nil, err
	}

	if p.RequestID != 0 {
		if len(existing) == 0 {
			return nil, nil, models.NewBadRequestError(MsgRequestNotFound)
		}
		if !models.FamilyCopy.IsLive(existing[0].Status) {
			return nil, nil, models.NewBadRequestErrorf("Request %d cannot be updated any more", p.RequestID)
		}
	}

	if len(existing) == 0 {
		group := s.defaultGroup
		if p.Group != nil {
			group = *p.Group
		}
		n := 1
		if p.N != nil {
			n = *p.N
		}
		created, err := s.copies.Create(ctx, caller.UserID, p.Items.Items, *p.Site, group, n)
		if err != nil {
			middleware.Logger.ErrorContext(ctx, "copy request creation failed", slog.String("error", err.Error()))
			return nil, nil, models.NewInternalError("Failed to request copy", err)
		}
		observability.RequestsCreated.WithLabelValues(string(models.FamilyCopy)).Inc()
		ev := notifications.RequestEvent{
			Family: models.FamilyCopy, RequestID: created.ID, Status: created.Status, Event: notifications.EventCreated,
		}
		return &CopyResult{Message: MsgCopyRequested, Requests: []models.CopyRequest{*created}},
			[]notifications.RequestEvent{ev}, nil
	}

	changes := make([]models.CopyUpdate, 0, len(existing))
	for _, req := range existing {
		patch := models.CopyPatch{Group: p.Group, NumCopies: p.N}
		if req.Status != models.StatusNew {
			status := models.StatusUpdated
			patch.Status = &status
		}
		changes = append(changes, models.CopyUpdate{ID: req.ID, Patch: patch})
	}
	updated, err := s.copies.UpdateMany(ctx, changes)
	if err != nil {
		return nil, nil, err
	}

	events := make([]notifications.RequestEvent, 0, len(updated))
	for _, u := range updated {
		events = append(events, notifications.RequestEvent{
			Family: models.FamilyCopy, RequestID: u.ID, Status: u.Status, Event: notifications.EventUpdated,
		})
	}
	return &CopyResult{Message: MsgRequestUpdated, Requests: updated}, events, nil
}

// SubmitDeletion creates a deletion request unless the caller already has a
// matching live one, which is returned untouched.
func (s *RequestService) SubmitDeletion(ctx context.Context, caller models.Caller, p RequestParams) (*DeletionResult, error) {
	if err := requireItemAndSite(p); err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, models.FamilyDeletion, caller.UserID)
	if err != nil {
		return nil, err
	}
	res, events, err := underGuard(release, func() (*DeletionResult, []notifications.RequestEvent, error) {
		return s.submitDeletionLocked(ctx, caller, p)
	})

	s.publish(ctx, events)
	return res, err
}

func (s *RequestService) submitDeletionLocked(ctx context.Context, caller models.Caller, p RequestParams) (*DeletionResult, []notifications.RequestEvent, error) {
	existing, err := s.deletions.Fetch(ctx, caller.UserID, p.filter())
	if err != nil {
		return nil, nil, err
	}

	if p.RequestID != 0 && len(existing) == 0 {
		return nil, nil, models.NewBadRequestError(MsgRequestNotFound)
	}

	if len(existing) > 0 {
		return &DeletionResult{Message: MsgRequestExists, Requests: existing}, nil, nil
	}

	created, err := s.deletions.Create(ctx, caller.UserID, p.Items.Items, *p.Site)
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "deletion request creation failed", slog.String("error", err.Error()))
		return nil, nil, models.NewInternalError("Failed to request deletion", err)
	}
	observability.RequestsCreated.WithLabelValues(string(models.FamilyDeletion)).Inc()
	ev := notifications.RequestEvent{
		Family: models.FamilyDeletion, RequestID: created.ID, Status: created.Status, Event: notifications.EventCreated,
	}
	return &DeletionResult{Message: MsgDeletionRequested, Requests: []models.DeletionRequest{*created}},
		[]notifications.RequestEvent{ev}, nil
}

func requirePollKey(p RequestParams) error {
	if p.RequestID == 0 && !p.Items.Given && p.Site == nil {
		return models.NewBadRequestError("Need request_id, item, or site")
	}
	return nil
}

// PollCopy reads the caller's matching copy requests without taking the guard.
func (s *RequestService) PollCopy(ctx context.Context, caller models.Caller, p RequestParams) (*CopyResult, error) {
	if err := requirePollKey(p); err != nil {
		return nil, err
	}
	reqs, err := s.copies.Fetch(ctx, caller.UserID, p.pollFilter())
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return &CopyResult{Message: MsgRequestNotFound, Empty: true}, nil
	}
	return &CopyResult{Message: MsgRequestFound, Requests: reqs}, nil
}

// PollDeletion reads the caller's matching deletion requests without taking the guard.
func (s *RequestService) PollDeletion(ctx context.Context, caller models.Caller, p RequestParams) (*DeletionResult, error) {
	if err := requirePollKey(p); err != nil {
		return nil, err
	}
	reqs, err := s.deletions.Fetch(ctx, caller.UserID, p.pollFilter())
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return &DeletionResult{Message: MsgRequestNotFound, Empty: true}, nil
	}
	return &DeletionResult{Message: MsgRequestFound, Requests: reqs}, nil
}

// checkCancellable applies the cancel rules to the current status. A nil
// error with done set means the request is already cancelled.
func checkCancellable(status models.RequestStatus, data interface{}) (done bool, err error) {
	switch status {
	case models.StatusCancelled:
		return true, nil
	case models.StatusCompleted, models.StatusRejected:
		return false, models.NewBadRequestError("Cannot cancel completed or rejected requests").WithData(data)
	}
	return false, nil
}

// CancelCopy cancels one of the caller's copy requests by id.
func (s *RequestService) CancelCopy(ctx context.Context, caller models.Caller, p RequestParams) (*CopyResult, error) {
	if p.RequestID == 0 {
		return nil, models.NewBadRequestError("No request id given")
	}

	release, err := s.lock(ctx, models.FamilyCopy, caller.UserID)
	if err != nil {
		return nil, err
	}
	res, events, err := underGuard(release, func() (*CopyResult, []notifications.RequestEvent, error) {
		return s.cancelCopyLocked(ctx, caller, p.RequestID)
	})

	s.publish(ctx, events)
	return res, err
}

func (s *RequestService) cancelCopyLocked(ctx context.Context, caller models.Caller, id uint) (*CopyResult, []notifications.RequestEvent, error) {
	existing, err := s.copies.Fetch(ctx, caller.UserID, models.ByID(id))
	if err != nil {
		return nil, nil, err
	}
	if len(existing) == 0 {
		return nil, nil, models.NewBadRequestError("Invalid request id")
	}
	current := existing[0]
	done, err := checkCancellable(current.Status, models.CopyViews(existing))
	if err != nil {
		return nil, nil, err
	}
	if done {
		return &CopyResult{Message: MsgAlreadyCancelled, Requests: existing}, nil, nil
	}

	status := models.StatusCancelled
	u, err := s.copies.Update(ctx, id, models.CopyPatch{Status: &status})
	if err != nil {
		return nil, nil, err
	}
	ev := notifications.RequestEvent{
		Family: models.FamilyCopy, RequestID: u.ID, Status: u.Status, Event: notifications.EventCancelled,
	}
	return &CopyResult{Message: MsgRequestCancelled, Requests: []models.CopyRequest{*u}},
		[]notifications.RequestEvent{ev}, nil
}

// CancelDeletion cancels one of the caller's deletion requests by id.
func (s *RequestService) CancelDeletion(ctx context.Context, caller models.Caller, p RequestParams) (*DeletionResult, error) {
	if p.RequestID == 0 {
		return nil, models.NewBadRequestError("No request id given")
	}

	release, err := s.lock(ctx, models.FamilyDeletion, caller.UserID)
	if err != nil {
		return nil, err
	}
	res, events, err := underGuard(release, func() (*DeletionResult, []notifications.RequestEvent, error) {
		return s.cancelDeletionLocked(ctx, caller, p.RequestID)
	})

	s.publish(ctx, events)
	return res, err
}

func (s *RequestService) cancelDeletionLocked(ctx context.Context, caller models.Caller, id uint) (*DeletionResult, []notifications.RequestEvent, error) {
	existing, err := s.deletions.Fetch(ctx, caller.UserID, models.ByID(id))
	if err != nil {
		return nil, nil, err
	}
	if len(existing) == 0 {
		return nil, nil, models.NewBadRequestError("Invalid request id")
	}
	done, err := checkCancellable(existing[0].Status, models.DeletionViews(existing))
	if err != nil {
		return nil, nil, err
	}
	if done {
		return &DeletionResult{Message: MsgAlreadyCancelled, Requests: existing}, nil, nil
	}

	u, err := s.deletions.Cancel(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	ev := notifications.RequestEvent{
		Family: models.FamilyDeletion, RequestID: u.ID, Status: u.Status, Event: notifications.EventCancelled,
	}
	return &DeletionResult{Message: MsgRequestCancelled, Requests: []models.DeletionRequest{*u}},
		[]notifications.RequestEvent{ev}, nil
}

// AdminFilter narrows the operator listing.
type AdminFilter struct {
	Statuses []models.RequestStatus
	Site     *string
	Items    models.ItemFilter
}

func (f AdminFilter) filter() models.RequestFilter {
	return models.RequestFilter{
		AllUsers:  true,
		Statuses:  f.Statuses,
		Site:      f.Site,
		Items:     f.Items,
		ItemMatch: models.MatchContains,
	}
}

// ListCopies returns every user's copy requests matching f, with owners embedded.
func (s *RequestService) ListCopies(ctx context.Context, caller models.Caller, f AdminFilter) (*CopyResult, error) {
	if !caller.Authorized {
		return nil, models.NewBadRequestError("User not authorized")
	}
	reqs, err := s.copies.Fetch(ctx, caller.UserID, f.filter())
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return &CopyResult{Message: MsgRequestNotFound, Empty: true}, nil
	}
	return &CopyResult{Message: MsgRequestFound, Requests: reqs}, nil
}

// ListDeletions returns every user's deletion requests matching f, with owners embedded.
func (s *RequestService) ListDeletions(ctx context.Context, caller models.Caller, f AdminFilter) (*DeletionResult, error) {
	if !caller.Authorized {
		return nil, models.NewBadRequestError("User not authorized")
	}
	reqs, err := s.deletions.Fetch(ctx, caller.UserID, f.filter())
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return &DeletionResult{Message: MsgRequestNotFound, Empty: true}, nil
	}
	return &DeletionResult{Message: MsgRequestFound, Requests: reqs}, nil
}
