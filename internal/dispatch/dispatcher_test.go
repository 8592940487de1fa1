package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"registry/internal/guard"
	"registry/internal/models"
	"registry/internal/repository"
	"registry/internal/service"
	"registry/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newDispatcher(t *testing.T) (*Dispatcher, *gorm.DB) {
	t.Helper()
	db := testutil.NewSQLiteDB(t)
	svc := service.NewRequestService(
		repository.NewCopyRequestRepository(db),
		repository.NewDeletionRequestRepository(db),
		guard.NewLocalGuard(5*time.Second),
		nil,
		"AnalysisOps",
	)
	return New(svc), db
}

func TestDispatch_InvalidCommand(t *testing.T) {
	d, db := newDispatcher(t)
	caller := testutil.Caller(testutil.CreateUser(t, db, "alice"))

	resp := d.Dispatch(context.Background(), "purge", Fields{}, caller)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, ResultBadRequest, resp.Result)
	assert.Equal(t,
		"Invalid command (possible values: copy, delete, pollcopy, polldeletion, cancelcopy, canceldeletion)",
		resp.Message)
}

func TestDispatch_UnknownUser(t *testing.T) {
	d, _ := newDispatcher(t)
	resp := d.Dispatch(context.Background(), CommandPollCopy, Fields{"site": "T2_X"}, models.Caller{})
	assert.Equal(t, ResultBadRequest, resp.Result)
	assert.Equal(t, "Unknown user", resp.Message)
}

func TestDispatch_ReadOnlyCallerMayOnlyPoll(t *testing.T) {
	d, db := newDispatcher(t)
	caller := testutil.Caller(testutil.CreateUser(t, db, "alice"))
	caller.Authorized = false

	for _, cmd := range []string{CommandCopy, CommandDelete, CommandCancelCopy, CommandCancelDeletion} {
		resp := d.Dispatch(context.Background(), cmd, Fields{"request_id": "1"}, caller)
		assert.Equal(t, ResultBadRequest, resp.Result, cmd)
		assert.Equal(t, "User not authorized", resp.Message, cmd)
	}

	for _, cmd := range []string{CommandPollCopy, CommandPollDeletion} {
		resp := d.Dispatch(context.Background(), cmd, Fields{"site": "T2_X"}, caller)
		assert.Equal(t, ResultEmpty, resp.Result, cmd)
	}
}

// Fields outside the allow-list are named in the rejection.
func TestDispatch_FieldAllowList(t *testing.T) {
	d, db := newDispatcher(t)
	caller := testutil.Caller(testutil.CreateUser(t, db, "alice"))

	resp := d.Dispatch(context.Background(), CommandCopy, Fields{"item": "a", "site": "T2_X", "foo": "bar"}, caller)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, `Field "foo" not allowed for operation "copy".`, resp.Message)

	resp = d.Dispatch(context.Background(), CommandDelete, Fields{"item": "a", "site": "T2_X", "n": "2"}, caller)
	assert.Equal(t, `Field "n" not allowed for operation "delete".`, resp.Message)

	resp = d.Dispatch(context.Background(), CommandPollCopy, Fields{"group": "x"}, caller)
	assert.Equal(t, `Field "group" not allowed for operation "pollcopy".`, resp.Message)
}

// Polls need at least one key.
func TestDispatch_PollNeedsKey(t *testing.T) {
	d, db := newDispatcher(t)
	caller := testutil.Caller(testutil.CreateUser(t, db, "alice"))

	for _, cmd := range []string{CommandPollCopy, CommandPollDeletion} {
		resp := d.Dispatch(context.Background(), cmd, Fields{}, caller)
		assert.Equal(t, ResultBadRequest, resp.Result)
		assert.Equal(t, "Need request_id, item, or site", resp.Message)
	}
}

func TestDispatch_Coercion(t *testing.T) {
	d, db := newDispatcher(t)
	caller := testutil.Caller(testutil.CreateUser(t, db, "alice"))

	tests := []struct {
		name    string
		command string
		fields  Fields
		message string
	}{
		{"non numeric id", CommandPollCopy, Fields{"request_id": "abc"}, `Invalid value: field "request_id" must be an integer`},
		{"zero id", CommandCancelCopy, Fields{"request_id": "0"}, `Invalid value: field "request_id" must be at least 1`},
		{"zero copies", CommandCopy, Fields{"item": "a", "site": "T2_*", "n": "0"}, `Invalid value: field "n" must be at least 1`},
		{"control chars", CommandCopy, Fields{"item": "a", "site": "T2\n"}, `Invalid value: field "site" contains control characters`},
		{"oversized item", CommandPollCopy, Fields{"item": []string{strings.Repeat("x", 600)}}, `Invalid value: field "item" exceeds 512 bytes`},
		{"list site", CommandPollCopy, Fields{"site": []string{"a", "b"}}, `Invalid value: field "site" must be a single value`},
		{"bad item type", CommandPollCopy, Fields{"item": 3}, `Invalid value: field "item" must be a string or a list of strings`},
		{"blank items", CommandCopy, Fields{"item": " , ,", "site": "T2_X"}, "Item not given"},
		{"oversized member in list", CommandCopy, Fields{"item": "a," + strings.Repeat("x", 513), "site": "T2_X"}, `Invalid value: field "item" exceeds 512 bytes`},
		{"oversized site", CommandCopy, Fields{"item": "a", "site": strings.Repeat("s", 129)}, `Invalid value: field "site" exceeds 128 bytes`},
		{"oversized group", CommandCopy, Fields{"item": "a", "site": "T2_X", "group": strings.Repeat("g", 65)}, `Invalid value: field "group" exceeds 64 bytes`},
		{"copies beyond column range", CommandCopy, Fields{"item": "a", "site": "T2_*", "n": "5000000000"}, `Invalid value: field "n" must be at most 2147483647`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := d.Dispatch(context.Background(), tc.command, tc.fields, caller)
			assert.Equal(t, ResultBadRequest, resp.Result)
			assert.Equal(t, tc.message, resp.Message)
		})
	}
}

func TestDispatch_LongItemListIsCheckedPerItem(t *testing.T) {
	d, db := newDispatcher(t)
	caller := testutil.Caller(testutil.CreateUser(t, db, "alice"))

	items := make([]string, 6)
	for i := range items {
		items[i] = fmt.Sprintf("/Primary/Dataset-%s/AODSIM#block%d", strings.Repeat("x", 80), i)
	}
	raw := strings.Join(items, ",")
	require.Greater(t, len(raw), 512)

	resp := d.Dispatch(context.Background(), CommandDelete, Fields{"item": raw, "site": "T2_US_X"}, caller)
	require.Equal(t, ResultOK, resp.Result, resp.Message)
	views := resp.Data.([]models.DeletionRequestView)
	require.Len(t, views, 1)
	assert.Equal(t, items, views[0].Item)
}

func TestDispatch_CopyRoundTrip(t *testing.T) {
	d, db := newDispatcher(t)
	caller := testutil.Caller(testutil.CreateUser(t, db, "alice"))
	ctx := context.Background()

	resp := d.Dispatch(ctx, CommandCopy, Fields{"item": ",fileA, fileB,", "site": "T2_US_*", "n": "3"}, caller)
	require.Equal(t, ResultOK, resp.Result, resp.Message)
	assert.Equal(t, "Copy requested", resp.Message)
	views, ok := resp.Data.([]models.CopyRequestView)
	require.True(t, ok)
	require.Len(t, views, 1)
	assert.Equal(t, []string{"fileA", "fileB"}, views[0].Item)
	assert.Equal(t, 3, views[0].N)

	resp = d.Dispatch(ctx, CommandCopy, Fields{"item": []string{"fileB", "fileA"}, "site": "T2_US_*", "n": "3"}, caller)
	require.Equal(t, ResultOK, resp.Result)
	assert.Equal(t, "Request updated", resp.Message)
	views = resp.Data.([]models.CopyRequestView)
	assert.Equal(t, 2, views[0].RequestCount)

	resp = d.Dispatch(ctx, CommandPollCopy, Fields{"item": "fileA"}, caller)
	require.Equal(t, ResultOK, resp.Result, "a plain item matches any request holding it")
	assert.Len(t, resp.Data.([]models.CopyRequestView), 1)

	resp = d.Dispatch(ctx, CommandPollCopy, Fields{"item": []string{"fileA"}}, caller)
	assert.Equal(t, ResultEmpty, resp.Result)
	assert.Equal(t, "Request not found", resp.Message)
	assert.Nil(t, resp.Data)

	resp = d.Dispatch(ctx, CommandCancelCopy, Fields{"request_id": "1"}, caller)
	require.Equal(t, ResultOK, resp.Result)
	assert.Equal(t, "Request cancelled", resp.Message)
}

func TestDispatch_CancelTerminalCarriesData(t *testing.T) {
	d, db := newDispatcher(t)
	caller := testutil.Caller(testutil.CreateUser(t, db, "alice"))
	ctx := context.Background()

	resp := d.Dispatch(ctx, CommandDelete, Fields{"item": "fileA", "site": "T2_US_X"}, caller)
	require.Equal(t, ResultOK, resp.Result)
	testutil.SetDeletionStatus(t, db, 1, models.StatusCompleted)

	resp = d.Dispatch(ctx, CommandCancelDeletion, Fields{"request_id": "1"}, caller)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Cannot cancel completed or rejected requests", resp.Message)
	views, ok := resp.Data.([]models.DeletionRequestView)
	require.True(t, ok)
	assert.Equal(t, models.StatusCompleted, views[0].Status)
}

type brokenLifecycle struct{ Lifecycle }

func (brokenLifecycle) PollCopy(context.Context, models.Caller, service.RequestParams) (*service.CopyResult, error) {
	return nil, assert.AnError
}

func TestDispatch_InternalErrorsHideDetails(t *testing.T) {
	d := New(brokenLifecycle{})
	resp := d.Dispatch(context.Background(), CommandPollCopy, Fields{"site": "T2_X"}, models.Caller{UserID: 1, SessionID: 1})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, ResultInternalError, resp.Result)
	assert.Equal(t, "Internal server error", resp.Message)
	assert.Nil(t, resp.Data)
}

func TestList(t *testing.T) {
	d, db := newDispatcher(t)
	alice := testutil.Caller(testutil.CreateUser(t, db, "alice"))
	bob := testutil.Caller(testutil.CreateUser(t, db, "bob"))
	ctx := context.Background()

	require.Equal(t, ResultOK, d.Dispatch(ctx, CommandDelete, Fields{"item": "a,b", "site": "T1_X"}, alice).Result)
	require.Equal(t, ResultOK, d.Dispatch(ctx, CommandDelete, Fields{"item": "a", "site": "T1_X"}, bob).Result)

	resp := d.List(ctx, "deletion", Fields{"item": "a", "site": "T1_X"}, alice)
	require.Equal(t, ResultOK, resp.Result)
	views := resp.Data.([]models.DeletionRequestView)
	require.Len(t, views, 2)
	assert.Equal(t, "alice", views[0].User)
	assert.Equal(t, "bob", views[1].User)

	resp = d.List(ctx, "copy", Fields{"status": "updated,completed"}, alice)
	assert.Equal(t, ResultEmpty, resp.Result)

	resp = d.List(ctx, "deletion", Fields{"status": "updated"}, alice)
	assert.Equal(t, ResultBadRequest, resp.Result)
	assert.Equal(t, `Invalid status "updated" for deletion requests`, resp.Message)

	resp = d.List(ctx, "archive", Fields{}, alice)
	assert.Equal(t, ResultBadRequest, resp.Result)

	resp = d.List(ctx, "copy", Fields{"request_id": "1"}, alice)
	assert.Equal(t, `Field "request_id" not allowed for operation "list".`, resp.Message)
}
