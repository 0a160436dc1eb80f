package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/personal/interstitial-ad-coordinator/internal/domain/interstitial"
	"github.com/personal/interstitial-ad-coordinator/internal/domain/operation"
	"github.com/personal/interstitial-ad-coordinator/pkg/logger"
)

type mockRepository struct {
	mock.Mock
}

func (m *mockRepository) Save(ctx context.Context, op *operation.Operation) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}

func (m *mockRepository) FindByID(ctx context.Context, id operation.ID) (*operation.Operation, error) {
	args := m.Called(ctx, id)
	if op, ok := args.Get(0).(*operation.Operation); ok {
		return op, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRepository) FindRecent(ctx context.Context, limit int) ([]*operation.Operation, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]*operation.Operation), args.Error(1)
}

func (m *mockRepository) FindByPlacement(ctx context.Context, placementID string, limit int) ([]*operation.Operation, error) {
	args := m.Called(ctx, placementID, limit)
	return args.Get(0).([]*operation.Operation), args.Error(1)
}

// stubCoordinator hands back whatever result the test queued for a call
type stubCoordinator struct {
	mu        sync.Mutex
	results   map[string]*interstitial.Result
	calls     []string
	teardowns int
	snapshot  interstitial.Snapshot
	snapErr   error
}

func newStubCoordinator() *stubCoordinator {
	return &stubCoordinator{results: make(map[string]*interstitial.Result)}
}

func (c *stubCoordinator) on(method string, result *interstitial.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[method] = result
}

func (c *stubCoordinator) call(method, placementID string) *interstitial.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, method+":"+placementID)
	if r, ok := c.results[method]; ok {
		return r
	}
	return interstitial.RejectedResult(errors.New("unexpected call " + method))
}

func (c *stubCoordinator) LoadAd(p string) *interstitial.Result { return c.call("load", p) }
func (c *stubCoordinator) ShowAd(p string) *interstitial.Result { return c.call("show", p) }
func (c *stubCoordinator) PreloadAd(p string) *interstitial.Result {
	return c.call("preload", p)
}
func (c *stubCoordinator) ShowPreloadedAd(p string) *interstitial.Result {
	return c.call("show_preloaded", p)
}

func (c *stubCoordinator) HostTeardown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardowns++
}

func (c *stubCoordinator) Snapshot(context.Context) (interstitial.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot, c.snapErr
}

func newTestService(coord Coordinator, repo operation.Repository, timeout time.Duration) *InterstitialService {
	return NewInterstitialService(coord, repo, logger.NewDiscard(), timeout, 20)
}

func TestExecute_Resolved(t *testing.T) {
	coord := newStubCoordinator()
	coord.on("show", interstitial.ResolvedResult(true))
	repo := &mockRepository{}
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	svc := newTestService(coord, repo, time.Second)
	resp, err := svc.ShowAd(context.Background(), "level_end")

	require.NoError(t, err)
	assert.Equal(t, "show", resp.Kind)
	assert.Equal(t, "level_end", resp.PlacementID)
	assert.Equal(t, string(operation.StatusResolved), resp.Status)
	assert.True(t, resp.Result)
	assert.NotNil(t, resp.CompletedAt)
	assert.Equal(t, []string{"show:level_end"}, coord.calls)
	// created, then completed
	repo.AssertNumberOfCalls(t, "Save", 2)
}

func TestExecute_RoutesEachKind(t *testing.T) {
	coord := newStubCoordinator()
	for _, m := range []string{"load", "show", "preload", "show_preloaded"} {
		coord.on(m, interstitial.ResolvedResult(false))
	}
	repo := &mockRepository{}
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)
	svc := newTestService(coord, repo, time.Second)
	ctx := context.Background()

	_, err := svc.LoadAd(ctx, "a")
	require.NoError(t, err)
	_, err = svc.ShowAd(ctx, "b")
	require.NoError(t, err)
	_, err = svc.PreloadAd(ctx, "c")
	require.NoError(t, err)
	_, err = svc.ShowPreloadedAd(ctx, "d")
	require.NoError(t, err)

	assert.Equal(t, []string{"load:a", "show:b", "preload:c", "show_preloaded:d"}, coord.calls)
}

func TestExecute_RejectedKeepsOperation(t *testing.T) {
	coord := newStubCoordinator()
	coord.on("show_preloaded", interstitial.RejectedResult(interstitial.ErrAdNotReady))
	repo := &mockRepository{}
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	svc := newTestService(coord, repo, time.Second)
	resp, err := svc.ShowPreloadedAd(context.Background(), "menu")

	assert.ErrorIs(t, err, interstitial.ErrAdNotReady)
	require.NotNil(t, resp)
	assert.Equal(t, string(operation.StatusRejected), resp.Status)
	assert.Equal(t, interstitial.CodeAdNotReady, resp.ErrorCode)
	assert.NotEmpty(t, resp.OperationID)
}

func TestExecute_InvalidPlacement(t *testing.T) {
	coord := newStubCoordinator()
	repo := &mockRepository{}

	svc := newTestService(coord, repo, time.Second)
	resp, err := svc.ShowAd(context.Background(), "   ")

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, interstitial.ErrInvalidPlacement)
	assert.Empty(t, coord.calls)
	repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestExecute_PlacementTooLong(t *testing.T) {
	coord := newStubCoordinator()
	repo := &mockRepository{}

	svc := newTestService(coord, repo, time.Second)
	resp, err := svc.PreloadAd(context.Background(), strings.Repeat("p", interstitial.MaxPlacementIDLength+1))

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, interstitial.ErrInvalidPlacement)
	assert.Empty(t, coord.calls)
	repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

// settleOnErrContext is already done and settles result the moment its
// error is read, reproducing a result that settles just after the wait ends
type settleOnErrContext struct {
	context.Context
	result *interstitial.Result
}

func (c settleOnErrContext) Err() error {
	c.result.Resolve(true)
	return c.Context.Err()
}

func TestExecute_ResultSettlingAsWaitEndsKeepsValue(t *testing.T) {
	pending := interstitial.NewPendingResult()
	coord := newStubCoordinator()
	coord.on("show", pending)
	repo := &mockRepository{}
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	base, cancel := context.WithCancel(context.Background())
	cancel()
	ctx := settleOnErrContext{Context: base, result: pending}

	// No request timeout, so the wait uses ctx directly
	svc := newTestService(coord, repo, 0)
	resp, err := svc.ShowAd(ctx, "p")

	require.NoError(t, err)
	assert.True(t, resp.Result)
	assert.Equal(t, string(operation.StatusResolved), resp.Status)
	assert.Empty(t, resp.ErrorCode)
}

func TestExecute_HistoryFailureDoesNotFailRequest(t *testing.T) {
	coord := newStubCoordinator()
	coord.on("preload", interstitial.ResolvedResult(true))
	repo := &mockRepository{}
	repo.On("Save", mock.Anything, mock.Anything).Return(errors.New("db down"))

	svc := newTestService(coord, repo, time.Second)
	resp, err := svc.PreloadAd(context.Background(), "p")

	require.NoError(t, err)
	assert.True(t, resp.Result)
}

func TestExecute_TimeoutCompletesInBackground(t *testing.T) {
	pending := interstitial.NewPendingResult()
	coord := newStubCoordinator()
	coord.on("show", pending)

	saved := make(chan operation.Status, 4)
	repo := &mockRepository{}
	repo.On("Save", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		saved <- args.Get(1).(*operation.Operation).Status()
	}).Return(nil)

	svc := newTestService(coord, repo, 20*time.Millisecond)
	resp, err := svc.ShowAd(context.Background(), "p")

	assert.ErrorIs(t, err, ErrRequestTimeout)
	assert.Equal(t, CodeTimeout, ErrorCode(err))
	require.NotNil(t, resp)
	assert.Equal(t, string(operation.StatusPending), resp.Status)
	assert.Equal(t, operation.StatusPending, <-saved)

	// The coordinator still owns the request and settles it later
	require.True(t, pending.Resolve(true))
	svc.Close()

	select {
	case status := <-saved:
		assert.Equal(t, operation.StatusResolved, status)
	case <-time.After(time.Second):
		t.Fatal("operation was not completed after the result settled")
	}
}

func TestExecute_CallerCancelled(t *testing.T) {
	pending := interstitial.NewPendingResult()
	coord := newStubCoordinator()
	coord.on("load", pending)
	repo := &mockRepository{}
	repo.On("Save", mock.Anything, mock.Anything).Return(nil)

	svc := newTestService(coord, repo, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.LoadAd(ctx, "p")
	assert.ErrorIs(t, err, ErrRequestTimeout)

	pending.Reject(interstitial.ErrHostDestroyed)
	svc.Close()
	repo.AssertNumberOfCalls(t, "Save", 2)
}

func TestHostTeardown(t *testing.T) {
	coord := newStubCoordinator()
	coord.snapshot = interstitial.Snapshot{State: interstitial.StateIdle, Generation: 3}

	svc := newTestService(coord, &mockRepository{}, time.Second)
	status, err := svc.HostTeardown(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, coord.teardowns)
	assert.Equal(t, "idle", status.State)
	assert.Equal(t, uint64(3), status.Generation)
}

func TestStatus(t *testing.T) {
	coord := newStubCoordinator()
	coord.snapshot = interstitial.Snapshot{
		State:          interstitial.StateLoading,
		Intent:         interstitial.IntentShow,
		PlacementID:    "p",
		ShowPending:    true,
		PreloadPending: false,
	}

	svc := newTestService(coord, &mockRepository{}, time.Second)
	status, err := svc.Status(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "loading", status.State)
	assert.True(t, status.ShowWhenLoaded)
	assert.False(t, status.IsPreloaded)
	assert.True(t, status.ShowPending)
	assert.Equal(t, "p", status.PlacementID)

	coord.snapErr = context.DeadlineExceeded
	_, err = svc.Status(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGetOperation(t *testing.T) {
	op, err := operation.New(operation.KindPreload, "p")
	require.NoError(t, err)
	require.NoError(t, op.Resolve(true))

	repo := &mockRepository{}
	repo.On("FindByID", mock.Anything, op.ID()).Return(op, nil)
	svc := newTestService(newStubCoordinator(), repo, time.Second)

	resp, err := svc.GetOperation(context.Background(), op.ID().String())
	require.NoError(t, err)
	assert.Equal(t, op.ID().String(), resp.OperationID)
	assert.Equal(t, "preload", resp.Kind)

	_, err = svc.GetOperation(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidOperationID)
}

func TestRecentOperations(t *testing.T) {
	op, err := operation.New(operation.KindShow, "p")
	require.NoError(t, err)

	repo := &mockRepository{}
	repo.On("FindRecent", mock.Anything, 20).Return([]*operation.Operation{op}, nil)
	repo.On("FindByPlacement", mock.Anything, "p", 5).Return([]*operation.Operation{op}, nil)
	svc := newTestService(newStubCoordinator(), repo, time.Second)

	// limit is capped at the configured recent limit
	all, err := svc.RecentOperations(context.Background(), "", 500)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	byPlacement, err := svc.RecentOperations(context.Background(), "p", 5)
	require.NoError(t, err)
	assert.Len(t, byPlacement, 1)

	repo.AssertExpectations(t)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, CodeTimeout, ErrorCode(ErrRequestTimeout))
	assert.Equal(t, interstitial.CodeOperationInProgress, ErrorCode(interstitial.ErrOperationInProgress))
	assert.Equal(t, interstitial.CodeUnknown, ErrorCode(errors.New("boom")))
}
