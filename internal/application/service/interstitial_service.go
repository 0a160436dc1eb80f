package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/personal/interstitial-ad-coordinator/internal/domain/interstitial"
	"github.com/personal/interstitial-ad-coordinator/internal/domain/operation"
	"github.com/personal/interstitial-ad-coordinator/pkg/logger"
	"github.com/personal/interstitial-ad-coordinator/pkg/monitoring"
)

// Service errors
var (
	ErrRequestTimeout     = errors.New("timed out waiting for the interstitial ad operation")
	ErrInvalidOperationID = errors.New("invalid operation ID")
)

// CodeTimeout is reported when the caller stopped waiting before the
// coordinator settled the request
const CodeTimeout = "E_TIMEOUT"

// CodeOK is the metrics label for a resolved request
const CodeOK = "OK"

const historyWriteTimeout = 5 * time.Second

// Coordinator is the part of the interstitial coordinator the service drives
type Coordinator interface {
	LoadAd(placementID string) *interstitial.Result
	ShowAd(placementID string) *interstitial.Result
	PreloadAd(placementID string) *interstitial.Result
	ShowPreloadedAd(placementID string) *interstitial.Result
	HostTeardown()
	Snapshot(ctx context.Context) (interstitial.Snapshot, error)
}

// InterstitialService submits caller requests to the coordinator, waits for
// them with a deadline and records each one in the operation history
type InterstitialService struct {
	coordinator    Coordinator
	repository     operation.Repository
	log            *logrus.Entry
	requestTimeout time.Duration
	recentLimit    int

	pending sync.WaitGroup
}

// NewInterstitialService creates a new InterstitialService
func NewInterstitialService(
	coordinator Coordinator,
	repository operation.Repository,
	log *logger.Logger,
	requestTimeout time.Duration,
	recentLimit int,
) *InterstitialService {
	if recentLimit <= 0 {
		recentLimit = 50
	}
	return &InterstitialService{
		coordinator:    coordinator,
		repository:     repository,
		log:            log.Component("interstitial-service"),
		requestTimeout: requestTimeout,
		recentLimit:    recentLimit,
	}
}

// PlacementRequest is the body of every interstitial request
type PlacementRequest struct {
	PlacementID string `json:"placementId" validate:"required,max=128"`
}

// OperationResponse describes a recorded operation
type OperationResponse struct {
	OperationID string     `json:"operationId"`
	Kind        string     `json:"kind"`
	PlacementID string     `json:"placementId"`
	Status      string     `json:"status"`
	Result      bool       `json:"result"`
	ErrorCode   string     `json:"errorCode,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	DurationMs  int64      `json:"durationMs"`
}

// StatusResponse describes the coordinator state
type StatusResponse struct {
	State          string `json:"state"`
	Intent         string `json:"intent"`
	PlacementID    string `json:"placementId,omitempty"`
	Generation     uint64 `json:"generation"`
	IsPreloaded    bool   `json:"isPreloaded"`
	ShowWhenLoaded bool   `json:"showWhenLoaded"`
	ShowPending    bool   `json:"showPending"`
	PreloadPending bool   `json:"preloadPending"`
	Stopped        bool   `json:"stopped"`
}

// ErrorCode maps a service error to its caller-facing code
func ErrorCode(err error) string {
	if errors.Is(err, ErrRequestTimeout) {
		return CodeTimeout
	}
	return interstitial.Code(err)
}

// LoadAd loads an ad without showing it
func (s *InterstitialService) LoadAd(ctx context.Context, placementID string) (*OperationResponse, error) {
	return s.Execute(ctx, operation.KindLoad, placementID)
}

// ShowAd loads and shows an ad, resolving with whether it was clicked
func (s *InterstitialService) ShowAd(ctx context.Context, placementID string) (*OperationResponse, error) {
	return s.Execute(ctx, operation.KindShow, placementID)
}

// PreloadAd loads an ad for a later ShowPreloadedAd
func (s *InterstitialService) PreloadAd(ctx context.Context, placementID string) (*OperationResponse, error) {
	return s.Execute(ctx, operation.KindPreload, placementID)
}

// ShowPreloadedAd shows the ad preloaded for the placement
func (s *InterstitialService) ShowPreloadedAd(ctx context.Context, placementID string) (*OperationResponse, error) {
	return s.Execute(ctx, operation.KindShowPreloaded, placementID)
}

// Execute submits a request of the given kind and waits for it to settle.
// A rejected request returns both the recorded operation and the
// coordinator's error. When the wait times out the operation stays pending
// and is completed in the background once the coordinator settles it.
func (s *InterstitialService) Execute(ctx context.Context, kind operation.Kind, placementID string) (*OperationResponse, error) {
	if err := interstitial.ValidatePlacementID(placementID); err != nil {
		return nil, err
	}

	op, err := operation.New(kind, placementID)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation: %w", err)
	}
	s.save(ctx, op)

	result := s.submit(kind, placementID)

	waitCtx := ctx
	if s.requestTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	if _, err := result.Wait(waitCtx); err != nil && !result.Settled() {
		response := toOperationResponse(op)
		s.log.WithFields(logrus.Fields{
			"operationId": op.ID().String(),
			"kind":        kind,
			"placementId": placementID,
		}).Warn("Stopped waiting for interstitial operation, completing it in the background")
		s.finalizeLater(op, result)
		return response, ErrRequestTimeout
	}

	// Read the outcome again since the result may settle after waitCtx
	// expires but before the Settled check
	value, waitErr := result.Wait(context.Background())

	s.complete(op, value, waitErr)
	return toOperationResponse(op), waitErr
}

func (s *InterstitialService) submit(kind operation.Kind, placementID string) *interstitial.Result {
	switch kind {
	case operation.KindLoad:
		return s.coordinator.LoadAd(placementID)
	case operation.KindShow:
		return s.coordinator.ShowAd(placementID)
	case operation.KindPreload:
		return s.coordinator.PreloadAd(placementID)
	case operation.KindShowPreloaded:
		return s.coordinator.ShowPreloadedAd(placementID)
	default:
		return interstitial.RejectedResult(operation.ErrInvalidKind)
	}
}

// finalizeLater completes op once the coordinator settles result. The
// coordinator always settles a request, at the latest when it stops.
func (s *InterstitialService) finalizeLater(op *operation.Operation, result *interstitial.Result) {
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		value, err := result.Wait(context.Background())
		s.complete(op, value, err)
	}()
}

func (s *InterstitialService) complete(op *operation.Operation, value bool, err error) {
	code := CodeOK
	if err != nil {
		code = ErrorCode(err)
		if rejectErr := op.Reject(code, err.Error()); rejectErr != nil {
			return
		}
	} else if resolveErr := op.Resolve(value); resolveErr != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyWriteTimeout)
	defer cancel()
	s.save(ctx, op)

	monitoring.RecordRequest(string(op.Kind()), code, op.Duration())

	entry := s.log.WithFields(logrus.Fields{
		"operationId": op.ID().String(),
		"kind":        op.Kind(),
		"placementId": op.PlacementID(),
		"duration":    op.Duration().String(),
	})
	if err != nil {
		entry.WithField("code", code).WithError(err).Info("Interstitial operation rejected")
		return
	}
	entry.WithField("result", value).Info("Interstitial operation resolved")
}

// History is best effort; a failed write never fails the caller's request
func (s *InterstitialService) save(ctx context.Context, op *operation.Operation) {
	if err := s.repository.Save(ctx, op); err != nil {
		s.log.WithError(err).WithField("operationId", op.ID().String()).Warn("Failed to record interstitial operation")
	}
}

// HostTeardown rejects every pending request and destroys the active ad,
// returning the coordinator state once the teardown has been processed
func (s *InterstitialService) HostTeardown(ctx context.Context) (*StatusResponse, error) {
	s.coordinator.HostTeardown()
	s.log.Info("Host teardown requested")
	return s.Status(ctx)
}

// Status returns the current coordinator state
func (s *InterstitialService) Status(ctx context.Context) (*StatusResponse, error) {
	snap, err := s.coordinator.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read coordinator state: %w", err)
	}

	return &StatusResponse{
		State:          snap.State.String(),
		Intent:         snap.Intent.String(),
		PlacementID:    snap.PlacementID,
		Generation:     snap.Generation,
		IsPreloaded:    snap.IsPreloaded(),
		ShowWhenLoaded: snap.ShowWhenLoaded(),
		ShowPending:    snap.ShowPending,
		PreloadPending: snap.PreloadPending,
		Stopped:        snap.Stopped,
	}, nil
}

// GetOperation returns a recorded operation by ID
func (s *InterstitialService) GetOperation(ctx context.Context, operationID string) (*OperationResponse, error) {
	id, err := operation.ParseID(operationID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOperationID, err)
	}

	op, err := s.repository.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return toOperationResponse(op), nil
}

// RecentOperations returns the newest operations, optionally for one placement
func (s *InterstitialService) RecentOperations(ctx context.Context, placementID string, limit int) ([]*OperationResponse, error) {
	if limit <= 0 || limit > s.recentLimit {
		limit = s.recentLimit
	}

	var (
		ops []*operation.Operation
		err error
	)
	if placementID != "" {
		ops, err = s.repository.FindByPlacement(ctx, placementID, limit)
	} else {
		ops, err = s.repository.FindRecent(ctx, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}

	responses := make([]*OperationResponse, 0, len(ops))
	for _, op := range ops {
		responses = append(responses, toOperationResponse(op))
	}
	return responses, nil
}

// Close waits for operations still completing in the background. Stop the
// coordinator first so every pending request settles.
func (s *InterstitialService) Close() {
	s.pending.Wait()
}

func toOperationResponse(op *operation.Operation) *OperationResponse {
	return &OperationResponse{
		OperationID: op.ID().String(),
		Kind:        string(op.Kind()),
		PlacementID: op.PlacementID(),
		Status:      string(op.Status()),
		Result:      op.Result(),
		ErrorCode:   op.ErrorCode(),
		Error:       op.ErrorMessage(),
		CreatedAt:   op.CreatedAt(),
		CompletedAt: op.CompletedAt(),
		DurationMs:  op.Duration().Milliseconds(),
	}
}
