package operation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	op, err := New(KindPreload, "placement-a")
	require.NoError(t, err)

	assert.Equal(t, KindPreload, op.Kind())
	assert.Equal(t, "placement-a", op.PlacementID())
	assert.Equal(t, StatusPending, op.Status())
	assert.Nil(t, op.CompletedAt())
	assert.False(t, op.IsCompleted())

	_, err = ParseID(op.ID().String())
	assert.NoError(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Kind("dance"), "p")
	assert.ErrorIs(t, err, ErrInvalidKind)

	_, err = New(KindShow, " ")
	assert.ErrorIs(t, err, ErrInvalidPlacement)
}

func TestOperation_CompletesOnce(t *testing.T) {
	op, err := New(KindShow, "p")
	require.NoError(t, err)

	require.NoError(t, op.Resolve(true))
	assert.Equal(t, StatusResolved, op.Status())
	assert.True(t, op.Result())
	require.NotNil(t, op.CompletedAt())

	assert.ErrorIs(t, op.Resolve(false), ErrAlreadyCompleted)
	assert.ErrorIs(t, op.Reject("E_DESTROYED", "late"), ErrAlreadyCompleted)
	assert.True(t, op.Result())
}

func TestOperation_Reject(t *testing.T) {
	op, err := New(KindShowPreloaded, "p")
	require.NoError(t, err)

	require.NoError(t, op.Reject("E_AD_NOT_READY", "no preloaded ad"))
	assert.Equal(t, StatusRejected, op.Status())
	assert.Equal(t, "E_AD_NOT_READY", op.ErrorCode())
	assert.Equal(t, "no preloaded ad", op.ErrorMessage())
	assert.GreaterOrEqual(t, op.Duration(), time.Duration(0))
}

func TestOperation_CloneIsIndependent(t *testing.T) {
	op, err := New(KindLoad, "p")
	require.NoError(t, err)

	clone := op.Clone()
	require.NoError(t, op.Resolve(true))

	assert.Equal(t, StatusPending, clone.Status())
	assert.Nil(t, clone.CompletedAt())
	assert.Equal(t, op.ID(), clone.ID())
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind("show_preloaded")
	require.NoError(t, err)
	assert.Equal(t, KindShowPreloaded, k)

	_, err = ParseKind("")
	assert.ErrorIs(t, err, ErrInvalidKind)
}
