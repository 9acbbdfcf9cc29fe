package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/internal/xenops/types"
)

type fakeTransport struct {
	mu sync.Mutex

	loginErr error

	refusalsBeforeSuccess int
	refusalCode           RefusalCode
	reserveAmount         uint64
	reserveErr            error

	transferErr error
	releaseErr  error
	balanceErr  error

	reserveCalls  int
	releaseCalls  int
	transferCalls int
}

func (f *fakeTransport) Login(ctx context.Context) (string, error) {
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return "session-1", nil
}

func (f *fakeTransport) Reserve(ctx context.Context, session string, min, max uint64) (uint64, string, RefusalCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserveCalls++
	if f.reserveCalls <= f.refusalsBeforeSuccess {
		return 0, "", f.refusalCode, errors.New("refused")
	}
	if f.reserveErr != nil {
		return 0, "", "", f.reserveErr
	}
	amount := f.reserveAmount
	if amount == 0 {
		amount = min
	}
	return amount, "reservation-1", "", nil
}

func (f *fakeTransport) TransferToDomain(ctx context.Context, session, reservationID string, domid types.DomId) error {
	f.transferCalls++
	return f.transferErr
}

func (f *fakeTransport) Release(ctx context.Context, session, reservationID string) error {
	f.releaseCalls++
	return f.releaseErr
}

func (f *fakeTransport) Balance(ctx context.Context, session string) error {
	return f.balanceErr
}

func TestReserveSucceedsWithinBounds(t *testing.T) {
	tr := &fakeTransport{reserveAmount: 512}
	b := New(tr, nil)

	r, err := b.Reserve(context.Background(), 256, 1024)
	require.NoError(t, err)
	require.Equal(t, uint64(512), r.Amount)
	require.Equal(t, "reservation-1", r.ID)
}

func TestReserveRetriesTransientRefusal(t *testing.T) {
	tr := &fakeTransport{refusalsBeforeSuccess: 2, refusalCode: DomainsRefusedToCooperate, reserveAmount: 256}
	b := New(tr, nil)

	orig := retryInterval
	setRetryIntervalForTest(t, time.Millisecond)
	defer setRetryIntervalForTest(t, orig)

	r, err := b.Reserve(context.Background(), 256, 256)
	require.NoError(t, err)
	require.Equal(t, uint64(256), r.Amount)
	require.Equal(t, 3, tr.reserveCalls)
}

func TestReserveNonTransientErrorFailsImmediately(t *testing.T) {
	tr := &fakeTransport{reserveErr: errors.New("boom")}
	b := New(tr, nil)

	_, err := b.Reserve(context.Background(), 1, 2)
	require.Error(t, err)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "BallooningServiceAbsent", apiErr.Code)
	require.Equal(t, 1, tr.reserveCalls)
}

func TestReserveAmountOutsideBoundsIsInternalError(t *testing.T) {
	tr := &fakeTransport{reserveAmount: 9999}
	b := New(tr, nil)

	_, err := b.Reserve(context.Background(), 1, 10)
	require.Error(t, err)
	var apiErr *apierror.Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "InternalError", apiErr.Code)
}

func TestWithReservationReleasesOnFailure(t *testing.T) {
	tr := &fakeTransport{reserveAmount: 64}
	b := New(tr, nil)

	wantErr := errors.New("build failed after reservation")
	err := b.WithReservation(context.Background(), 64, 64, func(r Reservation) (bool, error) {
		return false, wantErr
	})
	require.ErrorIs(t, err, wantErr)
	require.Equal(t, 1, tr.releaseCalls)
	require.Equal(t, 0, tr.transferCalls)
}

func TestWithReservationSkipsReleaseOnTransfer(t *testing.T) {
	tr := &fakeTransport{reserveAmount: 64}
	b := New(tr, nil)

	err := b.WithReservation(context.Background(), 64, 64, func(r Reservation) (bool, error) {
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, 0, tr.releaseCalls)
}

func TestSessionReloginAfterNonTransientFailure(t *testing.T) {
	tr := &fakeTransport{reserveErr: errors.New("session expired")}
	b := New(tr, nil)

	_, err := b.Reserve(context.Background(), 1, 2)
	require.Error(t, err)
	require.Empty(t, b.session)
}

// setRetryIntervalForTest temporarily overrides the package-level retry
// cadence so TestReserveRetriesTransientRefusal does not take 20s to run.
func setRetryIntervalForTest(t *testing.T, d time.Duration) {
	t.Helper()
	retryInterval = d
}
