// Package memory is the Memory Broker client (base spec §4.D): it
// reserves, transfers, and releases host-memory "reservations" against a
// ballooning daemon session, retrying transient refusals with backoff
// before surfacing a typed error.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/internal/xenops/types"
	"github.com/xenops/xenopsd/pkg/idalloc"
)

// RefusalCode names the two transient broker refusals the base spec calls
// out for retry.
type RefusalCode string

const (
	DomainsRefusedToCooperate RefusalCode = "DomainsRefusedToCooperate"
	CannotFreeThisMuch        RefusalCode = "CannotFreeThisMuch"
)

// Transport is the wire boundary to the ballooning daemon. A real
// implementation talks to squeezed (or equivalent) over its session
// protocol; Mock backs tests.
type Transport interface {
	Login(ctx context.Context) (session string, err error)
	Reserve(ctx context.Context, session string, min, max uint64) (amount uint64, reservationID string, refusal RefusalCode, err error)
	TransferToDomain(ctx context.Context, session, reservationID string, domid types.DomId) error
	Release(ctx context.Context, session, reservationID string) error
	Balance(ctx context.Context, session string) error
}

// Broker caches a process-wide login session and serializes access to it;
// every RPC through Broker reuses the cached session, recreating it lazily
// if the daemon reports the session lost.
type Broker struct {
	transport Transport
	logger    *zerolog.Logger

	mu      sync.Mutex
	session string
}

// New returns a Broker over transport.
func New(transport Transport, logger *zerolog.Logger) *Broker {
	return &Broker{transport: transport, logger: logger}
}

func (b *Broker) sessionLocked(ctx context.Context) (string, error) {
	if b.session != "" {
		return b.session, nil
	}
	session, err := b.transport.Login(ctx)
	if err != nil {
		return "", apierror.WrapError(apierror.ErrBallooningServiceAbsent, "login to memory broker", err)
	}
	b.session = session
	return session, nil
}

// dropSession forces the next call to re-login, used when a call fails in
// a way that suggests the cached session is stale.
func (b *Broker) dropSession() {
	b.mu.Lock()
	b.session = ""
	b.mu.Unlock()
}

// Reservation is a live memory grant, identified by a broker-assigned id,
// not yet bound to a domain.
type Reservation struct {
	ID     string
	Amount uint64
}

// retryInterval and retryBudget are vars, not consts, so tests can shrink
// the cadence instead of waiting out a real 60s budget.
var (
	retryInterval = 10 * time.Second
	retryBudget   = 60 * time.Second
)

// SetRetryParams overrides the retry cadence and budget, e.g. from a
// deployment's bootstrap configuration. Values <= 0 leave the
// corresponding default untouched.
func SetRetryParams(interval, budget time.Duration) {
	if interval > 0 {
		retryInterval = interval
	}
	if budget > 0 {
		retryBudget = budget
	}
}

// Reserve asks for a reservation in [min,max], retrying transient refusals
// on a ~10s cadence up to a ~60s total budget before surfacing
// BallooningError. The post-condition min <= amount <= max always holds on
// success.
func (b *Broker) Reserve(ctx context.Context, min, max uint64) (Reservation, error) {
	b.mu.Lock()
	session, err := b.sessionLocked(ctx)
	b.mu.Unlock()
	if err != nil {
		return Reservation{}, err
	}

	deadline := time.Now().Add(retryBudget)
	for {
		amount, reservationID, refusal, err := b.transport.Reserve(ctx, session, min, max)
		if err == nil {
			if amount < min || amount > max {
				return Reservation{}, apierror.WrapError(apierror.ErrInternalError,
					fmt.Sprintf("broker returned amount %d outside [%d,%d]", amount, min, max), nil)
			}
			return Reservation{ID: reservationID, Amount: amount}, nil
		}

		if refusal != DomainsRefusedToCooperate && refusal != CannotFreeThisMuch {
			b.dropSession()
			return Reservation{}, apierror.WrapError(apierror.ErrBallooningServiceAbsent, "reserve memory", err)
		}

		if time.Now().After(deadline) {
			return Reservation{}, apierror.BallooningError(string(refusal), err.Error())
		}

		if b.logger != nil {
			b.logger.Warn().Str("refusal", string(refusal)).Msg("memory broker refused reservation, retrying")
		}

		select {
		case <-ctx.Done():
			return Reservation{}, apierror.WrapError(apierror.ErrCancelled, "reserve memory", ctx.Err())
		case <-time.After(retryInterval):
		}
	}
}

// TransferToDomain binds a reservation to domid. Once this succeeds the
// reservation is no longer recoverable by Release: the hypervisor now owns
// that memory as part of the domain.
func (b *Broker) TransferToDomain(ctx context.Context, r Reservation, domid types.DomId) error {
	b.mu.Lock()
	session, err := b.sessionLocked(ctx)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	if err := b.transport.TransferToDomain(ctx, session, r.ID, domid); err != nil {
		return apierror.WrapError(apierror.ErrInternalError, "transfer reservation to domain", err)
	}
	return nil
}

// Release gives back a reservation that was never transferred. It is
// mandatory on every failure path that reserved memory without
// transferring it (invariant 4 of the data model).
func (b *Broker) Release(ctx context.Context, r Reservation) error {
	b.mu.Lock()
	session, err := b.sessionLocked(ctx)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	if err := b.transport.Release(ctx, session, r.ID); err != nil {
		return apierror.WrapError(apierror.ErrInternalError, "release reservation", err)
	}
	return nil
}

// Balance asks the broker for a best-effort rebalance; failures are not
// fatal to any caller and are logged rather than returned up the stack by
// convention at call sites.
func (b *Broker) Balance(ctx context.Context) error {
	b.mu.Lock()
	session, err := b.sessionLocked(ctx)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.transport.Balance(ctx, session)
}

// WithReservation reserves [min,max], runs f with the reservation, and
// releases it unless f calls Transfer (recorded via the transferred
// out-param) to hand it off to a domain. This is the scoped
// acquire/release helper the base spec calls with_reservation.
func (b *Broker) WithReservation(ctx context.Context, min, max uint64, f func(r Reservation) (transferred bool, err error)) error {
	r, err := b.Reserve(ctx, min, max)
	if err != nil {
		return err
	}

	transferred, ferr := f(r)
	if transferred {
		return ferr
	}

	if relErr := b.Release(ctx, r); relErr != nil {
		if b.logger != nil {
			b.logger.Error().Err(relErr).Str("reservation_id", r.ID).Msg("failed to release memory reservation on cleanup path")
		}
		if ferr == nil {
			return relErr
		}
	}
	return ferr
}

// NewJobID mints an id suitable for tagging a reservation in logs or the
// auxiliary registry's reservation ledger.
func NewJobID() (string, error) {
	return idalloc.NextWithPrefix("rsv")
}
