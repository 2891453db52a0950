package saga

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fundswap/pkg/fee"
	"fundswap/pkg/parser"
	"fundswap/pkg/types"
)

const balanceRefreshTimeout = 30 * time.Second

// Stopper is anything that must stop the moment a transfer starts, such as a display quote poller
type Stopper interface {
	Stop()
}

// Manager starts, resumes and lists transfers
type Manager struct {
	saga   *Saga
	fees   *fee.Model
	logger *zap.Logger
	newID  func() string

	mu      sync.Mutex
	display []Stopper

	onBalance func(lamports uint64, err error)
}

// NewManager creates a manager running transfers on s
func NewManager(s *Saga, fees *fee.Model, logger *zap.Logger) *Manager {
	if fees == nil {
		fees = fee.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		saga:   s,
		fees:   fees,
		logger: logger.Named("transfers"),
		newID:  uuid.NewString,
	}
}

// OnBalance registers a callback for the balance read after each run
func (m *Manager) OnBalance(fn func(lamports uint64, err error)) {
	m.onBalance = fn
}

// WatchDisplay registers a poller to stop when a transfer starts
func (m *Manager) WatchDisplay(s Stopper) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.display = append(m.display, s)
}

func (m *Manager) stopDisplay() {
	m.mu.Lock()
	display := m.display
	m.display = nil
	m.mu.Unlock()

	for _, s := range display {
		s.Stop()
	}
}

// Prepare validates req and computes its fee split without any remote call
func (m *Manager) Prepare(req *types.TransferRequest) (fee.Plan, error) {
	if req.SourceAddress == "" {
		req.SourceAddress = m.saga.wallet.PublicKey().String()
	}
	if err := parser.ValidateTransferRequest(req); err != nil {
		return fee.Plan{}, newError(KindValidation, StepIdle, err)
	}

	plan := m.fees.Compute(req.Lamports, req.Mode)
	if plan.Net == 0 {
		return fee.Plan{}, newError(KindValidation, StepIdle, fmt.Errorf("amount %s SOL leaves nothing after fees", req.Amount))
	}
	return plan, nil
}

// Start runs a new transfer. Invalid requests are rejected before any remote call.
// The returned error is non-nil only when the transfer could not be created or ctx
// ended before an outcome; the state is returned whenever it exists.
func (m *Manager) Start(ctx context.Context, req types.TransferRequest) (*State, *Outcome, error) {
	m.stopDisplay()

	plan, err := m.Prepare(&req)
	if err != nil {
		return nil, nil, err
	}

	identity, err := m.saga.relay.Identity(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch relay identity: %w", err)
	}

	st := NewState(m.newID(), req, plan, m.saga.now())
	st.RelayAddress = identity.Address.String()
	st.RelayEVMAddress = identity.EVMAddress

	if err := SaveState(ctx, m.saga.store, st); err != nil {
		return nil, nil, fmt.Errorf("failed to record transfer: %w", err)
	}

	m.logger.Info("transfer started",
		zap.String("transfer", st.ID),
		zap.Stringer("mode", req.Mode),
		zap.Uint64("amount", plan.Amount),
		zap.Uint64("fee", plan.Fee),
		zap.Uint64("net", plan.Net),
		zap.String("destination", req.DestinationAddress))

	outcome, err := m.saga.Run(ctx, st)
	m.refreshBalance(ctx)
	return st, outcome, err
}

// Resume continues a stored transfer. Finished transfers return their outcome;
// a halted continuation restarts from the step it reached.
func (m *Manager) Resume(ctx context.Context, id string) (*State, *Outcome, error) {
	st, err := LoadState(ctx, m.saga.store, id)
	if err != nil {
		return nil, nil, err
	}
	if !st.Resumable() {
		return st, st.Outcome, nil
	}

	m.stopDisplay()
	if st.Done() {
		st.Outcome = nil
		st.Step = st.resumeStep()
		st.Status = statusText(st.Step, st.Request)
	}

	m.logger.Info("transfer resumed",
		zap.String("transfer", st.ID),
		zap.Stringer("step", st.Step),
		zap.Bool("compensation_pending", st.CompensationPending))

	outcome, err := m.saga.Run(ctx, st)
	m.refreshBalance(ctx)
	return st, outcome, err
}

// Get loads one transfer
func (m *Manager) Get(ctx context.Context, id string) (*State, error) {
	return LoadState(ctx, m.saga.store, id)
}

// List loads every transfer, newest first
func (m *Manager) List(ctx context.Context) ([]*State, error) {
	return ListStates(ctx, m.saga.store)
}

// refreshBalance reads the wallet balance in the background; the run does not wait for it
func (m *Manager) refreshBalance(ctx context.Context) {
	if m.onBalance == nil {
		return
	}
	owner := m.saga.wallet.PublicKey()
	ctx = context.WithoutCancel(ctx)

	go func() {
		ctx, cancel := context.WithTimeout(ctx, balanceRefreshTimeout)
		defer cancel()

		lamports, err := m.saga.ledger.Balance(ctx, owner)
		if err != nil {
			m.logger.Debug("balance refresh failed", zap.Error(err))
		}
		m.onBalance(lamports, err)
	}()
}
