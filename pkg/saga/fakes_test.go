package saga

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fundswap/pkg/client"
	"fundswap/pkg/deposit"
	"fundswap/pkg/ledger"
	"fundswap/pkg/relay"
	"fundswap/pkg/store"
	"fundswap/pkg/types"
	"fundswap/pkg/wallet"
)

const (
	solAsset  = "nep141:sol.omft.near"
	baseAsset = "nep141:base.omft.near"
	ethAsset  = "nep141:eth.omft.near"
)

// fakeLedger scripts the ledger contract and records every call
type fakeLedger struct {
	mu sync.Mutex

	balance uint64
	records ledger.RecordSet
	// recordsHook overrides records; call is 1-based
	recordsHook func(call int) ledger.RecordSet
	submitHook  func(tx *solana.Transaction) error
	confirmHook func(sig solana.Signature) error
	missing     func(sig solana.Signature) bool

	calls     map[string]int
	submitted []*solana.Transaction
	refs      []ledger.BlockRef
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balance: 10 * 1_000_000_000,
		records: ledger.RecordSet{{Hash: solana.Hash{1}.String(), Lamports: 10 * 1_000_000_000}},
		calls:   map[string]int{},
	}
}

func (f *fakeLedger) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.calls[name]
}

func (f *fakeLedger) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeLedger) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *fakeLedger) Submitted() []*solana.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*solana.Transaction(nil), f.submitted...)
}

func (f *fakeLedger) Balance(context.Context, solana.PublicKey) (uint64, error) {
	f.count("Balance")
	return f.balance, nil
}

func (f *fakeLedger) LatestBlockRef(context.Context) (ledger.BlockRef, error) {
	n := f.count("LatestBlockRef")
	var h solana.Hash
	binary.LittleEndian.PutUint64(h[:], uint64(n))
	ref := ledger.BlockRef{Blockhash: h, LastValidBlockHeight: uint64(1000 + n)}

	f.mu.Lock()
	f.refs = append(f.refs, ref)
	f.mu.Unlock()
	return ref, nil
}

func (f *fakeLedger) Submit(_ context.Context, raw []byte) (solana.Signature, error) {
	f.count("Submit")
	tx, err := solana.TransactionFromBytes(raw)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: undecodable transaction: %v", ledger.ErrTxFailed, err)
	}
	if err := tx.VerifySignatures(); err != nil {
		return solana.Signature{}, fmt.Errorf("%w: %v", ledger.ErrTxFailed, err)
	}

	f.mu.Lock()
	f.submitted = append(f.submitted, tx)
	hook := f.submitHook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(tx); err != nil {
			return solana.Signature{}, err
		}
	}
	return tx.Signatures[0], nil
}

func (f *fakeLedger) Confirm(_ context.Context, sig solana.Signature, _ ledger.BlockRef) error {
	f.count("Confirm")
	if f.confirmHook != nil {
		return f.confirmHook(sig)
	}
	return nil
}

func (f *fakeLedger) FetchConfirmedTx(_ context.Context, sig solana.Signature) (*ledger.ConfirmedTx, error) {
	f.count("FetchConfirmedTx")
	if f.missing != nil && f.missing(sig) {
		return nil, nil
	}
	return &ledger.ConfirmedTx{Signature: sig, Slot: 42}, nil
}

func (f *fakeLedger) OwnedRecords(context.Context, solana.PublicKey) (ledger.RecordSet, error) {
	n := f.count("OwnedRecords")
	if f.recordsHook != nil {
		return f.recordsHook(n), nil
	}
	return f.records, nil
}

func (f *fakeLedger) SpendProof(_ context.Context, hashes []string) (*ledger.ValidityProof, error) {
	f.count("SpendProof")
	return &ledger.ValidityProof{
		A:           make([]byte, 32),
		B:           make([]byte, 64),
		C:           make([]byte, 32),
		RootIndices: make([]uint16, len(hashes)),
	}, nil
}

// fakeQuotes prices every request at a fixed rate and tracks deposit addresses
type fakeQuotes struct {
	mu sync.Mutex

	status func(requestID string) client.BridgeStatus

	calls     int
	params    []client.QuoteParams
	quotes    []*client.Quote
	deposits  map[string]string
	solanaDep map[string]bool
}

func newFakeQuotes() *fakeQuotes {
	return &fakeQuotes{deposits: map[string]string{}, solanaDep: map[string]bool{}}
}

func (f *fakeQuotes) GetQuote(_ context.Context, params client.QuoteParams) (*client.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.params = append(f.params, params)

	depositAddr := fmt.Sprintf("0x%040x", f.calls)
	if params.OriginAsset == solAsset {
		depositAddr = solana.NewWallet().PublicKey().String()
		f.solanaDep[depositAddr] = true
	}

	q := &client.Quote{
		RequestID:        depositAddr,
		DepositAddress:   depositAddr,
		OriginAsset:      params.OriginAsset,
		DestinationAsset: params.DestinationAsset,
		AmountIn:         new(big.Int).Set(params.Amount),
		AmountOut:        new(big.Int).Mul(params.Amount, big.NewInt(1000)),
		FetchedAt:        time.Now(),
		TTL:              client.DefaultQuoteTTL,
	}
	f.quotes = append(f.quotes, q)
	return q, nil
}

func (f *fakeQuotes) Status(_ context.Context, requestID string) (*client.StatusReport, error) {
	status := client.BridgeCompleted
	if f.status != nil {
		status = f.status(requestID)
	}
	return &client.StatusReport{Status: status, Raw: status.String()}, nil
}

func (f *fakeQuotes) SubmitDeposit(_ context.Context, requestID, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deposits[requestID] = txHash
	return nil
}

func (f *fakeQuotes) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeQuotes) IsSolanaDeposit(addr solana.PublicKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.solanaDep[addr.String()]
}

// countingSigner counts relay calls around a real local signer
type countingSigner struct {
	relay.Signer
	mu         sync.Mutex
	identities int
	signs      int
}

func (c *countingSigner) Identity(ctx context.Context) (relay.Identity, error) {
	c.mu.Lock()
	c.identities++
	c.mu.Unlock()
	return c.Signer.Identity(ctx)
}

func (c *countingSigner) Sign(ctx context.Context, req relay.SignRequest) (*relay.SignResponse, error) {
	c.mu.Lock()
	c.signs++
	c.mu.Unlock()
	return c.Signer.Sign(ctx, req)
}

type sentDeposit struct {
	hash   string
	to     string
	amount *big.Int
}

// fakeDepositor signs deposits with a counter hash. A broadcast is recorded
// before broadcastErr is returned, as a node that relayed the tx but dropped
// the reply would.
type fakeDepositor struct {
	mu           sync.Mutex
	err          error
	broadcastErr error
	waitErr      error
	signed       int
	sent         []sentDeposit
	mined        map[string]bool
}

func (f *fakeDepositor) Address() string {
	return "0x00000000000000000000000000000000000000ee"
}

func (f *fakeDepositor) SignDeposit(_ context.Context, to string, amount *big.Int) (*deposit.SignedDeposit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.signed++
	return &deposit.SignedDeposit{
		Hash:   fmt.Sprintf("0x%064x", f.signed),
		Raw:    []byte{byte(f.signed)},
		To:     to,
		Amount: new(big.Int).Set(amount),
		Nonce:  uint64(f.signed - 1),
	}, nil
}

func (f *fakeDepositor) Broadcast(_ context.Context, d *deposit.SignedDeposit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentDeposit{hash: d.Hash, to: d.To, amount: new(big.Int).Set(d.Amount)})
	return f.broadcastErr
}

func (f *fakeDepositor) Mined(_ context.Context, txHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mined[txHash], nil
}

func (f *fakeDepositor) WaitMined(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.waitErr
}

func (f *fakeDepositor) Signed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signed
}

func (f *fakeDepositor) Sent() []sentDeposit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentDeposit(nil), f.sent...)
}

type fakeDepositors struct {
	d      *fakeDepositor
	chains []string
}

func (f *fakeDepositors) ForChain(_ context.Context, chain string) (deposit.Depositor, error) {
	f.chains = append(f.chains, chain)
	return f.d, nil
}

type stopper struct {
	stopped bool
}

func (s *stopper) Stop() { s.stopped = true }

type harness struct {
	ledger     *fakeLedger
	quotes     *fakeQuotes
	relay      *countingSigner
	relayKey   *wallet.Keypair
	user       *wallet.Keypair
	depositor  *fakeDepositor
	depositors *fakeDepositors
	store      store.Store
	program    ledger.Program
	cfg        Config

	mu     sync.Mutex
	events []Event

	saga    *Saga
	manager *Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		ledger:    newFakeLedger(),
		quotes:    newFakeQuotes(),
		relayKey:  wallet.FromPrivateKey(solana.NewWallet().PrivateKey),
		user:      wallet.FromPrivateKey(solana.NewWallet().PrivateKey),
		depositor: &fakeDepositor{},
		program: ledger.Program{
			ID:        ledger.DefaultCompressionProgramID,
			StateTree: solana.NewWallet().PublicKey(),
		},
	}
	h.depositors = &fakeDepositors{d: h.depositor}
	h.relay = &countingSigner{
		Signer: relay.NewLocalSigner(h.relayKey, "", relay.DefaultAllowedPrograms(h.program.ID), zaptest.NewLogger(t)),
	}

	st, err := store.NewFileStore(t.TempDir())
	require.NoError(t, err)
	h.store = st

	h.cfg = DefaultConfig()
	h.cfg.FeeAddress = solana.NewWallet().PublicKey()
	h.cfg.SubmitDelay = time.Millisecond
	h.cfg.MaterializeDelay = time.Millisecond
	h.cfg.QuoteBaseDelay = time.Millisecond
	h.cfg.BridgePollInterval = time.Millisecond
	h.cfg.BridgeTimeout = time.Second

	h.build(t)
	return h
}

// build (re)creates the saga after a test changed h.cfg
func (h *harness) build(t *testing.T) {
	t.Helper()

	s, err := New(Deps{
		Ledger:     h.ledger,
		Program:    h.program,
		Quotes:     h.quotes,
		Relay:      h.relay,
		Locker:     relay.NewLocalLocker(),
		Depositors: h.depositors,
		Wallet:     h.user,
		Store:      h.store,
		Observer: ObserverFunc(func(e Event) {
			h.mu.Lock()
			h.events = append(h.events, e)
			h.mu.Unlock()
		}),
		Logger: zaptest.NewLogger(t),
	}, h.cfg)
	require.NoError(t, err)

	h.saga = s
	h.manager = NewManager(s, nil, zaptest.NewLogger(t))
}

func (h *harness) request(mode types.PrivacyMode, destChain types.Chain, dest string) types.TransferRequest {
	return types.TransferRequest{
		Amount:             "2",
		SourceChain:        types.ChainSolana,
		DestinationChain:   destChain,
		DestinationAddress: dest,
		Mode:               mode,
	}
}

// steps lists the distinct steps the observer saw, in order
func (h *harness) steps() []Step {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []Step
	for _, e := range h.events {
		if len(out) == 0 || out[len(out)-1] != e.Step {
			out = append(out, e.Step)
		}
	}
	return out
}

func (h *harness) lastEvent() Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events[len(h.events)-1]
}

// sentInstruction is a compiled instruction resolved against its transaction's keys
type sentInstruction struct {
	program  solana.PublicKey
	accounts []solana.PublicKey
	data     []byte
}

func instructionsOf(t *testing.T, tx *solana.Transaction) []sentInstruction {
	t.Helper()

	keys := tx.Message.AccountKeys
	var out []sentInstruction
	for _, ci := range tx.Message.Instructions {
		require.Less(t, int(ci.ProgramIDIndex), len(keys))
		ix := sentInstruction{program: keys[ci.ProgramIDIndex], data: ci.Data}
		for _, idx := range ci.Accounts {
			ix.accounts = append(ix.accounts, keys[idx])
		}
		out = append(out, ix)
	}
	return out
}

type transfer struct {
	from, to solana.PublicKey
	lamports uint64
}

// systemTransfers decodes every system-program transfer in tx
func systemTransfers(t *testing.T, tx *solana.Transaction) []transfer {
	var out []transfer
	for _, ix := range instructionsOf(t, tx) {
		if !ix.program.Equals(solana.SystemProgramID) || len(ix.data) != 12 {
			continue
		}
		if binary.LittleEndian.Uint32(ix.data[:4]) != 2 {
			continue
		}
		out = append(out, transfer{
			from:     ix.accounts[0],
			to:       ix.accounts[1],
			lamports: binary.LittleEndian.Uint64(ix.data[4:]),
		})
	}
	return out
}

func callsProgram(t *testing.T, tx *solana.Transaction, program solana.PublicKey) (sentInstruction, bool) {
	for _, ix := range instructionsOf(t, tx) {
		if ix.program.Equals(program) {
			return ix, true
		}
	}
	return sentInstruction{}, false
}

var errBoom = errors.New("boom")
