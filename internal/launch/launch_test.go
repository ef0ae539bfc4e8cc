package launch

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/launch-guard/internal/blockchain/solbc"
	"github.com/rovshanmuradov/launch-guard/internal/bundle"
	"github.com/rovshanmuradov/launch-guard/internal/domain"
	"github.com/rovshanmuradov/launch-guard/internal/events"
	"github.com/rovshanmuradov/launch-guard/internal/sniper"
)

type fakeSubmitter struct {
	got     []*solana.Transaction
	opts    bundle.Options
	success bool
	err     error
}

func (f *fakeSubmitter) Submit(_ context.Context, txs []*solana.Transaction, opts bundle.Options) (*bundle.Submission, error) {
	f.got, f.opts = txs, opts
	sub := &bundle.Submission{ID: "sub-1", Method: bundle.MethodAtomic, Success: f.success}
	for i, tx := range txs {
		sig := tx.Signatures[0]
		sub.Legs = append(sub.Legs, bundle.LegResult{Index: i, Signature: &sig, Success: f.success})
	}
	return sub, f.err
}

type fakeChain struct {
	states    []solbc.SignatureState
	statesErr error
	slot      uint64
	slotErr   error
}

func (f *fakeChain) CurrentSlot(context.Context) (uint64, error) { return f.slot, f.slotErr }

func (f *fakeChain) SignatureStates(context.Context, ...solana.Signature) ([]solbc.SignatureState, error) {
	return f.states, f.statesErr
}

type fakeMonitors struct {
	req *sniper.StartRequest
	err error
}

func (f *fakeMonitors) Start(_ context.Context, req sniper.StartRequest) (*sniper.StartResponse, error) {
	f.req = &req
	if f.err != nil {
		return nil, f.err
	}
	return &sniper.StartResponse{TokenMint: req.TokenMint, Status: domain.StatusMonitoring, EffectiveWindowBlocks: req.Config.WindowBlocks}, nil
}

type recorder struct{ events []events.Event }

func (r *recorder) Publish(e events.Event) error {
	r.events = append(r.events, e)
	return nil
}

func encodedTx(t *testing.T, payer solana.PrivateKey) string {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, payer.PublicKey(), solana.NewWallet().PublicKey()).Build()},
		solana.Hash{1},
		solana.TransactionPayer(payer.PublicKey()),
	)
	require.NoError(t, err)
	_, err = tx.Sign(func(pk solana.PublicKey) *solana.PrivateKey {
		if pk.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	})
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(raw)
}

type launchHarness struct {
	svc       *Service
	submitter *fakeSubmitter
	chain     *fakeChain
	monitors  *fakeMonitors
	rec       *recorder
}

func newLaunchHarness(t *testing.T) *launchHarness {
	h := &launchHarness{
		submitter: &fakeSubmitter{success: true},
		chain:     &fakeChain{slot: 2000},
		monitors:  &fakeMonitors{},
		rec:       &recorder{},
	}
	h.svc = NewService(h.submitter, h.chain, h.monitors, h.rec, zaptest.NewLogger(t))
	return h
}

func protection() *domain.DetectionConfig {
	return &domain.DetectionConfig{
		Enabled:          true,
		MaxSupplyPercent: decimal.NewFromInt(2),
		MaxQuoteAmount:   decimal.NewFromInt(5),
		WindowBlocks:     8,
		SellPercentage:   decimal.NewFromInt(100),
	}
}

func TestLaunch_SubmitsAndProtects(t *testing.T) {
	h := newLaunchHarness(t)
	h.chain.states = []solbc.SignatureState{{Seen: true, Confirmed: true, Slot: 1000}}

	dev := solana.NewWallet()
	buyer := solana.NewWallet()
	extra := solana.NewWallet().PublicKey().String()
	mint := solana.NewWallet().PublicKey().String()

	res, err := h.svc.Launch(context.Background(), Request{
		TokenMint:               mint,
		Transactions:            []string{encodedTx(t, dev.PrivateKey), encodedTx(t, buyer.PrivateKey)},
		Wallets:                 []string{extra, dev.PublicKey().String()},
		Protection:              protection(),
		TotalSupply:             decimal.NewFromInt(1_000_000),
		Decimals:                6,
		AllowSequentialFallback: true,
	})
	require.NoError(t, err)

	require.Len(t, h.submitter.got, 2)
	assert.True(t, h.submitter.opts.AllowSequentialFallback)
	assert.Equal(t, dev.PublicKey(), h.submitter.got[0].Message.AccountKeys[0])

	assert.Equal(t, uint64(1000), res.LaunchSlot)
	require.NotNil(t, res.Monitor)
	assert.Equal(t, domain.StatusMonitoring, res.Monitor.Status)

	require.NotNil(t, h.monitors.req)
	assert.Equal(t, uint64(1000), h.monitors.req.LaunchSlot)
	assert.Equal(t, []string{extra, dev.PublicKey().String(), buyer.PublicKey().String()}, h.monitors.req.ExcludedWallets)
	assert.Equal(t, uint8(6), h.monitors.req.Decimals)

	require.Len(t, h.rec.events, 1)
	assert.Equal(t, events.LaunchSubmitted, h.rec.events[0].Type())
}

func TestLaunch_FallsBackToCurrentSlot(t *testing.T) {
	h := newLaunchHarness(t)
	h.chain.states = []solbc.SignatureState{{}}

	res, err := h.svc.Launch(context.Background(), Request{
		TokenMint:    solana.NewWallet().PublicKey().String(),
		Transactions: []string{encodedTx(t, solana.NewWallet().PrivateKey)},
		Protection:   protection(),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2000), res.LaunchSlot)
	assert.Equal(t, uint64(2000), h.monitors.req.LaunchSlot)
}

func TestLaunch_UnknownSlotDoesNotStartProtection(t *testing.T) {
	h := newLaunchHarness(t)
	h.chain.statesErr = errors.New("status lookup timed out")
	h.chain.slotErr = errors.New("slot lookup timed out")

	res, err := h.svc.Launch(context.Background(), Request{
		TokenMint:    solana.NewWallet().PublicKey().String(),
		Transactions: []string{encodedTx(t, solana.NewWallet().PrivateKey)},
		Protection:   protection(),
	})
	assert.ErrorIs(t, err, ErrProtectionNotStarted)
	require.NotNil(t, res)
	assert.True(t, res.Submission.Success)
	assert.Zero(t, res.LaunchSlot)
	assert.Nil(t, res.Monitor)
	assert.Nil(t, h.monitors.req, "monitor must not start without a launch slot")
}

func TestLaunch_UnknownSlotWithoutProtection(t *testing.T) {
	h := newLaunchHarness(t)
	h.chain.slotErr = errors.New("slot lookup timed out")
	h.chain.states = []solbc.SignatureState{{}}

	res, err := h.svc.Launch(context.Background(), Request{
		TokenMint:    solana.NewWallet().PublicKey().String(),
		Transactions: []string{encodedTx(t, solana.NewWallet().PrivateKey)},
	})
	require.NoError(t, err)
	assert.True(t, res.Submission.Success)
	assert.Zero(t, res.LaunchSlot)
}

func TestLaunch_WithoutProtection(t *testing.T) {
	h := newLaunchHarness(t)

	res, err := h.svc.Launch(context.Background(), Request{
		TokenMint:    solana.NewWallet().PublicKey().String(),
		Transactions: []string{encodedTx(t, solana.NewWallet().PrivateKey)},
	})
	require.NoError(t, err)
	assert.Nil(t, res.Monitor)
	assert.Nil(t, h.monitors.req)
	assert.True(t, res.Submission.Success)
}

func TestLaunch_AnchorNotLanded(t *testing.T) {
	h := newLaunchHarness(t)
	h.submitter.success = false

	res, err := h.svc.Launch(context.Background(), Request{
		TokenMint:    solana.NewWallet().PublicKey().String(),
		Transactions: []string{encodedTx(t, solana.NewWallet().PrivateKey)},
		Protection:   protection(),
	})
	require.NoError(t, err)
	assert.False(t, res.Submission.Success)
	assert.Nil(t, res.Monitor)
	assert.Nil(t, h.monitors.req)
}

func TestLaunch_SubmissionError(t *testing.T) {
	h := newLaunchHarness(t)
	h.submitter.success = false
	h.submitter.err = bundle.ErrSubmissionFailed

	res, err := h.svc.Launch(context.Background(), Request{
		TokenMint:    solana.NewWallet().PublicKey().String(),
		Transactions: []string{encodedTx(t, solana.NewWallet().PrivateKey)},
		Protection:   protection(),
	})
	assert.ErrorIs(t, err, bundle.ErrSubmissionFailed)
	require.NotNil(t, res)
	assert.NotNil(t, res.Submission)
	assert.Nil(t, h.monitors.req)
}

func TestLaunch_ProtectionFailure(t *testing.T) {
	h := newLaunchHarness(t)
	h.monitors.err = sniper.ErrMonitorActive

	res, err := h.svc.Launch(context.Background(), Request{
		TokenMint:    solana.NewWallet().PublicKey().String(),
		Transactions: []string{encodedTx(t, solana.NewWallet().PrivateKey)},
		Protection:   protection(),
	})
	assert.ErrorIs(t, err, ErrProtectionNotStarted)
	assert.ErrorIs(t, err, sniper.ErrMonitorActive)
	assert.True(t, res.Submission.Success)
}

func TestLaunch_InvalidRequest(t *testing.T) {
	h := newLaunchHarness(t)
	mint := solana.NewWallet().PublicKey().String()

	tests := []Request{
		{TokenMint: "bad", Transactions: []string{encodedTx(t, solana.NewWallet().PrivateKey)}},
		{TokenMint: mint},
		{TokenMint: mint, Transactions: []string{"%%%"}},
		{TokenMint: mint, Transactions: []string{base64.StdEncoding.EncodeToString([]byte{1, 2})}},
		{TokenMint: mint, Transactions: []string{encodedTx(t, solana.NewWallet().PrivateKey)}, Wallets: []string{"x"}},
	}
	for i, req := range tests {
		_, err := h.svc.Launch(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidRequest, "case %d", i)
	}
	assert.Nil(t, h.submitter.got)
	assert.False(t, errors.Is(ErrInvalidRequest, ErrProtectionNotStarted))
}
