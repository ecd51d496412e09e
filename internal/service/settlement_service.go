package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/sealedsettle/internal/crypto"
	"github.com/alanyoungcy/sealedsettle/internal/domain"
	"github.com/alanyoungcy/sealedsettle/internal/observability"
	"github.com/alanyoungcy/sealedsettle/internal/settlement"
)

// ProposalSigner signs proposals before they go to the ledger.
type ProposalSigner interface {
	SignFinalize(p domain.FinalizeProposal) (string, error)
	SignPayout(p domain.PayoutProposal) (string, error)
}

// EventAnnouncer broadcasts settlement events to other instances.
type EventAnnouncer interface {
	Announce(ctx context.Context, evt domain.SettlementEvent) error
}

// EventNotifier forwards settlement events to operators.
type EventNotifier interface {
	NotifySettlement(ctx context.Context, evt domain.SettlementEvent) error
}

// RegisterInput is the operator's request to bind a market to a key.
type RegisterInput struct {
	MarketID      string `json:"marketId"`
	LedgerKeyID   string `json:"ledgerKeyId"`
	EncryptionKey string `json:"encryptionKey,omitempty"`
}

// EncodeResult is a sealed choice plus what the client needs to submit it.
type EncodeResult struct {
	EncodedChoice   string `json:"encodedChoice"`
	MarketID        string `json:"marketId"`
	LedgerKeyID     string `json:"ledgerKeyId"`
	EncodeTimestamp int64  `json:"encodeTimestamp"`
}

// Totals are the per-side figures of a finalized market.
type Totals struct {
	TicketsA uint64 `json:"ticketsA"`
	TicketsB uint64 `json:"ticketsB"`
	AmountA  uint64 `json:"amountA"`
	AmountB  uint64 `json:"amountB"`
}

// FinalizeResult reports a finalize run. AlreadyFinalized is set when another
// caller finalized the market between our read and our proposal; the totals
// are then the ledger's.
type FinalizeResult struct {
	MarketID         string      `json:"marketId"`
	Finalized        bool        `json:"finalized"`
	AlreadyFinalized bool        `json:"alreadyFinalized,omitempty"`
	WinningSide      domain.Side `json:"winningSide"`
	IsTie            bool        `json:"isTie"`
	Totals           Totals      `json:"totals"`
	Skipped          int         `json:"skippedChoices"`
	ProposalID       string      `json:"proposalId,omitempty"`
	BundlePath       string      `json:"bundlePath,omitempty"`
}

// ClaimResult is an accepted payout together with the figures behind it.
type ClaimResult struct {
	settlement.ClaimDecision
	Proposal domain.PayoutProposal `json:"proposal"`
	Receipt  domain.PayoutReceipt  `json:"receipt"`
}

// MarketView is the public picture of a market. The key is never included.
type MarketView struct {
	Meta   domain.MarketMeta   `json:"meta"`
	Ledger *domain.MarketState `json:"ledger,omitempty"`
}

// SettlementService runs the fetch, decide and propose cycle for finalize
// and claims. It holds no per-market state; any number of instances may run.
type SettlementService struct {
	metas   domain.MetaStore
	ledger  domain.Ledger
	codec   *crypto.Codec
	decoder *settlement.Decoder
	params  settlement.Params

	signer   ProposalSigner
	stats    domain.StatsCache
	events   EventAnnouncer
	audit    domain.AuditStore
	bundles  domain.BundleArchive
	notifier EventNotifier
	metrics  *observability.Metrics

	ledgerTimeout time.Duration
	now           func() time.Time
	newID         func() string
	logger        *slog.Logger
}

// NewSettlementService returns a service with the required collaborators.
// Optional ones are attached with the With* methods.
func NewSettlementService(
	metas domain.MetaStore,
	ledger domain.Ledger,
	codec *crypto.Codec,
	params settlement.Params,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		metas:         metas,
		ledger:        ledger,
		codec:         codec,
		decoder:       settlement.NewDecoder(codec, params),
		params:        params,
		ledgerTimeout: 10 * time.Second,
		now:           time.Now,
		newID:         uuid.NewString,
		logger:        logger.With(slog.String("component", "settlement_service")),
	}
}

func (s *SettlementService) WithSigner(sg ProposalSigner) *SettlementService {
	s.signer = sg
	return s
}

func (s *SettlementService) WithStatsCache(c domain.StatsCache) *SettlementService {
	s.stats = c
	return s
}

func (s *SettlementService) WithAnnouncer(a EventAnnouncer) *SettlementService {
	s.events = a
	return s
}

func (s *SettlementService) WithAudit(a domain.AuditStore) *SettlementService {
	s.audit = a
	return s
}

func (s *SettlementService) WithBundles(b domain.BundleArchive) *SettlementService {
	s.bundles = b
	return s
}

func (s *SettlementService) WithNotifier(n EventNotifier) *SettlementService {
	s.notifier = n
	return s
}

func (s *SettlementService) WithMetrics(m *observability.Metrics) *SettlementService {
	s.metrics = m
	return s
}

// WithLedgerTimeout bounds every operation's ledger round trips.
func (s *SettlementService) WithLedgerTimeout(d time.Duration) *SettlementService {
	if d > 0 {
		s.ledgerTimeout = d
	}
	return s
}

func (s *SettlementService) WithClock(now func() time.Time) *SettlementService {
	s.now = now
	return s
}

// WithIDs replaces the proposal id generator.
func (s *SettlementService) WithIDs(newID func() string) *SettlementService {
	s.newID = newID
	return s
}

// RegisterMarket stores the key of a market, generating one when none is
// supplied.
func (s *SettlementService) RegisterMarket(ctx context.Context, in RegisterInput) (domain.MarketMeta, error) {
	in.MarketID = strings.TrimSpace(in.MarketID)
	in.LedgerKeyID = strings.TrimSpace(in.LedgerKeyID)
	if in.MarketID == "" || in.LedgerKeyID == "" {
		return domain.MarketMeta{}, fmt.Errorf("settlement_service: register: %w: marketId and ledgerKeyId are required", domain.ErrInvalidInput)
	}

	keyHex := in.EncryptionKey
	if strings.TrimSpace(keyHex) == "" {
		generated, err := crypto.GenerateMarketKey()
		if err != nil {
			return domain.MarketMeta{}, fmt.Errorf("settlement_service: register: %w", err)
		}
		keyHex = generated
	}
	key, err := crypto.ParseMarketKey(keyHex)
	if err != nil {
		return domain.MarketMeta{}, fmt.Errorf("settlement_service: register: %w: %w", domain.ErrInvalidInput, err)
	}

	meta := domain.MarketMeta{
		MarketID:      in.MarketID,
		LedgerKeyID:   in.LedgerKeyID,
		EncryptionKey: hex.EncodeToString(key),
	}
	if err := s.metas.Upsert(ctx, meta); err != nil {
		return domain.MarketMeta{}, fmt.Errorf("settlement_service: register %s: %w", in.MarketID, err)
	}
	stored, err := s.metas.Resolve(ctx, in.MarketID)
	if err != nil {
		return domain.MarketMeta{}, fmt.Errorf("settlement_service: register %s: %w", in.MarketID, err)
	}

	s.logger.InfoContext(ctx, "market registered",
		slog.String("market_id", stored.MarketID),
		slog.String("ledger_key_id", stored.LedgerKeyID),
	)
	s.emit(ctx, domain.SettlementEvent{
		Type:     domain.EventMetaRegistered,
		MarketID: stored.MarketID,
		Detail:   map[string]any{"ledgerKeyId": stored.LedgerKeyID},
	})
	return stored, nil
}

// MarketView returns the market's meta and, when the ledger knows it, its
// ledger state.
func (s *SettlementService) MarketView(ctx context.Context, ref string) (MarketView, error) {
	meta, err := s.resolve(ctx, ref)
	if err != nil {
		return MarketView{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()

	view := MarketView{Meta: meta}
	m, err := s.ledger.GetMarket(ctx, meta.MarketID)
	switch {
	case err == nil:
		view.Ledger = &m
	case errors.Is(err, domain.ErrNotFound):
	default:
		return MarketView{}, ledgerErr("get market", err)
	}
	return view, nil
}

// Encode seals side for the market behind ref. The payload is bound to the
// canonical market id, whichever reference the caller used.
func (s *SettlementService) Encode(ctx context.Context, ref string, side domain.Side, secret string) (EncodeResult, error) {
	meta, err := s.resolve(ctx, ref)
	if err != nil {
		return EncodeResult{}, err
	}
	key, err := crypto.ParseMarketKey(meta.EncryptionKey)
	if err != nil {
		s.logger.ErrorContext(ctx, "stored market key is malformed",
			slog.String("market_id", meta.MarketID),
		)
		return EncodeResult{}, fmt.Errorf("settlement_service: encode %s: %w", meta.MarketID, err)
	}
	enc, err := s.codec.Encode(side, secret, meta.MarketID, key)
	if err != nil {
		return EncodeResult{}, fmt.Errorf("settlement_service: encode %s: %w", meta.MarketID, err)
	}
	return EncodeResult{
		EncodedChoice:   enc.Value,
		MarketID:        meta.MarketID,
		LedgerKeyID:     meta.LedgerKeyID,
		EncodeTimestamp: enc.EncodeTimestamp,
	}, nil
}

// Finalize tallies the market behind ref and proposes the result to the
// ledger together with the market key. A tally that disagrees with the
// ledger's totals is never proposed.
func (s *SettlementService) Finalize(ctx context.Context, ref string) (FinalizeResult, error) {
	defer s.metrics.Since("finalize", time.Now())

	meta, key, err := s.resolveWithKey(ctx, ref)
	if err != nil {
		s.metrics.ObserveFinalize("error")
		return FinalizeResult{}, err
	}
	lctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()

	m, err := s.ledger.GetMarket(lctx, meta.MarketID)
	if err != nil {
		s.metrics.ObserveFinalize("error")
		return FinalizeResult{}, ledgerErr("get market", err)
	}
	now := s.now()
	if err := settlement.CheckFinalizable(m, now); err != nil {
		s.metrics.ObserveFinalize("rejected")
		return FinalizeResult{}, fmt.Errorf("settlement_service: finalize %s: %w", meta.MarketID, err)
	}

	accounts, err := s.ledger.ListAccounts(lctx, meta.MarketID)
	if err != nil {
		s.metrics.ObserveFinalize("error")
		return FinalizeResult{}, ledgerErr("list accounts", err)
	}
	positions, err := s.decoder.Accounts(lctx, key, meta.MarketID, accounts)
	if err != nil {
		s.metrics.ObserveFinalize("error")
		return FinalizeResult{}, fmt.Errorf("settlement_service: finalize %s: %w", meta.MarketID, err)
	}
	s.logFailures(ctx, meta.MarketID, positions)

	dec, err := settlement.Tally(m, positions, now)
	s.metrics.ObserveDecode(countChoices(accounts)-dec.Skipped, dec.Skipped)
	if err != nil {
		if errors.Is(err, domain.ErrTallyMismatch) {
			s.metrics.ObserveFinalize("mismatch")
			s.logger.ErrorContext(ctx, "tally mismatch, finalize aborted",
				slog.String("market_id", meta.MarketID),
				slog.Int("skipped_choices", dec.Skipped),
				slog.String("error", err.Error()),
			)
			s.emit(ctx, domain.SettlementEvent{
				Type:     domain.EventTallyMismatch,
				MarketID: meta.MarketID,
				Detail: map[string]any{
					"decodedTickets": dec.TotalTickets(),
					"ledgerTickets":  m.TotalTickets,
					"skipped":        dec.Skipped,
				},
			})
		} else {
			s.metrics.ObserveFinalize("rejected")
		}
		return FinalizeResult{}, fmt.Errorf("settlement_service: finalize %s: %w", meta.MarketID, err)
	}

	proposal := dec.Proposal(s.newID(), meta.LedgerKeyID, hex.EncodeToString(key), now.UTC())
	if s.signer != nil {
		if proposal.Signature, err = s.signer.SignFinalize(proposal); err != nil {
			s.metrics.ObserveFinalize("error")
			return FinalizeResult{}, fmt.Errorf("settlement_service: sign finalize %s: %w", meta.MarketID, err)
		}
	}

	if err := s.ledger.SubmitFinalize(lctx, proposal); err != nil {
		if errors.Is(err, domain.ErrAlreadyFinalized) {
			return s.lostFinalizeRace(ctx, meta.MarketID)
		}
		s.metrics.ObserveFinalize("error")
		return FinalizeResult{}, ledgerErr("submit finalize", err)
	}
	s.metrics.ObserveFinalize("finalized")

	res := FinalizeResult{
		MarketID:    meta.MarketID,
		Finalized:   true,
		WinningSide: dec.WinningSide,
		IsTie:       dec.IsTie(),
		Totals:      Totals{TicketsA: dec.TicketsA, TicketsB: dec.TicketsB, AmountA: dec.AmountA, AmountB: dec.AmountB},
		Skipped:     dec.Skipped,
		ProposalID:  proposal.ID,
	}
	s.logger.InfoContext(ctx, "market finalized",
		slog.String("market_id", meta.MarketID),
		slog.String("winning_side", dec.WinningSide.String()),
		slog.Uint64("tickets_a", dec.TicketsA),
		slog.Uint64("tickets_b", dec.TicketsB),
		slog.Int("skipped_choices", dec.Skipped),
	)

	res.BundlePath = s.archive(ctx, m, proposal, accounts, dec.Skipped, now)
	s.invalidateStats(ctx, meta.MarketID)
	s.emit(ctx, domain.SettlementEvent{
		Type:     domain.EventMarketFinalized,
		MarketID: meta.MarketID,
		Detail: map[string]any{
			"winningSide": dec.WinningSide.String(),
			"ticketsA":    dec.TicketsA,
			"ticketsB":    dec.TicketsB,
			"skipped":     dec.Skipped,
		},
	})
	return res, nil
}

// lostFinalizeRace reports the ledger's figures after another caller won.
func (s *SettlementService) lostFinalizeRace(ctx context.Context, marketID string) (FinalizeResult, error) {
	s.metrics.ObserveFinalize("lost_race")
	s.logger.InfoContext(ctx, "finalize lost race, market already finalized",
		slog.String("market_id", marketID),
	)
	lctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()
	m, err := s.ledger.GetMarket(lctx, marketID)
	if err != nil {
		return FinalizeResult{}, ledgerErr("get market", err)
	}
	return FinalizeResult{
		MarketID:         marketID,
		Finalized:        m.IsFinalized,
		AlreadyFinalized: true,
		WinningSide:      m.WinningSide,
		IsTie:            m.IsTie(),
		Totals: Totals{
			TicketsA: m.TotalTicketsA,
			TicketsB: m.TotalTicketsB,
			AmountA:  m.TotalAmountA,
			AmountB:  m.TotalAmountB,
		},
	}, nil
}

// CheckClaim computes what participantID could claim from the market behind
// ref without touching the ledger's state.
func (s *SettlementService) CheckClaim(ctx context.Context, ref, participantID string) (settlement.ClaimDecision, error) {
	d, _, err := s.evaluate(ctx, ref, participantID)
	return d, err
}

// ExecuteClaim proposes the participant's payout. The ledger's hasClaimed
// flip decides concurrent attempts; losers get ErrAlreadyClaimed.
func (s *SettlementService) ExecuteClaim(ctx context.Context, ref, participantID string) (ClaimResult, error) {
	defer s.metrics.Since("claim", time.Now())

	d, meta, err := s.evaluate(ctx, ref, participantID)
	if err != nil {
		s.metrics.ObserveClaim("error", 0, 0)
		return ClaimResult{}, err
	}
	if err := d.Payable(); err != nil {
		s.metrics.ObserveClaim(claimResult(err), 0, 0)
		return ClaimResult{ClaimDecision: d}, fmt.Errorf("settlement_service: claim %s/%s: %w", d.MarketID, participantID, err)
	}

	proposal := d.Proposal(s.newID(), meta.LedgerKeyID, s.now().UTC())
	if s.signer != nil {
		if proposal.Signature, err = s.signer.SignPayout(proposal); err != nil {
			s.metrics.ObserveClaim("error", 0, 0)
			return ClaimResult{}, fmt.Errorf("settlement_service: sign payout %s/%s: %w", d.MarketID, participantID, err)
		}
	}

	lctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()
	receipt, err := s.ledger.SubmitPayout(lctx, proposal)
	if err != nil {
		s.metrics.ObserveClaim(claimResult(err), 0, 0)
		return ClaimResult{ClaimDecision: d}, ledgerErr("submit payout", err)
	}
	s.metrics.ObserveClaim("paid", receipt.UserAmount, receipt.FeeAmount)

	d.HasClaimed, d.CanClaim = true, false
	s.logger.InfoContext(ctx, "claim paid",
		slog.String("market_id", d.MarketID),
		slog.String("participant_id", participantID),
		slog.Uint64("amount", receipt.Amount),
		slog.Uint64("fee", receipt.FeeAmount),
	)
	s.invalidateStats(ctx, d.MarketID)
	s.emit(ctx, domain.SettlementEvent{
		Type:          domain.EventClaimPaid,
		MarketID:      d.MarketID,
		ParticipantID: participantID,
		Detail: map[string]any{
			"amount":     receipt.Amount,
			"userAmount": receipt.UserAmount,
			"fee":        receipt.FeeAmount,
			"isTie":      d.IsTie,
		},
	})
	return ClaimResult{ClaimDecision: d, Proposal: proposal, Receipt: receipt}, nil
}

// Stats returns one page of the ranked leaderboard of a finalized market.
func (s *SettlementService) Stats(ctx context.Context, ref string, page, pageSize int) (domain.StatsPage, error) {
	defer s.metrics.Since("stats", time.Now())

	meta, key, err := s.resolveWithKey(ctx, ref)
	if err != nil {
		return domain.StatsPage{}, err
	}
	lctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()

	m, err := s.ledger.GetMarket(lctx, meta.MarketID)
	if err != nil {
		return domain.StatsPage{}, ledgerErr("get market", err)
	}
	if !m.IsFinalized {
		return domain.StatsPage{}, fmt.Errorf("settlement_service: stats %s: %w", meta.MarketID, domain.ErrNotFinalized)
	}

	if s.stats != nil {
		rows, err := s.stats.Get(ctx, meta.MarketID)
		if err == nil {
			return settlement.Paginate(rows, page, pageSize), nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "stats cache read failed",
				slog.String("market_id", meta.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}

	accounts, err := s.ledger.ListAccounts(lctx, meta.MarketID)
	if err != nil {
		return domain.StatsPage{}, ledgerErr("list accounts", err)
	}
	positions, err := s.decoder.Accounts(lctx, key, meta.MarketID, accounts)
	if err != nil {
		return domain.StatsPage{}, fmt.Errorf("settlement_service: stats %s: %w", meta.MarketID, err)
	}
	rows, err := settlement.BuildStats(m, positions, s.params.FeeBps)
	if err != nil {
		return domain.StatsPage{}, fmt.Errorf("settlement_service: stats %s: %w", meta.MarketID, err)
	}

	if s.stats != nil {
		if err := s.stats.Set(ctx, meta.MarketID, rows); err != nil {
			s.logger.WarnContext(ctx, "stats cache write failed",
				slog.String("market_id", meta.MarketID),
				slog.String("error", err.Error()),
			)
		}
	}
	return settlement.Paginate(rows, page, pageSize), nil
}

// AuditBundle opens the finalize bundle of the market behind ref.
func (s *SettlementService) AuditBundle(ctx context.Context, ref string) (domain.Blob, error) {
	if s.bundles == nil {
		return domain.Blob{}, fmt.Errorf("settlement_service: audit bundle: %w: archive is not configured", domain.ErrNotFound)
	}
	meta, err := s.resolve(ctx, ref)
	if err != nil {
		return domain.Blob{}, err
	}
	b, err := s.bundles.GetBundle(ctx, meta.MarketID)
	if err != nil {
		return domain.Blob{}, fmt.Errorf("settlement_service: audit bundle %s: %w", meta.MarketID, err)
	}
	return b, nil
}

// evaluate fetches the market and account and computes the claim decision.
func (s *SettlementService) evaluate(ctx context.Context, ref, participantID string) (settlement.ClaimDecision, domain.MarketMeta, error) {
	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		return settlement.ClaimDecision{}, domain.MarketMeta{}, fmt.Errorf("settlement_service: claim: %w: participantId is required", domain.ErrInvalidInput)
	}
	meta, key, err := s.resolveWithKey(ctx, ref)
	if err != nil {
		return settlement.ClaimDecision{}, domain.MarketMeta{}, err
	}
	lctx, cancel := context.WithTimeout(ctx, s.ledgerTimeout)
	defer cancel()

	m, err := s.ledger.GetMarket(lctx, meta.MarketID)
	if err != nil {
		return settlement.ClaimDecision{}, meta, ledgerErr("get market", err)
	}
	if !m.IsFinalized {
		return settlement.ClaimDecision{}, meta, fmt.Errorf("settlement_service: claim %s: %w", meta.MarketID, domain.ErrNotFinalized)
	}

	var pos *settlement.Position
	acct, err := s.ledger.GetAccount(lctx, meta.MarketID, participantID)
	switch {
	case err == nil:
		p, err := s.decoder.Account(key, meta.MarketID, acct)
		if err != nil {
			return settlement.ClaimDecision{}, meta, fmt.Errorf("settlement_service: claim %s: %w", meta.MarketID, err)
		}
		s.logFailures(ctx, meta.MarketID, []settlement.Position{p})
		pos = &p
	case errors.Is(err, domain.ErrNotFound):
	default:
		return settlement.ClaimDecision{}, meta, ledgerErr("get account", err)
	}

	d, err := settlement.EvaluateClaim(m, pos, s.params.FeeBps)
	if err != nil {
		return settlement.ClaimDecision{}, meta, fmt.Errorf("settlement_service: claim %s: %w", meta.MarketID, err)
	}
	d.ParticipantID = participantID
	return d, meta, nil
}

func (s *SettlementService) resolve(ctx context.Context, ref string) (domain.MarketMeta, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return domain.MarketMeta{}, fmt.Errorf("settlement_service: %w: market reference is required", domain.ErrInvalidInput)
	}
	meta, err := s.metas.Resolve(ctx, ref)
	if err != nil {
		return domain.MarketMeta{}, fmt.Errorf("settlement_service: resolve %s: %w", ref, err)
	}
	return meta, nil
}

func (s *SettlementService) resolveWithKey(ctx context.Context, ref string) (domain.MarketMeta, []byte, error) {
	meta, err := s.resolve(ctx, ref)
	if err != nil {
		return domain.MarketMeta{}, nil, err
	}
	key, err := crypto.ParseMarketKey(meta.EncryptionKey)
	if err != nil {
		s.logger.ErrorContext(ctx, "stored market key is malformed",
			slog.String("market_id", meta.MarketID),
		)
		return domain.MarketMeta{}, nil, fmt.Errorf("settlement_service: market %s: %w", meta.MarketID, err)
	}
	return meta, key, nil
}

func (s *SettlementService) logFailures(ctx context.Context, marketID string, positions []settlement.Position) {
	for _, f := range settlement.Failures(positions) {
		s.logger.WarnContext(ctx, "choice skipped",
			slog.String("market_id", marketID),
			slog.String("participant_id", f.ParticipantID),
			slog.Int("choice_index", f.Index),
			slog.String("error", f.Err.Error()),
		)
	}
}

// archive writes the finalize bundle and returns its path, or "" when no
// archive is configured or the upload failed.
func (s *SettlementService) archive(ctx context.Context, m domain.MarketState, p domain.FinalizeProposal, accounts []domain.AccountState, skipped int, now time.Time) string {
	if s.bundles == nil {
		return ""
	}
	m.TotalTicketsA, m.TotalTicketsB = p.TotalTicketsA, p.TotalTicketsB
	m.TotalAmountA, m.TotalAmountB = p.TotalAmountA, p.TotalAmountB
	m.WinningSide = p.WinningSide
	m.RevealedKey = p.RevealedKey
	m.IsFinalized, m.IsRevealed = true, true

	path, err := s.bundles.PutBundle(ctx, domain.FinalizeBundle{
		Market:      m,
		Proposal:    p,
		Accounts:    accounts,
		Skipped:     skipped,
		GeneratedAt: now.UTC(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "audit bundle upload failed",
			slog.String("market_id", m.MarketID),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return path
}

func (s *SettlementService) invalidateStats(ctx context.Context, marketID string) {
	if s.stats == nil {
		return
	}
	if err := s.stats.Invalidate(ctx, marketID); err != nil {
		s.logger.WarnContext(ctx, "stats cache invalidate failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
	}
}

// emit fans an event out to the bus, the audit log and the notifier. None of
// them can fail the operation that produced the event.
func (s *SettlementService) emit(ctx context.Context, evt domain.SettlementEvent) {
	if evt.At.IsZero() {
		evt.At = s.now().UTC()
	}
	if s.events != nil {
		if err := s.events.Announce(ctx, evt); err != nil {
			s.logger.WarnContext(ctx, "event announce failed",
				slog.String("event", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.audit != nil {
		detail := map[string]any{"marketId": evt.MarketID}
		if evt.ParticipantID != "" {
			detail["participantId"] = evt.ParticipantID
		}
		for k, v := range evt.Detail {
			detail[k] = v
		}
		if err := s.audit.Log(ctx, evt.Type, detail); err != nil {
			s.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}
	if s.notifier != nil {
		if err := s.notifier.NotifySettlement(ctx, evt); err != nil {
			s.logger.WarnContext(ctx, "notification failed",
				slog.String("event", evt.Type),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ledgerErr wraps a ledger failure. Errors the ledger returns as a decision
// keep their kind; anything else is a transport failure.
func ledgerErr(op string, err error) error {
	for _, kind := range []error{
		domain.ErrNotFound,
		domain.ErrPrecondition,
		domain.ErrAlreadyClaimed,
		domain.ErrTallyMismatch,
		domain.ErrUnauthorized,
		domain.ErrInvalidInput,
		domain.ErrAlreadyExists,
		domain.ErrInsufficientFunds,
		domain.ErrOverflow,
	} {
		if errors.Is(err, kind) {
			return fmt.Errorf("settlement_service: %s: %w", op, err)
		}
	}
	return fmt.Errorf("settlement_service: %s: %w: %w", op, domain.ErrLedgerUnavailable, err)
}

func claimResult(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, domain.ErrPrecondition), errors.Is(err, domain.ErrNotFound):
		return "rejected"
	default:
		return "error"
	}
}

func countChoices(accounts []domain.AccountState) int {
	var n int
	for _, a := range accounts {
		n += len(a.Choices)
	}
	return n
}
