package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/sealedsettle/internal/crypto"
	"github.com/alanyoungcy/sealedsettle/internal/domain"
	"github.com/alanyoungcy/sealedsettle/internal/settlement"
)

const (
	testOperatorKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
	testMarketKey   = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"
	testMarketID    = "m-verify"
	testPrice       = 1_000_000
)

// buildBundle seals two accounts (3 tickets on A, 1 on B) and attaches the
// proposal a correct finalize would have produced.
func buildBundle(t *testing.T) domain.FinalizeBundle {
	t.Helper()
	key, err := crypto.ParseMarketKey(testMarketKey)
	if err != nil {
		t.Fatal(err)
	}
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	codec := crypto.NewCodec().WithClock(func() time.Time { return created.Add(time.Minute) })

	seal := func(side domain.Side, secret string) string {
		enc, err := codec.Encode(side, secret, testMarketID, key)
		if err != nil {
			t.Fatal(err)
		}
		return enc.Value
	}

	accounts := []domain.AccountState{
		{
			MarketID: testMarketID, ParticipantID: "alice", TotalTickets: 3, TotalAmount: 3 * testPrice,
			Choices: []domain.Choice{{EncodedChoice: seal(domain.SideA, "s1"), TicketCount: 3}},
		},
		{
			MarketID: testMarketID, ParticipantID: "bob", TotalTickets: 1, TotalAmount: testPrice,
			Choices: []domain.Choice{{EncodedChoice: seal(domain.SideB, "s2"), TicketCount: 1}},
		},
	}

	m := domain.MarketState{
		MarketID:        testMarketID,
		LedgerKeyID:     "k1",
		TicketPrice:     testPrice,
		CreationTime:    created,
		DurationSeconds: 3600,
		TotalTickets:    4,
		TotalAmount:     4 * testPrice,
		TotalTicketsA:   3,
		TotalTicketsB:   1,
		TotalAmountA:    3 * testPrice,
		TotalAmountB:    testPrice,
		IsFinalized:     true,
		IsRevealed:      true,
		WinningSide:     domain.SideA,
		RevealedKey:     testMarketKey,
	}

	signer, err := crypto.NewSigner(testOperatorKey, 1)
	if err != nil {
		t.Fatal(err)
	}
	p := domain.FinalizeProposal{
		ID:            "p-1",
		MarketID:      testMarketID,
		LedgerKeyID:   "k1",
		TotalTicketsA: 3,
		TotalTicketsB: 1,
		TotalAmountA:  3 * testPrice,
		TotalAmountB:  testPrice,
		WinningSide:   domain.SideA,
		RevealedKey:   testMarketKey,
		ProposedAt:    m.EndTime().Add(time.Second),
	}
	if p.Signature, err = signer.SignFinalize(p); err != nil {
		t.Fatal(err)
	}

	return domain.FinalizeBundle{Market: m, Proposal: p, Accounts: accounts, GeneratedAt: p.ProposedAt}
}

func TestVerifyBundle(t *testing.T) {
	report, err := verifyBundle(context.Background(), buildBundle(t), settlement.DefaultParams())
	if err != nil {
		t.Fatalf("verifyBundle: %v", err)
	}
	if report.WinningSide != domain.SideA || report.IsTie {
		t.Errorf("winner = %v tie=%v, want A", report.WinningSide, report.IsTie)
	}
	if report.TicketsA != 3 || report.TicketsB != 1 || report.AmountA != 3*testPrice {
		t.Errorf("unexpected totals: %+v", report)
	}
	if report.Accounts != 2 || report.Skipped != 0 {
		t.Errorf("accounts=%d skipped=%d", report.Accounts, report.Skipped)
	}
}

func TestVerifyBundleDetectsTamperedProposal(t *testing.T) {
	b := buildBundle(t)
	b.Proposal.WinningSide = domain.SideB

	_, err := verifyBundle(context.Background(), b, settlement.DefaultParams())
	if !errors.Is(err, domain.ErrTallyMismatch) {
		t.Fatalf("err = %v, want ErrTallyMismatch", err)
	}
}

func TestVerifyBundleWrongKey(t *testing.T) {
	b := buildBundle(t)
	b.Proposal.RevealedKey = strings.Repeat("ab", crypto.MarketKeyLen)

	// Nothing opens under the wrong key, so the ledger totals cannot be met.
	_, err := verifyBundle(context.Background(), b, settlement.DefaultParams())
	if !errors.Is(err, domain.ErrTallyMismatch) {
		t.Fatalf("err = %v, want ErrTallyMismatch", err)
	}
}

func writeBundle(t *testing.T, b domain.FinalizeBundle) string {
	t.Helper()
	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "finalize.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunVerifyChecksSignature(t *testing.T) {
	b := buildBundle(t)
	signer, _ := crypto.NewSigner(testOperatorKey, 1)
	path := writeBundle(t, b)

	var out bytes.Buffer
	err := run(context.Background(), []string{"verify", "-file", path, "-authority", signer.Address().Hex()}, &out)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	var report verifyReport
	if err := json.Unmarshal(out.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v\n%s", err, out.String())
	}
	if !report.SignatureChecked || report.MarketID != testMarketID {
		t.Errorf("report = %+v", report)
	}

	// Any other authority must be rejected.
	err = run(context.Background(), []string{"verify", "-file", path, "-authority", "0x000000000000000000000000000000000000dEaD"}, &out)
	if !errors.Is(err, domain.ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
}

func TestRunGenKey(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"genkey"}, &out); err != nil {
		t.Fatal(err)
	}
	if _, err := crypto.ParseMarketKey(out.String()); err != nil {
		t.Errorf("genkey printed an unusable key %q: %v", out.String(), err)
	}

	out.Reset()
	if err := run(context.Background(), []string{"genkey", "-operator"}, &out); err != nil {
		t.Fatal(err)
	}
	var op map[string]string
	if err := json.Unmarshal(out.Bytes(), &op); err != nil {
		t.Fatal(err)
	}
	signer, err := crypto.NewSigner(op["privateKey"], 1)
	if err != nil {
		t.Fatal(err)
	}
	if signer.Address().Hex() != op["address"] {
		t.Errorf("address %s does not match key (%s)", op["address"], signer.Address().Hex())
	}
}

func TestRunSealKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "operator.json")
	var out bytes.Buffer
	err := run(context.Background(), []string{"seal-key", "-key", testOperatorKey, "-password", "hunter2", "-out", path}, &out)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := crypto.OpenOperatorKey(data, "hunter2")
	if err != nil {
		t.Fatal(err)
	}
	if got != testOperatorKey {
		t.Errorf("round trip = %s", got)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if err := run(context.Background(), nil, &bytes.Buffer{}); !errors.Is(err, errUsage) {
		t.Errorf("no args: %v", err)
	}
	if err := run(context.Background(), []string{"bogus"}, &bytes.Buffer{}); !errors.Is(err, errUsage) {
		t.Errorf("bogus: %v", err)
	}
}
