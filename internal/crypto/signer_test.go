package crypto

import (
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

func TestSignAndVerifyProposals(t *testing.T) {
	signer, err := NewSigner(testOperatorKey, 1)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	verifier, err := NewVerifier(signer.Address().Hex(), 1)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}

	fp := domain.FinalizeProposal{
		ID: "p1", MarketID: "m1",
		TotalTicketsA: 10, TotalTicketsB: 5,
		TotalAmountA: 100, TotalAmountB: 50,
		WinningSide: domain.SideA, RevealedKey: "ab",
		ProposedAt: time.Unix(10, 0),
	}
	fp.Signature, err = signer.SignFinalize(fp)
	if err != nil {
		t.Fatalf("SignFinalize: %v", err)
	}
	if err := verifier.VerifyFinalize(fp); err != nil {
		t.Fatalf("VerifyFinalize: %v", err)
	}

	tampered := fp
	tampered.WinningSide = domain.SideB
	if err := verifier.VerifyFinalize(tampered); !errors.Is(err, domain.ErrBadSignature) {
		t.Errorf("tampered finalize: err = %v, want ErrBadSignature", err)
	}

	pp := domain.PayoutProposal{ID: "p2", MarketID: "m1", ParticipantID: "alice", Amount: 150}
	pp.Signature, err = signer.SignPayout(pp)
	if err != nil {
		t.Fatalf("SignPayout: %v", err)
	}
	if err := verifier.VerifyPayout(pp); err != nil {
		t.Fatalf("VerifyPayout: %v", err)
	}
	pp.Amount++
	if err := verifier.VerifyPayout(pp); !errors.Is(err, domain.ErrBadSignature) {
		t.Errorf("tampered payout: err = %v, want ErrBadSignature", err)
	}
}

func TestVerifierRejectsOtherChainAndMalformed(t *testing.T) {
	signer, _ := NewSigner(testOperatorKey, 1)
	otherChain, _ := NewVerifier(signer.Address().Hex(), 2)

	pp := domain.PayoutProposal{ID: "p", MarketID: "m", ParticipantID: "x", Amount: 1}
	pp.Signature, _ = signer.SignPayout(pp)
	if err := otherChain.VerifyPayout(pp); !errors.Is(err, domain.ErrBadSignature) {
		t.Errorf("other chain: err = %v", err)
	}

	pp.Signature = "0x1234"
	if err := otherChain.VerifyPayout(pp); !errors.Is(err, domain.ErrBadSignature) {
		t.Errorf("malformed: err = %v", err)
	}

	if _, err := NewVerifier("not-an-address", 1); err == nil {
		t.Error("expected error for invalid authority")
	}
}
