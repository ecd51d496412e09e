package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

func TestDecoderAccountSkipsBadChoices(t *testing.T) {
	long := pick(t, "m1", domain.SideA, 7)
	long.EncodedChoice = strings.Repeat("A", 300)

	acct := account("m1", "x",
		pick(t, "m1", domain.SideA, 2),
		pick(t, "m1", domain.SideB, 3),
		pick(t, "m1", domain.SideA, 0),
		corrupt(t, pick(t, "m1", domain.SideB, 4)),
		pick(t, "other", domain.SideA, 5),
		long,
	)

	pos, err := NewDecoder(testCodec, DefaultParams()).Account(testKey, "m1", acct)
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if pos.TicketsA != 2 || pos.TicketsB != 3 {
		t.Errorf("tickets = %d/%d, want 2/3", pos.TicketsA, pos.TicketsB)
	}
	if pos.Skipped() != 3 {
		t.Fatalf("skipped = %d, want 3", pos.Skipped())
	}
	for _, f := range pos.Failures[:2] {
		if !errors.Is(f.Err, domain.ErrDecode) {
			t.Errorf("failure %d: %v is not a decode error", f.Index, f.Err)
		}
	}
	if pos.Failures[2].Index != 5 || !errors.Is(pos.Failures[2].Err, errChoiceTooLong) {
		t.Errorf("oversized choice failure = %+v", pos.Failures[2])
	}
}

func TestDecoderRespectsChoiceLimit(t *testing.T) {
	params := DefaultParams()
	params.MaxChoices = 2
	acct := account("m1", "x",
		pick(t, "m1", domain.SideA, 1),
		pick(t, "m1", domain.SideA, 1),
		pick(t, "m1", domain.SideA, 1),
	)

	pos, err := NewDecoder(testCodec, params).Account(testKey, "m1", acct)
	if err != nil {
		t.Fatal(err)
	}
	if pos.TicketsA != 2 || pos.Skipped() != 1 {
		t.Errorf("tickets = %d skipped = %d", pos.TicketsA, pos.Skipped())
	}
}

func TestDecoderAccountsParallelKeepsOrder(t *testing.T) {
	params := DefaultParams()
	params.DecodeWorkers = 3

	var accounts []domain.AccountState
	for i := range 25 {
		side := domain.SideA
		if i%2 == 1 {
			side = domain.SideB
		}
		accounts = append(accounts, account("m1", fmt.Sprintf("p%02d", i), pick(t, "m1", side, uint64(i+1))))
	}

	positions, err := NewDecoder(testCodec, params).Accounts(context.Background(), testKey, "m1", accounts)
	if err != nil {
		t.Fatalf("Accounts: %v", err)
	}
	for i, p := range positions {
		if p.Account.ParticipantID != accounts[i].ParticipantID {
			t.Fatalf("position %d belongs to %s", i, p.Account.ParticipantID)
		}
		if p.TicketsA+p.TicketsB != uint64(i+1) {
			t.Errorf("position %d tickets = %d", i, p.TicketsA+p.TicketsB)
		}
	}
	if len(Failures(positions)) != 0 {
		t.Errorf("unexpected failures: %v", Failures(positions))
	}
}

func TestDecoderAccountsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	accounts := []domain.AccountState{account("m1", "x", pick(t, "m1", domain.SideA, 1))}
	_, err := NewDecoder(testCodec, DefaultParams()).Accounts(ctx, testKey, "m1", accounts)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestParamsValidate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
	bad := Params{FeeBps: 20_000}
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"fee_bps", "user_ticket_cap", "max_choices", "max_encoded_len", "decode_workers"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}
