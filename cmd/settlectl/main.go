// Command settlectl is the operator toolbox of the settlement engine.
//
//	settlectl genkey [-operator]
//	settlectl seal-key -out operator.json
//	settlectl verify -file finalize.json [-authority 0x...] [-chain-id 1]
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/sealedsettle/internal/crypto"
	"github.com/alanyoungcy/sealedsettle/internal/domain"
	"github.com/alanyoungcy/sealedsettle/internal/settlement"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "settlectl: %v\n", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage: settlectl <genkey|seal-key|verify> [flags]")

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "genkey":
		return genKey(args[1:], out)
	case "seal-key":
		return sealKey(args[1:], out)
	case "verify":
		return verify(ctx, args[1:], out)
	default:
		return fmt.Errorf("unknown command %q\n%w", args[0], errUsage)
	}
}

// genKey prints a fresh market key, or with -operator a secp256k1 operator
// key and its address.
func genKey(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("genkey", flag.ContinueOnError)
	operator := fs.Bool("operator", false, "generate an operator signing key instead of a market key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if !*operator {
		key, err := crypto.GenerateMarketKey()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, key)
		return err
	}

	pk, err := ethcrypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate operator key: %w", err)
	}
	return writeJSON(out, map[string]string{
		"privateKey": hex.EncodeToString(ethcrypto.FromECDSA(pk)),
		"address":    ethcrypto.PubkeyToAddress(pk.PublicKey).Hex(),
	})
}

// sealKey encrypts an operator key with a password. Both default to the
// engine's environment variables so they stay out of shell history.
func sealKey(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("seal-key", flag.ContinueOnError)
	key := fs.String("key", os.Getenv("SETTLE_OPERATOR_PRIVATE_KEY"), "hex operator private key")
	password := fs.String("password", os.Getenv("SETTLE_OPERATOR_KEY_PASSWORD"), "password protecting the key file")
	outPath := fs.String("out", "", "write the key file here instead of stdout")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *key == "" {
		return errors.New("seal-key: -key or SETTLE_OPERATOR_PRIVATE_KEY is required")
	}

	data, err := crypto.SealOperatorKey(*key, *password)
	if err != nil {
		return err
	}
	if *outPath == "" {
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	if err := os.WriteFile(*outPath, data, 0o600); err != nil {
		return fmt.Errorf("seal-key: %w", err)
	}
	_, err = fmt.Fprintf(out, "sealed key written to %s\n", *outPath)
	return err
}

// verify re-tallies an audit bundle offline.
func verify(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	file := fs.String("file", "", "path to a finalize.json audit bundle")
	authority := fs.String("authority", "", "ledger authority address; when set the proposal signature is checked")
	chainID := fs.Int("chain-id", 1, "chain id of the signing domain")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("verify: -file is required")
	}

	data, err := os.ReadFile(*file)
	if err != nil {
		return fmt.Errorf("verify: %w", err)
	}
	var bundle domain.FinalizeBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("verify: parse bundle: %w", err)
	}

	report, err := verifyBundle(ctx, bundle, settlement.DefaultParams())
	if err != nil {
		return err
	}
	if *authority != "" {
		v, err := crypto.NewVerifier(*authority, *chainID)
		if err != nil {
			return err
		}
		if err := v.VerifyFinalize(bundle.Proposal); err != nil {
			return fmt.Errorf("verify: %w", err)
		}
		report.SignatureChecked = true
	}
	return writeJSON(out, report)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
