package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

const (
	domainName    = "SealedSettlement"
	domainVersion = "1"
)

var (
	eip712DomainTypeHash = ethcrypto.Keccak256(
		[]byte("EIP712Domain(string name,string version,uint256 chainId)"),
	)

	finalizeTypeHash = ethcrypto.Keccak256(
		[]byte("FinalizeMarket(string proposalId,string marketId,uint256 ticketsA,uint256 ticketsB,uint256 amountA,uint256 amountB,uint8 winningSide,string revealedKey)"),
	)

	payoutTypeHash = ethcrypto.Keccak256(
		[]byte("ClaimReward(string proposalId,string marketId,string participant,uint256 amount)"),
	)
)

// Signer signs ledger proposals with the operator's secp256k1 key.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	domainSep  []byte
}

// NewSigner creates a Signer from a hex private key for the given chain id.
func NewSigner(privateKeyHex string, chainID int) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/signer: invalid private key: %w", err)
	}
	return &Signer{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		domainSep:  domainSeparator(chainID),
	}, nil
}

// Address returns the address the ledger should accept as authority.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignFinalize returns a 65-byte hex signature over the proposal.
func (s *Signer) SignFinalize(p domain.FinalizeProposal) (string, error) {
	return s.signDigest(eip712Hash(s.domainSep, finalizeStructHash(p)))
}

// SignPayout returns a 65-byte hex signature over the proposal.
func (s *Signer) SignPayout(p domain.PayoutProposal) (string, error) {
	return s.signDigest(eip712Hash(s.domainSep, payoutStructHash(p)))
}

func (s *Signer) signDigest(digest []byte) (string, error) {
	sig, err := ethcrypto.Sign(digest, s.privateKey)
	if err != nil {
		return "", fmt.Errorf("crypto/signer: signing: %w", err)
	}
	// go-ethereum returns v in {0,1}; EIP-712 expects v in {27,28}.
	if sig[64] < 27 {
		sig[64] += 27
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// Verifier checks that proposals were signed by the ledger authority.
type Verifier struct {
	authority common.Address
	domainSep []byte
}

// NewVerifier returns a Verifier for the hex authority address.
func NewVerifier(authority string, chainID int) (*Verifier, error) {
	if !common.IsHexAddress(authority) {
		return nil, fmt.Errorf("crypto/signer: invalid authority address %q", authority)
	}
	return &Verifier{
		authority: common.HexToAddress(authority),
		domainSep: domainSeparator(chainID),
	}, nil
}

// Authority returns the expected signer address.
func (v *Verifier) Authority() string {
	return v.authority.Hex()
}

// VerifyFinalize returns domain.ErrBadSignature unless the authority signed p.
func (v *Verifier) VerifyFinalize(p domain.FinalizeProposal) error {
	return v.verify(eip712Hash(v.domainSep, finalizeStructHash(p)), p.Signature)
}

// VerifyPayout returns domain.ErrBadSignature unless the authority signed p.
func (v *Verifier) VerifyPayout(p domain.PayoutProposal) error {
	return v.verify(eip712Hash(v.domainSep, payoutStructHash(p)), p.Signature)
}

func (v *Verifier) verify(digest []byte, signature string) error {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != 65 {
		return fmt.Errorf("crypto/signer: %w: malformed signature", domain.ErrBadSignature)
	}
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("crypto/signer: %w: %v", domain.ErrBadSignature, err)
	}
	if ethcrypto.PubkeyToAddress(*pub) != v.authority {
		return fmt.Errorf("crypto/signer: %w: signer is not the authority", domain.ErrBadSignature)
	}
	return nil
}

func finalizeStructHash(p domain.FinalizeProposal) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			finalizeTypeHash,
			ethcrypto.Keccak256([]byte(p.ID)),
			ethcrypto.Keccak256([]byte(p.MarketID)),
			uint64To32Bytes(p.TotalTicketsA),
			uint64To32Bytes(p.TotalTicketsB),
			uint64To32Bytes(p.TotalAmountA),
			uint64To32Bytes(p.TotalAmountB),
			uint64To32Bytes(uint64(p.WinningSide)),
			ethcrypto.Keccak256([]byte(p.RevealedKey)),
		),
	)
}

func payoutStructHash(p domain.PayoutProposal) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			payoutTypeHash,
			ethcrypto.Keccak256([]byte(p.ID)),
			ethcrypto.Keccak256([]byte(p.MarketID)),
			ethcrypto.Keccak256([]byte(p.ParticipantID)),
			uint64To32Bytes(p.Amount),
		),
	)
}

// domainSeparator returns keccak256(abi.encode(typeHash, nameHash, versionHash, chainId)).
func domainSeparator(chainID int) []byte {
	return ethcrypto.Keccak256(
		concatBytes(
			eip712DomainTypeHash,
			ethcrypto.Keccak256([]byte(domainName)),
			ethcrypto.Keccak256([]byte(domainVersion)),
			common.LeftPadBytes(big.NewInt(int64(chainID)).Bytes(), 32),
		),
	)
}

// eip712Hash computes keccak256("\x19\x01" || domainSeparator || structHash).
func eip712Hash(domainSep, structHash []byte) []byte {
	return ethcrypto.Keccak256(concatBytes([]byte{0x19, 0x01}, domainSep, structHash))
}

func uint64To32Bytes(v uint64) []byte {
	return common.LeftPadBytes(new(big.Int).SetUint64(v).Bytes(), 32)
}

func concatBytes(parts ...[]byte) []byte {
	var n int
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}
