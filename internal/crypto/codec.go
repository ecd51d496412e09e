package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

const (
	nonceLen = 12
	tagLen   = 16
	// envelopeLen is the fixed prefix of every sealed choice: nonce then tag.
	envelopeLen = nonceLen + tagLen
)

// EncodedChoice is a sealed choice ready to be written to the ledger.
type EncodedChoice struct {
	Value           string
	EncodeTimestamp int64
}

// Codec seals and opens participant choices with a per-market AES-256-GCM
// key. The wire layout is base64(nonce || tag || ciphertext). A Codec holds no
// mutable state and is safe for concurrent use.
type Codec struct {
	now  func() time.Time
	rand io.Reader
}

// NewCodec returns a Codec using the system clock and crypto/rand.
func NewCodec() *Codec {
	return &Codec{now: time.Now, rand: rand.Reader}
}

// WithClock returns a copy of c that stamps payloads using now.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	cp := *c
	cp.now = now
	return &cp
}

// WithRandom returns a copy of c that draws nonces from r.
func (c *Codec) WithRandom(r io.Reader) *Codec {
	cp := *c
	cp.rand = r
	return &cp
}

// Encode seals side for marketID. The secret binds the choice to its
// purchaser without putting the purchaser's identity in the payload.
func (c *Codec) Encode(side domain.Side, secret, marketID string, key []byte) (EncodedChoice, error) {
	if !side.Valid() {
		return EncodedChoice{}, fmt.Errorf("crypto: encode choice: %w: side must be 1 or 2", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(secret) == "" {
		return EncodedChoice{}, fmt.Errorf("crypto: encode choice: %w: binding secret is required", domain.ErrInvalidInput)
	}
	if marketID == "" {
		return EncodedChoice{}, fmt.Errorf("crypto: encode choice: %w: market id is required", domain.ErrInvalidInput)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return EncodedChoice{}, err
	}

	ts := c.now().Unix()
	plaintext, err := json.Marshal(domain.ChoicePayload{
		Side:            side,
		Secret:          secret,
		Market:          marketID,
		EncodeTimestamp: ts,
	})
	if err != nil {
		return EncodedChoice{}, fmt.Errorf("crypto: marshal choice: %w", err)
	}

	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return EncodedChoice{}, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	// Seal appends the tag after the ciphertext; the wire format puts it first.
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ct, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	out := make([]byte, 0, envelopeLen+len(ct))
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)

	return EncodedChoice{
		Value:           base64.StdEncoding.EncodeToString(out),
		EncodeTimestamp: ts,
	}, nil
}

// Decode opens an encoded choice and checks that it was minted for
// expectedMarket. Every failure wraps domain.ErrDecode.
func (c *Codec) Decode(encoded string, key []byte, expectedMarket string) (domain.ChoicePayload, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return domain.ChoicePayload{}, decodeErr("invalid base64")
	}
	if len(raw) < envelopeLen {
		return domain.ChoicePayload{}, decodeErr("payload shorter than envelope")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return domain.ChoicePayload{}, fmt.Errorf("crypto: %w: %w", domain.ErrDecode, err)
	}

	nonce := raw[:nonceLen]
	tag := raw[nonceLen:envelopeLen]
	ct := raw[envelopeLen:]

	sealed := make([]byte, 0, len(ct)+tagLen)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return domain.ChoicePayload{}, decodeErr("authentication failed")
	}

	var payload domain.ChoicePayload
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return domain.ChoicePayload{}, decodeErr("malformed plaintext")
	}
	if payload.Market != expectedMarket {
		return domain.ChoicePayload{}, decodeErr("market mismatch")
	}
	if !payload.Side.Valid() {
		return domain.ChoicePayload{}, decodeErr("invalid side")
	}
	return payload, nil
}

func decodeErr(reason string) error {
	return fmt.Errorf("crypto: %w: %s", domain.ErrDecode, reason)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != MarketKeyLen {
		return nil, fmt.Errorf("crypto: %w: expected %d bytes, got %d", domain.ErrInvalidMarketKey, MarketKeyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}
