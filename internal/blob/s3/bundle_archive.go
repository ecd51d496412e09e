package s3blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/alanyoungcy/sealedsettle/internal/domain"
)

// DefaultMultipartThreshold is the bundle size above which uploads switch to
// the multipart manager.
const DefaultMultipartThreshold int64 = 8 * 1024 * 1024

// BundleArchive writes finalize bundles to markets/{marketId}/finalize.json.
type BundleArchive struct {
	writer    domain.BlobWriter
	reader    domain.BlobReader
	threshold int64
}

var _ domain.BundleArchive = (*BundleArchive)(nil)

// NewBundleArchive returns an archive over the given writer and reader.
// A threshold <= 0 selects DefaultMultipartThreshold.
func NewBundleArchive(w domain.BlobWriter, r domain.BlobReader, threshold int64) *BundleArchive {
	if threshold <= 0 {
		threshold = DefaultMultipartThreshold
	}
	return &BundleArchive{writer: w, reader: r, threshold: threshold}
}

// BundlePath returns the object key of a market's bundle.
func BundlePath(marketID string) string {
	return "markets/" + marketID + "/finalize.json"
}

// PutBundle serializes the bundle and uploads it with its SHA-256 in the
// object metadata. Rewriting an existing bundle is allowed; the content for
// a finalized market never changes.
func (a *BundleArchive) PutBundle(ctx context.Context, bundle domain.FinalizeBundle) (string, error) {
	if bundle.Market.MarketID == "" {
		return "", errors.New("s3blob: bundle has no market id")
	}
	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal bundle: %w", err)
	}
	sum := sha256.Sum256(data)

	obj := domain.BlobObject{
		Path:        BundlePath(bundle.Market.MarketID),
		Body:        bytes.NewReader(data),
		ContentType: "application/json",
		Metadata: map[string]string{
			domain.BundleMetaMarketID:    bundle.Market.MarketID,
			domain.BundleMetaWinningSide: strconv.Itoa(int(bundle.Proposal.WinningSide)),
			domain.BundleMetaSHA256:      hex.EncodeToString(sum[:]),
		},
	}
	if int64(len(data)) > a.threshold {
		err = a.writer.PutMultipart(ctx, obj, a.threshold)
	} else {
		err = a.writer.Put(ctx, obj)
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: put bundle %s: %w", bundle.Market.MarketID, err)
	}
	return obj.Path, nil
}

// GetBundle opens the stored bundle of marketID.
func (a *BundleArchive) GetBundle(ctx context.Context, marketID string) (domain.Blob, error) {
	b, err := a.reader.Get(ctx, BundlePath(marketID))
	if err != nil {
		return domain.Blob{}, fmt.Errorf("s3blob: get bundle %s: %w", marketID, err)
	}
	return b, nil
}
