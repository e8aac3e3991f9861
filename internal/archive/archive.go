// Package archive exports batch provenance documents to a blob store. A
// document captures the batch, its medicine, the full hash-chained custody
// history and the outcome of verifying that chain at export time.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"medichain/internal/blob"
	"medichain/internal/core"
	"medichain/internal/log"
	"medichain/pkg/domain"
)

// KeyPrefix is the blob namespace holding custody documents.
const KeyPrefix = "custody/"

// Document is the JSON body written for each export.
type Document struct {
	Batch      domain.Batch           `json:"batch"`
	Medicine   domain.Medicine        `json:"medicine"`
	History    []domain.TrackingEvent `json:"history"`
	HeadDigest string                 `json:"head_digest"`
	Verified   bool                   `json:"verified"`
	VerifyErr  string                 `json:"verify_error,omitempty"`
	ExportedAt time.Time              `json:"exported_at"`
}

// Ledger is the read surface the archiver needs.
type Ledger interface {
	GetBatch(ctx context.Context, batchID string) (domain.Batch, error)
	GetMedicine(ctx context.Context, sku string) (domain.Medicine, error)
	GetBatchHistory(ctx context.Context, batchID string) ([]domain.TrackingEvent, error)
}

var _ Ledger = (*core.Ledger)(nil)

// Archiver writes provenance documents for ledger batches.
type Archiver struct {
	ledger Ledger
	store  blob.Store
	clock  domain.Clock
}

// New constructs an archiver. A nil clock uses the wall clock.
func New(ledger Ledger, store blob.Store, clock domain.Clock) *Archiver {
	if clock == nil {
		clock = domain.NewMonotonicClock(nil)
	}
	return &Archiver{ledger: ledger, store: store, clock: clock}
}

// Key returns the blob key of the document covering history up to seq.
func Key(batchID string, seq int) string {
	return path.Join(strings.TrimSuffix(KeyPrefix, "/"), batchID, strconv.Itoa(seq)+".json")
}

// Export writes the current provenance of batchID. Documents are immutable:
// exporting twice without an intervening transfer is AlreadyExists.
func (a *Archiver) Export(ctx context.Context, batchID string) (blob.Info, error) {
	if batchID == "" || strings.ContainsAny(batchID, "/\\") || batchID == "." || batchID == ".." {
		return blob.Info{}, domain.InvalidArgument("batch id %q cannot be archived", batchID)
	}
	batch, err := a.ledger.GetBatch(ctx, batchID)
	if err != nil {
		return blob.Info{}, err
	}
	med, err := a.ledger.GetMedicine(ctx, batch.MedicineSKU)
	if err != nil {
		return blob.Info{}, err
	}
	history, err := a.ledger.GetBatchHistory(ctx, batchID)
	if err != nil {
		return blob.Info{}, err
	}
	head := history[len(history)-1]
	doc := Document{
		Batch:      batch,
		Medicine:   med,
		History:    history,
		HeadDigest: head.Digest,
		Verified:   true,
		ExportedAt: a.clock.Now(),
	}
	if verr := domain.VerifyHistory(batchID, history); verr != nil {
		doc.Verified = false
		doc.VerifyErr = verr.Error()
		log.L(ctx).WithField("batch", batchID).WithError(verr).Warn("archiving batch with broken history chain")
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return blob.Info{}, fmt.Errorf("encode custody document: %w", err)
	}
	key := Key(batchID, head.Sequence)
	info, err := a.store.Put(ctx, key, bytes.NewReader(body), blob.PutOptions{
		ContentType: "application/json",
		Metadata: map[string]string{
			"batch-id":    batchID,
			"sequence":    strconv.Itoa(head.Sequence),
			"head-digest": head.Digest,
			"status":      batch.Status.String(),
		},
	})
	if errors.Is(err, blob.ErrExists) {
		return blob.Info{}, domain.AlreadyExists(domain.EntityTrackingEvent, key)
	}
	if err != nil {
		return blob.Info{}, fmt.Errorf("store custody document %s: %w", key, err)
	}
	log.L(ctx).WithField("key", key).Debug("custody document archived")
	return info, nil
}

// List returns the stored documents of batchID ordered by sequence.
func (a *Archiver) List(ctx context.Context, batchID string) ([]blob.Info, error) {
	infos, err := a.store.List(ctx, KeyPrefix+batchID+"/")
	if err != nil {
		return nil, fmt.Errorf("list custody documents: %w", err)
	}
	seq := func(info blob.Info) int {
		n, _ := strconv.Atoi(strings.TrimSuffix(path.Base(info.Key), ".json"))
		return n
	}
	sort.SliceStable(infos, func(i, j int) bool { return seq(infos[i]) < seq(infos[j]) })
	return infos, nil
}

// Load reads and decodes a stored document.
func (a *Archiver) Load(ctx context.Context, batchID string, seq int) (Document, error) {
	key := Key(batchID, seq)
	_, rc, err := a.store.Get(ctx, key)
	if errors.Is(err, blob.ErrNotFound) {
		return Document{}, domain.NotFound(domain.EntityTrackingEvent, key)
	}
	if err != nil {
		return Document{}, err
	}
	defer func() { _ = rc.Close() }()
	var doc Document
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return doc, nil
}
