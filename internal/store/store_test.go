package store

import (
	"context"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"yam-indexer/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	// Deterministic fallback clock for events without a timestamp.
	s.now = func() time.Time {
		return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	}
	return s
}

func ts(t *testing.T, value string) *time.Time {
	t.Helper()
	parsed, err := time.Parse(timestampLayout, value)
	if err != nil {
		t.Fatalf("bad test timestamp %q: %v", value, err)
	}
	parsed = parsed.UTC()
	return &parsed
}

func meta(tx string, logIndex uint, block uint64, timestamp *time.Time) models.EventMeta {
	return models.EventMeta{
		TransactionHash: tx,
		LogIndex:        logIndex,
		BlockNumber:     block,
		Timestamp:       timestamp,
	}
}

func created(m models.EventMeta, offerID uint64, amount int64) models.OfferCreated {
	return models.OfferCreated{
		EventMeta:  m,
		OfferID:    offerID,
		OfferToken: "0x7aCCF67bDA64a3d736Ab0a7d913335001b05d6d6",
		BuyerToken: "0xDDAFbb505ad214D7b80b1f830fcCc89B60fb7A83",
		Seller:     "0x1111111111111111111111111111111111111111",
		Buyer:      "0x0000000000000000000000000000000000000000",
		Price:      big.NewInt(1000),
		Amount:     big.NewInt(amount),
	}
}

func accepted(m models.EventMeta, offerID uint64, amount int64) models.OfferAccepted {
	return models.OfferAccepted{
		EventMeta:  m,
		OfferID:    offerID,
		Seller:     "0x1111111111111111111111111111111111111111",
		Buyer:      "0x2222222222222222222222222222222222222222",
		OfferToken: "0x7aCCF67bDA64a3d736Ab0a7d913335001b05d6d6",
		BuyerToken: "0xDDAFbb505ad214D7b80b1f830fcCc89B60fb7A83",
		Price:      big.NewInt(1000),
		Amount:     big.NewInt(amount),
	}
}

func updated(m models.EventMeta, offerID uint64, newAmount int64) models.OfferUpdated {
	return models.OfferUpdated{
		EventMeta: m,
		OfferID:   offerID,
		OldPrice:  big.NewInt(1000),
		OldAmount: big.NewInt(0),
		NewPrice:  big.NewInt(1000),
		NewAmount: big.NewInt(newAmount),
	}
}

func offerStatus(t *testing.T, s *Store, offerID uint64) models.OfferStatus {
	t.Helper()
	offer, err := s.Offer(context.Background(), offerID)
	if err != nil {
		t.Fatalf("Offer(%d) error = %v", offerID, err)
	}
	if offer == nil {
		t.Fatalf("Offer(%d) not found", offerID)
	}
	return offer.Status
}

func TestCommitBatchSellout(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	events := []models.Event{
		created(meta("0xa1", 0, 100, ts(t, "2026-01-01 10:00:00")), 1, 100),
		accepted(meta("0xa2", 0, 101, ts(t, "2026-01-01 10:05:00")), 1, 40),
	}
	if err := s.CommitBatch(ctx, 100, 101, events); err != nil {
		t.Fatalf("CommitBatch() error = %v", err)
	}
	if got := offerStatus(t, s, 1); got != models.StatusInProgress {
		t.Errorf("status after partial fill = %s, want InProgress", got)
	}

	fill := []models.Event{accepted(meta("0xa3", 0, 102, ts(t, "2026-01-01 10:10:00")), 1, 60)}
	if err := s.CommitBatch(ctx, 102, 102, fill); err != nil {
		t.Fatalf("CommitBatch() error = %v", err)
	}
	if got := offerStatus(t, s, 1); got != models.StatusSoldOut {
		t.Errorf("status after full fill = %s, want SoldOut", got)
	}
}

func TestUpdateResetsBaseline(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	events := []models.Event{
		created(meta("0xb1", 0, 200, ts(t, "2026-01-02 09:00:00")), 2, 100),
		accepted(meta("0xb2", 0, 201, ts(t, "2026-01-02 09:01:00")), 2, 100),
	}
	if err := s.CommitBatch(ctx, 200, 201, events); err != nil {
		t.Fatalf("CommitBatch() error = %v", err)
	}
	if got := offerStatus(t, s, 2); got != models.StatusSoldOut {
		t.Fatalf("status = %s, want SoldOut before update", got)
	}

	// The update re-arms the offer with a fresh baseline; earlier fills no
	// longer count.
	amend := []models.Event{updated(meta("0xb3", 0, 202, ts(t, "2026-01-02 09:02:00")), 2, 50)}
	if err := s.CommitBatch(ctx, 202, 202, amend); err != nil {
		t.Fatalf("CommitBatch() error = %v", err)
	}
	if got := offerStatus(t, s, 2); got != models.StatusInProgress {
		t.Errorf("status after update = %s, want InProgress", got)
	}

	refill := []models.Event{accepted(meta("0xb4", 0, 203, ts(t, "2026-01-02 09:03:00")), 2, 50)}
	if err := s.CommitBatch(ctx, 203, 203, refill); err != nil {
		t.Fatalf("CommitBatch() error = %v", err)
	}
	if got := offerStatus(t, s, 2); got != models.StatusSoldOut {
		t.Errorf("status after refill = %s, want SoldOut", got)
	}
}

func TestDeleteWins(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	events := []models.Event{
		created(meta("0xc1", 0, 300, ts(t, "2026-01-03 08:00:00")), 3, 100),
		accepted(meta("0xc2", 0, 301, ts(t, "2026-01-03 08:01:00")), 3, 30),
		models.OfferDeleted{EventMeta: meta("0xc3", 0, 302, ts(t, "2026-01-03 08:02:00")), OfferID: 3},
	}
	if err := s.CommitBatch(ctx, 300, 302, events); err != nil {
		t.Fatalf("CommitBatch() error = %v", err)
	}
	if got := offerStatus(t, s, 3); got != models.StatusDeleted {
		t.Errorf("status = %s, want Deleted", got)
	}
}

func TestOverfillLeavesStatusUntouched(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	events := []models.Event{
		created(meta("0xd1", 0, 400, ts(t, "2026-01-04 08:00:00")), 4, 100),
		accepted(meta("0xd2", 0, 401, ts(t, "2026-01-04 08:01:00")), 4, 150),
	}
	if err := s.CommitBatch(ctx, 400, 401, events); err != nil {
		t.Fatalf("CommitBatch() error = %v", err)
	}
	// Negative remainder is a data anomaly; the verdict is undetermined and
	// the offer keeps its default status.
	if got := offerStatus(t, s, 4); got != models.StatusInProgress {
		t.Errorf("status = %s, want InProgress (undetermined verdict)", got)
	}
}

func TestReingestionIsIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	events := []models.Event{
		created(meta("0xe1", 0, 500, ts(t, "2026-01-05 08:00:00")), 5, 100),
		accepted(meta("0xe2", 0, 501, ts(t, "2026-01-05 08:01:00")), 5, 100),
	}
	if err := s.CommitBatch(ctx, 500, 501, events); err != nil {
		t.Fatalf("first CommitBatch() error = %v", err)
	}
	if err := s.CommitBatch(ctx, 500, 501, events); err != nil {
		t.Fatalf("second CommitBatch() error = %v", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM offer_events WHERE offer_id = 5").Scan(&count); err != nil {
		t.Fatalf("count query error = %v", err)
	}
	if count != 1 {
		t.Errorf("offer_events rows = %d, want 1 after replay", count)
	}
	// The duplicate fill must not double-count: the offer stays SoldOut,
	// not undetermined.
	if got := offerStatus(t, s, 5); got != models.StatusSoldOut {
		t.Errorf("status = %s, want SoldOut after replay", got)
	}
}

func TestWatermark(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	// First window starts a fresh entry.
	if err := s.CommitBatch(ctx, 100, 102, nil); err != nil {
		t.Fatalf("CommitBatch() error = %v", err)
	}
	// Contiguous window extends it.
	if err := s.CommitBatch(ctx, 103, 105, nil); err != nil {
		t.Fatalf("CommitBatch() error = %v", err)
	}
	// Overlapping window that moves to_block forward also extends.
	if err := s.CommitBatch(ctx, 104, 108, nil); err != nil {
		t.Fatalf("CommitBatch() error = %v", err)
	}
	// Window fully behind the mark is a no-op.
	if err := s.CommitBatch(ctx, 100, 105, nil); err != nil {
		t.Fatalf("CommitBatch() error = %v", err)
	}
	// Window beyond a gap starts a second entry.
	if err := s.CommitBatch(ctx, 200, 205, nil); err != nil {
		t.Fatalf("CommitBatch() error = %v", err)
	}
	// Filling the gap behind the newest entry is a no-op: the rule only
	// ever compares against the most recent row, so entries are never
	// merged or extended backwards across a filled gap.
	if err := s.CommitBatch(ctx, 109, 199, nil); err != nil {
		t.Fatalf("CommitBatch() error = %v", err)
	}

	ranges, err := s.WatermarkRanges(ctx)
	if err != nil {
		t.Fatalf("WatermarkRanges() error = %v", err)
	}
	if len(ranges) != 2 {
		t.Fatalf("got %d ranges, want 2: %+v", len(ranges), ranges)
	}
	if ranges[0].FromBlock != 100 || ranges[0].ToBlock != 108 {
		t.Errorf("first range = [%d, %d], want [100, 108]", ranges[0].FromBlock, ranges[0].ToBlock)
	}
	if ranges[1].FromBlock != 200 || ranges[1].ToBlock != 205 {
		t.Errorf("second range = [%d, %d], want [200, 205]", ranges[1].FromBlock, ranges[1].ToBlock)
	}

	last, ok, err := s.LastIndexedBlock(ctx)
	if err != nil || !ok {
		t.Fatalf("LastIndexedBlock() = (%d, %v, %v)", last, ok, err)
	}
	if last != 205 {
		t.Errorf("LastIndexedBlock() = %d, want 205", last)
	}
}

func TestReadsDoNotBlockBehindWriteTransaction(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	// Hold an uncommitted write transaction, as the indexing loop does
	// for the duration of a batch.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx() error = %v", err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO indexing_state (from_block, to_block) VALUES (1, 2)"); err != nil {
		t.Fatalf("insert error = %v", err)
	}

	// A report query must still answer from its own snapshot instead of
	// queueing behind the open transaction.
	readCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := s.AcceptedOffers(readCtx, RoleBuyer,
		[]string{"0x2222222222222222222222222222222222222222"},
		"2026-01-01 00:00:00", "2026-12-31 00:00:00")
	if err != nil {
		t.Fatalf("AcceptedOffers() error = %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("got %d rows, want 0", len(rows))
	}
	// The snapshot must not see the uncommitted watermark row either.
	if _, ok, err := s.LastIndexedBlock(readCtx); err != nil || ok {
		t.Errorf("LastIndexedBlock() = (ok=%v, err=%v), want no committed entry", ok, err)
	}
}

func TestLastIndexedBlockFreshDatabase(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, ok, err := s.LastIndexedBlock(context.Background())
	if err != nil {
		t.Fatalf("LastIndexedBlock() error = %v", err)
	}
	if ok {
		t.Error("ok = true on a fresh database, want false")
	}
}

func TestEventTimestampFallback(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	// RPC-decoded events carry no timestamp; commit time is used instead.
	if err := s.CommitBatch(ctx, 600, 600, []models.Event{
		created(meta("0xf1", 0, 600, nil), 6, 100),
	}); err != nil {
		t.Fatalf("CommitBatch() error = %v", err)
	}

	offer, err := s.Offer(ctx, 6)
	if err != nil || offer == nil {
		t.Fatalf("Offer() = (%v, %v)", offer, err)
	}
	if offer.CreationTimestamp != "2026-01-15 12:00:00" {
		t.Errorf("CreationTimestamp = %s, want fallback clock value", offer.CreationTimestamp)
	}
}

func TestAcceptedOffers(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	events := []models.Event{
		created(meta("0xg1", 0, 700, ts(t, "2026-02-01 10:00:00")), 7, 100),
		accepted(meta("0xg2", 0, 701, ts(t, "2026-02-01 11:00:00")), 7, 40),
		accepted(meta("0xg3", 0, 702, ts(t, "2026-02-03 11:00:00")), 7, 60),
	}
	if err := s.CommitBatch(ctx, 700, 702, events); err != nil {
		t.Fatalf("CommitBatch() error = %v", err)
	}

	buyer := []string{"0x2222222222222222222222222222222222222222"}
	seller := []string{"0x1111111111111111111111111111111111111111"}

	tests := []struct {
		name      string
		role      Role
		addresses []string
		tFrom     string
		tTo       string
		want      int
	}{
		{"buyer both fills", RoleBuyer, buyer, "2026-02-01 00:00:00", "2026-02-04 00:00:00", 2},
		{"buyer time filtered", RoleBuyer, buyer, "2026-02-01 00:00:00", "2026-02-02 00:00:00", 1},
		{"seller side", RoleSeller, seller, "2026-02-01 00:00:00", "2026-02-04 00:00:00", 2},
		{"unrelated address", RoleBuyer, seller, "2026-02-01 00:00:00", "2026-02-04 00:00:00", 0},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.AcceptedOffers(ctx, tc.role, tc.addresses, tc.tFrom, tc.tTo)
			if err != nil {
				t.Fatalf("AcceptedOffers() error = %v", err)
			}
			if len(got) != tc.want {
				t.Fatalf("got %d rows, want %d", len(got), tc.want)
			}
			for i := 1; i < len(got); i++ {
				if got[i-1].EventTimestamp > got[i].EventTimestamp {
					t.Error("rows are not sorted ascending by timestamp")
				}
			}
		})
	}
}

func TestAcceptedOffersNoAddresses(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	rows, err := s.AcceptedOffers(context.Background(), RoleBuyer, nil, "2026-01-01 00:00:00", "2026-12-31 00:00:00")
	if err != nil {
		t.Fatalf("AcceptedOffers() error = %v", err)
	}
	if rows != nil {
		t.Errorf("got %d rows, want none for empty address set", len(rows))
	}
}
