// Package store owns the on-disk state of the indexer: offers, their
// event history, and the indexing watermark. All mutations flow through
// CommitBatch inside a single transaction per batch.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"yam-indexer/internal/models"
)

//go:embed schema.sql
var schema string

// timestampLayout is the persisted datetime format (UTC, second precision).
const timestampLayout = "2006-01-02 15:04:05"

// Role selects which side of an accepted offer an address set is matched
// against in AcceptedOffers.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

type Store struct {
	db  *sql.DB
	log *logrus.Entry

	// now is swappable in tests; events without an upstream timestamp
	// fall back to it at commit time.
	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path and
// bootstraps the schema. WAL mode lets report queries read a consistent
// snapshot while the indexing loop holds its batch transaction; the
// busy timeout covers the single-writer handoff between batches.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}

	return &Store{
		db:  db,
		log: logrus.WithField("component", "store"),
		now: time.Now,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LastIndexedBlock returns the durable high-water mark: the to_block of
// the most recent watermark entry. ok is false on a fresh database.
func (s *Store) LastIndexedBlock(ctx context.Context) (uint64, bool, error) {
	var toBlock uint64
	err := s.db.QueryRowContext(ctx,
		"SELECT to_block FROM indexing_state ORDER BY indexing_id DESC LIMIT 1").Scan(&toBlock)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return toBlock, true, nil
}

// WatermarkRanges returns every committed block window, oldest first.
func (s *Store) WatermarkRanges(ctx context.Context) ([]models.WatermarkRange, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT indexing_id, from_block, to_block FROM indexing_state ORDER BY indexing_id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ranges []models.WatermarkRange
	for rows.Next() {
		var r models.WatermarkRange
		if err := rows.Scan(&r.ID, &r.FromBlock, &r.ToBlock); err != nil {
			return nil, err
		}
		ranges = append(ranges, r)
	}
	return ranges, rows.Err()
}

// CommitBatch atomically applies a decoded batch in the supplied order and
// records the [fromBlock, toBlock] window in the watermark. Re-ingesting
// an already-seen event is a silent no-op, so replaying a range is safe.
func (s *Store) CommitBatch(ctx context.Context, fromBlock, toBlock uint64, events []models.Event) error {
	return s.commit(ctx, events, func(tx *sql.Tx) error {
		return s.updateWatermark(ctx, tx, fromBlock, toBlock)
	})
}

// CommitEvents applies a batch without touching the watermark. Used by
// the fresh-database initial load, where no contiguous window exists yet.
func (s *Store) CommitEvents(ctx context.Context, events []models.Event) error {
	return s.commit(ctx, events, nil)
}

// SeedWatermark inserts the initial watermark entry on a fresh database.
func (s *Store) SeedWatermark(ctx context.Context, fromBlock, toBlock uint64) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO indexing_state (from_block, to_block) VALUES (?, ?)", fromBlock, toBlock)
	return err
}

func (s *Store) commit(ctx context.Context, events []models.Event, finish func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, event := range events {
		if err := s.applyEvent(ctx, tx, event); err != nil {
			return err
		}
	}

	if finish != nil {
		if err := finish(tx); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// applyEvent dispatches one event to its write rule. The switch is
// exhaustive over the event union.
func (s *Store) applyEvent(ctx context.Context, tx *sql.Tx, event models.Event) error {
	switch e := event.(type) {
	case models.OfferCreated:
		return s.applyOfferCreated(ctx, tx, e)
	case models.OfferAccepted:
		return s.applyOfferAccepted(ctx, tx, e)
	case models.OfferUpdated:
		return s.applyOfferUpdated(ctx, tx, e)
	case models.OfferDeleted:
		return s.applyOfferDeleted(ctx, tx, e)
	default:
		return fmt.Errorf("unhandled event kind %s", event.Kind())
	}
}

// applyOfferCreated inserts the offer row. The creation event itself is
// not appended to offer_events; the offers row is the creation record.
func (s *Store) applyOfferCreated(ctx context.Context, tx *sql.Tx, e models.OfferCreated) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO offers (
			offer_id, seller_address, initial_amount, price_per_unit,
			offer_token, buyer_token, transaction_hash, block_number, log_index,
			creation_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (offer_id) DO NOTHING`,
		e.OfferID, e.Seller, e.Amount.String(), e.Price.String(),
		e.OfferToken, e.BuyerToken, e.TransactionHash, e.BlockNumber, e.LogIndex,
		s.eventTimestamp(e.EventMeta),
	)
	if err != nil {
		return fmt.Errorf("failed to insert offer %d: %w", e.OfferID, err)
	}
	return nil
}

// applyOfferAccepted appends the acceptance and re-derives the offer
// status. The resolver reads through the same transaction, so it sees
// the row it was triggered by.
func (s *Store) applyOfferAccepted(ctx context.Context, tx *sql.Tx, e models.OfferAccepted) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO offer_events (
			offer_id, event_type, buyer_address, amount_bought, price_bought,
			transaction_hash, block_number, log_index, unique_id, event_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (unique_id) DO NOTHING`,
		e.OfferID, string(models.KindOfferAccepted), e.Buyer, e.Amount.String(), e.Price.String(),
		e.TransactionHash, e.BlockNumber, e.LogIndex, e.UniqueID(), s.eventTimestamp(e.EventMeta),
	)
	if err != nil {
		return fmt.Errorf("failed to insert acceptance for offer %d: %w", e.OfferID, err)
	}

	status, determined, err := resolveStatus(ctx, tx, e.OfferID)
	if err != nil {
		return fmt.Errorf("failed to resolve status of offer %d: %w", e.OfferID, err)
	}
	if !determined {
		// Negative or unknown remaining amount: data anomaly. The offer
		// keeps its current status and the batch proceeds.
		s.log.Warnf("status of offer %d is undetermined after acceptance %s", e.OfferID, e.UniqueID())
		return nil
	}
	if status != models.StatusInProgress {
		if _, err := tx.ExecContext(ctx,
			"UPDATE offers SET status = ? WHERE offer_id = ?", string(status), e.OfferID); err != nil {
			return fmt.Errorf("failed to update status of offer %d: %w", e.OfferID, err)
		}
	}
	return nil
}

// applyOfferUpdated appends the amend and unconditionally resets the
// offer to InProgress (the update establishes a new baseline amount).
func (s *Store) applyOfferUpdated(ctx context.Context, tx *sql.Tx, e models.OfferUpdated) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO offer_events (
			offer_id, event_type, amount, price,
			transaction_hash, block_number, log_index, unique_id, event_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (unique_id) DO NOTHING`,
		e.OfferID, string(models.KindOfferUpdated), e.NewAmount.String(), e.NewPrice.String(),
		e.TransactionHash, e.BlockNumber, e.LogIndex, e.UniqueID(), s.eventTimestamp(e.EventMeta),
	)
	if err != nil {
		return fmt.Errorf("failed to insert update for offer %d: %w", e.OfferID, err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE offers SET status = ? WHERE offer_id = ?", string(models.StatusInProgress), e.OfferID); err != nil {
		return fmt.Errorf("failed to update status of offer %d: %w", e.OfferID, err)
	}
	return nil
}

// applyOfferDeleted appends the cancellation and marks the offer Deleted
// regardless of any residual amount.
func (s *Store) applyOfferDeleted(ctx context.Context, tx *sql.Tx, e models.OfferDeleted) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO offer_events (
			offer_id, event_type, transaction_hash, block_number, log_index,
			unique_id, event_timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (unique_id) DO NOTHING`,
		e.OfferID, string(models.KindOfferDeleted),
		e.TransactionHash, e.BlockNumber, e.LogIndex, e.UniqueID(), s.eventTimestamp(e.EventMeta),
	)
	if err != nil {
		return fmt.Errorf("failed to insert deletion for offer %d: %w", e.OfferID, err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE offers SET status = ? WHERE offer_id = ?", string(models.StatusDeleted), e.OfferID); err != nil {
		return fmt.Errorf("failed to update status of offer %d: %w", e.OfferID, err)
	}
	return nil
}

// updateWatermark extends the most recent watermark entry when the new
// window is contiguous with it, inserts a new entry when the window sits
// beyond a gap, and no-ops when to_block does not move forward. Entries
// are never merged transitively across a filled gap.
func (s *Store) updateWatermark(ctx context.Context, tx *sql.Tx, fromBlock, toBlock uint64) error {
	var (
		id         int64
		prevFrom   uint64
		prevTo     uint64
		haveRecent = true
	)
	err := tx.QueryRowContext(ctx,
		"SELECT indexing_id, from_block, to_block FROM indexing_state ORDER BY indexing_id DESC LIMIT 1").
		Scan(&id, &prevFrom, &prevTo)
	if err == sql.ErrNoRows {
		haveRecent = false
	} else if err != nil {
		return err
	}

	if haveRecent {
		if prevFrom <= fromBlock && fromBlock <= prevTo+1 && toBlock > prevTo {
			_, err := tx.ExecContext(ctx,
				"UPDATE indexing_state SET to_block = ? WHERE indexing_id = ?", toBlock, id)
			return err
		}
		if toBlock <= prevTo {
			return nil
		}
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO indexing_state (from_block, to_block) VALUES (?, ?)", fromBlock, toBlock)
	return err
}

// eventTimestamp renders the event's own timestamp when the upstream
// supplied one (the subgraph does) and falls back to wall clock for raw
// RPC logs, which carry none.
func (s *Store) eventTimestamp(meta models.EventMeta) string {
	if meta.Timestamp != nil {
		return meta.Timestamp.UTC().Format(timestampLayout)
	}
	return s.now().UTC().Format(timestampLayout)
}

// AcceptedOffers returns every OfferAccepted event joined with its offer
// where the buyer (role=buyer) or the offer's seller (role=seller) is in
// addresses and the event timestamp falls within [tFrom, tTo], ascending
// by timestamp. Timestamps are compared as ISO-8601 strings.
func (s *Store) AcceptedOffers(ctx context.Context, role Role, addresses []string, tFrom, tTo string) ([]models.AcceptedOffer, error) {
	if len(addresses) == 0 {
		return nil, nil
	}

	var addressColumn string
	switch role {
	case RoleBuyer:
		addressColumn = "offer_events.buyer_address"
	case RoleSeller:
		addressColumn = "offers.seller_address"
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(addresses)), ", ")
	query := fmt.Sprintf(`
		SELECT
			offer_events.offer_id,
			offer_events.event_type,
			offer_events.buyer_address,
			offer_events.amount_bought,
			offer_events.price_bought,
			offer_events.block_number,
			offer_events.transaction_hash,
			offer_events.event_timestamp,
			offers.offer_token,
			offers.buyer_token,
			offers.seller_address
		FROM offer_events
		JOIN offers ON offer_events.offer_id = offers.offer_id
		WHERE offer_events.event_type = 'OfferAccepted'
		AND %s IN (%s)
		AND offer_events.event_timestamp BETWEEN ? AND ?
		ORDER BY offer_events.event_timestamp ASC`, addressColumn, placeholders)

	args := make([]any, 0, len(addresses)+2)
	for _, addr := range addresses {
		args = append(args, addr)
	}
	args = append(args, tFrom, tTo)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.AcceptedOffer
	for rows.Next() {
		var a models.AcceptedOffer
		if err := rows.Scan(
			&a.OfferID, &a.EventType, &a.BuyerAddress, &a.AmountBought, &a.PriceBought,
			&a.BlockNumber, &a.TransactionHash, &a.EventTimestamp,
			&a.OfferToken, &a.BuyerToken, &a.SellerAddress,
		); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// Offer loads a single offer row.
func (s *Store) Offer(ctx context.Context, offerID uint64) (*models.Offer, error) {
	var o models.Offer
	err := s.db.QueryRowContext(ctx, `
		SELECT offer_id, seller_address, initial_amount, price_per_unit,
		       offer_token, buyer_token, status, block_number, transaction_hash,
		       log_index, creation_timestamp
		FROM offers WHERE offer_id = ?`, offerID).
		Scan(&o.OfferID, &o.SellerAddress, &o.InitialAmount, &o.PricePerUnit,
			&o.OfferToken, &o.BuyerToken, &o.Status, &o.BlockNumber, &o.TransactionHash,
			&o.LogIndex, &o.CreationTimestamp)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
