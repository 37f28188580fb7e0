package store

import (
	"context"
	"database/sql"
	"math/big"
	"sort"

	"yam-indexer/internal/models"
)

// historyRecord is one entry of an offer's linearised history: the offers
// row itself (the creation record) merged with every offer_events row.
type historyRecord struct {
	eventType    models.EventKind
	amount       string // baseline amount (initial_amount or post-update amount)
	amountBought sql.NullString
	blockNumber  uint64
	logIndex     uint
}

// resolveStatus derives the current lifecycle status of an offer from its
// complete event history as visible through tx:
//
//  1. If the last record is a deletion, the offer is Deleted.
//  2. Otherwise the baseline amount is the latest update if any, else the
//     creation amount; acceptances after the baseline are subtracted.
//  3. remaining == 0 is SoldOut, remaining > 0 is InProgress. A negative
//     remainder means corrupt data and leaves the verdict undetermined.
//
// Arithmetic is arbitrary-precision; the stored quantities are base-10
// strings of unbounded size.
func resolveStatus(ctx context.Context, tx *sql.Tx, offerID uint64) (models.OfferStatus, bool, error) {
	history, err := loadHistory(ctx, tx, offerID)
	if err != nil {
		return "", false, err
	}
	if len(history) == 0 {
		return "", false, nil
	}

	if history[len(history)-1].eventType == models.KindOfferDeleted {
		return models.StatusDeleted, true, nil
	}

	// The latest update resets the baseline; everything before it is
	// forgotten.
	for i := len(history) - 1; i > 0; i-- {
		if history[i].eventType == models.KindOfferUpdated {
			history = history[i:]
			break
		}
	}

	remaining, ok := new(big.Int).SetString(history[0].amount, 10)
	if !ok {
		return "", false, nil
	}
	for _, record := range history[1:] {
		if !record.amountBought.Valid {
			continue
		}
		bought, ok := new(big.Int).SetString(record.amountBought.String, 10)
		if !ok {
			return "", false, nil
		}
		remaining.Sub(remaining, bought)
	}

	switch remaining.Sign() {
	case 0:
		return models.StatusSoldOut, true, nil
	case 1:
		return models.StatusInProgress, true, nil
	default:
		return "", false, nil
	}
}

// loadHistory merges the offers row and the offer_events rows for one
// offer, sorted ascending by (block_number, log_index). An empty result
// means the offer itself has not been seen.
func loadHistory(ctx context.Context, tx *sql.Tx, offerID uint64) ([]historyRecord, error) {
	var creation historyRecord
	err := tx.QueryRowContext(ctx,
		"SELECT initial_amount, block_number, log_index FROM offers WHERE offer_id = ?", offerID).
		Scan(&creation.amount, &creation.blockNumber, &creation.logIndex)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	creation.eventType = models.KindOfferCreated
	history := []historyRecord{creation}

	rows, err := tx.QueryContext(ctx, `
		SELECT event_type, COALESCE(amount, ''), amount_bought, block_number, log_index
		FROM offer_events WHERE offer_id = ?`, offerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var r historyRecord
		if err := rows.Scan(&r.eventType, &r.amount, &r.amountBought, &r.blockNumber, &r.logIndex); err != nil {
			return nil, err
		}
		history = append(history, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(history, func(i, j int) bool {
		if history[i].blockNumber != history[j].blockNumber {
			return history[i].blockNumber < history[j].blockNumber
		}
		return history[i].logIndex < history[j].logIndex
	})
	return history, nil
}
