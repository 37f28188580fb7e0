// Package codec decodes raw YAM contract logs into typed events.
//
// Decoding is purely structural: the topic-hash table below is fixed and
// known a priori, the data payload is sliced into 32-byte words, and
// left-padded addresses are canonicalised to their 20-byte checksum form.
// Logs whose first topic is not in the table are silently skipped.
package codec

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"yam-indexer/internal/models"
)

// Topic hashes of the four YAM events, keyed by kind.
var (
	TopicOfferCreated  = common.HexToHash("0x9fa2d733a579251ad3a2286bebb5db74c062332de37e4904aa156729c4b38a65")
	TopicOfferDeleted  = common.HexToHash("0x88686b85d6f2c3ab9a04e4f15a22fcfa025ffd97226dcf0a67cdf682def55676")
	TopicOfferAccepted = common.HexToHash("0x0fe687b89794caf9729d642df21576cbddc748b0c8c7a5e1ec39f3a46bd00410")
	TopicOfferUpdated  = common.HexToHash("0xc26a0a1f023ef119f120b3d9843d9e77dc8f66bbc0ea91d48d6dd39b8e351178")
)

// DecodeError reports a malformed log payload. A single malformed log
// aborts the whole batch so the next iteration can retry the range.
type DecodeError struct {
	Kind models.EventKind
	Tx   string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s log in tx %s: %v", e.Kind, e.Tx, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DecodeLogs decodes a batch of raw logs. Unknown topics are skipped;
// a malformed payload for a known topic fails the batch.
func DecodeLogs(logs []types.Log) ([]models.Event, error) {
	events := make([]models.Event, 0, len(logs))
	for _, lg := range logs {
		if len(lg.Topics) == 0 {
			continue
		}

		var (
			event models.Event
			err   error
		)
		switch lg.Topics[0] {
		case TopicOfferCreated:
			event, err = decodeOfferCreated(lg)
		case TopicOfferAccepted:
			event, err = decodeOfferAccepted(lg)
		case TopicOfferUpdated:
			event, err = decodeOfferUpdated(lg)
		case TopicOfferDeleted:
			event, err = decodeOfferDeleted(lg)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func decodeOfferCreated(lg types.Log) (models.Event, error) {
	if len(lg.Topics) < 4 {
		return nil, &DecodeError{Kind: models.KindOfferCreated, Tx: lg.TxHash.Hex(), Err: fmt.Errorf("expected 4 topics, got %d", len(lg.Topics))}
	}
	words, err := dataWords(lg.Data, 4)
	if err != nil {
		return nil, &DecodeError{Kind: models.KindOfferCreated, Tx: lg.TxHash.Hex(), Err: err}
	}

	return models.OfferCreated{
		EventMeta:  metaFromLog(lg),
		OfferToken: topicAddress(lg.Topics[1]),
		BuyerToken: topicAddress(lg.Topics[2]),
		OfferID:    topicUint64(lg.Topics[3]),
		Seller:     wordAddress(words[0]),
		Buyer:      wordAddress(words[1]),
		Price:      wordBig(words[2]),
		Amount:     wordBig(words[3]),
	}, nil
}

func decodeOfferAccepted(lg types.Log) (models.Event, error) {
	if len(lg.Topics) < 4 {
		return nil, &DecodeError{Kind: models.KindOfferAccepted, Tx: lg.TxHash.Hex(), Err: fmt.Errorf("expected 4 topics, got %d", len(lg.Topics))}
	}
	words, err := dataWords(lg.Data, 4)
	if err != nil {
		return nil, &DecodeError{Kind: models.KindOfferAccepted, Tx: lg.TxHash.Hex(), Err: err}
	}

	return models.OfferAccepted{
		EventMeta:  metaFromLog(lg),
		OfferID:    topicUint64(lg.Topics[1]),
		Seller:     topicAddress(lg.Topics[2]),
		Buyer:      topicAddress(lg.Topics[3]),
		OfferToken: wordAddress(words[0]),
		BuyerToken: wordAddress(words[1]),
		Price:      wordBig(words[2]),
		Amount:     wordBig(words[3]),
	}, nil
}

func decodeOfferUpdated(lg types.Log) (models.Event, error) {
	if len(lg.Topics) < 4 {
		return nil, &DecodeError{Kind: models.KindOfferUpdated, Tx: lg.TxHash.Hex(), Err: fmt.Errorf("expected 4 topics, got %d", len(lg.Topics))}
	}
	words, err := dataWords(lg.Data, 2)
	if err != nil {
		return nil, &DecodeError{Kind: models.KindOfferUpdated, Tx: lg.TxHash.Hex(), Err: err}
	}

	return models.OfferUpdated{
		EventMeta: metaFromLog(lg),
		OfferID:   topicUint64(lg.Topics[1]),
		NewPrice:  topicBig(lg.Topics[2]),
		NewAmount: topicBig(lg.Topics[3]),
		OldPrice:  wordBig(words[0]),
		OldAmount: wordBig(words[1]),
	}, nil
}

func decodeOfferDeleted(lg types.Log) (models.Event, error) {
	if len(lg.Topics) < 2 {
		return nil, &DecodeError{Kind: models.KindOfferDeleted, Tx: lg.TxHash.Hex(), Err: fmt.Errorf("expected 2 topics, got %d", len(lg.Topics))}
	}

	return models.OfferDeleted{
		EventMeta: metaFromLog(lg),
		OfferID:   topicUint64(lg.Topics[1]),
	}, nil
}

func metaFromLog(lg types.Log) models.EventMeta {
	return models.EventMeta{
		TransactionHash: lg.TxHash.Hex(),
		LogIndex:        lg.Index,
		BlockNumber:     lg.BlockNumber,
	}
}

// dataWords slices the opaque data payload into n 32-byte words.
func dataWords(data []byte, n int) ([][]byte, error) {
	if len(data) < n*32 {
		return nil, fmt.Errorf("data payload too short: %d bytes, want %d", len(data), n*32)
	}
	words := make([][]byte, n)
	for i := 0; i < n; i++ {
		words[i] = data[i*32 : (i+1)*32]
	}
	return words, nil
}

// topicAddress canonicalises a left-padded 32-byte topic to a checksum
// address. The zero address renders as all zeros either way.
func topicAddress(h common.Hash) string {
	return common.BytesToAddress(h.Bytes()).Hex()
}

func wordAddress(word []byte) string {
	return common.BytesToAddress(word).Hex()
}

func topicUint64(h common.Hash) uint64 {
	return new(big.Int).SetBytes(h.Bytes()).Uint64()
}

func topicBig(h common.Hash) *big.Int {
	return new(big.Int).SetBytes(h.Bytes())
}

func wordBig(word []byte) *big.Int {
	return new(big.Int).SetBytes(word)
}
