package models

import (
	"fmt"
	"math/big"
	"time"
)

// OfferStatus is the lifecycle state of an offer as derived from its
// event history.
type OfferStatus string

const (
	StatusInProgress OfferStatus = "InProgress"
	StatusSoldOut    OfferStatus = "SoldOut"
	StatusDeleted    OfferStatus = "Deleted"
)

// EventKind discriminates the four YAM contract events.
type EventKind string

const (
	KindOfferCreated  EventKind = "OfferCreated"
	KindOfferAccepted EventKind = "OfferAccepted"
	KindOfferUpdated  EventKind = "OfferUpdated"
	KindOfferDeleted  EventKind = "OfferDeleted"
)

// EventMeta carries the on-chain coordinates common to every decoded event.
// Timestamp is nil for events decoded from raw RPC logs (the log carries no
// timestamp); the subgraph fetchers fill it in.
type EventMeta struct {
	TransactionHash string
	LogIndex        uint
	BlockNumber     uint64
	Timestamp       *time.Time
}

// UniqueID is the primary key of an offer_events row.
func (m EventMeta) UniqueID() string {
	return fmt.Sprintf("%s_%d", m.TransactionHash, m.LogIndex)
}

// Event is the tagged union produced by the codec and the subgraph client.
// The store does an exhaustive switch over the four concrete types.
type Event interface {
	Kind() EventKind
	Meta() EventMeta
}

// OfferCreated announces a new offer. All addresses are checksum-cased.
type OfferCreated struct {
	EventMeta
	OfferID    uint64
	OfferToken string
	BuyerToken string
	Seller     string
	Buyer      string
	Price      *big.Int
	Amount     *big.Int
}

func (e OfferCreated) Kind() EventKind { return KindOfferCreated }
func (e OfferCreated) Meta() EventMeta { return e.EventMeta }

// OfferAccepted records a partial or full fill of an offer. Amount and
// Price are the bought quantity and the unit price paid.
type OfferAccepted struct {
	EventMeta
	OfferID    uint64
	Seller     string
	Buyer      string
	OfferToken string
	BuyerToken string
	Price      *big.Int
	Amount     *big.Int
}

func (e OfferAccepted) Kind() EventKind { return KindOfferAccepted }
func (e OfferAccepted) Meta() EventMeta { return e.EventMeta }

// OfferUpdated amends the price and amount of an existing offer. The new
// values reset the baseline used by the status resolver.
type OfferUpdated struct {
	EventMeta
	OfferID   uint64
	OldPrice  *big.Int
	OldAmount *big.Int
	NewPrice  *big.Int
	NewAmount *big.Int
}

func (e OfferUpdated) Kind() EventKind { return KindOfferUpdated }
func (e OfferUpdated) Meta() EventMeta { return e.EventMeta }

// OfferDeleted cancels an offer.
type OfferDeleted struct {
	EventMeta
	OfferID uint64
}

func (e OfferDeleted) Kind() EventKind { return KindOfferDeleted }
func (e OfferDeleted) Meta() EventMeta { return e.EventMeta }

// Offer represents the 'offers' table. Amounts and prices are base-10
// strings so arbitrary precision survives persistence.
type Offer struct {
	OfferID           uint64      `json:"offer_id"`
	SellerAddress     string      `json:"seller_address"`
	InitialAmount     string      `json:"initial_amount"`
	PricePerUnit      string      `json:"price_per_unit"`
	OfferToken        string      `json:"offer_token"`
	BuyerToken        string      `json:"buyer_token"`
	Status            OfferStatus `json:"status"`
	BlockNumber       uint64      `json:"block_number"`
	TransactionHash   string      `json:"transaction_hash"`
	LogIndex          uint        `json:"log_index"`
	CreationTimestamp string      `json:"creation_timestamp"`
}

// OfferEvent represents the 'offer_events' table. Which of the nullable
// columns carry values depends on EventType.
type OfferEvent struct {
	OfferID         uint64    `json:"offer_id"`
	EventType       EventKind `json:"event_type"`
	Amount          string    `json:"amount,omitempty"`
	Price           string    `json:"price,omitempty"`
	BuyerAddress    string    `json:"buyer_address,omitempty"`
	AmountBought    string    `json:"amount_bought,omitempty"`
	PriceBought     string    `json:"price_bought,omitempty"`
	BlockNumber     uint64    `json:"block_number"`
	TransactionHash string    `json:"transaction_hash"`
	LogIndex        uint      `json:"log_index"`
	EventTimestamp  string    `json:"event_timestamp"`
	UniqueID        string    `json:"unique_id"`
}

// WatermarkRange is one committed block window from the 'indexing_state'
// table. The last row's ToBlock is the durable high-water mark.
type WatermarkRange struct {
	ID        int64  `json:"indexing_id"`
	FromBlock uint64 `json:"from_block"`
	ToBlock   uint64 `json:"to_block"`
}

// AcceptedOffer is an OfferAccepted event joined with its parent offer,
// the shape consumed by the report path.
type AcceptedOffer struct {
	OfferID         uint64 `json:"offer_id"`
	EventType       string `json:"event_type"`
	BuyerAddress    string `json:"buyer_address"`
	AmountBought    string `json:"amount_bought"`
	PriceBought     string `json:"price_bought"`
	BlockNumber     uint64 `json:"block_number"`
	TransactionHash string `json:"transaction_hash"`
	EventTimestamp  string `json:"event_timestamp"`
	OfferToken      string `json:"offer_token"`
	BuyerToken      string `json:"buyer_token"`
	SellerAddress   string `json:"seller_address"`
}
