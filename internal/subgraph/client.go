// Package subgraph fetches historical YAM events from a hosted GraphQL
// indexing service. It exists to close gaps the direct RPC path may have
// missed: the four entity collections are paginated by id cursor and the
// rows come back in the same shape the codec produces, with block
// timestamps the RPC path lacks.
package subgraph

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/machinebox/graphql"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"yam-indexer/internal/models"
)

// pageSize is the maximum page The Graph serves per request.
const pageSize = 1000

// authTransport injects the bearer credential on every request.
type authTransport struct {
	apiKey string
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}
	return http.DefaultTransport.RoundTrip(req)
}

type Client struct {
	gql *graphql.Client
	log *logrus.Entry

	// limiter paces page requests (~one per 100ms) to stay polite with
	// the provider.
	limiter *rate.Limiter
}

func NewClient(endpoint, apiKey string) *Client {
	httpClient := &http.Client{
		Transport: &authTransport{apiKey: apiKey},
		Timeout:   30 * time.Second,
	}
	return &Client{
		gql:     graphql.NewClient(endpoint, graphql.WithHTTPClient(httpClient)),
		log:     logrus.WithField("component", "subgraph"),
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

// entityRow is the superset of fields the four entity collections return.
// The Graph renders BigInt values as base-10 strings and Bytes as hex.
type entityRow struct {
	ID              string `json:"id"`
	OfferID         string `json:"offerId"`
	OfferToken      string `json:"offerToken"`
	BuyerToken      string `json:"buyerToken"`
	Seller          string `json:"seller"`
	Buyer           string `json:"buyer"`
	Price           string `json:"price"`
	Amount          string `json:"amount"`
	OldPrice        string `json:"oldPrice"`
	OldAmount       string `json:"oldAmount"`
	NewPrice        string `json:"newPrice"`
	NewAmount       string `json:"newAmount"`
	TransactionHash string `json:"transactionHash"`
	LogIndex        string `json:"logIndex"`
	BlockNumber     string `json:"blockNumber"`
	Timestamp       string `json:"timestamp"`
}

var entityFields = map[models.EventKind]string{
	models.KindOfferCreated:  "id offerToken buyerToken seller buyer offerId price amount transactionHash logIndex blockNumber timestamp",
	models.KindOfferAccepted: "id offerId seller buyer offerToken buyerToken price amount transactionHash logIndex blockNumber timestamp",
	models.KindOfferUpdated:  "id offerId oldPrice oldAmount newPrice newAmount transactionHash logIndex blockNumber timestamp",
	models.KindOfferDeleted:  "id offerId transactionHash logIndex blockNumber timestamp",
}

var entityNames = map[models.EventKind]string{
	models.KindOfferCreated:  "offerCreateds",
	models.KindOfferAccepted: "offerAccepteds",
	models.KindOfferUpdated:  "offerUpdateds",
	models.KindOfferDeleted:  "offerDeleteds",
}

// FetchOfferCreateds returns every OfferCreated in [fromBlock, toBlock].
// A nil toBlock means "up to the latest indexed block".
func (c *Client) FetchOfferCreateds(ctx context.Context, fromBlock uint64, toBlock *uint64) ([]models.Event, error) {
	return c.fetchKind(ctx, models.KindOfferCreated, fromBlock, toBlock)
}

// FetchOfferAccepteds returns every OfferAccepted in [fromBlock, toBlock].
func (c *Client) FetchOfferAccepteds(ctx context.Context, fromBlock uint64, toBlock *uint64) ([]models.Event, error) {
	return c.fetchKind(ctx, models.KindOfferAccepted, fromBlock, toBlock)
}

// FetchOfferUpdateds returns every OfferUpdated in [fromBlock, toBlock].
func (c *Client) FetchOfferUpdateds(ctx context.Context, fromBlock uint64, toBlock *uint64) ([]models.Event, error) {
	return c.fetchKind(ctx, models.KindOfferUpdated, fromBlock, toBlock)
}

// FetchOfferDeleteds returns every OfferDeleted in [fromBlock, toBlock].
func (c *Client) FetchOfferDeleteds(ctx context.Context, fromBlock uint64, toBlock *uint64) ([]models.Event, error) {
	return c.fetchKind(ctx, models.KindOfferDeleted, fromBlock, toBlock)
}

// FetchRange fetches all four event kinds for the block range and merges
// them sorted ascending by block timestamp, the order the store expects.
func (c *Client) FetchRange(ctx context.Context, fromBlock uint64, toBlock *uint64) ([]models.Event, error) {
	var all []models.Event
	for _, fetch := range []func(context.Context, uint64, *uint64) ([]models.Event, error){
		c.FetchOfferCreateds,
		c.FetchOfferAccepteds,
		c.FetchOfferUpdateds,
		c.FetchOfferDeleteds,
	} {
		events, err := fetch(ctx, fromBlock, toBlock)
		if err != nil {
			return nil, err
		}
		all = append(all, events...)
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Meta().Timestamp.Before(*all[j].Meta().Timestamp)
	})
	return all, nil
}

// fetchKind pages through one entity collection with an id cursor:
// ascending by id, each page filtered with id_gt = last id of the
// previous page, until a short page signals the end.
func (c *Client) fetchKind(ctx context.Context, kind models.EventKind, fromBlock uint64, toBlock *uint64) ([]models.Event, error) {
	entity := entityNames[kind]

	var events []models.Event
	lastID := ""
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		rows, err := c.fetchPage(ctx, entity, entityFields[kind], fromBlock, toBlock, lastID)
		if err != nil {
			c.log.Errorf("failed to fetch %s page: %v", entity, err)
			return nil, err
		}
		if len(rows) == 0 {
			break
		}

		for _, row := range rows {
			event, err := rowToEvent(kind, row)
			if err != nil {
				c.log.Errorf("malformed %s row %s: %v", entity, row.ID, err)
				return nil, err
			}
			events = append(events, event)
		}
		lastID = rows[len(rows)-1].ID

		if len(rows) < pageSize {
			break
		}
	}
	return events, nil
}

func (c *Client) fetchPage(ctx context.Context, entity, fields string, fromBlock uint64, toBlock *uint64, lastID string) ([]entityRow, error) {
	blockFilter := fmt.Sprintf("blockNumber_gte: %d", fromBlock)
	if toBlock != nil {
		blockFilter = fmt.Sprintf("%s, blockNumber_lte: %d", blockFilter, *toBlock)
	}
	where := blockFilter
	if lastID != "" {
		where = fmt.Sprintf("%s, id_gt: %q", where, lastID)
	}

	query := fmt.Sprintf(`{
		%s(
			first: %d,
			where: {%s},
			orderBy: id,
			orderDirection: asc
		) { %s }
	}`, entity, pageSize, where, fields)

	var resp map[string][]entityRow
	if err := c.gql.Run(ctx, graphql.NewRequest(query), &resp); err != nil {
		return nil, err
	}
	return resp[entity], nil
}

// rowToEvent converts a subgraph row into the same tagged event shape the
// codec produces, so downstream code is oblivious to the source.
func rowToEvent(kind models.EventKind, row entityRow) (models.Event, error) {
	offerID, err := strconv.ParseUint(row.OfferID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad offerId %q: %w", row.OfferID, err)
	}
	logIndex, err := strconv.ParseUint(row.LogIndex, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad logIndex %q: %w", row.LogIndex, err)
	}
	blockNumber, err := strconv.ParseUint(row.BlockNumber, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad blockNumber %q: %w", row.BlockNumber, err)
	}
	unixSeconds, err := strconv.ParseInt(row.Timestamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad timestamp %q: %w", row.Timestamp, err)
	}
	timestamp := time.Unix(unixSeconds, 0).UTC()

	meta := models.EventMeta{
		TransactionHash: row.TransactionHash,
		LogIndex:        uint(logIndex),
		BlockNumber:     blockNumber,
		Timestamp:       &timestamp,
	}

	switch kind {
	case models.KindOfferCreated:
		price, amount, err := bigPair(row.Price, row.Amount)
		if err != nil {
			return nil, err
		}
		return models.OfferCreated{
			EventMeta:  meta,
			OfferID:    offerID,
			OfferToken: checksum(row.OfferToken),
			BuyerToken: checksum(row.BuyerToken),
			Seller:     checksum(row.Seller),
			Buyer:      checksum(row.Buyer),
			Price:      price,
			Amount:     amount,
		}, nil
	case models.KindOfferAccepted:
		price, amount, err := bigPair(row.Price, row.Amount)
		if err != nil {
			return nil, err
		}
		return models.OfferAccepted{
			EventMeta:  meta,
			OfferID:    offerID,
			Seller:     checksum(row.Seller),
			Buyer:      checksum(row.Buyer),
			OfferToken: checksum(row.OfferToken),
			BuyerToken: checksum(row.BuyerToken),
			Price:      price,
			Amount:     amount,
		}, nil
	case models.KindOfferUpdated:
		oldPrice, oldAmount, err := bigPair(row.OldPrice, row.OldAmount)
		if err != nil {
			return nil, err
		}
		newPrice, newAmount, err := bigPair(row.NewPrice, row.NewAmount)
		if err != nil {
			return nil, err
		}
		return models.OfferUpdated{
			EventMeta: meta,
			OfferID:   offerID,
			OldPrice:  oldPrice,
			OldAmount: oldAmount,
			NewPrice:  newPrice,
			NewAmount: newAmount,
		}, nil
	case models.KindOfferDeleted:
		return models.OfferDeleted{EventMeta: meta, OfferID: offerID}, nil
	default:
		return nil, fmt.Errorf("unhandled event kind %s", kind)
	}
}

func bigPair(priceStr, amountStr string) (*big.Int, *big.Int, error) {
	price, ok := new(big.Int).SetString(priceStr, 10)
	if !ok {
		return nil, nil, fmt.Errorf("bad price %q", priceStr)
	}
	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok {
		return nil, nil, fmt.Errorf("bad amount %q", amountStr)
	}
	return price, amount, nil
}

func checksum(address string) string {
	return common.HexToAddress(address).Hex()
}
