// Package report turns accepted-offer rows into the tables of a wallet's
// trading report. The core stores raw integer amounts; all decimal
// scaling by token decimals happens here, at the presentation boundary.
package report

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"strings"
	"time"

	"yam-indexer/internal/catalog"
	"yam-indexer/internal/config"
	"yam-indexer/internal/models"
)

// rwaAddress carries 9 decimals instead of the usual 18; the catalogue
// does not expose decimals so the override lives here.
const rwaAddress = "0x0675e8F4A52eA6c845CB6427Af03616a2af42170"

const (
	defaultDecimals = 18
	rwaDecimals     = 9
)

// TxType classifies a report row.
type TxType string

const (
	TxBuy      TxType = "Buy"
	TxSell     TxType = "Sell"
	TxExchange TxType = "Exchange"
)

// Row is one formatted report line. Buy/sell rows fill the realtoken
// fields; exchange rows fill the bought/sold fields.
type Row struct {
	Timestamp string
	Type      TxType

	RealtokenName string
	Amount        float64
	PricePerToken float64
	PaymentToken  string
	TotalPrice    float64

	AmountBought float64
	TokenBought  string
	AmountSold   float64
	TokenSold    string
	Rate         float64

	TxHash string

	sortKey time.Time
}

// Report is the assembled input of the PDF layout.
type Report struct {
	UserAddresses []string
	StartDate     string
	EndDate       string

	Buy      []Row
	Sell     []Row
	Exchange []Row

	TotalBuyAmount  float64
	TotalBuyPrice   float64
	TotalSellAmount float64
	TotalSellPrice  float64
}

// Build classifies every accepted offer the wallet participated in and
// produces the buy, sell and exchange tables, each sorted oldest first.
//
// A user can be either a buyer or a seller, and interact with either a
// sell offer or a purchase offer, which yields four modes, plus two more
// when both legs are payment tokens or both are realtokens (exchanges).
// Events whose counter-token is neither catalogued nor referenced are
// skipped.
func Build(userAddresses []string, startDate, endDate string, eventsBuyer, eventsSeller []models.AcceptedOffer, contracts *config.Contracts, tokens *catalog.Catalog) *Report {
	r := &Report{
		UserAddresses: userAddresses,
		StartDate:     startDate,
		EndDate:       endDate,
	}

	users := make(map[string]bool, len(userAddresses))
	for _, addr := range userAddresses {
		users[addr] = true
	}

	events := make([]models.AcceptedOffer, 0, len(eventsBuyer)+len(eventsSeller))
	events = append(events, eventsBuyer...)
	events = append(events, eventsSeller...)

	for _, event := range events {
		buyerIsPayment := contracts.IsPaymentToken(event.BuyerToken)
		offerIsPayment := contracts.IsPaymentToken(event.OfferToken)

		switch {
		case buyerIsPayment && offerIsPayment:
			r.addExchange(event, users, contracts, tokens, true)
		case tokens.Contains(event.BuyerToken) && tokens.Contains(event.OfferToken):
			r.addExchange(event, users, contracts, tokens, false)
		case buyerIsPayment && users[event.SellerAddress]:
			// The user created a sell offer: they are selling realtokens.
			r.addBuySell(event, contracts, tokens, event.OfferToken, event.BuyerToken, TxSell, false)
		case buyerIsPayment && users[event.BuyerAddress]:
			// The user responded to a sell offer: they are buying.
			r.addBuySell(event, contracts, tokens, event.OfferToken, event.BuyerToken, TxBuy, false)
		case offerIsPayment && users[event.SellerAddress]:
			// The user created a purchase offer: they are buying.
			r.addBuySell(event, contracts, tokens, event.BuyerToken, event.OfferToken, TxBuy, true)
		case offerIsPayment && users[event.BuyerAddress]:
			// The user responded to a purchase offer: they are selling.
			r.addBuySell(event, contracts, tokens, event.BuyerToken, event.OfferToken, TxSell, true)
		}
	}

	for _, table := range [][]Row{r.Buy, r.Sell, r.Exchange} {
		sort.SliceStable(table, func(i, j int) bool {
			return table[i].sortKey.Before(table[j].sortKey)
		})
	}

	for _, row := range r.Buy {
		r.TotalBuyAmount += row.Amount
		r.TotalBuyPrice += row.TotalPrice
	}
	for _, row := range r.Sell {
		r.TotalSellAmount += row.Amount
		r.TotalSellPrice += row.TotalPrice
	}

	return r
}

// addBuySell appends one buy or sell row. realtokenAddr is the leg that
// holds the realtoken and paymentAddr the payment leg; purchaseOffer
// flips the price semantics (the offer quotes realtokens per payment
// unit instead of the other way around).
func (r *Report) addBuySell(event models.AcceptedOffer, contracts *config.Contracts, tokens *catalog.Catalog, realtokenAddr, paymentAddr string, txType TxType, purchaseOffer bool) {
	realtokenDecimals := defaultDecimals
	if realtokenAddr == rwaAddress {
		realtokenDecimals = rwaDecimals
	}

	realtokenName := "Unknown realtoken"
	if token, ok := tokens.Lookup(realtokenAddr); ok {
		realtokenName = token.ShortName
	}

	paymentName := "Unknown token"
	paymentDecimals := defaultDecimals
	if name, ref, ok := contracts.TokenByAddress(paymentAddr); ok {
		paymentName = name
		paymentDecimals = ref.Decimals
	}

	price := scaledFloat(event.PriceBought, 0)
	amountBought := scaledFloat(event.AmountBought, 0)

	var pricePerToken, amount float64
	if purchaseOffer {
		pricePerToken = math.Pow10(realtokenDecimals) / price
		amount = amountBought * price / math.Pow10(paymentDecimals+realtokenDecimals)
	} else {
		pricePerToken = price / math.Pow10(paymentDecimals)
		amount = amountBought / math.Pow10(realtokenDecimals)
	}

	row := Row{
		Timestamp:     FormatTimestamp(event.EventTimestamp),
		Type:          txType,
		RealtokenName: realtokenName,
		Amount:        amount,
		PricePerToken: pricePerToken,
		PaymentToken:  paymentName,
		TotalPrice:    pricePerToken * amount,
		TxHash:        event.TransactionHash,
		sortKey:       parseTimestamp(event.EventTimestamp),
	}

	if txType == TxBuy {
		r.Buy = append(r.Buy, row)
	} else {
		r.Sell = append(r.Sell, row)
	}
}

// addExchange appends one exchange row: a swap between two payment tokens
// (paymentLeg) or two realtokens.
func (r *Report) addExchange(event models.AcceptedOffer, users map[string]bool, contracts *config.Contracts, tokens *catalog.Catalog, paymentLeg bool) {
	var boughtAddr, soldAddr string
	switch {
	case users[event.BuyerAddress]:
		boughtAddr, soldAddr = event.OfferToken, event.BuyerToken
	case users[event.SellerAddress]:
		boughtAddr, soldAddr = event.BuyerToken, event.OfferToken
	default:
		return
	}

	boughtName, boughtDecimals := exchangeToken(boughtAddr, contracts, tokens, paymentLeg)
	soldName, soldDecimals := exchangeToken(soldAddr, contracts, tokens, paymentLeg)

	price := scaledFloat(event.PriceBought, 0)
	amountRaw := scaledFloat(event.AmountBought, 0)

	var amountBought, rate float64
	if users[event.BuyerAddress] {
		amountBought = amountRaw / math.Pow10(boughtDecimals)
		rate = price / math.Pow10(soldDecimals)
	} else {
		amountBought = amountRaw / math.Pow10(soldDecimals)
		rate = price / math.Pow10(boughtDecimals)
	}

	r.Exchange = append(r.Exchange, Row{
		Timestamp:    FormatTimestamp(event.EventTimestamp),
		Type:         TxExchange,
		AmountBought: amountBought,
		TokenBought:  boughtName,
		AmountSold:   amountBought * rate,
		TokenSold:    soldName,
		Rate:         rate,
		TxHash:       event.TransactionHash,
		sortKey:      parseTimestamp(event.EventTimestamp),
	})
}

func exchangeToken(address string, contracts *config.Contracts, tokens *catalog.Catalog, paymentLeg bool) (string, int) {
	if paymentLeg {
		if name, ref, ok := contracts.TokenByAddress(address); ok {
			return name, ref.Decimals
		}
		return "Unknown token", defaultDecimals
	}
	decimals := defaultDecimals
	if address == rwaAddress {
		decimals = rwaDecimals
	}
	if token, ok := tokens.Lookup(address); ok {
		return token.ShortName, decimals
	}
	return "Unknown realtoken", decimals
}

// scaledFloat parses a base-10 integer string and divides it by
// 10^decimals, in big.Float so oversized values survive the conversion.
func scaledFloat(value string, decimals int) float64 {
	f, ok := new(big.Float).SetString(value)
	if !ok {
		return 0
	}
	if decimals > 0 {
		scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
		f.Quo(f, scale)
	}
	result, _ := f.Float64()
	return result
}

// FormatNumber renders a scaled value for display; anything below the
// threshold collapses to "< 0.01".
func FormatNumber(value float64) string {
	if value >= 0.01 {
		return fmt.Sprintf("%.2f", value)
	}
	return "< 0.01"
}

// FormatTimestamp renders a stored "2006-01-02 15:04:05" timestamp the
// way the report displays it, e.g. "3 Aug 2025 14h07".
func FormatTimestamp(raw string) string {
	t := parseTimestamp(raw)
	if t.IsZero() {
		return raw
	}
	return strings.TrimPrefix(t.Format("2 Jan 2006 15h04"), "0")
}

func parseTimestamp(raw string) time.Time {
	t, err := time.Parse("2006-01-02 15:04:05", raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
