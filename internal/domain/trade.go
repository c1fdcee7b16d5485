package domain

import (
	"encoding/json"
	"time"
)

// Trade side constants.
const (
	TradeSideBuy  = "buy"
	TradeSideSell = "sell"
)

// quoteSymbol marks the SOL leg of a swap; selling it means buying the token.
const quoteSymbol = "WSOL"

// Trade is one swap of a token as pushed by the trades stream.
type Trade struct {
	Signature string `json:"signature"`
	Mint      string `json:"mint"`
	Side      string `json:"side"`
	Amount    Number `json:"amount"` // token amount
	PriceUSD  Number `json:"priceUsd"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds, 0 if unknown
}

// TotalUSD is amount times USD price.
func (t Trade) TotalUSD() float64 { return t.Amount.Float() * t.PriceUSD.Float() }

type tradeLeg struct {
	Amount     Number `json:"Amount"`
	PriceInUSD Number `json:"PriceInUSD"`
	Currency   struct {
		Symbol      string `json:"Symbol"`
		MintAddress string `json:"MintAddress"`
	} `json:"Currency"`
}

type wireTrade struct {
	Mint      string `json:"mint"`
	Timestamp Number `json:"timestamp"`
	TradeData struct {
		Trade struct {
			Buy  tradeLeg `json:"Buy"`
			Sell tradeLeg `json:"Sell"`
		} `json:"Trade"`
		Transaction struct {
			Signature string `json:"Signature"`
		} `json:"Transaction"`
		Block struct {
			Time string `json:"Time"`
		} `json:"Block"`
	} `json:"trade_data"`
}

// DecodeTrade decodes one trade object. mint is used when the object does not name one.
func DecodeTrade(data []byte, mint string) (Trade, error) {
	var w wireTrade
	if err := json.Unmarshal(data, &w); err != nil {
		return Trade{}, err
	}

	t := Trade{
		Signature: w.TradeData.Transaction.Signature,
		Mint:      w.Mint,
	}
	if t.Mint == "" {
		t.Mint = mint
	}

	leg := w.TradeData.Trade.Sell
	t.Side = TradeSideSell
	if w.TradeData.Trade.Sell.Currency.Symbol == quoteSymbol {
		leg = w.TradeData.Trade.Buy
		t.Side = TradeSideBuy
	}
	t.Amount = leg.Amount
	t.PriceUSD = leg.PriceInUSD
	if t.Mint == "" {
		t.Mint = leg.Currency.MintAddress
	}

	if ts, err := time.Parse(time.RFC3339Nano, w.TradeData.Block.Time); err == nil {
		t.Timestamp = ts.UnixMilli()
	} else if w.Timestamp.Valid() {
		t.Timestamp = int64(w.Timestamp.Float())
	}
	return t, nil
}
