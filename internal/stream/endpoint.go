package stream

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// List ordering modes accepted by the tokens stream.
const (
	ModeMarketCap    = "marketcap"
	ModeVolume24h    = "volume_24h"
	ModeTxs24h       = "txs_24h"
	ModeNew          = "new"
	ModeNewMarketCap = "newmarketcap"
	ModeTrending     = "trending"
)

var listModes = map[string]struct{}{
	ModeMarketCap:    {},
	ModeVolume24h:    {},
	ModeTxs24h:       {},
	ModeNew:          {},
	ModeNewMarketCap: {},
	ModeTrending:     {},
}

// TokensQuery selects the page of tokens the tokens stream pushes.
type TokensQuery struct {
	Filter string
	Order  string
	Offset int
	Limit  int
}

// DefaultTokensQuery is the first 20 tokens by market cap, descending.
func DefaultTokensQuery() TokensQuery {
	return TokensQuery{Filter: ModeMarketCap, Order: "desc", Offset: 0, Limit: 20}
}

// Validate checks the query against the modes and orders the stream accepts.
func (q TokensQuery) Validate() error {
	if _, ok := listModes[q.Filter]; !ok {
		return fmt.Errorf("unknown list mode %q", q.Filter)
	}
	if q.Order != "asc" && q.Order != "desc" {
		return fmt.Errorf("unknown order %q", q.Order)
	}
	if q.Offset < 0 {
		return fmt.Errorf("negative offset %d", q.Offset)
	}
	if q.Limit < 1 || q.Limit > 100 {
		return fmt.Errorf("limit %d out of range 1..100", q.Limit)
	}
	return nil
}

// TokensEndpoint returns {base}/tokens?filter=&order=&offset=&limit=.
func TokensEndpoint(base string, q TokensQuery) string {
	v := url.Values{}
	v.Set("filter", q.Filter)
	v.Set("order", q.Order)
	v.Set("offset", strconv.Itoa(q.Offset))
	v.Set("limit", strconv.Itoa(q.Limit))
	return join(base, "tokens") + "?" + v.Encode()
}

// TokenEndpoint returns {base}/token?mint=.
func TokenEndpoint(base, mint string) string {
	return join(base, "token") + "?mint=" + url.QueryEscape(mint)
}

// TradesEndpoint returns {base}/trades?mint=.
func TradesEndpoint(base, mint string) string {
	return join(base, "trades") + "?mint=" + url.QueryEscape(mint)
}

func join(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + path
}
