package dexscreener

import (
	"fmt"
	"strings"
)

// TokenRequest identifies one token to fetch, by chain and contract address.
type TokenRequest struct {
	Chain        string
	TokenAddress string
}

// Key returns the canonical "chain:address" identity used across the
// snapshot cache and response maps. Addresses are compared case-insensitively.
func (r TokenRequest) Key() string {
	return fmt.Sprintf("%s:%s", strings.ToLower(r.Chain), strings.ToLower(r.TokenAddress))
}

// PairInfo is the normalized view of the best trading pair for one token.
// Price is always set on a valid result; MarketCap and Liquidity stay nil
// when the upstream does not report them.
type PairInfo struct {
	ChainID          string
	BaseTokenAddress string
	Symbol           string
	Name             string

	Price          float64
	MarketCap      *float64
	FDV            *float64
	Volume24h      float64
	PriceChange24h float64
	Liquidity      *float64

	Links PairLinks
	Meta  FetchMeta
}

// PairLinks is the token's info block: image and link URLs carried along for
// message formatting. Evaluators never read it.
type PairLinks struct {
	ImageURL string   `msgpack:"image_url"`
	Websites []string `msgpack:"websites"`
	Socials  []string `msgpack:"socials"`
}

// FetchMeta describes where a PairInfo came from and how trustworthy it is.
type FetchMeta struct {
	FetchedAt     int64  `msgpack:"fetched_at"`
	Source        string `msgpack:"source"` // "live" or "cache"
	Anomalous     bool   `msgpack:"anomalous"`
	AnomalyReason string `msgpack:"anomaly_reason"`
}

// Key returns the cache identity for this pair.
func (p *PairInfo) Key() string {
	return TokenRequest{Chain: p.ChainID, TokenAddress: p.BaseTokenAddress}.Key()
}

// Wire mirror structs for the DEXScreener token endpoint. The endpoint
// returns a bare JSON array of pairs; priceUsd arrives as a string.

type apiToken struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Symbol  string `json:"symbol"`
}

type apiVolume struct {
	M5  *float64 `json:"m5"`
	H1  *float64 `json:"h1"`
	H6  *float64 `json:"h6"`
	H24 *float64 `json:"h24"`
}

type apiPriceChange struct {
	M5  *float64 `json:"m5"`
	H1  *float64 `json:"h1"`
	H6  *float64 `json:"h6"`
	H24 *float64 `json:"h24"`
}

type apiLiquidity struct {
	USD   *float64 `json:"usd"`
	Base  *float64 `json:"base"`
	Quote *float64 `json:"quote"`
}

type apiInfo struct {
	ImageURL string `json:"imageUrl"`
	Websites []struct {
		Label string `json:"label"`
		URL   string `json:"url"`
	} `json:"websites"`
	Socials []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"socials"`
}

type apiPair struct {
	ChainID     string          `json:"chainId"`
	DexID       string          `json:"dexId"`
	PairAddress string          `json:"pairAddress"`
	BaseToken   apiToken        `json:"baseToken"`
	QuoteToken  apiToken        `json:"quoteToken"`
	PriceNative string          `json:"priceNative"`
	PriceUSD    string          `json:"priceUsd"`
	Volume      *apiVolume      `json:"volume"`
	PriceChange *apiPriceChange `json:"priceChange"`
	Liquidity   *apiLiquidity   `json:"liquidity"`
	FDV         *float64        `json:"fdv"`
	MarketCap   *float64        `json:"marketCap"`
	Info        *apiInfo        `json:"info"`
}

// volume24 returns the 24h volume or zero when the upstream omits it.
func (p *apiPair) volume24() float64 {
	if p.Volume == nil || p.Volume.H24 == nil {
		return 0
	}
	return *p.Volume.H24
}

// priceChange24 returns the 24h price change percent or zero when omitted.
func (p *apiPair) priceChange24() float64 {
	if p.PriceChange == nil || p.PriceChange.H24 == nil {
		return 0
	}
	return *p.PriceChange.H24
}

// liquidityUSD returns the USD liquidity or nil when omitted.
func (p *apiPair) liquidityUSD() *float64 {
	if p.Liquidity == nil {
		return nil
	}
	return p.Liquidity.USD
}

// links flattens the optional info block into the metadata bag.
func (p *apiPair) links() PairLinks {
	var out PairLinks
	if p.Info == nil {
		return out
	}
	out.ImageURL = p.Info.ImageURL
	for _, w := range p.Info.Websites {
		if w.URL != "" {
			out.Websites = append(out.Websites, w.URL)
		}
	}
	for _, s := range p.Info.Socials {
		if s.URL != "" {
			out.Socials = append(out.Socials, s.URL)
		}
	}
	return out
}
