package feed

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"polymarket-engine/pkg/types"
)

// RawMarket is the JSON shape returned by the feed API. The feed encodes
// several list fields as JSON strings (e.g. `"[\"Yes\",\"No\"]"`) and most
// numeric fields inconsistently as either numbers or strings, so everything
// ambiguous stays raw here and is normalized in Convert.
type RawMarket struct {
	ID          string `json:"id"`
	ConditionID string `json:"conditionId"`
	Question    string `json:"question"`
	Slug        string `json:"slug"`
	Category    string `json:"category"`
	EndDate     string `json:"endDate"`
	Image       string `json:"image"`

	Outcomes      string `json:"outcomes"`
	OutcomePrices string `json:"outcomePrices"`
	ClobTokenIds  string `json:"clobTokenIds"`

	Active          bool `json:"active"`
	Closed          bool `json:"closed"`
	Restricted      bool `json:"restricted"`
	EnableOrderBook bool `json:"enableOrderBook"`
	Approved        bool `json:"approved"`
	Ready           bool `json:"ready"`
	Funded          bool `json:"funded"`
	Featured        bool `json:"featured"`
	New             bool `json:"new"`
	NegRisk         bool `json:"negRisk"`

	OrderMinSize             json.Number `json:"orderMinSize"`
	OrderPriceMinTickSize    json.Number `json:"orderPriceMinTickSize"`
	AcceptingOrders          bool        `json:"acceptingOrders"`
	AcceptingOrdersTimestamp string      `json:"acceptingOrdersTimestamp"`

	UMABond          json.Number `json:"umaBond"`
	UMAReward        json.Number `json:"umaReward"`
	ResolvedBy       string      `json:"resolvedBy"`
	ResolutionSource string      `json:"resolutionSource"`
	SubmittedBy      string      `json:"submittedBy"`

	GroupItemTitle     string      `json:"groupItemTitle"`
	GroupItemThreshold json.Number `json:"groupItemThreshold"`
	CustomLiveness     json.Number `json:"customLiveness"`

	BestBid        float64 `json:"bestBid"`
	BestAsk        float64 `json:"bestAsk"`
	Spread         float64 `json:"spread"`
	LastTradePrice float64 `json:"lastTradePrice"`

	OneHourPriceChange  float64 `json:"oneHourPriceChange"`
	OneDayPriceChange   float64 `json:"oneDayPriceChange"`
	OneWeekPriceChange  float64 `json:"oneWeekPriceChange"`
	OneMonthPriceChange float64 `json:"oneMonthPriceChange"`
	OneYearPriceChange  float64 `json:"oneYearPriceChange"`

	VolumeNum     float64 `json:"volumeNum"`
	Volume24hr    float64 `json:"volume24hr"`
	Volume1wk     float64 `json:"volume1wk"`
	Volume1mo     float64 `json:"volume1mo"`
	Volume1yr     float64 `json:"volume1yr"`
	VolumeAmm     float64 `json:"volumeAmm"`
	Volume24hrAmm float64 `json:"volume24hrAmm"`
	VolumeClob    float64 `json:"volumeClob"`
	Volume24hrClob float64 `json:"volume24hrClob"`

	LiquidityNum  float64 `json:"liquidityNum"`
	LiquidityAmm  float64 `json:"liquidityAmm"`
	LiquidityClob float64 `json:"liquidityClob"`

	Competitive  float64 `json:"competitive"`
	CommentCount int     `json:"commentCount"`
}

// Convert normalizes a raw feed record into the canonical MarketData pair.
// It fails only on a missing conditionId or unparseable outcome/token lists;
// malformed optional fields fall back to zero values.
func (rm *RawMarket) Convert() (types.MarketData, error) {
	if rm.ConditionID == "" {
		return types.MarketData{}, fmt.Errorf("market %q: missing conditionId", rm.ID)
	}

	outcomes, err := parseStringList(rm.Outcomes)
	if err != nil {
		return types.MarketData{}, fmt.Errorf("market %s: outcomes: %w", rm.ConditionID, err)
	}
	tokenIDs, err := parseStringList(rm.ClobTokenIds)
	if err != nil {
		return types.MarketData{}, fmt.Errorf("market %s: clobTokenIds: %w", rm.ConditionID, err)
	}
	prices, err := parseFloatList(rm.OutcomePrices)
	if err != nil {
		// Prices are dynamic data; a bad list degrades to empty.
		prices = nil
	}

	m := types.Market{
		ConditionID:  rm.ConditionID,
		Question:     rm.Question,
		Slug:         rm.Slug,
		Category:     rm.Category,
		Outcomes:     outcomes,
		ClobTokenIDs: tokenIDs,
		EndDate:      parseTime(rm.EndDate),

		Active:          rm.Active,
		Closed:          rm.Closed,
		Restricted:      rm.Restricted,
		EnableOrderBook: rm.EnableOrderBook,
		Approved:        rm.Approved,
		Ready:           rm.Ready,
		Funded:          rm.Funded,
		Featured:        rm.Featured,
		IsNew:           rm.New,
		NegRisk:         rm.NegRisk,

		OrderMinSize:             numFloat(rm.OrderMinSize),
		OrderPriceMinTickSize:    numFloat(rm.OrderPriceMinTickSize),
		AcceptingOrders:          rm.AcceptingOrders,
		AcceptingOrdersTimestamp: parseTime(rm.AcceptingOrdersTimestamp),

		UMABond:          numFloat(rm.UMABond),
		UMAReward:        numFloat(rm.UMAReward),
		ResolvedBy:       rm.ResolvedBy,
		ResolutionSource: rm.ResolutionSource,
		SubmittedBy:      rm.SubmittedBy,

		GroupItemTitle:     rm.GroupItemTitle,
		GroupItemThreshold: numFloat(rm.GroupItemThreshold),
		CustomLiveness:     numInt(rm.CustomLiveness),
		Image:              rm.Image,
	}

	snap := types.PriceSnapshot{
		ConditionID:   rm.ConditionID,
		OutcomePrices: prices,

		BestBid:        rm.BestBid,
		BestAsk:        rm.BestAsk,
		Spread:         rm.Spread,
		LastTradePrice: rm.LastTradePrice,

		PriceChange1h:  rm.OneHourPriceChange,
		PriceChange1d:  rm.OneDayPriceChange,
		PriceChange1wk: rm.OneWeekPriceChange,
		PriceChange1mo: rm.OneMonthPriceChange,
		PriceChange1y:  rm.OneYearPriceChange,

		Volume:        rm.VolumeNum,
		Volume24h:     rm.Volume24hr,
		Volume1wk:     rm.Volume1wk,
		Volume1mo:     rm.Volume1mo,
		Volume1y:      rm.Volume1yr,
		VolumeAMM:     rm.VolumeAmm,
		Volume24hAMM:  rm.Volume24hrAmm,
		VolumeCLOB:    rm.VolumeClob,
		Volume24hCLOB: rm.Volume24hrClob,

		Liquidity:     rm.LiquidityNum,
		LiquidityAMM:  rm.LiquidityAmm,
		LiquidityCLOB: rm.LiquidityClob,

		Competitive:  rm.Competitive,
		CommentCount: rm.CommentCount,
	}

	return types.MarketData{Market: m, Snapshot: snap}, nil
}

// ConvertAll converts a page, skipping records that fail. It returns the
// converted markets and the per-record error count.
func ConvertAll(page []RawMarket) ([]types.MarketData, int) {
	out := make([]types.MarketData, 0, len(page))
	failed := 0
	for i := range page {
		md, err := page[i].Convert()
		if err != nil {
			failed++
			continue
		}
		out = append(out, md)
	}
	return out, failed
}

// parseStringList decodes a JSON array string like "[\"Yes\",\"No\"]".
// An empty input yields an empty list, not an error.
func parseStringList(s string) ([]string, error) {
	if s == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// parseFloatList decodes a JSON array whose elements may be numbers or
// numeric strings, e.g. "[\"0.45\",\"0.55\"]".
func parseFloatList(s string) ([]float64, error) {
	if s == "" {
		return nil, nil
	}
	var raw []json.Number
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		// Retry as string elements
		var strs []string
		if err2 := json.Unmarshal([]byte(s), &strs); err2 != nil {
			return nil, err
		}
		out := make([]float64, 0, len(strs))
		for _, v := range strs {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
		return out, nil
	}
	out := make([]float64, 0, len(raw))
	for _, n := range raw {
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func numFloat(n json.Number) float64 {
	f, _ := n.Float64()
	return f
}

func numInt(n json.Number) int64 {
	i, err := n.Int64()
	if err != nil {
		f, _ := n.Float64()
		return int64(f)
	}
	return i
}
