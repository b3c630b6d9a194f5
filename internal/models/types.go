package models

import "time"

type Direction string
type Action string
type DealEntry string
type DealReason string
type TradeStatus string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
	DirectionFlat  Direction = "FLAT"

	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"

	DealEntryIn  DealEntry = "IN"
	DealEntryOut DealEntry = "OUT"

	DealReasonSL      DealReason = "SL"
	DealReasonTP      DealReason = "TP"
	DealReasonClient  DealReason = "CLIENT"
	DealReasonExpert  DealReason = "EXPERT"
	DealReasonStopOut DealReason = "SO"

	TradeStatusOpen   TradeStatus = "OPEN"
	TradeStatusClosed TradeStatus = "CLOSED"
)

func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return DirectionFlat
	}
}

func (a Action) Direction() Direction {
	switch a {
	case ActionBuy:
		return DirectionLong
	case ActionSell:
		return DirectionShort
	default:
		return DirectionFlat
	}
}

type Tick struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Last   float64   `json:"last"`
	Time   time.Time `json:"time"`
}

type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

type Account struct {
	Login    int64   `json:"login"`
	Currency string  `json:"currency"`
	Balance  float64 `json:"balance"`
	Equity   float64 `json:"equity"`
	Margin   float64 `json:"margin"`
}

type SymbolInfo struct {
	Symbol       string  `json:"symbol"`
	Point        float64 `json:"point"`
	Digits       int     `json:"digits"`
	ContractSize float64 `json:"contract_size"`
	VolumeMin    float64 `json:"volume_min"`
	VolumeMax    float64 `json:"volume_max"`
	VolumeStep   float64 `json:"volume_step"`
}

type Position struct {
	Ticket       int64     `json:"ticket"`
	Symbol       string    `json:"symbol"`
	Direction    Direction `json:"direction"`
	Volume       float64   `json:"volume"`
	OpenPrice    float64   `json:"open_price"`
	CurrentPrice float64   `json:"current_price"`
	StopLoss     float64   `json:"sl"`
	TakeProfit   float64   `json:"tp"`
	Profit       float64   `json:"profit"`
	Swap         float64   `json:"swap"`
	OpenTime     time.Time `json:"open_time"`
	Magic        int64     `json:"magic"`
	Comment      string    `json:"comment"`
}

type Deal struct {
	Ticket         int64      `json:"ticket"`
	PositionTicket int64      `json:"position_ticket"`
	Symbol         string     `json:"symbol"`
	Direction      Direction  `json:"direction"`
	Entry          DealEntry  `json:"entry"`
	Volume         float64    `json:"volume"`
	Price          float64    `json:"price"`
	Profit         float64    `json:"profit"`
	Commission     float64    `json:"commission"`
	Swap           float64    `json:"swap"`
	Time           time.Time  `json:"time"`
	Reason         DealReason `json:"reason"`
	Comment        string     `json:"comment"`
}

func (d Deal) NetProfit() float64 {
	return d.Profit + d.Commission + d.Swap
}

type Signal struct {
	Action     Action         `json:"action"`
	Size       float64        `json:"size"`
	StopLoss   *float64       `json:"sl,omitempty"`
	TakeProfit *float64       `json:"tp,omitempty"`
	Confidence float64        `json:"confidence"`
	Tag        string         `json:"tag,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

func HoldSignal() Signal {
	return Signal{Action: ActionHold}
}

type MarketContext struct {
	Timestamp     time.Time      `json:"timestamp"`
	Symbol        string         `json:"symbol"`
	Timeframe     string         `json:"timeframe"`
	Price         float64        `json:"price"`
	Candles       []Candle       `json:"candles"`
	Direction     Direction      `json:"position_direction"`
	BarsHeld      int            `json:"bars_held"`
	EntryPrice    float64        `json:"entry_price"`
	OpenTrades    int            `json:"open_trades"`
	DailyPnL      float64        `json:"daily_pnl"`
	DailyDrawdown float64        `json:"daily_drawdown"`
	Equity        float64        `json:"equity"`
	Balance       float64        `json:"balance"`
	Meta          map[string]any `json:"meta,omitempty"`
}

type TradeRecord struct {
	Ticket     int64          `json:"ticket"`
	Symbol     string         `json:"symbol"`
	Direction  Direction      `json:"direction"`
	Volume     float64        `json:"volume"`
	OpenPrice  float64        `json:"open_price"`
	OpenTime   time.Time      `json:"open_time"`
	StopLoss   float64        `json:"sl"`
	TakeProfit float64        `json:"tp"`
	ClosePrice float64        `json:"close_price"`
	CloseTime  *time.Time     `json:"close_time,omitempty"`
	Profit     float64        `json:"profit"`
	Status     TradeStatus    `json:"status"`
	Magic      int64          `json:"magic"`
	Comment    string         `json:"comment"`
	Extra      map[string]any `json:"extra,omitempty"`
}

const ExtraPartialCloseDone = "partial_close_done"

func (r TradeRecord) PartiallyClosed() bool {
	if r.Extra == nil {
		return false
	}
	done, _ := r.Extra[ExtraPartialCloseDone].(bool)
	return done
}

type SymbolStatus struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Signal     Action    `json:"signal"`
	Confidence float64   `json:"confidence"`
	LastBar    time.Time `json:"last_bar"`
}

type StatusSnapshot struct {
	Time         time.Time      `json:"time"`
	State        string         `json:"state"`
	Price        float64        `json:"price"`
	Signal       Action         `json:"signal"`
	Confidence   float64        `json:"confidence"`
	Symbols      []SymbolStatus `json:"symbols"`
	Balance      float64        `json:"balance"`
	Equity       float64        `json:"equity"`
	DailyPnL     float64        `json:"daily_pnl"`
	FloatingPnL  float64        `json:"floating_pnl"`
	Positions    []Position     `json:"positions"`
	RecentTrades []TradeRecord  `json:"recent_trades"`
}
