package bridge

import "fmt"

const (
	codeNotConnected = 10001
	codeRateLimit    = 10006
	codeNoPosition   = 20001
)

type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code == codeRateLimit {
		return fmt.Sprintf("Превышен лимит запросов. %s (code=%d)", e.Message, e.Code)
	}
	return fmt.Sprintf("Ошибка терминала: %s (code=%d)", e.Message, e.Code)
}

type envelope interface {
	status() (int, string)
}

type bridgeResponse[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
	Time    int64  `json:"time"`
}

func (r *bridgeResponse[T]) status() (int, string) {
	return r.RetCode, r.RetMsg
}

type accountInfo struct {
	Login    int64  `json:"login"`
	Currency string `json:"currency"`
	Balance  string `json:"balance"`
	Equity   string `json:"equity"`
	Margin   string `json:"margin"`
}

type symbolInfo struct {
	Symbol       string `json:"symbol"`
	Point        string `json:"point"`
	Digits       int    `json:"digits"`
	ContractSize string `json:"contractSize"`
	VolumeMin    string `json:"volumeMin"`
	VolumeMax    string `json:"volumeMax"`
	VolumeStep   string `json:"volumeStep"`
}

type tickInfo struct {
	Symbol string `json:"symbol"`
	Bid    string `json:"bid"`
	Ask    string `json:"ask"`
	Last   string `json:"last"`
	Time   string `json:"time"`
}

type candleItem struct {
	Time   string `json:"time"`
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"tickVolume"`
}

type positionItem struct {
	Ticket       int64  `json:"ticket"`
	Symbol       string `json:"symbol"`
	Type         string `json:"type"`
	Volume       string `json:"volume"`
	PriceOpen    string `json:"priceOpen"`
	PriceCurrent string `json:"priceCurrent"`
	SL           string `json:"sl"`
	TP           string `json:"tp"`
	Profit       string `json:"profit"`
	Swap         string `json:"swap"`
	Time         string `json:"time"`
	Magic        int64  `json:"magic"`
	Comment      string `json:"comment"`
}

type dealItem struct {
	Ticket     int64  `json:"ticket"`
	PositionID int64  `json:"positionId"`
	Symbol     string `json:"symbol"`
	Type       string `json:"type"`
	Entry      string `json:"entry"`
	Volume     string `json:"volume"`
	Price      string `json:"price"`
	Profit     string `json:"profit"`
	Commission string `json:"commission"`
	Swap       string `json:"swap"`
	Time       string `json:"time"`
	Reason     string `json:"reason"`
	Comment    string `json:"comment"`
}

type orderResult struct {
	Ticket int64  `json:"ticket"`
	Price  string `json:"price"`
	Volume string `json:"volume"`
}
