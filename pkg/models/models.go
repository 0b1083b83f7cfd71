package models

import (
	"strconv"
	"strings"
)

const (
	DefaultHost = "api.yolodice.com"
	DefaultPort = 4444

	SatoshisPerBTC = 100_000_000
)

// Identity is the account the server bound to a verified address.
type Identity struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Selector struct {
	ID     int64 `json:"id,omitempty"`
	UserID int64 `json:"user_id,omitempty"`
}

type ListOptions struct {
	UserID   int64  `json:"user_id,omitempty"`
	Order    string `json:"order,omitempty"`
	IDMarker int64  `json:"id_marker,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

const (
	OrderAsc  = "asc"
	OrderDesc = "desc"

	RangeHi = "hi"
	RangeLo = "lo"

	WithdrawalInstant = "instant"
	WithdrawalBatch   = "batch"

	StatusCanceled = "canceled"
	StatusOpen     = "open"
)

type BetAttrs struct {
	Amount int64  `json:"amount"`
	Target int    `json:"target"`
	Range  string `json:"range"`
}

type SeedAttrs struct {
	ClientSeed string `json:"client_seed"`
}

type WithdrawalAttrs struct {
	ToAddress      string `json:"to_address"`
	Amount         int64  `json:"amount"`
	WithdrawalType string `json:"withdrawal_type"`
	AllowPending   bool   `json:"allow_pending"`
}

type InvestmentAttrs struct {
	Base     int64 `json:"base"`
	Leverage int   `json:"leverage,omitempty"`
}

type StatusAttrs struct {
	Status string `json:"status"`
}

type UserData struct {
	ID      int64 `json:"id"`
	Balance int64 `json:"balance"`
}

// FormatBTC renders a satoshi amount with eight decimals.
func FormatBTC(satoshis int64) string {
	sign := ""
	if satoshis < 0 {
		sign = "-"
		satoshis = -satoshis
	}
	whole := satoshis / SatoshisPerBTC
	frac := satoshis % SatoshisPerBTC
	fracStr := strconv.FormatInt(frac, 10)
	return sign + strconv.FormatInt(whole, 10) + "." + strings.Repeat("0", 8-len(fracStr)) + fracStr
}
