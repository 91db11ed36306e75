package exchange

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"savings/internal/core"
)

// storedRates is the persisted last good pair:
// {"base":"USD","rates":{"INR":83.1,"USD":1},"lastUpdated":"..."}.
type storedRates struct {
	Base  core.Currency `json:"base"`
	Rates struct {
		INR decimal.Decimal `json:"INR"`
		USD decimal.Decimal `json:"USD"`
	} `json:"rates"`
	LastUpdated time.Time `json:"lastUpdated"`
}

func encodeRates(r core.Rates) ([]byte, error) {
	var doc storedRates
	doc.Base = r.Base
	doc.Rates.INR = r.INR
	doc.Rates.USD = r.USD
	doc.LastUpdated = r.LastUpdated
	return json.Marshal(doc)
}

// decodeRates reads a stored pair. Records written without a base are
// treated as USD based.
func decodeRates(data []byte) (core.Rates, error) {
	var doc storedRates
	if err := json.Unmarshal(data, &doc); err != nil {
		return core.Rates{}, err
	}
	if doc.Base == "" {
		doc.Base = core.USD
	}
	if doc.Rates.USD.IsZero() && doc.Base == core.USD {
		doc.Rates.USD = decimal.NewFromInt(1)
	}
	r := core.Rates{
		Base:        doc.Base,
		INR:         doc.Rates.INR,
		USD:         doc.Rates.USD,
		LastUpdated: doc.LastUpdated,
	}
	if err := r.Validate(); err != nil {
		return core.Rates{}, errors.Join(errors.New("stored rates unusable"), err)
	}
	return r, nil
}
