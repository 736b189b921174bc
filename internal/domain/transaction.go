package domain

import (
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// PriceScale is the number of fractional digits kept on every price.
const PriceScale = 2

// TransactionRecord represents one validated transaction extracted from a statement.
// Category is free text and is stored verbatim; it is never mapped onto a fixed set.
type TransactionRecord struct {
	Date        civil.Date      // from "transaction_date", canonical YYYY-MM-DD
	ProductName string          // from "product_name"
	Price       decimal.Decimal // from "price", rounded to PriceScale
	Category    string          // from "category"
}

// NewTransactionRecord builds a record and normalizes the price to PriceScale digits.
func NewTransactionRecord(date civil.Date, product string, price decimal.Decimal, category string) TransactionRecord {
	return TransactionRecord{
		Date:        date,
		ProductName: product,
		Price:       price.Round(PriceScale),
		Category:    category,
	}
}

// PriceString returns the price with exactly PriceScale fractional digits, e.g. "4.50".
func (t TransactionRecord) PriceString() string {
	return t.Price.StringFixed(PriceScale)
}
