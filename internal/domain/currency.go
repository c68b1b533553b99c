package domain

import (
	"fmt"
	"strings"
)

// Currency is an ISO 4217 code from the supported pair.
type Currency string

const (
	CurrencyPLN Currency = "PLN"
	CurrencyKZT Currency = "KZT"
)

// SupportedCurrencies lists the two currencies users can exchange.
var SupportedCurrencies = []Currency{CurrencyPLN, CurrencyKZT}

// ParseCurrency normalises and validates a currency code.
func ParseCurrency(raw string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(raw)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: unsupported currency %q, use PLN or KZT", ErrValidation, raw)
	}
	return c, nil
}

// Valid reports whether c is one of the supported codes.
func (c Currency) Valid() bool {
	return c == CurrencyPLN || c == CurrencyKZT
}

// Flip returns the other currency of the pair.
func (c Currency) Flip() Currency {
	if c == CurrencyPLN {
		return CurrencyKZT
	}
	return CurrencyPLN
}

func (c Currency) String() string { return string(c) }

// Direction is an ordered conversion From -> To.
type Direction struct {
	From Currency
	To   Currency
}

var (
	PLNToKZT = Direction{From: CurrencyPLN, To: CurrencyKZT}
	KZTToPLN = Direction{From: CurrencyKZT, To: CurrencyPLN}
)

// DirectionFrom returns the conversion from c into the other currency.
func DirectionFrom(c Currency) Direction {
	return Direction{From: c, To: c.Flip()}
}

// Inverse swaps From and To.
func (d Direction) Inverse() Direction {
	return Direction{From: d.To, To: d.From}
}

// Identity reports whether the direction converts a currency into itself.
func (d Direction) Identity() bool {
	return d.From == d.To
}

func (d Direction) String() string {
	return string(d.From) + "_" + string(d.To)
}

// TransferMethod is how the two parties move money outside the system.
type TransferMethod string

const (
	TransferBank TransferMethod = "BANK_TRANSFER"
	TransferCard TransferMethod = "CARD_TRANSFER"
	TransferCash TransferMethod = "CASH"
)

// ParseTransferMethod validates a transfer method, defaulting to a bank transfer.
func ParseTransferMethod(raw string) (TransferMethod, error) {
	m := TransferMethod(strings.ToUpper(strings.TrimSpace(raw)))
	switch m {
	case "":
		return TransferBank, nil
	case TransferBank, TransferCard, TransferCash:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unsupported transfer method %q", ErrValidation, raw)
	}
}
