package domain

import (
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// MailTag is the trade-type tag that leads every mail payload. Values
// are wire-stable; do not reorder.
type MailTag uint8

const (
	MailWon MailTag = iota
	MailSold
	MailOutbid
	MailExpired
	MailCancelled
	MailInvoice
	MailRemoved
)

// MailPayload is the colon-delimited field list delivered in a mail
// body. The first field is always the trade-type tag; existing clients
// parse positionally, so field order is part of the contract.
type MailPayload struct {
	Tag    MailTag
	Fields []uint64
}

// Encode renders the payload as "tag:f1:f2:...".
func (m MailPayload) Encode() string {
	var b strings.Builder
	b.WriteString(strconv.FormatUint(uint64(m.Tag), 10))
	for _, f := range m.Fields {
		b.WriteByte(':')
		b.WriteString(strconv.FormatUint(f, 10))
	}
	return b.String()
}

// WonPayload: item, count, bid paid, buyout.
func WonPayload(item ItemID, count uint64, bid, buyout uint64) MailPayload {
	return MailPayload{Tag: MailWon, Fields: []uint64{uint64(item), count, bid, buyout}}
}

// SoldPayload: item, count, sale price, house cut, deposit refund.
func SoldPayload(item ItemID, count uint64, price, cut, deposit uint64) MailPayload {
	return MailPayload{Tag: MailSold, Fields: []uint64{uint64(item), count, price, cut, deposit}}
}

// OutbidPayload: item, refunded bid, new bid.
func OutbidPayload(item ItemID, refund, newBid uint64) MailPayload {
	return MailPayload{Tag: MailOutbid, Fields: []uint64{uint64(item), refund, newBid}}
}

// ExpiredPayload: item, returned count.
func ExpiredPayload(item ItemID, count uint64) MailPayload {
	return MailPayload{Tag: MailExpired, Fields: []uint64{uint64(item), count}}
}

// CancelledPayload: item, returned count.
func CancelledPayload(item ItemID, count uint64) MailPayload {
	return MailPayload{Tag: MailCancelled, Fields: []uint64{uint64(item), count}}
}

// InvoicePayload: item, units sold, gross, house cut.
func InvoicePayload(item ItemID, units, gross, cut uint64) MailPayload {
	return MailPayload{Tag: MailInvoice, Fields: []uint64{uint64(item), units, gross, cut}}
}

// Removal reasons carried in a MailRemoved payload.
const (
	RemoveReasonDepositUnpaid uint64 = 1
)

// RemovedPayload: item, count, reason the listing never went live.
func RemovedPayload(item ItemID, count uint64, reason uint64) MailPayload {
	return MailPayload{Tag: MailRemoved, Fields: []uint64{uint64(item), count, reason}}
}

// NewTradeID stamps a correlation id for trade-log and invoice lines.
func NewTradeID() string {
	return uuid.NewString()
}
