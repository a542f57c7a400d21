package domain

import (
	"errors"
	"strconv"
	"time"
)

var (
	// ErrNotFound is returned when a posting, bucket or house id does
	// not resolve.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds is returned before any index mutation when
	// the account cannot cover the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrStaleQuote is returned when BuyCommodity runs without a live
	// quote, or the quote TTL has elapsed.
	ErrStaleQuote = errors.New("commodity quote missing or expired")

	// ErrPriceDrift is returned when the re-validated commodity total
	// exceeds the quoted total. A lower total is accepted.
	ErrPriceDrift = errors.New("commodity price rose above quote")

	// ErrInsufficientSupply is returned when the market no longer holds
	// the requested quantity at purchase time.
	ErrInsufficientSupply = errors.New("insufficient commodity supply")

	// ErrBidTooLow is returned when a bid misses the minimum increment.
	ErrBidTooLow = errors.New("bid below minimum increment")

	// ErrSelfBid is returned when an account bids on or buys its own
	// posting.
	ErrSelfBid = errors.New("cannot bid on own posting")

	// ErrAccountMissing is reported by a Notifier when the mail target
	// account no longer exists; the caller discards the items instead
	// of mailing them.
	ErrAccountMissing = errors.New("mail target account missing")
)

// ThrottledError rejects a request without mutating anything and tells
// the client when to retry.
type ThrottledError struct {
	Command    string
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return "throttled [" + e.Command + "]: retry after " + e.RetryAfter.String()
}

// IsThrottled extracts the retry-after hint from an error chain.
func IsThrottled(err error) (time.Duration, bool) {
	var te *ThrottledError
	if errors.As(err, &te) {
		return te.RetryAfter, true
	}
	return 0, false
}

// MalformedRowError marks a persisted row that cannot be rebuilt into
// a posting at load time. The row is dropped and logged; loading
// continues.
type MalformedRowError struct {
	PostingID uint32
	Reason    string
}

func (e *MalformedRowError) Error() string {
	return "malformed auction row " + strconv.FormatUint(uint64(e.PostingID), 10) + ": " + e.Reason
}
