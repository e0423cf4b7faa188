package connector

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	retryInitialInterval = 50 * time.Millisecond
	retryMultiplier      = 4
	maxRetries           = 3
)

var oraCodeRe = regexp.MustCompile(`ORA-(\d{3,5})`)

// transientOraCodes are the network-level faults worth retrying. Logic
// errors (bad SQL, missing objects, constraint violations) are not here.
var transientOraCodes = map[int]bool{
	3113:  true, // end-of-file on communication channel
	3114:  true, // not connected to Oracle
	12537: true, // TNS connection closed
	12514: true, // TNS listener does not know of service
}

// oraCode extracts the ORA-NNNNN number from an error chain. Works for both
// driver implementations, which include the code in the message text.
func oraCode(err error) int {
	if err == nil {
		return 0
	}
	m := oraCodeRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	n, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return 0
	}
	return n
}

// isTransient reports whether err is worth a backoff retry.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if transientOraCodes[oraCode(err)] {
		return true
	}
	return strings.Contains(err.Error(), "connection reset")
}

// withRetry runs op, retrying transient failures with exponential backoff
// (50ms, 200ms, 800ms). Non-transient errors and context cancellation
// propagate immediately.
func withRetry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.Multiplier = retryMultiplier
	b.RandomizationFactor = 0

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx))
}
