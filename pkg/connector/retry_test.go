package connector

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOraCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("ORA-03113: end-of-file on communication channel"), 3113},
		{errors.New("ORA-12514: TNS listener does not currently know of service"), 12514},
		{fmt.Errorf("wrapped: %w", errors.New("ORA-00942: table or view does not exist")), 942},
		{errors.New("no oracle code here"), 0},
		{nil, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, oraCode(tt.err))
	}
}

func TestIsTransient(t *testing.T) {
	transient := []error{
		errors.New("ORA-03113: end-of-file on communication channel"),
		errors.New("ORA-03114: not connected to ORACLE"),
		errors.New("ORA-12537: TNS connection closed"),
		errors.New("ORA-12514: TNS listener error"),
		driver.ErrBadConn,
		errors.New("read tcp: connection reset by peer"),
	}
	for _, err := range transient {
		assert.True(t, isTransient(err), "%v", err)
	}

	permanent := []error{
		errors.New("ORA-00942: table or view does not exist"),
		errors.New("ORA-00001: unique constraint violated"),
		errors.New("plain failure"),
		nil,
	}
	for _, err := range permanent {
		assert.False(t, isTransient(err), "%v", err)
	}
}

func TestWithRetryRecoversTransient(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("ORA-03113: end-of-file on communication channel")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryGivesUp(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		return errors.New("ORA-03113: end-of-file on communication channel")
	})
	require.Error(t, err)
	// Initial attempt plus three retries.
	assert.Equal(t, 4, attempts)
}

func TestWithRetryPermanentNoRetry(t *testing.T) {
	attempts := 0
	err := withRetry(context.Background(), func() error {
		attempts++
		return errors.New("ORA-00942: table or view does not exist")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := withRetry(ctx, func() error {
		attempts++
		cancel()
		return errors.New("ORA-03113: transient")
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}
