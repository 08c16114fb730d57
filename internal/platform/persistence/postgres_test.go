package persistence

import (
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestConnectionFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil",
			err:  nil,
			want: false,
		},
		{
			name: "connection exception sqlstate",
			err:  &pgconn.PgError{Severity: "FATAL", Code: "08006", Message: "connection failure"},
			want: true,
		},
		{
			name: "admin shutdown sqlstate",
			err:  &pgconn.PgError{Severity: "FATAL", Code: "57P01", Message: "terminating connection due to administrator command"},
			want: true,
		},
		{
			name: "unique violation is statement level",
			err:  &pgconn.PgError{Severity: "ERROR", Code: "23505", Message: "duplicate key value"},
			want: false,
		},
		{
			name: "dial error",
			err:  &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
			want: true,
		},
		{
			name: "dropped connection mid-read",
			err:  io.ErrUnexpectedEOF,
			want: true,
		},
		{
			name: "plain error",
			err:  errors.New("something else"),
			want: false,
		},
		{
			name: "wrapped sqlstate survives",
			err:  fmt.Errorf("failed to list transactions: %w", &pgconn.PgError{Severity: "FATAL", Code: "08003", Message: "connection does not exist"}),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConnectionFailure(tt.err))
		})
	}
}
