package polling

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{errors.New("genie: get_message: unexpected status 503: service unavailable"), true},
		{errors.New("upstream returned 503"), true},
		{errors.New("dial tcp: connection refused"), true},
		{errors.New("i/o Timeout while reading"), true},
		{errors.New("Rate Limit exceeded"), true},
		{errors.New("status 429"), true},
		{errors.New("HTTP 500"), true},
		{errors.New("bad gateway 502"), true},
		{errors.New("gateway 504"), true},
		{errors.New("The service is Temporarily Unavailable"), true},
		{errors.New("invalid argument: bad space id"), false},
		{errors.New("genie: get_message: unexpected status 404: not found"), false},
		{fmt.Errorf("wrapped: %w", context.Canceled), false},
		{context.DeadlineExceeded, false},
		{nil, false},
	}
	for _, tc := range cases {
		name := "nil"
		if tc.err != nil {
			name = tc.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			require.Equal(t, tc.want, IsRetryable(tc.err))
		})
	}
}
