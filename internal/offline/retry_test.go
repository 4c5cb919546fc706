// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package offline

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/*
TestRetryPolicy_Schedule verifies the waits between page attempts: the base
delay, doubling, capped at the maximum, and no wait after the last attempt.
*/
func TestRetryPolicy_Schedule(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []time.Duration
	}{
		{
			name: "defaults",
			cfg:  DefaultConfig(),
			want: []time.Duration{time.Second, 2 * time.Second},
		},
		{
			name: "capped",
			cfg:  Config{Attempts: 6, BaseDelay: time.Second, MaxDelay: 5 * time.Second},
			want: []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second},
		},
		{
			name: "single attempt",
			cfg:  Config{Attempts: 1, BaseDelay: time.Second, MaxDelay: 5 * time.Second},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := retryPolicy(tt.cfg)

			var waits []time.Duration
			for {
				wait := policy.NextBackOff()
				if wait == backoff.Stop {
					break
				}
				waits = append(waits, wait)
				require.LessOrEqual(t, len(waits), len(tt.want), "policy did not stop")
			}
			assert.Equal(t, tt.want, waits)
		})
	}
}
