package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitDeduction(t *testing.T) {
	cases := []struct {
		name             string
		subscription     int64
		purchased        int64
		amount           int64
		fromSubscription int64
		fromPurchased    int64
		shortfall        int64
	}{
		{"subscription covers", 500, 100, 300, 300, 0, 0},
		{"exact subscription", 300, 100, 300, 300, 0, 0},
		{"spills into purchased", 300, 200, 400, 300, 100, 0},
		{"purchased only", 0, 200, 150, 0, 150, 0},
		{"exact total", 300, 200, 500, 300, 200, 0},
		{"shortfall", 100, 200, 500, 0, 0, 200},
		{"empty pools", 0, 0, 1, 0, 0, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			split, shortfall := SplitDeduction(tc.subscription, tc.purchased, tc.amount)
			require.Equal(t, tc.fromSubscription, split.FromSubscription)
			require.Equal(t, tc.fromPurchased, split.FromPurchased)
			require.Equal(t, tc.shortfall, shortfall)

			if shortfall == 0 {
				// The split always accounts for the full amount.
				require.Equal(t, tc.amount, split.FromSubscription+split.FromPurchased)
			}
		})
	}
}

func TestRefundAmount(t *testing.T) {
	require.Equal(t, int64(400), RefundAmount(1000, 600))
	require.Equal(t, int64(0), RefundAmount(500, 500))
	require.Equal(t, int64(0), RefundAmount(500, 800))
	require.Equal(t, int64(1000), RefundAmount(1000, 0))
}
