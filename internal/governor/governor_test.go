package governor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nimbusgate/gateway/pkg/gwtypes"
)

func TestConcurrencyGateExactLimit(t *testing.T) {
	gate := NewConcurrencyGate(2)

	r1, err := gate.Acquire()
	require.NoError(t, err)
	r2, err := gate.Acquire()
	require.NoError(t, err)

	_, err = gate.Acquire()
	require.Error(t, err, "third acquire should be rejected at the limit")

	r1()
	_, err = gate.Acquire()
	require.NoError(t, err, "releasing one slot should free capacity")

	r2()
}

func TestConcurrencyGateUnlimited(t *testing.T) {
	gate := NewConcurrencyGate(0)
	for i := 0; i < 100; i++ {
		_, err := gate.Acquire()
		require.NoError(t, err)
	}
}

func TestTokenBucketTryConsumeCapsAtAvailable(t *testing.T) {
	bucket := NewTokenBucket(100, 100)
	took := bucket.TryConsume(1000)
	require.Equal(t, int64(100), took, "TryConsume must cap at available tokens")
}

func TestTokenBucketUnlimitedNeverBlocks(t *testing.T) {
	bucket := NewTokenBucket(0, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := bucket.WaitN(ctx, 1<<30)
	require.NoError(t, err)
}

func TestDomainPolicyDefaultAllowsEverything(t *testing.T) {
	p := NewDomainPolicy(gwtypes.DownloadSettings{})
	require.True(t, p.Allowed("anything.example.com"))
}

func TestDomainPolicyRejectsMismatchedHost(t *testing.T) {
	p := NewDomainPolicy(gwtypes.DownloadSettings{DownloadDomain: "dl.example.com"})
	require.True(t, p.Allowed("dl.example.com"))
	require.False(t, p.Allowed("other.example.com"))
}

func TestDomainPolicyNormalizesHost(t *testing.T) {
	p := NewDomainPolicy(gwtypes.DownloadSettings{DownloadDomain: "DL.example.com"})
	require.True(t, p.Allowed("https://dl.example.com:443/"))
	require.True(t, p.Allowed("dl.example.com"))
	require.False(t, p.Allowed("evil.example.com"))
}

func TestDomainPolicyExpiryDefaultsAndFloors(t *testing.T) {
	p := NewDomainPolicy(gwtypes.DownloadSettings{})
	require.Equal(t, 15*time.Minute, p.Expiry())

	p = NewDomainPolicy(gwtypes.DownloadSettings{LinkExpiryMinutes: -5})
	require.Equal(t, 15*time.Minute, p.Expiry())

	p = NewDomainPolicy(gwtypes.DownloadSettings{LinkExpiryMinutes: 30})
	require.Equal(t, 30*time.Minute, p.Expiry())
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	bucket := NewTokenBucket(10, 10)
	took := bucket.TryConsume(10)
	require.Equal(t, int64(10), took)

	base := bucket.lastRefill
	bucket.now = func() time.Time { return base.Add(500 * time.Millisecond) }
	took = bucket.TryConsume(10)
	require.InDelta(t, 5, took, 1)
}
