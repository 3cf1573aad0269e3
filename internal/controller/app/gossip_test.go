package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anthanhphan/appcontroller/pkg/gossip"
	"github.com/stretchr/testify/assert"
)

type countingToucher struct {
	calls atomic.Int32
	err   error
}

func (c *countingToucher) TouchMembership(ctx context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestDepartureListener_TouchesOnLeave(t *testing.T) {
	toucher := &countingToucher{}
	l := &departureListener{svc: toucher, timeout: time.Second}

	l.PeerJoined(gossip.Peer{PublicIP: "10.0.0.2"})
	l.PeerLeft(gossip.Peer{PublicIP: "10.0.0.2"})

	assert.Eventually(t, func() bool { return toucher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestDepartureListener_FailureIsLogged(t *testing.T) {
	toucher := &countingToucher{err: errors.New("lock timeout")}
	l := &departureListener{svc: toucher, timeout: time.Second}

	l.touch(gossip.Peer{PublicIP: "10.0.0.3"})

	assert.Equal(t, int32(1), toucher.calls.Load())
}

func TestContainsKey(t *testing.T) {
	assert.True(t, containsKey([]string{"keyname", "bookey", "region", "us"}, "keyname"))
	assert.False(t, containsKey([]string{"region", "keyname"}, "keyname"))
	assert.False(t, containsKey(nil, "keyname"))
}
