package tracking

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"control_miles/internal/detection"
	"control_miles/internal/models"
)

var (
	// ErrNotSubscribed is returned by Feed pushes while no session listens.
	ErrNotSubscribed = errors.New("no active tracking subscription")
	// ErrFeedFull is returned when the session is not keeping up.
	ErrFeedFull = errors.New("tracking feed is full")
)

// PositionSource delivers position samples to one subscriber at a time. The
// error channel reports the source becoming unavailable.
type PositionSource interface {
	Subscribe(ctx context.Context) (<-chan detection.Sample, <-chan error, error)
}

// MotionSource delivers accelerometer readings. It is optional.
type MotionSource interface {
	SubscribeMotion(ctx context.Context) (<-chan detection.Acceleration, error)
}

// Feed is a PositionSource and MotionSource fed by the device over the API.
// Subscriptions end when their context is cancelled.
type Feed struct {
	buffer int

	mu        sync.Mutex
	samples   chan detection.Sample
	errs      chan error
	posCtx    context.Context
	accels    chan detection.Acceleration
	motionCtx context.Context
}

// NewFeed creates a feed whose subscriptions buffer up to buffer items.
func NewFeed(buffer int) *Feed {
	if buffer <= 0 {
		buffer = 64
	}
	return &Feed{buffer: buffer}
}

func (f *Feed) Subscribe(ctx context.Context) (<-chan detection.Sample, <-chan error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.samples != nil && f.posCtx.Err() == nil {
		return nil, nil, errors.New("position feed already has a subscriber")
	}
	samples := make(chan detection.Sample, f.buffer)
	errs := make(chan error, 1)
	f.samples, f.errs, f.posCtx = samples, errs, ctx

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		if f.samples == samples {
			f.samples, f.errs = nil, nil
		}
		f.mu.Unlock()
	}()
	return samples, errs, nil
}

func (f *Feed) SubscribeMotion(ctx context.Context) (<-chan detection.Acceleration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accels != nil && f.motionCtx.Err() == nil {
		return nil, errors.New("motion feed already has a subscriber")
	}
	accels := make(chan detection.Acceleration, f.buffer)
	f.accels, f.motionCtx = accels, ctx

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		if f.accels == accels {
			f.accels = nil
		}
		f.mu.Unlock()
	}()
	return accels, nil
}

// Push hands a sample to the subscriber without blocking.
func (f *Feed) Push(s detection.Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.samples == nil || f.posCtx.Err() != nil {
		return ErrNotSubscribed
	}
	select {
	case f.samples <- s:
		return nil
	default:
		logrus.Warn("Position feed full, dropping sample.")
		return ErrFeedFull
	}
}

// PushMotion hands an accelerometer reading to the subscriber without blocking.
func (f *Feed) PushMotion(a detection.Acceleration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accels == nil || f.motionCtx.Err() != nil {
		return ErrNotSubscribed
	}
	select {
	case f.accels <- a:
		return nil
	default:
		return ErrFeedFull
	}
}

// Deny reports that the device lost or refused location access.
func (f *Feed) Deny(reason error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.errs == nil || f.posCtx.Err() != nil {
		return ErrNotSubscribed
	}
	select {
	case f.errs <- &models.PermissionError{Source: "position", Err: reason}:
	default:
	}
	return nil
}
