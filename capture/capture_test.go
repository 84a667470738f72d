package capture_test

import (
	"context"
	"testing"
	"time"

	"github.com/abihf/camrec/capture"
	"github.com/abihf/camrec/capture/capturetest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestCapture(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	errStop := errors.New("stop")

	tests := []struct {
		name      string
		processor func(n *int) capture.Processor
		wantErr   error
		wantCalls int
	}{
		{
			name: "stops when processor is done",
			processor: func(n *int) capture.Processor {
				return func(*capture.Frame) (bool, error) {
					*n++
					return *n < 3, nil
				}
			},
			wantCalls: 3,
		},
		{
			name: "returns processor error",
			processor: func(n *int) capture.Processor {
				return func(*capture.Frame) (bool, error) {
					*n++
					return true, errStop
				}
			},
			wantErr:   errStop,
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := capturetest.New()
			dev := capture.NewDevice(src, &capture.Option{Framerate: 200})

			var calls int
			err := capture.Capture(context.Background(), dev, tt.processor(&calls))
			dev.Wait()

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
			assert.False(t, dev.IsOpen())
			assert.False(t, src.IsOpen())
		})
	}
}

func TestCapture_ContextDeadline(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	src := capturetest.New()
	src.FailEvery = 1
	dev := capture.NewDevice(src, &capture.Option{Framerate: 200})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := capture.Capture(ctx, dev, func(*capture.Frame) (bool, error) {
		t.Fatal("failed acquisitions must not reach the processor")
		return false, nil
	})
	dev.Wait()
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCapture_OpenFailure(t *testing.T) {
	src := capturetest.New()
	src.OpenErr = errors.New("busy")
	dev := capture.NewDevice(src, nil)

	err := capture.Capture(context.Background(), dev, func(*capture.Frame) (bool, error) {
		return false, nil
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, capture.ErrDeviceUnavailable)
}
