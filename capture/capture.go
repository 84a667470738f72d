package capture

import "context"

// Processor handles one frame on the caller's goroutine. Returning false
// ends the capture.
type Processor func(frame *Frame) (bool, error)

// Capture opens dev and feeds successful frames to processor until it
// returns false, fails, or ctx is done. Frames arriving while processor is
// still busy are skipped. The device is closed on return.
func Capture(ctx context.Context, dev *Device, processor Processor) error {
	frames := make(chan *Frame, 1)
	id := dev.AddCallback(func(ok bool, frame *Frame) {
		if !ok {
			return
		}
		select {
		case frames <- frame:
		default:
		}
	})
	defer dev.RemoveCallback(id)

	if err := dev.Open(); err != nil {
		return err
	}
	defer dev.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case frame := <-frames:
			cont, err := processor(frame)
			if err != nil {
				return err
			}

			if !cont {
				return nil
			}
		}
	}
}
