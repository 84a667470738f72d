package capture

import "time"

type PixelFormat string

const (
	FormatMJPG PixelFormat = "MJPG"
	FormatYUYV PixelFormat = "YUYV"
	FormatUYVY PixelFormat = "UYVY"
	FormatGrey PixelFormat = "GREY"
)

// FourCC returns the V4L2 fourcc code of the format.
func (f PixelFormat) FourCC() uint32 {
	s := string(f)
	if len(s) != 4 {
		return 0
	}
	return uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24
}

// Frame is one captured image. The same Frame is handed to every observer,
// so observers must treat Data as read-only and Clone before modifying it.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Format    PixelFormat
	Timestamp time.Time

	// Seq is assigned by the Device, starting at 1 for each Open.
	Seq uint64
}

func (f *Frame) Clone() *Frame {
	c := *f
	c.Data = make([]byte, len(f.Data))
	copy(c.Data, f.Data)
	return &c
}
