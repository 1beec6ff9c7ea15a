package archon

import "encoding/binary"

// Frame16 is a fetched 16-bit-per-pixel buffer, reshaped into row-major
// (height x width) order and byte-order corrected from Archon's
// little-endian wire format.
type Frame16 struct {
	Width, Height int
	Pix           []uint16
}

// At returns the pixel at (x, y), 0-indexed from the top-left.
func (f *Frame16) At(x, y int) uint16 {
	return f.Pix[y*f.Width+x]
}

// Crop returns a new Frame16 containing the rectangle [x0,x1) x [y0,y1).
func (f *Frame16) Crop(x0, y0, x1, y1 int) *Frame16 {
	w, h := x1-x0, y1-y0
	out := &Frame16{Width: w, Height: h, Pix: make([]uint16, w*h)}
	for row := 0; row < h; row++ {
		srcStart := (y0+row)*f.Width + x0
		copy(out.Pix[row*w:(row+1)*w], f.Pix[srcStart:srcStart+w])
	}
	return out
}

// Frame32 is the 32-bit-per-pixel counterpart of Frame16.
type Frame32 struct {
	Width, Height int
	Pix           []uint32
}

// At returns the pixel at (x, y), 0-indexed from the top-left.
func (f *Frame32) At(x, y int) uint32 {
	return f.Pix[y*f.Width+x]
}

// Crop returns a new Frame32 containing the rectangle [x0,x1) x [y0,y1).
func (f *Frame32) Crop(x0, y0, x1, y1 int) *Frame32 {
	w, h := x1-x0, y1-y0
	out := &Frame32{Width: w, Height: h, Pix: make([]uint32, w*h)}
	for row := 0; row < h; row++ {
		srcStart := (y0+row)*f.Width + x0
		copy(out.Pix[row*w:(row+1)*w], f.Pix[srcStart:srcStart+w])
	}
	return out
}

func decodeFrame16(raw []byte, pixels, lines int) *Frame16 {
	f := &Frame16{Width: pixels, Height: lines, Pix: make([]uint16, pixels*lines)}
	for i := range f.Pix {
		f.Pix[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return f
}

func decodeFrame32(raw []byte, pixels, lines int) *Frame32 {
	f := &Frame32{Width: pixels, Height: lines, Pix: make([]uint32, pixels*lines)}
	for i := range f.Pix {
		f.Pix[i] = binary.LittleEndian.Uint32(raw[i*4:])
	}
	return f
}
