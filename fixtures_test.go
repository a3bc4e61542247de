// Copyright 2025 The tiffremote authors
// SPDX-License-Identifier: MIT

package tiffremote_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"

	qt "github.com/frankban/quicktest"
	"golang.org/x/image/tiff"

	"github.com/gowsi/tiffremote"
)

// memStream is an in-memory remote stream with failure injection and
// close-call recording.
type memStream struct {
	data       []byte
	pos        int64
	closed     bool
	closeCalls int
	closeErr   error
	failReads  bool
}

func (s *memStream) Read(p []byte) (int, error) {
	if s.failReads {
		return 0, errors.New("injected read failure")
	}
	if s.closed {
		return 0, errors.New("read on closed stream")
	}
	if s.pos >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.pos:])
	s.pos += int64(n)
	return n, nil
}

func (s *memStream) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.pos + offset
	case io.SeekEnd:
		abs = int64(len(s.data)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	s.pos = abs
	return abs, nil
}

func (s *memStream) Size() (int64, error) {
	return int64(len(s.data)), nil
}

func (s *memStream) Close() error {
	s.closeCalls++
	s.closed = true
	return s.closeErr
}

// testSource hands out fresh memStreams over one byte blob and records
// every stream it opened.
type testSource struct {
	mu      sync.Mutex
	data    []byte
	opened  []*memStream
	openErr error
}

func (ts *testSource) open(string) (tiffremote.Stream, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.openErr != nil {
		return nil, ts.openErr
	}
	s := &memStream{data: ts.data}
	ts.opened = append(ts.opened, s)
	return s, nil
}

func (ts *testSource) openCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.opened)
}

func (ts *testSource) stream(i int) *memStream {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.opened[i]
}

func (ts *testSource) options() tiffremote.Options {
	return tiffremote.Options{
		Open:   ts.open,
		Engine: tiffremote.NativeEngine{},
	}
}

// gradientRGBA returns an opaque image with a distinct color per pixel.
func gradientRGBA(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(x * 7),
				G: uint8(y * 13),
				B: uint8(x + y),
				A: 0xff,
			})
		}
	}
	return img
}

// encodeTIFF encodes img as an uncompressed classic TIFF.
func encodeTIFF(c *qt.C, img image.Image) []byte {
	var buf bytes.Buffer
	err := tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Uncompressed})
	c.Assert(err, qt.IsNil)
	return buf.Bytes()
}

// argbAt returns the packed ARGB word this package is expected to produce
// for the pixel at (x, y).
func argbAt(img image.Image, x, y int) uint32 {
	r, g, b, a := img.At(x, y).RGBA()
	return uint32(a>>8)<<24 | uint32(r>>8)<<16 | uint32(g>>8)<<8 | uint32(b>>8)
}

// argbPixels returns the full expected ARGB buffer for img.
func argbPixels(img image.Image) []uint32 {
	bounds := img.Bounds()
	out := make([]uint32, bounds.Dx()*bounds.Dy())
	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out[i] = argbAt(img, x, y)
			i++
		}
	}
	return out
}

// tiffPage describes one directory of a hand-built classic TIFF fixture.
type tiffPage struct {
	width, height int
	spp           int    // 1 (gray), 3 (RGB) or 4 (RGBA)
	photometric   uint16 // 1 gray, 2 RGB
	compression   uint16 // 0 writes scheme 1
	tileWidth     int    // if > 0, writes a TileWidth tag
	pix           []byte // width*height*spp samples
}

// grayPage fills a page with v-valued gray samples.
func grayPage(width, height int, v byte) tiffPage {
	pix := bytes.Repeat([]byte{v}, width*height)
	return tiffPage{width: width, height: height, spp: 1, photometric: 1, pix: pix}
}

// rgbPage builds an RGB page from a gradient.
func rgbPage(width, height int) tiffPage {
	pix := make([]byte, 0, width*height*3)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			pix = append(pix, byte(x*5), byte(y*11), byte(x^y))
		}
	}
	return tiffPage{width: width, height: height, spp: 3, photometric: 2, pix: pix}
}

// writeClassicTIFF serializes pages as a little-endian classic TIFF with
// one strip per page.
func writeClassicTIFF(pages ...tiffPage) []byte {
	return writeClassicTIFFMarker('I', pages...)
}

// writeClassicTIFFMarker serializes pages as a classic TIFF in the byte
// order named by marker ('I' or 'M').
func writeClassicTIFFMarker(marker byte, pages ...tiffPage) []byte {
	var bo binary.ByteOrder = binary.LittleEndian
	if marker == 'M' {
		bo = binary.BigEndian
	}

	var b []byte
	app16 := func(v uint16) { b = bo.(binary.AppendByteOrder).AppendUint16(b, v) }
	app32 := func(v uint32) { b = bo.(binary.AppendByteOrder).AppendUint32(b, v) }
	put32 := func(pos int, v uint32) { bo.PutUint32(b[pos:pos+4], v) }

	b = append(b, marker, marker)
	app16(42)
	app32(0) // first IFD offset, patched below

	dataOff := make([]uint32, len(pages))
	for i, p := range pages {
		dataOff[i] = uint32(len(b))
		b = append(b, p.pix...)
	}

	var firstIFD uint32
	prevNextPos := -1
	for i, p := range pages {
		type entry struct {
			tag, typ uint16
			count    uint32
			inline   func()
		}

		compression := p.compression
		if compression == 0 {
			compression = 1
		}

		short := func(v uint16) func() {
			return func() { app16(v); app16(0) }
		}
		long := func(v uint32) func() {
			return func() { app32(v) }
		}

		entries := []entry{
			{256, 4, 1, long(uint32(p.width))},
			{257, 4, 1, long(uint32(p.height))},
			{259, 3, 1, short(compression)},
			{262, 3, 1, short(p.photometric)},
			{273, 4, 1, long(dataOff[i])},
			{277, 3, 1, short(uint16(p.spp))},
			{278, 4, 1, long(uint32(p.height))},
			{279, 4, 1, long(uint32(len(p.pix)))},
		}
		if p.tileWidth > 0 {
			entries = append(entries, entry{322, 4, 1, long(uint32(p.tileWidth))})
		}

		ifdOff := uint32(len(b))
		// BitsPerSample: inline for one sample, out-of-line otherwise.
		bitsExtOff := ifdOff + 2 + uint32(len(entries)+1)*12 + 4
		if p.spp <= 2 {
			entries = append(entries, entry{258, 3, uint32(p.spp), short(8)})
		} else {
			entries = append(entries, entry{258, 3, uint32(p.spp), long(bitsExtOff)})
		}
		for j := 1; j < len(entries); j++ {
			for k := j; k > 0 && entries[k].tag < entries[k-1].tag; k-- {
				entries[k], entries[k-1] = entries[k-1], entries[k]
			}
		}

		if i == 0 {
			firstIFD = ifdOff
		} else {
			put32(prevNextPos, ifdOff)
		}

		app16(uint16(len(entries)))
		for _, e := range entries {
			app16(e.tag)
			app16(e.typ)
			app32(e.count)
			e.inline()
		}
		prevNextPos = len(b)
		app32(0)
		if p.spp > 2 {
			for j := 0; j < p.spp; j++ {
				app16(8)
			}
		}
	}

	put32(4, firstIFD)
	return b
}

// writeBigTIFF serializes a single gray page with the 64-bit header and
// directory layout.
func writeBigTIFF(p tiffPage) []byte {
	le := binary.LittleEndian
	var b []byte
	app16 := func(v uint16) { b = le.AppendUint16(b, v) }
	app64 := func(v uint64) { b = le.AppendUint64(b, v) }

	b = append(b, 'I', 'I')
	app16(43)
	app16(8)
	app16(0)
	app64(0) // first IFD offset, patched below

	dataOff := uint64(len(b))
	b = append(b, p.pix...)

	ifdOff := uint64(len(b))
	le.PutUint64(b[8:], ifdOff)

	short := func(v uint16) func() {
		return func() { app16(v); b = append(b, make([]byte, 6)...) }
	}
	long8 := func(v uint64) func() {
		return func() { app64(v) }
	}

	entries := []struct {
		tag, typ uint16
		count    uint64
		inline   func()
	}{
		{256, 16, 1, long8(uint64(p.width))},
		{257, 16, 1, long8(uint64(p.height))},
		{258, 3, 1, short(8)},
		{259, 3, 1, short(1)},
		{262, 3, 1, short(p.photometric)},
		{273, 16, 1, long8(dataOff)},
		{277, 3, 1, short(1)},
		{278, 16, 1, long8(uint64(p.height))},
		{279, 16, 1, long8(uint64(len(p.pix)))},
	}

	app64(uint64(len(entries)))
	for _, e := range entries {
		app16(e.tag)
		app16(e.typ)
		app64(e.count)
		e.inline()
	}
	app64(0)

	return b
}

// countingEngine wraps an engine and counts attach attempts.
type countingEngine struct {
	tiffremote.Engine

	mu       sync.Mutex
	attaches int
}

func (e *countingEngine) Attach(source string, order binary.ByteOrder, cio tiffremote.ClientIO, mode tiffremote.AttachMode) (tiffremote.EngineHandle, error) {
	e.mu.Lock()
	e.attaches++
	e.mu.Unlock()
	return e.Engine.Attach(source, order, cio, mode)
}

func (e *countingEngine) attachCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attaches
}

func mustSlide(c *qt.C, ts *testSource) *tiffremote.Slide {
	s, err := tiffremote.OpenSlide("test://slide", ts.options())
	c.Assert(err, qt.IsNil)
	c.Cleanup(s.Close)
	return s
}
