// Copyright 2025 The tiffremote authors
// SPDX-License-Identifier: MIT

package tiffremote

import (
	"encoding/binary"
	"fmt"
	"io"
)

// NativeEngine is a pure-Go decoding engine for classic and BigTIFF
// streams, driven entirely through the ClientIO callbacks. It decodes
// uncompressed, strip-based directories with 8-bit grayscale, RGB, or RGBA
// samples; anything else is rejected rather than decoded approximately.
//
// It exists so the adapter and pool layers have a real engine to run
// against without cgo. It is not a complete codec.
type NativeEngine struct{}

var _ Engine = NativeEngine{}

// SupportsCompression reports true only for uncompressed directories.
func (NativeEngine) SupportsCompression(scheme uint16) bool {
	return scheme == CompressionNone
}

// Attach re-reads the header with the given byte order as a precondition
// and positions the handle before the first directory. The stream stays
// open until Detach even when Attach fails partway; the caller owns closing
// it on attach failure.
func (NativeEngine) Attach(source string, order binary.ByteOrder, cio ClientIO, mode AttachMode) (EngineHandle, error) {
	h := &nativeHandle{
		source: source,
		mode:   mode,
		r:      engineReader{cio: cio, order: order},
		curDir: -1,
	}
	if err := h.run(h.init); err != nil {
		return nil, err
	}
	return h, nil
}

const (
	maxDirEntries    = 4096
	maxDirectories   = 65536
	maxTagValueCount = 1 << 20
)

type nativeHandle struct {
	source string
	mode   AttachMode
	r      engineReader

	big  bool  // BigTIFF layout: 64-bit offsets, 20-byte entries
	size int64 // total stream length, for offset bounds checks

	dirOffsets []int64
	chainDone  bool

	curDir int
	tags   map[TagID]tagValue
}

type tagValue struct {
	vals []uint64
}

// run executes f, converting the reader's panic-stop unwinding back into an
// ordinary returned error at the engine boundary.
func (h *nativeHandle) run(f func()) (err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		if rec != errStop {
			panic(rec)
		}
		err = h.r.readErr
		h.r.readErr = nil
		if err == nil {
			err = errShortRead
		}
	}()
	f()
	return nil
}

func (h *nativeHandle) init() {
	r := &h.r
	h.size = r.cio.Size()

	r.seek(0)
	r.readFull(r.scratch[:2])
	var marker byte = byteOrderLittleEndian
	if r.order == binary.BigEndian {
		marker = byteOrderBigEndian
	}
	if r.scratch[0] != marker || r.scratch[1] != marker {
		r.stop(newInvalidFormatErrorf("byte-order marker of %q does not match declared order", h.source))
	}

	switch v := r.read2(); v {
	case versionClassic:
	case versionBig:
		h.big = true
		if r.read2() != 8 {
			r.stop(newInvalidFormatErrorf("unsupported offset size in %q", h.source))
		}
		if r.read2() != 0 {
			r.stop(newInvalidFormatErrorf("nonzero header padding in %q", h.source))
		}
	default:
		r.stop(newInvalidFormatErrorf("unrecognized version %d in %q", v, h.source))
	}

	first := h.readOffset()
	h.checkOffset(first)
	h.dirOffsets = []int64{first}
}

// SelectDirectory positions the handle at the index-th directory, walking
// the chain of next-directory pointers as far as needed. Selecting the
// already-current directory is a no-op.
func (h *nativeHandle) SelectDirectory(index int) error {
	if index < 0 {
		return fmt.Errorf("tiffremote: negative directory index %d", index)
	}
	if index == h.curDir && h.tags != nil {
		return nil
	}
	return h.run(func() { h.selectDirectory(index) })
}

// Tag returns the scalar value of a tag in the current directory.
func (h *nativeHandle) Tag(id TagID) (uint64, bool) {
	tv, ok := h.tags[id]
	if !ok || len(tv.vals) == 0 {
		return 0, false
	}
	return tv.vals[0], true
}

// DecodeRegion decodes the requested rectangle of the current directory
// into dst as packed words with red in the low byte.
func (h *nativeHandle) DecodeRegion(x, y, width, height int, dst []uint32) error {
	if h.tags == nil {
		return fmt.Errorf("tiffremote: no directory selected in %q", h.source)
	}
	return h.run(func() { h.decodeRegion(x, y, width, height, dst) })
}

// Detach closes the client I/O. The handle must not be used afterwards.
func (h *nativeHandle) Detach() error {
	h.tags = nil
	if h.r.cio.Close() != 0 {
		return fmt.Errorf("tiffremote: closing stream of %q reported failure", h.source)
	}
	return nil
}

func (h *nativeHandle) selectDirectory(index int) {
	// Invalidate the cursor first so a failed walk never leaves stale tags
	// behind.
	h.curDir = -1
	h.tags = nil

	for len(h.dirOffsets) <= index {
		if h.chainDone {
			h.r.stop(fmt.Errorf("tiffremote: %q has no directory %d", h.source, index))
		}
		if len(h.dirOffsets) >= maxDirectories {
			h.r.stop(newInvalidFormatErrorf("directory chain in %q exceeds %d entries", h.source, maxDirectories))
		}
		next := h.skipDirectory(h.dirOffsets[len(h.dirOffsets)-1])
		if next == 0 {
			h.chainDone = true
			continue
		}
		h.checkOffset(next)
		h.dirOffsets = append(h.dirOffsets, next)
	}

	h.tags = h.loadDirectory(h.dirOffsets[index])
	h.curDir = index
}

// skipDirectory reads only the entry count and next-directory pointer of
// the directory at off.
func (h *nativeHandle) skipDirectory(off int64) int64 {
	r := &h.r
	r.seek(off)
	count := h.readEntryCount()
	r.skip(int64(count) * h.entrySize())
	return h.readOffset()
}

// loadDirectory parses the directory at off into a tag map. Only the tags
// this package reads are materialized; everything else is skipped without
// touching its out-of-line values.
func (h *nativeHandle) loadDirectory(off int64) map[TagID]tagValue {
	r := &h.r
	r.seek(off)
	count := h.readEntryCount()

	entrySize := int(h.entrySize())
	entries := make([]byte, int(count)*entrySize)
	r.readFull(entries)
	// The next-directory pointer sits right after the entries; remember it
	// before value resolution seeks elsewhere.
	if len(h.dirOffsets) > 0 && off == h.dirOffsets[len(h.dirOffsets)-1] && !h.chainDone {
		if next := h.readOffset(); next != 0 && !h.containsOffset(next) {
			h.checkOffset(next)
			h.dirOffsets = append(h.dirOffsets, next)
		} else if next == 0 {
			h.chainDone = true
		}
	}

	tags := make(map[TagID]tagValue)
	for i := 0; i < int(count); i++ {
		h.parseEntry(entries[i*entrySize:(i+1)*entrySize], tags)
	}
	return tags
}

var wantTags = map[TagID]bool{
	TagImageWidth:      true,
	TagImageLength:     true,
	TagBitsPerSample:   true,
	TagCompression:     true,
	TagPhotometric:     true,
	TagStripOffsets:    true,
	TagSamplesPerPixel: true,
	TagRowsPerStrip:    true,
	TagStripByteCounts: true,
	TagTileWidth:       true,
}

func (h *nativeHandle) parseEntry(entry []byte, tags map[TagID]tagValue) {
	order := h.r.order
	id := TagID(order.Uint16(entry[0:2]))
	if !wantTags[id] {
		return
	}
	typ := order.Uint16(entry[2:4])

	var count uint64
	var field []byte
	if h.big {
		count = order.Uint64(entry[4:12])
		field = entry[12:20]
	} else {
		count = uint64(order.Uint32(entry[4:8]))
		field = entry[8:12]
	}

	sz := typeSize(typ)
	if sz == 0 {
		// A known tag with an unexpected type; leave it absent.
		return
	}
	if count == 0 || count > maxTagValueCount {
		h.r.stop(newInvalidFormatErrorf("tag %d in %q has invalid count %d", id, h.source, count))
	}

	total := int64(count) * int64(sz)
	raw := field
	if total > int64(len(field)) {
		var valOff int64
		if h.big {
			valOff = int64(order.Uint64(field))
		} else {
			valOff = int64(order.Uint32(field))
		}
		h.checkOffset(valOff)
		raw = make([]byte, total)
		h.r.preservePos(func() {
			h.r.seek(valOff)
			h.r.readFull(raw)
		})
	}

	vals := make([]uint64, count)
	for i := range vals {
		b := raw[i*sz:]
		switch sz {
		case 1:
			vals[i] = uint64(b[0])
		case 2:
			vals[i] = uint64(order.Uint16(b[:2]))
		case 4:
			vals[i] = uint64(order.Uint32(b[:4]))
		case 8:
			vals[i] = order.Uint64(b[:8])
		}
	}
	tags[id] = tagValue{vals: vals}
}

// typeSize returns the byte size of one value of an integer directory
// entry type, or 0 for types this package does not materialize.
func typeSize(typ uint16) int {
	switch typ {
	case 1, 2, 6, 7: // BYTE, ASCII, SBYTE, UNDEFINED
		return 1
	case 3, 8: // SHORT, SSHORT
		return 2
	case 4, 9, 13: // LONG, SLONG, IFD
		return 4
	case 16, 17, 18: // LONG8, SLONG8, IFD8
		return 8
	default:
		return 0
	}
}

func (h *nativeHandle) decodeRegion(x, y, width, height int, dst []uint32) {
	r := &h.r

	imgWidth, ok := h.Tag(TagImageWidth)
	if !ok {
		r.stop(newInvalidFormatErrorf("directory in %q has no width tag", h.source))
	}
	imgHeight, ok := h.Tag(TagImageLength)
	if !ok {
		r.stop(newInvalidFormatErrorf("directory in %q has no length tag", h.source))
	}

	if x < 0 || y < 0 || width <= 0 || height <= 0 ||
		uint64(x)+uint64(width) > imgWidth || uint64(y)+uint64(height) > imgHeight {
		r.stop(fmt.Errorf("tiffremote: region %dx%d+%d+%d outside %dx%d image in %q",
			width, height, x, y, imgWidth, imgHeight, h.source))
	}
	if len(dst) < width*height {
		r.stop(fmt.Errorf("tiffremote: destination holds %d pixels, need %d", len(dst), width*height))
	}

	if _, tiled := h.tags[TagTileWidth]; tiled {
		r.stop(fmt.Errorf("tiffremote: tiled directories in %q are not supported", h.source))
	}
	if scheme, ok := h.Tag(TagCompression); ok && uint16(scheme) != CompressionNone {
		r.stop(fmt.Errorf("%w: scheme %d in %q", ErrUnsupportedCompression, scheme, h.source))
	}

	spp := 1
	if v, ok := h.Tag(TagSamplesPerPixel); ok {
		spp = int(v)
	}
	photometric, ok := h.Tag(TagPhotometric)
	if !ok {
		r.stop(newInvalidFormatErrorf("directory in %q has no photometric tag", h.source))
	}

	bits, ok := h.tags[TagBitsPerSample]
	if !ok {
		r.stop(fmt.Errorf("tiffremote: %q: only 8-bit samples are supported", h.source))
	}
	for _, b := range bits.vals {
		if b != 8 {
			r.stop(fmt.Errorf("tiffremote: %q: only 8-bit samples are supported, got %d", h.source, b))
		}
	}

	switch {
	case photometric <= 1 && spp == 1:
	case photometric == 2 && (spp == 3 || spp == 4):
	default:
		r.stop(fmt.Errorf("tiffremote: %q: unsupported photometric %d with %d samples per pixel",
			h.source, photometric, spp))
	}

	rowsPerStrip := imgHeight
	if v, ok := h.Tag(TagRowsPerStrip); ok && v != 0 {
		rowsPerStrip = v
	}
	offsets := h.tags[TagStripOffsets].vals
	byteCounts := h.tags[TagStripByteCounts].vals
	if len(offsets) == 0 || len(byteCounts) != len(offsets) {
		r.stop(newInvalidFormatErrorf("directory in %q has inconsistent strip tables", h.source))
	}

	rowBytes := int(imgWidth) * spp
	rowBuf := make([]byte, width*spp)

	for row := y; row < y+height; row++ {
		strip := uint64(row) / rowsPerStrip
		rowInStrip := uint64(row) % rowsPerStrip
		if strip >= uint64(len(offsets)) {
			r.stop(newInvalidFormatErrorf("row %d of %q falls outside the strip table", row, h.source))
		}
		stripPos := int64(rowInStrip)*int64(rowBytes) + int64(x*spp)
		if stripPos+int64(len(rowBuf)) > int64(byteCounts[strip]) {
			r.stop(newInvalidFormatErrorf("row %d of %q extends past its strip", row, h.source))
		}
		off := int64(offsets[strip]) + stripPos
		h.checkOffset(off)
		r.seek(off)
		r.readFull(rowBuf)

		out := dst[(row-y)*width:]
		packRow(rowBuf, out[:width], spp, photometric)
	}
}

// packRow converts one row of samples into packed words with red in the
// low byte and alpha in the high byte.
func packRow(src []byte, dst []uint32, spp int, photometric uint64) {
	switch spp {
	case 1:
		for i := range dst {
			v := uint32(src[i])
			if photometric == 0 {
				v = 255 - v
			}
			dst[i] = v | v<<8 | v<<16 | 0xff<<24
		}
	case 3:
		for i := range dst {
			s := src[i*3:]
			dst[i] = uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | 0xff<<24
		}
	case 4:
		for i := range dst {
			s := src[i*4:]
			dst[i] = uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24
		}
	}
}

func (h *nativeHandle) entrySize() int64 {
	if h.big {
		return 20
	}
	return 12
}

func (h *nativeHandle) readEntryCount() uint64 {
	var count uint64
	if h.big {
		count = h.r.read8()
	} else {
		count = uint64(h.r.read2())
	}
	if count > maxDirEntries {
		h.r.stop(newInvalidFormatErrorf("directory in %q has %d entries", h.source, count))
	}
	return count
}

func (h *nativeHandle) readOffset() int64 {
	if h.big {
		return int64(h.r.read8())
	}
	return int64(h.r.read4())
}

// checkOffset bounds-checks a file offset against the stream size reported
// by the client I/O.
func (h *nativeHandle) checkOffset(off int64) {
	if off < 0 || (h.size > 0 && off >= h.size) {
		h.r.stop(newInvalidFormatErrorf("offset %d out of bounds for %q", off, h.source))
	}
}

func (h *nativeHandle) containsOffset(off int64) bool {
	for _, o := range h.dirOffsets {
		if o == off {
			return true
		}
	}
	return false
}

// engineReader wraps the client I/O callbacks with order-aware reads.
// Errors unwind via stop; entry points convert them back with run. Not
// safe for concurrent use, like the handle that owns it.
type engineReader struct {
	cio     ClientIO
	order   binary.ByteOrder
	scratch [8]byte
	readErr error
}

func (r *engineReader) stop(err error) {
	if err != nil {
		r.readErr = err
	}
	panic(errStop)
}

func (r *engineReader) seek(off int64) {
	if pos := r.cio.Seek(off, io.SeekStart); pos != off {
		r.stop(fmt.Errorf("tiffremote: seek to %d failed", off))
	}
}

func (r *engineReader) skip(n int64) {
	if pos := r.cio.Seek(n, io.SeekCurrent); pos < 0 {
		r.stop(fmt.Errorf("tiffremote: seek by %d failed", n))
	}
}

func (r *engineReader) pos() int64 {
	pos := r.cio.Seek(0, io.SeekCurrent)
	if pos < 0 {
		r.stop(fmt.Errorf("tiffremote: position query failed"))
	}
	return pos
}

func (r *engineReader) preservePos(f func()) {
	pos := r.pos()
	f()
	r.seek(pos)
}

// readFull fills b completely. The client read callback reports 0 for both
// end of stream and I/O error, so either way a short read stops parsing.
func (r *engineReader) readFull(b []byte) {
	for len(b) > 0 {
		n := r.cio.Read(b)
		if n <= 0 {
			r.stop(errShortRead)
		}
		b = b[n:]
	}
}

func (r *engineReader) read2() uint16 {
	r.readFull(r.scratch[:2])
	return r.order.Uint16(r.scratch[:2])
}

func (r *engineReader) read4() uint32 {
	r.readFull(r.scratch[:4])
	return r.order.Uint32(r.scratch[:4])
}

func (r *engineReader) read8() uint64 {
	r.readFull(r.scratch[:8])
	return r.order.Uint64(r.scratch[:8])
}
