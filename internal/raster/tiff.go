// Package raster implements the Raster Sampler: decoding the GeoTIFF
// outputs of the upstream processing service and sampling them at
// monitoring point locations. Tag parsing is implemented directly over
// encoding/binary rather than a GeoTIFF library (the available ones
// wrap system GDAL via cgo, which this pipeline avoids), scoped to the
// single-band 32-bit float, uncompressed rasters the processing service
// actually emits.
package raster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/groundline/insar-pipeline/internal/errs"
)

const (
	tagImageWidth      = 256
	tagImageLength     = 257
	tagBitsPerSample   = 258
	tagCompression     = 259
	tagStripOffsets    = 273
	tagSamplesPerPixel = 277
	tagRowsPerStrip    = 278
	tagStripByteCounts = 279
	tagSampleFormat    = 339
	tagModelPixelScale = 33550
	tagModelTiepoint   = 33922
	tagGeoKeyDirectory = 34735
	tagGDALNoData      = 42113
)

const (
	geoKeyModelType  = 1024
	geoKeyGeographic = 2048
	geoKeyProjected  = 3072
)

const (
	modelTypeProjected  = 1
	modelTypeGeographic = 2
)

// Raster is a decoded single-band float32 GeoTIFF plus enough
// georeferencing to map a WGS84 point to a pixel index. Data may hold
// only a horizontal window of the full raster: RowOffset is the pixel
// row Data begins at, and len(Data)/Width is the number of rows held.
type Raster struct {
	Width, Height int
	OriginLon     float64
	OriginLat     float64
	PixelWidth    float64
	PixelHeight   float64
	EPSG          int // 0 means unset/unknown; callers treat as geographic
	HasNoData     bool
	NoData        float64
	RowOffset     int
	Data          []float32 // row-major, windowed rows of Width samples
}

type ifdEntry struct {
	tag      uint16
	typ      uint16
	count    uint32
	rawValue [4]byte
}

// DecodeGeoTIFF parses a baseline, uncompressed, single-band 32-bit
// float TIFF with GeoTIFF tags, returning a decoded Raster holding the
// full pixel buffer.
func DecodeGeoTIFF(data []byte) (*Raster, error) {
	return decode(data, 0, -1, false)
}

// DecodeGeoTIFFHeader parses dimensions, georeferencing, and NoData
// tags without reading any pixel data, so callers can size or window a
// subsequent full decode.
func DecodeGeoTIFFHeader(data []byte) (*Raster, error) {
	return decode(data, 0, 0, true)
}

// DecodeGeoTIFFWindow decodes only pixel rows [minRow, maxRow), for
// rasters whose full buffer would exceed the configured memory ceiling.
// The returned Raster's RowOffset records where its Data begins.
func DecodeGeoTIFFWindow(data []byte, minRow, maxRow int) (*Raster, error) {
	return decode(data, minRow, maxRow, false)
}

func decode(data []byte, minRow, maxRow int, headerOnly bool) (*Raster, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: file too short to be a TIFF", errs.ErrCorruptedRaster)
	}

	var order binary.ByteOrder
	switch string(data[0:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: missing TIFF byte-order marker", errs.ErrCorruptedRaster)
	}

	magic := order.Uint16(data[2:4])
	if magic != 42 {
		return nil, fmt.Errorf("%w: not a classic TIFF (magic=%d)", errs.ErrCorruptedRaster, magic)
	}

	ifdOffset := order.Uint32(data[4:8])
	entries, geoKeys, pixelScale, tiepoint, err := readIFD(data, order, ifdOffset)
	if err != nil {
		return nil, err
	}

	width, okW := entryUint(entries, order, tagImageWidth)
	height, okH := entryUint(entries, order, tagImageLength)
	if !okW || !okH {
		return nil, fmt.Errorf("%w: missing ImageWidth/ImageLength tag", errs.ErrCorruptedRaster)
	}

	bits, _ := entryUint(entries, order, tagBitsPerSample)
	sampleFormat, _ := entryUint(entries, order, tagSampleFormat)
	if bits != 32 || (sampleFormat != 0 && sampleFormat != 3) {
		return nil, fmt.Errorf("%w: unsupported sample layout (bits=%d format=%d), expected 32-bit float", errs.ErrCorruptedRaster, bits, sampleFormat)
	}

	if comp, ok := entryUint(entries, order, tagCompression); ok && comp != 1 {
		return nil, fmt.Errorf("%w: compressed TIFFs are not supported (compression=%d)", errs.ErrCorruptedRaster, comp)
	}

	r := &Raster{
		Width:  int(width),
		Height: int(height),
	}

	if !headerOnly {
		if maxRow < 0 || maxRow > int(height) {
			maxRow = int(height)
		}
		if minRow < 0 {
			minRow = 0
		}
		if minRow > maxRow {
			minRow = maxRow
		}
		samples := readFloatSamples(data, order, entries, int(width), int(height), minRow, maxRow)
		if samples == nil {
			return nil, fmt.Errorf("%w: failed to read strip data", errs.ErrCorruptedRaster)
		}
		r.RowOffset = minRow
		r.Data = samples
	}

	if len(pixelScale) >= 2 {
		r.PixelWidth = pixelScale[0]
		r.PixelHeight = pixelScale[1]
	}
	if len(tiepoint) >= 6 {
		r.OriginLon = tiepoint[3]
		r.OriginLat = tiepoint[4]
	}
	if r.PixelWidth == 0 || r.PixelHeight == 0 {
		return nil, fmt.Errorf("%w: missing ModelPixelScaleTag georeferencing", errs.ErrCorruptedRaster)
	}

	if modelType, ok := geoKeys[geoKeyModelType]; ok && modelType == modelTypeProjected {
		if epsg, ok := geoKeys[geoKeyProjected]; ok {
			r.EPSG = epsg
		}
	} else if epsg, ok := geoKeys[geoKeyGeographic]; ok {
		r.EPSG = epsg
	} else {
		r.EPSG = 4326
	}

	if raw, ok := entryASCII(data, order, entries, tagGDALNoData); ok {
		if v, err := parseFloatTrim(raw); err == nil {
			r.HasNoData = true
			r.NoData = v
		}
	}

	return r, nil
}

func readIFD(data []byte, order binary.ByteOrder, offset uint32) (entries map[uint16]ifdEntry, geoKeys map[int]int, pixelScale, tiepoint []float64, err error) {
	if int(offset)+2 > len(data) {
		return nil, nil, nil, nil, fmt.Errorf("%w: IFD offset out of range", errs.ErrCorruptedRaster)
	}
	count := order.Uint16(data[offset : offset+2])
	entries = make(map[uint16]ifdEntry, count)

	base := offset + 2
	for i := 0; i < int(count); i++ {
		off := int(base) + i*12
		if off+12 > len(data) {
			return nil, nil, nil, nil, fmt.Errorf("%w: IFD entry out of range", errs.ErrCorruptedRaster)
		}
		e := ifdEntry{
			tag:   order.Uint16(data[off : off+2]),
			typ:   order.Uint16(data[off+2 : off+4]),
			count: order.Uint32(data[off+4 : off+8]),
		}
		copy(e.rawValue[:], data[off+8:off+12])
		entries[e.tag] = e
	}

	if e, ok := entries[tagModelPixelScale]; ok {
		pixelScale = readDoubles(data, order, e)
	}
	if e, ok := entries[tagModelTiepoint]; ok {
		tiepoint = readDoubles(data, order, e)
	}
	if e, ok := entries[tagGeoKeyDirectory]; ok {
		geoKeys = readGeoKeys(data, order, e)
	}
	return entries, geoKeys, pixelScale, tiepoint, nil
}

func typeSize(typ uint16) int {
	switch typ {
	case 1, 2: // BYTE, ASCII
		return 1
	case 3: // SHORT
		return 2
	case 4, 9: // LONG, SLONG
		return 4
	case 5, 10: // RATIONAL, SRATIONAL
		return 8
	case 11: // FLOAT
		return 4
	case 12: // DOUBLE
		return 8
	default:
		return 1
	}
}

func valueBytes(data []byte, order binary.ByteOrder, e ifdEntry) []byte {
	n := int(e.count) * typeSize(e.typ)
	if n <= 4 {
		return e.rawValue[:n]
	}
	off := order.Uint32(e.rawValue[:])
	return data[off : int(off)+n]
}

func entryUint(entries map[uint16]ifdEntry, order binary.ByteOrder, tag uint16) (uint32, bool) {
	e, ok := entries[tag]
	if !ok || e.count == 0 {
		return 0, false
	}
	b := e.rawValue[:]
	switch e.typ {
	case 3: // SHORT
		return uint32(order.Uint16(b[:2])), true
	case 4: // LONG
		return order.Uint32(b[:4]), true
	default:
		return 0, false
	}
}

func readDoubles(data []byte, order binary.ByteOrder, e ifdEntry) []float64 {
	raw := valueBytes(data, order, e)
	out := make([]float64, 0, int(e.count))
	for i := 0; i+8 <= len(raw); i += 8 {
		bits := order.Uint64(raw[i : i+8])
		out = append(out, math.Float64frombits(bits))
	}
	return out
}

func readGeoKeys(data []byte, order binary.ByteOrder, e ifdEntry) map[int]int {
	raw := valueBytes(data, order, e)
	shorts := make([]uint16, 0, len(raw)/2)
	for i := 0; i+2 <= len(raw); i += 2 {
		shorts = append(shorts, order.Uint16(raw[i:i+2]))
	}
	out := make(map[int]int)
	if len(shorts) < 4 {
		return out
	}
	numKeys := int(shorts[3])
	for i := 0; i < numKeys; i++ {
		base := 4 + i*4
		if base+4 > len(shorts) {
			break
		}
		keyID := int(shorts[base])
		tiffTagLoc := shorts[base+1]
		value := int(shorts[base+3])
		if tiffTagLoc == 0 {
			out[keyID] = value
		}
	}
	return out
}

func entryASCII(data []byte, order binary.ByteOrder, entries map[uint16]ifdEntry, tag uint16) (string, bool) {
	e, ok := entries[tag]
	if !ok {
		return "", false
	}
	raw := valueBytes(data, order, e)
	return string(bytes.TrimRight(raw, "\x00")), true
}

func readFloatSamples(data []byte, order binary.ByteOrder, entries map[uint16]ifdEntry, width, height, minRow, maxRow int) []float32 {
	offsetsEntry, ok1 := entries[tagStripOffsets]
	countsEntry, ok2 := entries[tagStripByteCounts]
	if !ok1 || !ok2 {
		return nil
	}
	rowsPerStrip, ok := entryUint(entries, order, tagRowsPerStrip)
	if !ok || rowsPerStrip == 0 {
		rowsPerStrip = uint32(height)
	}

	offsets := readIntArray(data, order, offsetsEntry)
	counts := readIntArray(data, order, countsEntry)
	if len(counts) < len(offsets) {
		return nil
	}

	out := make([]float32, (maxRow-minRow)*width)
	row := 0
	for i := range offsets {
		if row >= maxRow {
			break
		}
		off := offsets[i]
		n := counts[i]
		if int(off)+int(n) > len(data) {
			return nil
		}
		strip := data[off : off+n]
		stripRows := int(n) / (width * 4)
		if stripRows > int(rowsPerStrip) {
			stripRows = int(rowsPerStrip)
		}
		for r := 0; r < stripRows && row < height; r++ {
			if row >= minRow && row < maxRow {
				for c := 0; c < width; c++ {
					b := strip[(r*width+c)*4 : (r*width+c)*4+4]
					bits := order.Uint32(b)
					out[(row-minRow)*width+c] = math.Float32frombits(bits)
				}
			}
			row++
		}
	}
	if row < maxRow {
		return nil
	}
	return out
}

func readIntArray(data []byte, order binary.ByteOrder, e ifdEntry) []uint32 {
	raw := valueBytes(data, order, e)
	size := typeSize(e.typ)
	out := make([]uint32, 0, int(e.count))
	for i := 0; i+size <= len(raw); i += size {
		switch size {
		case 2:
			out = append(out, uint32(order.Uint16(raw[i:i+2])))
		case 4:
			out = append(out, order.Uint32(raw[i:i+4]))
		}
	}
	return out
}

func parseFloatTrim(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
