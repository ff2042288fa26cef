// Package geotiff reads and writes single-band GeoTIFF rasters: pixel data
// plus the affine georeferencing transform and the EPSG coordinate reference
// system. It covers the subset the ingest path needs (stripped layout,
// uncompressed or deflate, one sample per pixel) without cgo.
package geotiff

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/rkm/satpipe/internal/grid"
)

// Raster is one band read from or written to a GeoTIFF file.
type Raster struct {
	Data *mat.Dense
	Grid grid.Grid
}

// TIFF tags used by the reader.
const (
	tagImageWidth          = 256
	tagImageLength         = 257
	tagBitsPerSample       = 258
	tagCompression         = 259
	tagPhotometric         = 262
	tagStripOffsets        = 273
	tagSamplesPerPixel     = 277
	tagRowsPerStrip        = 278
	tagStripByteCounts     = 279
	tagSampleFormat        = 339
	tagModelPixelScale     = 33550
	tagModelTiepoint       = 33922
	tagModelTransformation = 34264
	tagGeoKeyDirectory     = 34735
)

// GeoTIFF keys resolved to a CRS.
const (
	geoKeyGeographicType = 2048
	geoKeyProjectedCSType = 3072
)

const (
	compressionNone       = 1
	compressionDeflate    = 8
	compressionOldDeflate = 32946
)

const (
	sampleFormatUint  = 1
	sampleFormatInt   = 2
	sampleFormatFloat = 3
)

var errMalformed = errors.New("malformed GeoTIFF")

type ifdEntry struct {
	typ   uint16
	count uint32
	// raw is the 4-byte value/offset field.
	raw []byte
}

type parser struct {
	data  []byte
	order binary.ByteOrder
	tags  map[uint16]ifdEntry
}

// Read parses a single-band GeoTIFF file.
func Read(path string) (*Raster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	r, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return r, nil
}

func decode(data []byte) (*Raster, error) {
	p, err := newParser(data)
	if err != nil {
		return nil, err
	}

	width, err := p.scalar(tagImageWidth)
	if err != nil {
		return nil, err
	}
	height, err := p.scalar(tagImageLength)
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: image dimensions %dx%d", errMalformed, width, height)
	}
	if spp := p.scalarDefault(tagSamplesPerPixel, 1); spp != 1 {
		return nil, fmt.Errorf("%w: %d samples per pixel, want 1", errMalformed, spp)
	}

	bits := p.scalarDefault(tagBitsPerSample, 1)
	format := p.scalarDefault(tagSampleFormat, sampleFormatUint)
	compression := p.scalarDefault(tagCompression, compressionNone)

	samples, err := p.readStrips(width, height, bits, compression)
	if err != nil {
		return nil, err
	}

	values, err := toFloat64(samples, p.order, bits, format, width*height)
	if err != nil {
		return nil, err
	}

	g, err := p.readGrid(width, height)
	if err != nil {
		return nil, err
	}

	return &Raster{
		Data: mat.NewDense(height, width, values),
		Grid: g,
	}, nil
}

func newParser(data []byte) (*parser, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: truncated header", errMalformed)
	}
	var order binary.ByteOrder
	switch {
	case data[0] == 'I' && data[1] == 'I':
		order = binary.LittleEndian
	case data[0] == 'M' && data[1] == 'M':
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: bad byte-order mark", errMalformed)
	}
	if order.Uint16(data[2:4]) != 42 {
		return nil, fmt.Errorf("%w: bad magic", errMalformed)
	}

	ifdOffset := order.Uint32(data[4:8])
	if int(ifdOffset)+2 > len(data) {
		return nil, fmt.Errorf("%w: IFD offset out of range", errMalformed)
	}
	n := int(order.Uint16(data[ifdOffset : ifdOffset+2]))
	entries := data[ifdOffset+2:]
	if len(entries) < n*12 {
		return nil, fmt.Errorf("%w: truncated IFD", errMalformed)
	}

	tags := make(map[uint16]ifdEntry, n)
	for i := 0; i < n; i++ {
		e := entries[i*12 : i*12+12]
		tags[order.Uint16(e[0:2])] = ifdEntry{
			typ:   order.Uint16(e[2:4]),
			count: order.Uint32(e[4:8]),
			raw:   e[8:12],
		}
	}
	return &parser{data: data, order: order, tags: tags}, nil
}

var typeSizes = map[uint16]int{
	1: 1, // BYTE
	2: 1, // ASCII
	3: 2, // SHORT
	4: 4, // LONG
	5: 8, // RATIONAL
	11: 4, // FLOAT
	12: 8, // DOUBLE
}

// valueBytes returns the encoded value of an entry, following the offset when
// the value does not fit inline.
func (p *parser) valueBytes(e ifdEntry) ([]byte, error) {
	size, ok := typeSizes[e.typ]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported field type %d", errMalformed, e.typ)
	}
	total := size * int(e.count)
	if total <= 4 {
		return e.raw[:total], nil
	}
	off := int(p.order.Uint32(e.raw))
	if off+total > len(p.data) {
		return nil, fmt.Errorf("%w: field value out of range", errMalformed)
	}
	return p.data[off : off+total], nil
}

// ints reads an integer-typed tag value.
func (p *parser) ints(tag uint16) ([]int, error) {
	e, ok := p.tags[tag]
	if !ok {
		return nil, fmt.Errorf("%w: missing tag %d", errMalformed, tag)
	}
	raw, err := p.valueBytes(e)
	if err != nil {
		return nil, err
	}
	out := make([]int, e.count)
	for i := range out {
		switch e.typ {
		case 1:
			out[i] = int(raw[i])
		case 3:
			out[i] = int(p.order.Uint16(raw[i*2:]))
		case 4:
			out[i] = int(p.order.Uint32(raw[i*4:]))
		default:
			return nil, fmt.Errorf("%w: tag %d has non-integer type %d", errMalformed, tag, e.typ)
		}
	}
	return out, nil
}

// doubles reads a DOUBLE-typed tag value.
func (p *parser) doubles(tag uint16) ([]float64, error) {
	e, ok := p.tags[tag]
	if !ok {
		return nil, fmt.Errorf("%w: missing tag %d", errMalformed, tag)
	}
	if e.typ != 12 {
		return nil, fmt.Errorf("%w: tag %d has type %d, want DOUBLE", errMalformed, tag, e.typ)
	}
	raw, err := p.valueBytes(e)
	if err != nil {
		return nil, err
	}
	out := make([]float64, e.count)
	for i := range out {
		out[i] = math.Float64frombits(p.order.Uint64(raw[i*8:]))
	}
	return out, nil
}

func (p *parser) scalar(tag uint16) (int, error) {
	v, err := p.ints(tag)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 {
		return 0, fmt.Errorf("%w: empty tag %d", errMalformed, tag)
	}
	return v[0], nil
}

func (p *parser) scalarDefault(tag uint16, def int) int {
	v, err := p.scalar(tag)
	if err != nil {
		return def
	}
	return v
}

// readStrips concatenates the decoded strip payloads.
func (p *parser) readStrips(width, height, bits, compression int) ([]byte, error) {
	offsets, err := p.ints(tagStripOffsets)
	if err != nil {
		return nil, err
	}
	counts, err := p.ints(tagStripByteCounts)
	if err != nil {
		return nil, err
	}
	if len(offsets) != len(counts) {
		return nil, fmt.Errorf("%w: %d strip offsets vs %d byte counts", errMalformed, len(offsets), len(counts))
	}

	expected := width * height * bits / 8
	out := make([]byte, 0, expected)
	for i, off := range offsets {
		if off+counts[i] > len(p.data) {
			return nil, fmt.Errorf("%w: strip %d out of range", errMalformed, i)
		}
		raw := p.data[off : off+counts[i]]
		switch compression {
		case compressionNone:
			out = append(out, raw...)
		case compressionDeflate, compressionOldDeflate:
			zr, err := zlib.NewReader(bytes.NewReader(raw))
			if err != nil {
				return nil, fmt.Errorf("%w: strip %d: %v", errMalformed, i, err)
			}
			inflated, err := io.ReadAll(zr)
			zr.Close()
			if err != nil {
				return nil, fmt.Errorf("%w: strip %d: %v", errMalformed, i, err)
			}
			out = append(out, inflated...)
		default:
			return nil, fmt.Errorf("%w: unsupported compression %d", errMalformed, compression)
		}
	}
	if len(out) < expected {
		return nil, fmt.Errorf("%w: %d sample bytes, want %d", errMalformed, len(out), expected)
	}
	return out[:expected], nil
}

// toFloat64 converts raw sample bytes to pixel values.
func toFloat64(raw []byte, order binary.ByteOrder, bits, format, n int) ([]float64, error) {
	out := make([]float64, n)
	switch {
	case format == sampleFormatUint && bits == 8:
		for i := range out {
			out[i] = float64(raw[i])
		}
	case format == sampleFormatUint && bits == 16:
		for i := range out {
			out[i] = float64(order.Uint16(raw[i*2:]))
		}
	case format == sampleFormatUint && bits == 32:
		for i := range out {
			out[i] = float64(order.Uint32(raw[i*4:]))
		}
	case format == sampleFormatInt && bits == 16:
		for i := range out {
			out[i] = float64(int16(order.Uint16(raw[i*2:])))
		}
	case format == sampleFormatInt && bits == 32:
		for i := range out {
			out[i] = float64(int32(order.Uint32(raw[i*4:])))
		}
	case format == sampleFormatFloat && bits == 32:
		for i := range out {
			out[i] = float64(math.Float32frombits(order.Uint32(raw[i*4:])))
		}
	case format == sampleFormatFloat && bits == 64:
		for i := range out {
			out[i] = math.Float64frombits(order.Uint64(raw[i*8:]))
		}
	default:
		return nil, fmt.Errorf("%w: unsupported sample format %d with %d bits", errMalformed, format, bits)
	}
	return out, nil
}

// readGrid derives the affine transform and CRS from GeoTIFF tags.
func (p *parser) readGrid(width, height int) (grid.Grid, error) {
	var tr grid.Affine
	switch {
	case p.has(tagModelTransformation):
		m, err := p.doubles(tagModelTransformation)
		if err != nil {
			return grid.Grid{}, err
		}
		if len(m) != 16 {
			return grid.Grid{}, fmt.Errorf("%w: model transformation has %d values", errMalformed, len(m))
		}
		tr = grid.Affine{A: m[0], B: m[1], C: m[3], D: m[4], E: m[5], F: m[7]}
	case p.has(tagModelPixelScale) && p.has(tagModelTiepoint):
		scale, err := p.doubles(tagModelPixelScale)
		if err != nil {
			return grid.Grid{}, err
		}
		tie, err := p.doubles(tagModelTiepoint)
		if err != nil {
			return grid.Grid{}, err
		}
		if len(scale) < 2 || len(tie) < 6 {
			return grid.Grid{}, fmt.Errorf("%w: incomplete georeferencing tags", errMalformed)
		}
		// Tiepoint (i, j, k) -> (x, y, z) anchors the transform.
		tr = grid.Affine{
			A: scale[0],
			C: tie[3] - tie[0]*scale[0],
			E: -scale[1],
			F: tie[4] + tie[1]*scale[1],
		}
	default:
		return grid.Grid{}, fmt.Errorf("%w: no georeferencing tags", errMalformed)
	}

	return grid.Grid{
		Transform: tr,
		Width:     width,
		Height:    height,
		CRS:       p.readCRS(),
	}, nil
}

func (p *parser) has(tag uint16) bool {
	_, ok := p.tags[tag]
	return ok
}

// readCRS extracts the EPSG code from the GeoKey directory. An empty string
// is returned when the file carries no recognizable CRS key.
func (p *parser) readCRS() string {
	keys, err := p.ints(tagGeoKeyDirectory)
	if err != nil || len(keys) < 4 {
		return ""
	}
	// Directory header is 4 shorts; each key is (id, location, count, value).
	geographic := 0
	for i := 4; i+3 < len(keys); i += 4 {
		id, location, value := keys[i], keys[i+1], keys[i+3]
		if location != 0 {
			continue
		}
		switch id {
		case geoKeyProjectedCSType:
			return fmt.Sprintf("EPSG:%d", value)
		case geoKeyGeographicType:
			geographic = value
		}
	}
	if geographic != 0 {
		return fmt.Sprintf("EPSG:%d", geographic)
	}
	return ""
}
