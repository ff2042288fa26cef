package geotiff

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
)

// Write encodes a raster as a little-endian, single-strip, uncompressed
// GeoTIFF with 64-bit float samples. The grid must be north-up (no rotation
// terms); that is the only form the writer emits.
func Write(path string, r *Raster) error {
	data, err := encode(r)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

type tagWriter struct {
	order binary.ByteOrder
	// entries holds fixed 12-byte IFD entries; external holds out-of-line
	// values appended after the IFD.
	entries  []byte
	external []byte
	// externalBase is the file offset where external values start.
	externalBase int
	count        int
}

func (w *tagWriter) add(tag, typ uint16, count uint32, value []byte) {
	entry := make([]byte, 12)
	w.order.PutUint16(entry[0:2], tag)
	w.order.PutUint16(entry[2:4], typ)
	w.order.PutUint32(entry[4:8], count)
	if len(value) <= 4 {
		copy(entry[8:12], value)
	} else {
		w.order.PutUint32(entry[8:12], uint32(w.externalBase+len(w.external)))
		w.external = append(w.external, value...)
	}
	w.entries = append(w.entries, entry...)
	w.count++
}

func (w *tagWriter) addShort(tag uint16, v uint16) {
	raw := make([]byte, 2)
	w.order.PutUint16(raw, v)
	w.add(tag, 3, 1, raw)
}

func (w *tagWriter) addLong(tag uint16, v uint32) {
	raw := make([]byte, 4)
	w.order.PutUint32(raw, v)
	w.add(tag, 4, 1, raw)
}

func (w *tagWriter) addDoubles(tag uint16, vs []float64) {
	raw := make([]byte, 8*len(vs))
	for i, v := range vs {
		w.order.PutUint64(raw[i*8:], math.Float64bits(v))
	}
	w.add(tag, 12, uint32(len(vs)), raw)
}

func (w *tagWriter) addShorts(tag uint16, vs []uint16) {
	raw := make([]byte, 2*len(vs))
	for i, v := range vs {
		w.order.PutUint16(raw[i*2:], v)
	}
	w.add(tag, 3, uint32(len(vs)), raw)
}

func encode(r *Raster) ([]byte, error) {
	g := r.Grid
	rows, cols := r.Data.Dims()
	if rows != g.Height || cols != g.Width {
		return nil, fmt.Errorf("array shape (%d,%d) does not match grid %s", rows, cols, g)
	}
	if g.Transform.B != 0 || g.Transform.D != 0 {
		return nil, fmt.Errorf("rotated transforms are not supported")
	}

	const nTags = 13
	order := binary.LittleEndian

	// Layout: header, IFD, external tag values, pixel data.
	ifdOffset := 8
	externalBase := ifdOffset + 2 + nTags*12 + 4

	w := &tagWriter{order: order, externalBase: externalBase}

	geoKeys := geoKeyDirectory(g.CRS)
	externalSize := 3*8 + 6*8 + 2*len(geoKeys) // pixel scale + tiepoint + geokeys
	stripOffset := externalBase + externalSize
	stripBytes := rows * cols * 8

	// Tags must appear in ascending tag order.
	w.addLong(tagImageWidth, uint32(cols))
	w.addLong(tagImageLength, uint32(rows))
	w.addShort(tagBitsPerSample, 64)
	w.addShort(tagCompression, compressionNone)
	w.addShort(tagPhotometric, 1) // BlackIsZero
	w.addLong(tagStripOffsets, uint32(stripOffset))
	w.addShort(tagSamplesPerPixel, 1)
	w.addLong(tagRowsPerStrip, uint32(rows))
	w.addLong(tagStripByteCounts, uint32(stripBytes))
	w.addShort(tagSampleFormat, sampleFormatFloat)
	w.addDoubles(tagModelPixelScale, []float64{g.Transform.A, -g.Transform.E, 0})
	w.addDoubles(tagModelTiepoint, []float64{0, 0, 0, g.Transform.C, g.Transform.F, 0})
	w.addShorts(tagGeoKeyDirectory, geoKeys)

	if w.count != nTags {
		return nil, fmt.Errorf("internal: wrote %d tags, expected %d", w.count, nTags)
	}

	out := make([]byte, 0, stripOffset+stripBytes)
	out = append(out, 'I', 'I', 42, 0)
	hdr := make([]byte, 4)
	order.PutUint32(hdr, uint32(ifdOffset))
	out = append(out, hdr...)

	cnt := make([]byte, 2)
	order.PutUint16(cnt, uint16(nTags))
	out = append(out, cnt...)
	out = append(out, w.entries...)
	out = append(out, 0, 0, 0, 0) // next IFD offset: none
	out = append(out, w.external...)

	pix := make([]byte, stripBytes)
	i := 0
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			order.PutUint64(pix[i:], math.Float64bits(r.Data.At(row, col)))
			i += 8
		}
	}
	out = append(out, pix...)
	return out, nil
}

// geoKeyDirectory builds the minimal key set declaring a projected EPSG CRS.
func geoKeyDirectory(crs string) []uint16 {
	epsg := 0
	if code, ok := strings.CutPrefix(crs, "EPSG:"); ok {
		epsg, _ = strconv.Atoi(code)
	}
	if epsg == 0 {
		// Version header with no keys.
		return []uint16{1, 1, 0, 0}
	}
	return []uint16{
		1, 1, 0, 2,
		1024, 0, 1, 1, // GTModelType: projected
		geoKeyProjectedCSType, 0, 1, uint16(epsg),
	}
}
