// Package zarr persists raster datasets as zarr v2 group stores: one 2-D
// array per band sharing y/x dimensions, zlib-compressed C-order chunks,
// free-form group attributes, and consolidated metadata for fast reopen.
// Writes are whole-store overwrite; there is no update-in-place.
package zarr

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/rkm/satpipe/internal/grid"
	"github.com/rkm/satpipe/internal/raster"
)

const (
	zarrFormat = 2
	// chunkRows bounds the row extent of a chunk; columns are kept whole so
	// chunk files map to contiguous row blocks.
	chunkRows = 256

	groupKey        = ".zgroup"
	attrsKey        = ".zattrs"
	arrayKey        = ".zarray"
	consolidatedKey = ".zmetadata"

	attrBandOrder = "band_order"
	attrTransform = "transform"
	attrCRS       = "crs"
	attrDims      = "_ARRAY_DIMENSIONS"
)

type groupMeta struct {
	ZarrFormat int `json:"zarr_format"`
}

type compressorMeta struct {
	ID    string `json:"id"`
	Level int    `json:"level"`
}

type arrayMeta struct {
	ZarrFormat int             `json:"zarr_format"`
	Shape      []int           `json:"shape"`
	Chunks     []int           `json:"chunks"`
	DType      string          `json:"dtype"`
	Compressor *compressorMeta `json:"compressor"`
	FillValue  float64         `json:"fill_value"`
	Order      string          `json:"order"`
	Filters    any             `json:"filters"`
}

type consolidatedMeta struct {
	Metadata     map[string]json.RawMessage `json:"metadata"`
	Consolidated int                        `json:"zarr_consolidated_format"`
}

// Write persists a dataset at path, replacing any existing store. The store
// is assembled in a sibling staging directory and moved into place, so a
// failing write never leaves a partial store at path.
func Write(path string, ds *raster.Dataset) error {
	staging := path + ".partial"
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("clear staging dir: %w", err)
	}
	if err := writeStore(staging, ds); err != nil {
		os.RemoveAll(staging)
		return err
	}
	if err := os.RemoveAll(path); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("replace store %s: %w", path, err)
	}
	if err := os.Rename(staging, path); err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("move store into place: %w", err)
	}
	return nil
}

func writeStore(root string, ds *raster.Dataset) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	consolidated := make(map[string]json.RawMessage)

	put := func(key string, v any) error {
		raw, err := json.MarshalIndent(v, "", "    ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		if err := os.WriteFile(filepath.Join(root, filepath.FromSlash(key)), raw, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", key, err)
		}
		consolidated[key] = raw
		return nil
	}

	if err := put(groupKey, groupMeta{ZarrFormat: zarrFormat}); err != nil {
		return err
	}

	groupAttrs := make(map[string]any, len(ds.Attrs)+1)
	for k, v := range ds.Attrs {
		groupAttrs[k] = v
	}
	groupAttrs[attrBandOrder] = ds.BandNames()
	if err := put(attrsKey, groupAttrs); err != nil {
		return err
	}

	for _, name := range ds.BandNames() {
		band, _ := ds.Band(name)
		if err := os.MkdirAll(filepath.Join(root, name), 0o755); err != nil {
			return fmt.Errorf("create array dir %s: %w", name, err)
		}

		rows, cols := band.Data.Dims()
		chunks := []int{min(rows, chunkRows), cols}
		meta := arrayMeta{
			ZarrFormat: zarrFormat,
			Shape:      []int{rows, cols},
			Chunks:     chunks,
			DType:      "<f8",
			Compressor: &compressorMeta{ID: "zlib", Level: 5},
			FillValue:  0,
			Order:      "C",
			Filters:    nil,
		}
		if err := put(name+"/"+arrayKey, meta); err != nil {
			return err
		}

		t := band.Grid.Transform
		arrayAttrs := map[string]any{
			attrDims:      []string{"y", "x"},
			attrTransform: []float64{t.A, t.B, t.C, t.D, t.E, t.F},
			attrCRS:       band.Grid.CRS,
		}
		if err := put(name+"/"+attrsKey, arrayAttrs); err != nil {
			return err
		}

		if err := writeChunks(filepath.Join(root, name), band.Data, chunks); err != nil {
			return fmt.Errorf("band %s: %w", name, err)
		}
	}

	raw, err := json.MarshalIndent(consolidatedMeta{Metadata: consolidated, Consolidated: 1}, "", "    ")
	if err != nil {
		return fmt.Errorf("encode consolidated metadata: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, consolidatedKey), raw, 0o644); err != nil {
		return fmt.Errorf("write consolidated metadata: %w", err)
	}
	return nil
}

// writeChunks stores the array as zlib-compressed row-block chunks. Edge
// chunks are padded to the full chunk shape with the fill value, per the
// zarr v2 layout.
func writeChunks(dir string, data *mat.Dense, chunks []int) error {
	rows, cols := data.Dims()
	ch, cw := chunks[0], chunks[1]
	for ci := 0; ci*ch < rows; ci++ {
		buf := make([]byte, ch*cw*8)
		for r := 0; r < ch; r++ {
			srcRow := ci*ch + r
			if srcRow >= rows {
				break
			}
			for c := 0; c < cw && c < cols; c++ {
				binary.LittleEndian.PutUint64(buf[(r*cw+c)*8:], math.Float64bits(data.At(srcRow, c)))
			}
		}

		var compressed bytes.Buffer
		zw, err := zlib.NewWriterLevel(&compressed, 5)
		if err != nil {
			return err
		}
		if _, err := zw.Write(buf); err != nil {
			zw.Close()
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}

		name := fmt.Sprintf("%d.0", ci)
		if err := os.WriteFile(filepath.Join(dir, name), compressed.Bytes(), 0o644); err != nil {
			return fmt.Errorf("write chunk %s: %w", name, err)
		}
	}
	return nil
}

// Read opens a store written by Write, preferring consolidated metadata.
func Read(path string) (*raster.Dataset, error) {
	meta, err := loadMetadata(path)
	if err != nil {
		return nil, err
	}

	var groupAttrs map[string]any
	if raw, ok := meta[attrsKey]; ok {
		if err := json.Unmarshal(raw, &groupAttrs); err != nil {
			return nil, fmt.Errorf("decode group attrs: %w", err)
		}
	}

	names := bandOrder(groupAttrs, meta)
	if len(names) == 0 {
		return nil, fmt.Errorf("store %s has no arrays", path)
	}

	var ds *raster.Dataset
	for _, name := range names {
		band, err := readArray(path, name, meta)
		if err != nil {
			return nil, fmt.Errorf("band %s: %w", name, err)
		}
		if ds == nil {
			ds = raster.NewDataset(band.Grid)
		}
		if err := ds.AddBand(band); err != nil {
			return nil, err
		}
	}

	for k, v := range groupAttrs {
		if k == attrBandOrder {
			continue
		}
		if s, ok := v.(string); ok {
			ds.Attrs[k] = s
		}
	}
	return ds, nil
}

// loadMetadata returns the metadata documents of the store keyed by store
// path, reading .zmetadata when present and walking the directory otherwise.
func loadMetadata(root string) (map[string]json.RawMessage, error) {
	if raw, err := os.ReadFile(filepath.Join(root, consolidatedKey)); err == nil {
		var cm consolidatedMeta
		if err := json.Unmarshal(raw, &cm); err != nil {
			return nil, fmt.Errorf("decode consolidated metadata: %w", err)
		}
		return cm.Metadata, nil
	}

	meta := make(map[string]json.RawMessage)
	if raw, err := os.ReadFile(filepath.Join(root, attrsKey)); err == nil {
		meta[attrsKey] = raw
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		if raw, err := os.ReadFile(filepath.Join(root, name, arrayKey)); err == nil {
			meta[name+"/"+arrayKey] = raw
		}
		if raw, err := os.ReadFile(filepath.Join(root, name, attrsKey)); err == nil {
			meta[name+"/"+attrsKey] = raw
		}
	}
	return meta, nil
}

// bandOrder recovers the band ordering, preferring the band_order group
// attribute and falling back to sorted array names.
func bandOrder(groupAttrs map[string]any, meta map[string]json.RawMessage) []string {
	if order, ok := groupAttrs[attrBandOrder].([]any); ok {
		names := make([]string, 0, len(order))
		for _, v := range order {
			if s, ok := v.(string); ok {
				names = append(names, s)
			}
		}
		if len(names) > 0 {
			return names
		}
	}

	var names []string
	for key := range meta {
		if dir, base, ok := splitKey(key); ok && base == arrayKey {
			names = append(names, dir)
		}
	}
	sort.Strings(names)
	return names
}

func splitKey(key string) (dir, base string, ok bool) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return key[:i], key[i+1:], true
		}
	}
	return "", key, false
}

func readArray(root, name string, meta map[string]json.RawMessage) (*raster.Band, error) {
	rawArray, ok := meta[name+"/"+arrayKey]
	if !ok {
		return nil, fmt.Errorf("missing array metadata")
	}
	var am arrayMeta
	if err := json.Unmarshal(rawArray, &am); err != nil {
		return nil, fmt.Errorf("decode array metadata: %w", err)
	}
	if len(am.Shape) != 2 || len(am.Chunks) != 2 {
		return nil, fmt.Errorf("array is not 2-D")
	}
	if am.DType != "<f8" {
		return nil, fmt.Errorf("unsupported dtype %s", am.DType)
	}
	if am.Compressor != nil && am.Compressor.ID != "zlib" {
		return nil, fmt.Errorf("unsupported compressor %s", am.Compressor.ID)
	}

	var arrayAttrs struct {
		Transform []float64 `json:"transform"`
		CRS       string    `json:"crs"`
	}
	if raw, ok := meta[name+"/"+attrsKey]; ok {
		if err := json.Unmarshal(raw, &arrayAttrs); err != nil {
			return nil, fmt.Errorf("decode array attrs: %w", err)
		}
	}
	if len(arrayAttrs.Transform) != 6 {
		return nil, fmt.Errorf("missing or malformed transform attribute")
	}

	rows, cols := am.Shape[0], am.Shape[1]
	ch, cw := am.Chunks[0], am.Chunks[1]
	data := mat.NewDense(rows, cols, nil)

	for ci := 0; ci*ch < rows; ci++ {
		for cj := 0; cj*cw < cols; cj++ {
			buf, err := readChunk(filepath.Join(root, name, fmt.Sprintf("%d.%d", ci, cj)), am.Compressor != nil)
			if err != nil {
				return nil, err
			}
			if len(buf) < ch*cw*8 {
				return nil, fmt.Errorf("chunk %d.%d: %d bytes, want %d", ci, cj, len(buf), ch*cw*8)
			}
			for r := 0; r < ch; r++ {
				dstRow := ci*ch + r
				if dstRow >= rows {
					break
				}
				for c := 0; c < cw; c++ {
					dstCol := cj*cw + c
					if dstCol >= cols {
						break
					}
					bits := binary.LittleEndian.Uint64(buf[(r*cw+c)*8:])
					data.Set(dstRow, dstCol, math.Float64frombits(bits))
				}
			}
		}
	}

	g := grid.Grid{
		Transform: grid.Affine{
			A: arrayAttrs.Transform[0], B: arrayAttrs.Transform[1], C: arrayAttrs.Transform[2],
			D: arrayAttrs.Transform[3], E: arrayAttrs.Transform[4], F: arrayAttrs.Transform[5],
		},
		Width:  cols,
		Height: rows,
		CRS:    arrayAttrs.CRS,
	}
	return raster.NewBand(name, data, g)
}

func readChunk(path string, compressed bool) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chunk: %w", err)
	}
	if !compressed {
		return raw, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("open chunk: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("inflate chunk: %w", err)
	}
	return out, nil
}
