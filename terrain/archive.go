package terrain

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"
	"sort"

	"github.com/pkg/errors"
)

// Archive layout: a fixed header, a gzip-compressed varint directory, then
// the concatenated tile payloads. Directory entries are sorted by tile ID
// (Hilbert order within each zoom) and delta-encoded, so archives covering
// contiguous regions stay small.
const (
	archiveMagic   = "PLT1"
	archiveVersion = 1
)

// archiveEntry locates one tile's payload within the blob section.
type archiveEntry struct {
	tileID uint64
	offset uint64
	length uint64
}

// TileID converts z/x/y to an archive tile ID: the number of tiles on all
// lower zoom levels plus the Hilbert index within this level.
func TileID(z, x, y int) uint64 {
	if z == 0 {
		return 0
	}
	var acc uint64
	for i := 0; i < z; i++ {
		n := uint64(1) << uint(i)
		acc += n * n
	}
	return acc + xyToHilbert(uint64(x), uint64(y), uint64(1)<<uint(z))
}

// xyToHilbert converts (x, y) to a Hilbert curve index for an n x n grid.
// n must be a power of two.
func xyToHilbert(x, y, n uint64) uint64 {
	var d uint64
	s := n / 2
	for s > 0 {
		var rx, ry uint64
		if (x & s) > 0 {
			rx = 1
		}
		if (y & s) > 0 {
			ry = 1
		}
		d += s * s * ((3 * rx) ^ ry)
		// Rotate quadrant.
		if ry == 0 {
			if rx == 1 {
				x = s*2 - 1 - x
				y = s*2 - 1 - y
			}
			x, y = y, x
		}
		s /= 2
	}
	return d
}

// ArchiveSource serves tiles out of a packed archive blob.
type ArchiveSource struct {
	format string
	blob   []byte
	index  map[uint64]archiveEntry
}

// OpenArchive parses an archive from its raw bytes. The blob is retained
// and sliced on fetch; it must not be mutated afterwards.
func OpenArchive(blob []byte) (*ArchiveSource, error) {
	r := bytes.NewReader(blob)

	magic := make([]byte, 4)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, errors.Wrap(err, "terrain: reading archive magic")
	}
	if string(magic) != archiveMagic {
		return nil, errors.Errorf("terrain: bad archive magic %q", magic)
	}
	version, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "terrain: reading archive version")
	}
	if version != archiveVersion {
		return nil, errors.Errorf("terrain: unsupported archive version %d", version)
	}
	formatLen, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "terrain: reading archive format")
	}
	formatBuf := make([]byte, formatLen)
	if _, err := io.ReadFull(r, formatBuf); err != nil {
		return nil, errors.Wrap(err, "terrain: reading archive format")
	}

	var dirLen uint32
	if err := binary.Read(r, binary.LittleEndian, &dirLen); err != nil {
		return nil, errors.Wrap(err, "terrain: reading directory length")
	}
	dirData := make([]byte, dirLen)
	if _, err := io.ReadFull(r, dirData); err != nil {
		return nil, errors.Wrap(err, "terrain: reading directory")
	}

	entries, err := deserializeDirectory(dirData)
	if err != nil {
		return nil, err
	}

	blobStart := len(blob) - r.Len()
	index := make(map[uint64]archiveEntry, len(entries))
	for _, e := range entries {
		if int(e.offset+e.length) > len(blob)-blobStart {
			return nil, errors.Errorf("terrain: entry for tile %d exceeds archive size", e.tileID)
		}
		index[e.tileID] = e
	}

	return &ArchiveSource{
		format: string(formatBuf),
		blob:   blob[blobStart:],
		index:  index,
	}, nil
}

// FetchTile implements Source.
func (a *ArchiveSource) FetchTile(z, x, y int) ([]byte, string, error) {
	e, ok := a.index[TileID(z, x, y)]
	if !ok {
		return nil, "", ErrTileNotFound
	}
	return a.blob[e.offset : e.offset+e.length], a.format, nil
}

// Len returns the number of tiles in the archive.
func (a *ArchiveSource) Len() int { return len(a.index) }

// ArchiveWriter accumulates tiles and serializes them into an archive blob.
type ArchiveWriter struct {
	format string
	blobs  bytes.Buffer
	dir    []archiveEntry
}

// NewArchiveWriter creates a writer for tiles in the given payload format.
func NewArchiveWriter(format string) *ArchiveWriter {
	return &ArchiveWriter{format: format}
}

// WriteTile appends one tile payload.
func (w *ArchiveWriter) WriteTile(z, x, y int, data []byte) error {
	id := TileID(z, x, y)
	for _, e := range w.dir {
		if e.tileID == id {
			return errors.Errorf("terrain: duplicate tile %d/%d/%d", z, x, y)
		}
	}
	w.dir = append(w.dir, archiveEntry{
		tileID: id,
		offset: uint64(w.blobs.Len()),
		length: uint64(len(data)),
	})
	w.blobs.Write(data)
	return nil
}

// Finish serializes the archive.
func (w *ArchiveWriter) Finish() ([]byte, error) {
	dirData, err := serializeDirectory(w.dir)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.WriteString(archiveMagic)
	out.WriteByte(archiveVersion)
	out.WriteByte(byte(len(w.format)))
	out.WriteString(w.format)
	if err := binary.Write(&out, binary.LittleEndian, uint32(len(dirData))); err != nil {
		return nil, errors.Wrap(err, "terrain: writing directory length")
	}
	out.Write(dirData)
	out.Write(w.blobs.Bytes())
	return out.Bytes(), nil
}

// serializeDirectory produces a gzip-compressed directory: a varint entry
// count, delta-encoded tile IDs, then lengths and offsets.
func serializeDirectory(entries []archiveEntry) ([]byte, error) {
	sorted := make([]archiveEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].tileID < sorted[j].tileID })

	var raw bytes.Buffer
	buf := make([]byte, binary.MaxVarintLen64)
	putUvarint := func(v uint64) {
		n := binary.PutUvarint(buf, v)
		raw.Write(buf[:n])
	}

	putUvarint(uint64(len(sorted)))
	var lastID uint64
	for _, e := range sorted {
		putUvarint(e.tileID - lastID)
		lastID = e.tileID
	}
	for _, e := range sorted {
		putUvarint(e.length)
	}
	for _, e := range sorted {
		putUvarint(e.offset)
	}

	var out bytes.Buffer
	gz := gzip.NewWriter(&out)
	if _, err := gz.Write(raw.Bytes()); err != nil {
		return nil, errors.Wrap(err, "terrain: compressing directory")
	}
	if err := gz.Close(); err != nil {
		return nil, errors.Wrap(err, "terrain: compressing directory")
	}
	return out.Bytes(), nil
}

func deserializeDirectory(data []byte) ([]archiveEntry, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "terrain: decompressing directory")
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, errors.Wrap(err, "terrain: decompressing directory")
	}

	r := bytes.NewReader(raw)
	count, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, errors.Wrap(err, "terrain: reading entry count")
	}

	entries := make([]archiveEntry, count)
	var lastID uint64
	for i := range entries {
		delta, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, errors.Wrap(err, "terrain: reading tile id")
		}
		lastID += delta
		entries[i].tileID = lastID
	}
	for i := range entries {
		if entries[i].length, err = binary.ReadUvarint(r); err != nil {
			return nil, errors.Wrap(err, "terrain: reading tile length")
		}
	}
	for i := range entries {
		if entries[i].offset, err = binary.ReadUvarint(r); err != nil {
			return nil, errors.Wrap(err, "terrain: reading tile offset")
		}
	}
	return entries, nil
}
