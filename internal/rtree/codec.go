package rtree

import "encoding/binary"

// Component A: big-endian scalar codec, per spec section 4.A. Every
// multi-byte field on a node page or in a MATCH blob is big-endian.

func readU16(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

func writeU16(b []byte, v uint16) int {
	binary.BigEndian.PutUint16(b, v)
	return 2
}

func readCoord32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

func writeCoord32(b []byte, v uint32) int {
	binary.BigEndian.PutUint32(b, v)
	return 4
}

func readI64(b []byte) int64 {
	return int64(binary.BigEndian.Uint64(b))
}

func writeI64(b []byte, v int64) int {
	binary.BigEndian.PutUint64(b, uint64(v))
	return 8
}

// bytesPerCell returns 8 + 8*N, the fixed record size for a cell in an
// N-dimensional index.
func bytesPerCell(n int) int {
	return 8 + 8*n
}

// decodeCell reads one cell record (rowid + 2N coordinates) at offset off.
func decodeCell(data []byte, off int, n int, kind CoordKind) Cell {
	rowid := readI64(data[off : off+8])
	coords := make([]WideCoord, 2*n)
	p := off + 8
	for i := 0; i < 2*n; i++ {
		coords[i] = widenCoord(kind, readCoord32(data[p:p+4]))
		p += 4
	}
	return Cell{Rowid: rowid, Coords: coords}
}

// encodeCell writes a cell record at offset off. Coordinates are narrowed
// with the rounding rule appropriate to their lo/hi side so the stored
// envelope never shrinks what was requested.
func encodeCell(data []byte, off int, c Cell, n int, kind CoordKind) {
	writeI64(data[off:off+8], c.Rowid)
	p := off + 8
	for i := 0; i < 2*n; i++ {
		side := -1
		if i%2 == 1 {
			side = 1
		}
		narrow := narrowCoord(kind, c.Coords[i], side)
		writeCoord32(data[p:p+4], bitsOfCoord(kind, narrow))
		p += 4
	}
}
