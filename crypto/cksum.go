package crypto

import (
	"fmt"
	"hash"
	"io"
	"os"
)

// cksumPoly is the CRC-32 generator used by POSIX cksum, processed MSB first.
const cksumPoly = 0x04C11DB7

var cksumTable = makeCksumTable()

func makeCksumTable() [256]uint32 {
	var table [256]uint32
	for i := range table {
		crc := uint32(i) << 24
		for bit := 0; bit < 8; bit++ {
			if crc&0x80000000 != 0 {
				crc = crc<<1 ^ cksumPoly
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

// Cksum computes the POSIX cksum value incrementally. It is not a plain
// CRC-32: Sum32 folds the total byte length into the register and
// complements the result.
type Cksum struct {
	crc  uint32
	size uint64
}

var _ hash.Hash32 = (*Cksum)(nil)

// NewCksum returns a zeroed cksum accumulator.
func NewCksum() *Cksum {
	return &Cksum{}
}

// Write folds p into the running register. It never fails.
func (c *Cksum) Write(p []byte) (int, error) {
	c.crc = cksumUpdate(c.crc, p)
	c.size += uint64(len(p))
	return len(p), nil
}

// Sum32 returns the checksum of everything written so far.
func (c *Cksum) Sum32() uint32 {
	crc := c.crc
	for n := c.size; n != 0; n >>= 8 {
		crc = crc<<8 ^ cksumTable[byte(crc>>24)^byte(n)]
	}
	return ^crc
}

// Sum appends the big-endian checksum to b.
func (c *Cksum) Sum(b []byte) []byte {
	s := c.Sum32()
	return append(b, byte(s>>24), byte(s>>16), byte(s>>8), byte(s))
}

// Reset clears the accumulator.
func (c *Cksum) Reset() {
	c.crc = 0
	c.size = 0
}

// Size returns 4.
func (c *Cksum) Size() int { return 4 }

// BlockSize returns 1.
func (c *Cksum) BlockSize() int { return 1 }

// Checksum returns the POSIX cksum of data.
func Checksum(data []byte) uint32 {
	c := Cksum{}
	_, _ = c.Write(data)
	return c.Sum32()
}

// FileChecksum returns the POSIX cksum of the file at path.
func FileChecksum(path string) (uint32, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open file for checksum: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	c := NewCksum()
	if _, err := io.Copy(c, file); err != nil {
		return 0, fmt.Errorf("checksum file: %w", err)
	}
	return c.Sum32(), nil
}

func cksumUpdate(crc uint32, p []byte) uint32 {
	for _, b := range p {
		crc = crc<<8 ^ cksumTable[byte(crc>>24)^b]
	}
	return crc
}
