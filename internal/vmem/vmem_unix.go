//go:build unix

package vmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Reserve maps numBytes of PROT_NONE address space.
func Reserve(numBytes uintptr) (*Region, error) {
	return ReserveAligned(numBytes, 0)
}

// ReserveAligned maps numBytes of PROT_NONE address space whose base is
// aligned to 1<<alignLog2 bytes. Alignment beyond the page size is
// achieved by over-reserving; the excess stays mapped but unused.
func ReserveAligned(numBytes uintptr, alignLog2 uint) (*Region, error) {
	pageSize := uintptr(unix.Getpagesize())
	mapBytes := roundUp(numBytes, pageSize)

	align := uintptr(1) << alignLog2
	if align > pageSize {
		mapBytes += align
	}

	full, err := unix.Mmap(-1, 0, int(mapBytes),
		unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("vmem: reserve %d bytes: %w", mapBytes, err)
	}

	base := full
	if align > pageSize {
		addr := sliceAddr(full)
		skip := roundUp(addr, align) - addr
		base = full[skip : skip+roundUp(numBytes, pageSize)]
	}

	return &Region{full: full, base: base, pagemin: pageSize}, nil
}

// Commit makes [offset, offset+numBytes) of the reservation readable
// and writable. The range is rounded out to page boundaries.
func (r *Region) Commit(offset, numBytes uintptr) error {
	if err := checkCommitRange(r, offset, numBytes); err != nil {
		return err
	}
	if numBytes == 0 {
		return nil
	}
	start := offset &^ (r.pagemin - 1)
	end := roundUp(offset+numBytes, r.pagemin)
	if err := unix.Mprotect(r.base[start:end], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("vmem: commit [%d, %d): %w", start, end, err)
	}
	return nil
}

// Release unmaps the entire reservation.
func (r *Region) Release() error {
	if r.full == nil {
		return nil
	}
	err := unix.Munmap(r.full)
	r.full = nil
	r.base = nil
	return err
}
