package proc

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// MemRegion represents one mapped memory region of a process, as
// described by spec.md §3 "MemMap entry": a half-open [start, end) and
// a path. Only file-backed entries are retained by MemRegions.
type MemRegion struct {
	Address     [2]uintptr
	Permissions string
	Offset      uint64
	Device      string
	Inode       uint64
	Pathname    string
}

// MemRegions returns the mapped memory regions of the process that have
// a backing path, read from /proc/PID/maps.
func (pid Process) MemRegions() ([]MemRegion, error) {
	file, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	regions := make([]MemRegion, 0)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var region MemRegion

		// incomplete lines (e.g. in a stripped binary) would otherwise
		// trip up Sscanf's %s/%\d conversions; reject them up front.
		fields := strings.Fields(scanner.Text())
		if len(fields) != 6 {
			continue
		}

		// address           perms offset  dev   inode   pathname
		// 08048000-08056000 r-xp 00000000 03:0c 64593   /usr/sbin/gpm
		fmt.Sscanf(scanner.Text(), "%x-%x %s %x %s %d %s",
			&region.Address[0], &region.Address[1],
			&region.Permissions,
			&region.Offset,
			&region.Device,
			&region.Inode,
			&region.Pathname)

		if region.Pathname == "" {
			continue
		}

		regions = append(regions, region)
	}

	return regions, scanner.Err()
}

// FindRegion returns the MemRegion containing addr, if any, matching
// spec.md §4.B's find_region(addr, size).
func FindRegion(regions []MemRegion, addr uintptr) (MemRegion, bool) {
	for _, r := range regions {
		if addr >= r.Address[0] && addr < r.Address[1] {
			return r, true
		}
	}
	return MemRegion{}, false
}

// SharedLibs returns the distinct shared-library paths mapped into the
// process, identified by a ".so" suffix (allowing an optional version
// suffix such as "libm.so.6").
func (pid Process) SharedLibs() ([]string, error) {
	regions, err := pid.MemRegions()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var libs []string
	for _, r := range regions {
		if !isSharedLib(r.Pathname) || seen[r.Pathname] {
			continue
		}
		seen[r.Pathname] = true
		libs = append(libs, r.Pathname)
	}
	return libs, nil
}

func isSharedLib(path string) bool {
	idx := strings.Index(path, ".so")
	if idx < 0 {
		return false
	}
	rest := path[idx+len(".so"):]
	return rest == "" || rest[0] == '.'
}

// LoadBase returns the first zero-offset region whose path equals
// exePath, used as the tracee's va_base (spec.md §3 Tracee invariant).
func LoadBase(regions []MemRegion, exePath string) (uintptr, bool) {
	for _, r := range regions {
		if r.Offset == 0 && r.Pathname == exePath {
			return r.Address[0], true
		}
	}
	return 0, false
}
