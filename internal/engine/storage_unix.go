//go:build unix

package engine

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// StatfsProbe reports storage low when the filesystem holding Path has less
// than MinFreeBytes available to unprivileged users
type StatfsProbe struct {
	Path         string
	MinFreeBytes uint64
}

func (p *StatfsProbe) StorageLow() (bool, error) {
	free, err := p.FreeBytes()
	if err != nil {
		return false, err
	}
	return free < p.MinFreeBytes, nil
}

// FreeBytes returns the bytes available at Path
func (p *StatfsProbe) FreeBytes() (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(p.Path, &st); err != nil {
		return 0, fmt.Errorf("statfs %s: %w", p.Path, err)
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
