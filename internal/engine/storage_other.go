//go:build !unix

package engine

// StatfsProbe is unavailable on this platform; storage is never reported low
type StatfsProbe struct {
	Path         string
	MinFreeBytes uint64
}

func (p *StatfsProbe) StorageLow() (bool, error) {
	return false, nil
}

func (p *StatfsProbe) FreeBytes() (uint64, error) {
	return 0, nil
}
