//go:build !linux

package affinity

func setAffinity(cpu int) error {
	return ErrUnsupported
}
