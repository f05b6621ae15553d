//go:build !linux

package card

import "errors"

func powerOff() error {
	return errors.New("power off is only supported on linux")
}
