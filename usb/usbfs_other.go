//go:build !linux

package usb

import "errors"

type USBFS struct{}

func OpenUSBFS(sel Selector) (*USBFS, error) {
	return nil, &Error{"OpenUSBFS", errors.New("usbfs is only available on Linux, use the libusb backend")}
}

func (u *USBFS) BulkSend(p []byte) error { return errors.ErrUnsupported }
func (u *USBFS) BulkRecv(p []byte) error { return errors.ErrUnsupported }
func (u *USBFS) Close() error            { return nil }
