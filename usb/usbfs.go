//go:build linux

package usb

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

type bulkTransfer struct {
	Ep      uint32
	Len     uint32
	Timeout uint32 // milliseconds
	Data    uintptr
}

const (
	USBDEVFS_BULK             = 0xc0000000 | uint32(unsafe.Sizeof(bulkTransfer{}))<<16 | 'U'<<8 | 2
	USBDEVFS_CLAIMINTERFACE   = 0x8004550f
	USBDEVFS_RELEASEINTERFACE = 0x80045510
)

// USBFS talks to the device node directly, without libusb.
type USBFS struct {
	fd      int
	intf    uint32
	in, out uint8
}

// OpenUSBFS finds the device in sysfs and claims its first interface.
func OpenUSBFS(sel Selector) (u *USBFS, err error) {
	defer wrapErr("OpenUSBFS", &err)

	dev, err := findDevice(sysfsDevices, sel)
	if err != nil {
		return nil, err
	}
	in, out, err := bulkEndpoints(dev)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Open(dev.node(), unix.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}

	u = &USBFS{fd: fd, in: in, out: out}
	if err := u.ioctl(USBDEVFS_CLAIMINTERFACE, unsafe.Pointer(&u.intf)); err != nil {
		unix.Close(fd)
		return nil, err
	}

	return u, nil
}

func (u *USBFS) ioctl(req uint32, arg unsafe.Pointer) error {
	_, err := u.ioctlN(req, arg)
	return err
}

func (u *USBFS) ioctlN(req uint32, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(u.fd), uintptr(req), uintptr(arg))
	if errno != 0 {
		return 0, errno
	}
	return int(r), nil
}

func (u *USBFS) bulk(ep uint8, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}

	xfer := bulkTransfer{
		Ep:      uint32(ep),
		Len:     uint32(len(p)),
		Timeout: uint32(timeout.Milliseconds()),
		Data:    uintptr(unsafe.Pointer(&p[0])),
	}
	n, err := u.ioctlN(USBDEVFS_BULK, unsafe.Pointer(&xfer))
	runtime.KeepAlive(p)

	return n, err
}

func (u *USBFS) BulkSend(p []byte) (err error) {
	defer wrapErr("BulkSend", &err)
	return chunks(p, func(p []byte) (int, error) { return u.bulk(u.out, p) })
}

func (u *USBFS) BulkRecv(p []byte) (err error) {
	defer wrapErr("BulkRecv", &err)
	return chunks(p, func(p []byte) (int, error) { return u.bulk(u.in, p) })
}

func (u *USBFS) Close() error {
	if u.fd < 0 {
		return nil
	}

	u.ioctl(USBDEVFS_RELEASEINTERFACE, unsafe.Pointer(&u.intf))

	fd := u.fd
	u.fd = -1

	return unix.Close(fd)
}
