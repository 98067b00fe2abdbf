package usb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/gousb"
)

// LibUSB reaches the device through libusb.
type LibUSB struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	done func()
	oe   *gousb.OutEndpoint
	ie   *gousb.InEndpoint
}

func OpenLibUSB(sel Selector) (l *LibUSB, err error) {
	defer wrapErr("OpenLibUSB", &err)

	ctx := gousb.NewContext()
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return sel.Match(desc.Bus, desc.Address, uint16(desc.Vendor), uint16(desc.Product))
	})
	if err != nil {
		for _, d := range devs {
			d.Close()
		}
		ctx.Close()
		return nil, err
	}
	if len(devs) != 1 {
		for _, d := range devs {
			d.Close()
		}
		ctx.Close()
		if len(devs) == 0 {
			return nil, ErrorNotFound
		}
		return nil, ErrorAmbiguous
	}

	l = &LibUSB{ctx: ctx, dev: devs[0]}
	defer func() {
		if err != nil {
			l.Close()
		}
	}()

	l.dev.SetAutoDetach(true)

	intf, done, err := l.dev.DefaultInterface()
	if err != nil {
		return nil, err
	}
	l.done = done

	var rxn, txn int
	for _, ed := range intf.Setting.Endpoints {
		if ed.TransferType != gousb.TransferTypeBulk {
			continue
		}
		if ed.Direction == gousb.EndpointDirectionIn {
			rxn = ed.Number
		} else {
			txn = ed.Number
		}
	}
	if rxn == 0 {
		return nil, errors.New("no USB IN endpoint in the USB interface")
	}
	if txn == 0 {
		return nil, errors.New("no USB OUT endpoint in the USB interface")
	}

	if l.ie, err = intf.InEndpoint(rxn); err != nil {
		return nil, err
	}
	if l.oe, err = intf.OutEndpoint(txn); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *LibUSB) BulkSend(p []byte) (err error) {
	defer wrapErr("BulkSend", &err)
	return chunks(p, func(p []byte) (int, error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return l.oe.WriteContext(ctx, p)
	})
}

func (l *LibUSB) BulkRecv(p []byte) (err error) {
	defer wrapErr("BulkRecv", &err)
	return chunks(p, func(p []byte) (int, error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return l.ie.ReadContext(ctx, p)
	})
}

func (l *LibUSB) Close() error {
	if l.done != nil {
		l.done()
		l.done = nil
	}

	var errs []error
	if l.dev != nil {
		errs = append(errs, l.dev.Close())
		l.dev = nil
	}
	if l.ctx != nil {
		errs = append(errs, l.ctx.Close())
		l.ctx = nil
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("usb: close: %w", err)
	}
	return nil
}
