//go:build !mips && !mipsle

// Real hardware access via direct USB, bypassing any kernel HID driver.
// Grounded on the teacher's internal/driver/device/usb_device.go, which
// does the same for a fixed Bitmain ASIC VID/PID; this generalizes the
// open/transfer shape to the device table and adds the non-blocking
// write contract C2 requires.

package transport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gousb"
)

const (
	usbConfigNum    = 1
	usbInterfaceNum = 0
	usbAltSetting   = 0
	usbOutEndpoint  = 0x01
	usbInEndpoint   = 0x81
)

// usbDevice is the hardware-backed Device implementation.
type usbDevice struct {
	ctx  *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	out  *gousb.OutEndpoint
	in   *gousb.InEndpoint

	info DeviceInfo

	writePending atomic.Bool

	mu          sync.Mutex
	lastRead    []byte
	haveRead    bool
	disconnected atomic.Bool
}

// Enumerate lists every connected, recognized device.
func Enumerate() ([]DeviceInfo, error) {
	ctx := gousb.NewContext()
	defer ctx.Close()

	var found []DeviceInfo
	_, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		caps, ok := CapabilitiesFor(uint16(desc.Vendor), uint16(desc.Product))
		if !ok {
			return false
		}
		entry, _ := lookup(uint16(desc.Vendor), uint16(desc.Product))
		found = append(found, DeviceInfo{
			VendorID:     uint16(desc.Vendor),
			ProductID:    uint16(desc.Product),
			ProductName:  entry.ProductName,
			Path:         desc.String(),
			Capabilities: caps,
		})
		return false // never actually open here; OpenDevices closes unselected ones
	})
	if err != nil {
		return nil, fmt.Errorf("transport: enumerate: %w", err)
	}
	return found, nil
}

// Open opens the device identified by vendorID/productID for torque
// writes and telemetry reads.
func Open(vendorID, productID uint16) (Device, error) {
	caps, ok := CapabilitiesFor(vendorID, productID)
	if !ok {
		return nil, fmt.Errorf("transport: open %04x:%04x: %w", vendorID, productID, ErrDeviceDisconnected)
	}
	entry, _ := lookup(vendorID, productID)

	ctx := gousb.NewContext()
	dev, err := ctx.OpenDeviceWithVIDPID(int(vendorID), int(productID))
	if err != nil || dev == nil {
		ctx.Close()
		return nil, fmt.Errorf("transport: open %04x:%04x: %w", vendorID, productID, ErrDeviceDisconnected)
	}

	cfg, err := dev.Config(usbConfigNum)
	if err != nil {
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("transport: claim config: %w", err)
	}
	intf, err := cfg.Interface(usbInterfaceNum, usbAltSetting)
	if err != nil {
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("transport: claim interface: %w", err)
	}
	out, err := intf.OutEndpoint(usbOutEndpoint)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("transport: claim out endpoint: %w", err)
	}
	in, err := intf.InEndpoint(usbInEndpoint)
	if err != nil {
		intf.Close()
		cfg.Close()
		dev.Close()
		ctx.Close()
		return nil, fmt.Errorf("transport: claim in endpoint: %w", err)
	}

	d := &usbDevice{
		ctx:  ctx,
		dev:  dev,
		cfg:  cfg,
		intf: intf,
		out:  out,
		in:   in,
		info: DeviceInfo{
			VendorID:     vendorID,
			ProductID:    productID,
			ProductName:  entry.ProductName,
			Capabilities: caps,
		},
	}
	go d.readLoop()
	return d, nil
}

// Write issues a non-blocking torque write. A previous write that has
// not yet completed returns ErrWritePending rather than blocking the
// caller — the RT loop counts this, never retries synchronously.
func (d *usbDevice) Write(ctx context.Context, report []byte) error {
	if d.disconnected.Load() {
		return ErrDeviceDisconnected
	}
	if !d.writePending.CompareAndSwap(false, true) {
		return ErrWritePending
	}

	result := make(chan error, 1)
	go func() {
		_, err := d.out.Write(report)
		if err != nil {
			d.disconnected.Store(true)
		}
		result <- err
		d.writePending.Store(false)
	}()

	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("transport: write: %w", ErrPipelineFault)
		}
		return nil
	case <-ctx.Done():
		// The transfer is still in flight; report pending rather than
		// blocking the caller past its deadline. writePending stays
		// true until the goroutine above clears it.
		return ErrWritePending
	case <-time.After(200 * time.Microsecond):
		return ErrTimingViolation
	}
}

func (d *usbDevice) readLoop() {
	buf := make([]byte, 64)
	for !d.disconnected.Load() {
		n, err := d.in.Read(buf)
		if err != nil {
			continue
		}
		if n == 0 {
			continue
		}
		d.mu.Lock()
		d.lastRead = append([]byte(nil), buf[:n]...)
		d.haveRead = true
		d.mu.Unlock()
	}
}

func (d *usbDevice) Read() ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.haveRead {
		return nil, false
	}
	d.haveRead = false
	return d.lastRead, true
}

func (d *usbDevice) Close() error {
	d.disconnected.Store(true)
	d.intf.Close()
	d.cfg.Close()
	d.dev.Close()
	d.ctx.Close()
	return nil
}

func (d *usbDevice) Info() DeviceInfo { return d.info }
