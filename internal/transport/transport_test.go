package transport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsSupportedIdempotent(t *testing.T) {
	for i := 0; i < 5; i++ {
		require.True(t, IsSupported(0x3153, 0x0001))
		require.False(t, IsSupported(0xFFFF, 0xFFFF))
	}
}

func TestCapabilitiesForKnownDevicesAreValid(t *testing.T) {
	for _, e := range deviceTable {
		caps, ok := CapabilitiesFor(e.VendorID, e.ProductID)
		require.True(t, ok)
		require.GreaterOrEqual(t, caps.MaxTorqueNm, 0.0)
		require.NoError(t, caps.Validate())
	}
}

func TestDeviceCapabilitiesValidate(t *testing.T) {
	bad := DeviceCapabilities{
		SupportsRawTorque1kHz: true,
		MaxTorqueNm:           10,
		EncoderCPR:            1024,
		MinReportPeriodUs:     2000, // violates the <=1100us invariant
	}
	require.Error(t, bad.Validate())

	bad.MinReportPeriodUs = 1000
	require.NoError(t, bad.Validate())
}

func TestSessionCacheInvalidation(t *testing.T) {
	c := NewSessionCache()
	c.Set("usb:1", "raw-torque-1khz")
	v, ok := c.Get("usb:1")
	require.True(t, ok)
	require.Equal(t, "raw-torque-1khz", v)

	c.Invalidate("usb:1")
	_, ok = c.Get("usb:1")
	require.False(t, ok)
}
