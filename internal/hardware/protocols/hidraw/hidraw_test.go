package hidraw

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screensync/internal/hardware/comm"
)

var (
	keyboardDesc = []byte{
		0x05, 0x01, 0x09, 0x06, 0xA1, 0x01,
		0x05, 0x07, 0x19, 0xE0, 0x29, 0xE7, 0x15, 0x00, 0x25, 0x01,
		0x75, 0x01, 0x95, 0x08, 0x81, 0x02,
		0xC0,
	}
	vendorDesc = []byte{
		0x06, 0x60, 0xFF, 0x09, 0x61, 0xA1, 0x01,
		0x09, 0x62, 0x15, 0x00, 0x26, 0xFF, 0x00, 0x95, 0x20, 0x75, 0x08, 0x81, 0x02,
		0x09, 0x63, 0x91, 0x02,
		0xC0,
	}
)

func TestParseDescriptor(t *testing.T) {
	assert.Equal(t, []Collection{{UsagePage: 0x01, Usage: 0x06}}, ParseDescriptor(keyboardDesc))
	assert.Equal(t, []Collection{{UsagePage: 0xFF60, Usage: 0x61}}, ParseDescriptor(vendorDesc))

	both := append(append([]byte{}, keyboardDesc...), vendorDesc...)
	assert.Len(t, ParseDescriptor(both), 2)

	// truncated descriptors yield what was parsed so far
	assert.Empty(t, ParseDescriptor([]byte{0x06, 0x60}))
}

func TestParseUevent(t *testing.T) {
	v, p, err := parseUevent([]byte("DRIVER=hid-generic\nHID_ID=0003:00001234:0000ABCD\nHID_NAME=Zoom65\n"))
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), v)
	assert.Equal(t, uint16(0xABCD), p)

	_, _, err = parseUevent([]byte("DRIVER=hid-generic\n"))
	assert.Error(t, err)
	_, _, err = parseUevent([]byte("HID_ID=0003:zz:0001\n"))
	assert.Error(t, err)
}

func fakeSysfs(t *testing.T) *Discovery {
	t.Helper()
	sys, dev := t.TempDir(), t.TempDir()
	add := func(name, uevent string, desc []byte) {
		dir := filepath.Join(sys, name, "device")
		require.NoError(t, os.MkdirAll(dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "uevent"), []byte(uevent), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "report_descriptor"), desc, 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dev, name), nil, 0o644))
	}
	add("hidraw0", "HID_ID=0003:00001234:00005678\n", keyboardDesc)
	add("hidraw1", "HID_ID=0003:00001234:00005678\n", vendorDesc)
	add("hidraw2", "HID_ID=0003:0000046D:0000C52B\n", keyboardDesc)
	// unreadable node
	require.NoError(t, os.MkdirAll(filepath.Join(sys, "hidraw3", "device"), 0o755))
	return &Discovery{SysRoot: sys, DevDir: dev}
}

func TestEnumerateAndFind(t *testing.T) {
	d := fakeSysfs(t)
	devices, err := d.Enumerate()
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, "hidraw0", devices[0].Name)

	dev, err := d.Find(Match{VendorID: 0x1234, ProductID: 0x5678, UsagePage: 0xFF60, Usage: 0x61})
	require.NoError(t, err)
	assert.Equal(t, "hidraw1", dev.Name)
	assert.Equal(t, filepath.Join(d.DevDir, "hidraw1"), dev.Path)

	dev, err = d.Find(Match{VendorID: 0x046D})
	require.NoError(t, err)
	assert.Equal(t, "hidraw2", dev.Name)

	_, err = d.Find(Match{VendorID: 0x1234, UsagePage: 0xFF00})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpener(t *testing.T) {
	d := fakeSysfs(t)
	open := d.Opener(Match{VendorID: 0x1234, UsagePage: 0xFF60}, "")
	port, info, err := open(context.Background())
	require.NoError(t, err)
	defer port.Close()
	assert.Equal(t, filepath.Join(d.DevDir, "hidraw1"), info.Path)
	assert.Equal(t, "hidraw", info.Transport)
	assert.Equal(t, uint16(0x5678), info.ProductID)

	_, _, err = d.Opener(Match{VendorID: 0x9999}, "")(context.Background())
	assert.True(t, comm.IsKind(err, comm.NotFound), "got %v", err)

	_, _, err = d.Opener(Match{}, filepath.Join(d.DevDir, "hidraw9"))(context.Background())
	assert.True(t, comm.IsKind(err, comm.NotFound), "got %v", err)
}
