// Package hidraw finds the screen's HID interface through sysfs and opens
// its /dev/hidraw node.
package hidraw

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"screensync/internal/hardware/comm"
	"screensync/internal/hardware/protocols/report"
	"screensync/internal/logging"
)

const (
	DefaultSysRoot = "/sys/class/hidraw"
	DefaultDevDir  = "/dev"
)

var ErrNotFound = errors.New("no matching hidraw device")

// Match selects a HID interface. Zero fields match anything.
type Match struct {
	VendorID  uint16
	ProductID uint16
	UsagePage uint16
	Usage     uint16
}

// Collection is a top-level application collection of a report descriptor.
type Collection struct {
	UsagePage uint16
	Usage     uint16
}

// Device is one hidraw node.
type Device struct {
	Name        string // hidraw3
	Path        string // /dev/hidraw3
	VendorID    uint16
	ProductID   uint16
	Collections []Collection
}

func (d Device) matches(m Match) bool {
	if m.VendorID != 0 && d.VendorID != m.VendorID {
		return false
	}
	if m.ProductID != 0 && d.ProductID != m.ProductID {
		return false
	}
	if m.UsagePage == 0 && m.Usage == 0 {
		return true
	}
	for _, c := range d.Collections {
		if (m.UsagePage == 0 || c.UsagePage == m.UsagePage) && (m.Usage == 0 || c.Usage == m.Usage) {
			return true
		}
	}
	return false
}

// Discovery walks a sysfs hidraw class directory.
type Discovery struct {
	SysRoot string
	DevDir  string
}

func NewDiscovery() *Discovery {
	return &Discovery{SysRoot: DefaultSysRoot, DevDir: DefaultDevDir}
}

// Enumerate lists every hidraw node, sorted by name. Nodes whose sysfs
// entries cannot be read are skipped.
func (d *Discovery) Enumerate() ([]Device, error) {
	entries, err := os.ReadDir(d.SysRoot)
	if err != nil {
		return nil, err
	}
	logger := logging.GetLogger("hidraw")

	var devices []Device
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "hidraw") {
			continue
		}
		dir := filepath.Join(d.SysRoot, name, "device")
		dev, err := readDevice(dir)
		if err != nil {
			logger.Debug("Skipping hidraw node", "name", name, "error", err)
			continue
		}
		dev.Name = name
		dev.Path = filepath.Join(d.DevDir, name)
		devices = append(devices, dev)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Name < devices[j].Name })
	return devices, nil
}

// Find returns the first node matching m.
func (d *Discovery) Find(m Match) (Device, error) {
	devices, err := d.Enumerate()
	if err != nil {
		return Device{}, err
	}
	for _, dev := range devices {
		if dev.matches(m) {
			return dev, nil
		}
	}
	return Device{}, fmt.Errorf("%w (vendor %04x product %04x usage %04x:%04x)",
		ErrNotFound, m.VendorID, m.ProductID, m.UsagePage, m.Usage)
}

// Opener returns a report.Opener. A non-empty path skips discovery.
func (d *Discovery) Opener(m Match, path string) report.Opener {
	return func(ctx context.Context) (report.Port, comm.DeviceInfo, error) {
		info := comm.DeviceInfo{Path: path, Transport: "hidraw", VendorID: m.VendorID, ProductID: m.ProductID}
		if path == "" {
			dev, err := d.Find(m)
			if err != nil {
				return nil, info, comm.NewError(comm.NotFound, "open", err)
			}
			info.Path, info.VendorID, info.ProductID = dev.Path, dev.VendorID, dev.ProductID
		}

		f, err := os.OpenFile(info.Path, os.O_RDWR, 0)
		if err != nil {
			return nil, info, comm.Classify("open", err)
		}
		return f, info, nil
	}
}

func readDevice(dir string) (Device, error) {
	var dev Device
	uevent, err := os.ReadFile(filepath.Join(dir, "uevent"))
	if err != nil {
		return dev, err
	}
	dev.VendorID, dev.ProductID, err = parseUevent(uevent)
	if err != nil {
		return dev, err
	}
	desc, err := os.ReadFile(filepath.Join(dir, "report_descriptor"))
	if err != nil {
		return dev, err
	}
	dev.Collections = ParseDescriptor(desc)
	return dev, nil
}

// parseUevent reads the HID_ID line, formatted bus:vendor:product in hex.
func parseUevent(data []byte) (vendor, product uint16, err error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		id, ok := strings.CutPrefix(sc.Text(), "HID_ID=")
		if !ok {
			continue
		}
		parts := strings.Split(id, ":")
		if len(parts) != 3 {
			return 0, 0, fmt.Errorf("malformed HID_ID %q", id)
		}
		v, err := strconv.ParseUint(parts[1], 16, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("vendor id: %w", err)
		}
		p, err := strconv.ParseUint(parts[2], 16, 32)
		if err != nil {
			return 0, 0, fmt.Errorf("product id: %w", err)
		}
		return uint16(v), uint16(p), nil
	}
	return 0, 0, errors.New("no HID_ID in uevent")
}

// ParseDescriptor returns the usage of every top-level collection in a HID
// report descriptor.
func ParseDescriptor(desc []byte) []Collection {
	var (
		out   []Collection
		page  uint16
		usage uint32
		have  bool
		depth int
	)
	for i := 0; i < len(desc); {
		prefix := desc[i]
		if prefix == 0xFE {
			// long item: size, tag, data
			if i+1 >= len(desc) {
				break
			}
			i += 3 + int(desc[i+1])
			continue
		}
		size := int(prefix & 0x03)
		if size == 3 {
			size = 4
		}
		if i+1+size > len(desc) {
			break
		}
		var value uint32
		for j := 0; j < size; j++ {
			value |= uint32(desc[i+1+j]) << (8 * j)
		}
		i += 1 + size

		kind := (prefix >> 2) & 0x03
		tag := prefix >> 4
		switch {
		case kind == 1 && tag == 0x0: // usage page
			page = uint16(value)
		case kind == 2 && tag == 0x0: // usage
			if !have {
				usage, have = value, true
				if size < 4 {
					usage |= uint32(page) << 16
				}
			}
		case kind == 0 && tag == 0xA: // collection
			if depth == 0 && have {
				out = append(out, Collection{UsagePage: uint16(usage >> 16), Usage: uint16(usage)})
			}
			depth++
			have = false
		case kind == 0 && tag == 0xC: // end collection
			if depth > 0 {
				depth--
			}
			have = false
		case kind == 0: // input, output, feature
			have = false
		}
	}
	return out
}
