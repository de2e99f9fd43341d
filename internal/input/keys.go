package input

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// KeyEvent is a key press or release from an input device.
type KeyEvent struct {
	Code    uint16
	Pressed bool
	Time    time.Time
}

// Linux input-event-codes for keys that make sense as triggers.
var keyCodes = map[string]uint16{
	"KEY_ESC":          1,
	"KEY_SCROLLLOCK":   70,
	"KEY_SYSRQ":        99,
	"KEY_HOME":         102,
	"KEY_END":          107,
	"KEY_INSERT":       110,
	"KEY_MUTE":         113,
	"KEY_VOLUMEDOWN":   114,
	"KEY_VOLUMEUP":     115,
	"KEY_PAUSE":        119,
	"KEY_PLAYPAUSE":    164,
	"KEY_NEXTSONG":     163,
	"KEY_PREVIOUSSONG": 165,
	"KEY_PROG1":        148,
	"KEY_PROG2":        149,
	"KEY_PROG3":        202,
	"KEY_PROG4":        203,
}

func init() {
	// F1-F10 are contiguous, F11/F12 and F13-F24 are not
	for i := 1; i <= 10; i++ {
		keyCodes[fmt.Sprintf("KEY_F%d", i)] = uint16(58 + i)
	}
	keyCodes["KEY_F11"] = 87
	keyCodes["KEY_F12"] = 88
	for i := 13; i <= 24; i++ {
		keyCodes[fmt.Sprintf("KEY_F%d", i)] = uint16(170 + i)
	}
}

// ParseKey resolves a key name such as "KEY_F13", or a raw "code:183".
func ParseKey(name string) (uint16, error) {
	name = strings.TrimSpace(name)
	if raw, ok := strings.CutPrefix(name, "code:"); ok {
		v, err := strconv.ParseUint(raw, 10, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid key code %q", raw)
		}
		return uint16(v), nil
	}
	upper := strings.ToUpper(name)
	if !strings.HasPrefix(upper, "KEY_") {
		upper = "KEY_" + upper
	}
	if code, ok := keyCodes[upper]; ok {
		return code, nil
	}
	return 0, fmt.Errorf("unknown key %q", name)
}

// KeyName returns the name for code, or "code:N".
func KeyName(code uint16) string {
	for name, c := range keyCodes {
		if c == code {
			return name
		}
	}
	return fmt.Sprintf("code:%d", code)
}
