package comm

import (
	"fmt"
	"time"

	"github.com/x448/float16"
)

// CommandID selects a screen command.
type CommandID uint16

const (
	CmdScreenUp       CommandID = 0x0201
	CmdScreenDown     CommandID = 0x0202
	CmdScreenSwitch   CommandID = 0x0203
	CmdResetScreen    CommandID = 0x0204
	CmdSetTime        CommandID = 0x0301
	CmdSetWeather     CommandID = 0x0302
	CmdSetSystemInfo  CommandID = 0x0303
	CmdUploadStart    CommandID = 0x0401
	CmdUploadLength   CommandID = 0x0402
	CmdUploadEnd      CommandID = 0x0403
	CmdClearImage     CommandID = 0x0501
	CmdClearAnimation CommandID = 0x0502
)

var commandNames = map[CommandID]string{
	CmdScreenUp:       "screen_up",
	CmdScreenDown:     "screen_down",
	CmdScreenSwitch:   "screen_switch",
	CmdResetScreen:    "reset_screen",
	CmdSetTime:        "set_time",
	CmdSetWeather:     "set_weather",
	CmdSetSystemInfo:  "set_system_info",
	CmdUploadStart:    "upload_start",
	CmdUploadLength:   "upload_length",
	CmdUploadEnd:      "upload_end",
	CmdClearImage:     "clear_image",
	CmdClearAnimation: "clear_animation",
}

func (id CommandID) String() string {
	if s, ok := commandNames[id]; ok {
		return s
	}
	return fmt.Sprintf("cmd(0x%04x)", uint16(id))
}

// MaxArgs is the largest argument block a single report can carry.
const MaxArgs = 27

// Command is one screen command with its argument bytes.
type Command struct {
	ID   CommandID
	Args []byte
}

func (c Command) String() string {
	return fmt.Sprintf("%s%v", c.ID, c.Args)
}

// Icon is the weather glyph the screen draws next to the temperature.
type Icon uint8

const (
	IconDayClear Icon = iota
	IconDayPartlyCloudy
	IconDayPartlyRainy
	IconNightPartlyCloudy
	IconNightClear
	IconCloudy
	IconRainy
	IconSnowfall
	IconThunderstorm
)

func ResetScreen() Command  { return Command{ID: CmdResetScreen} }
func ScreenUp() Command     { return Command{ID: CmdScreenUp} }
func ScreenDown() Command   { return Command{ID: CmdScreenDown} }
func ScreenSwitch() Command { return Command{ID: CmdScreenSwitch} }
func ClearImage() Command   { return Command{ID: CmdClearImage} }

func ClearAnimation() Command {
	return Command{ID: CmdClearAnimation}
}

var screenActions = map[string]func() Command{
	"up":              ScreenUp,
	"down":            ScreenDown,
	"switch":          ScreenSwitch,
	"reset":           ResetScreen,
	"clear_image":     ClearImage,
	"clear_animation": ClearAnimation,
}

// ScreenActions lists the names ParseScreenAction accepts.
func ScreenActions() []string {
	return []string{"up", "down", "switch", "reset", "clear_image", "clear_animation"}
}

// ParseScreenAction returns the navigation or housekeeping command named
// by action.
func ParseScreenAction(action string) (Command, error) {
	build, ok := screenActions[action]
	if !ok {
		return Command{}, fmt.Errorf("unknown screen action %q", action)
	}
	return build(), nil
}

// SetTime sets the screen clock. The year is sent without its century.
func SetTime(t time.Time) Command {
	return Command{ID: CmdSetTime, Args: []byte{
		byte(t.Year() % 100),
		byte(t.Month()),
		byte(t.Day()),
		byte(t.Hour()),
		byte(t.Minute()),
		byte(t.Second()),
	}}
}

// SetWeather sets the weather widget. Temperatures are whole °C clamped to
// a byte.
func SetWeather(icon Icon, current, low, high float64) Command {
	return Command{ID: CmdSetWeather, Args: []byte{byte(icon), clampByte(current), clampByte(low), clampByte(high)}}
}

// SetSystemInfo sets the CPU and GPU temperatures (°C) and the download
// rate (MB/s, sent as a big-endian half float).
func SetSystemInfo(cpu, gpu float64, downloadRate float64) Command {
	bits := float16.Fromfloat32(float32(downloadRate)).Bits()
	return Command{ID: CmdSetSystemInfo, Args: []byte{clampByte(cpu), clampByte(gpu), byte(bits >> 8), byte(bits)}}
}

// DownloadRate decodes the half float carried by a SetSystemInfo command.
func DownloadRate(c Command) (float32, bool) {
	if c.ID != CmdSetSystemInfo || len(c.Args) < 4 {
		return 0, false
	}
	return float16.Frombits(uint16(c.Args[2])<<8 | uint16(c.Args[3])).Float32(), true
}

func clampByte(v float64) byte {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return byte(v + 0.5)
	}
}
