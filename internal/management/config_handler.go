package management

import (
	"fmt"
	"strings"
	"time"

	"screensync/internal/aggregator"
	"screensync/internal/core"
	"screensync/internal/hardware/comm"
	"screensync/internal/ipc"
	"screensync/internal/logging"
	"screensync/pkg/types"
)

// FieldStatus describes one telemetry field in a status report.
type FieldStatus struct {
	State     string        `json:"state"`
	Age       time.Duration `json:"age,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// StatusReport is the reply to a status request.
type StatusReport struct {
	Coordinator   core.Status            `json:"coordinator"`
	Fields        map[string]FieldStatus `json:"fields"`
	Providers     []string               `json:"providers"`
	Subscribers   int                    `json:"subscribers"`
	DroppedEvents uint64                 `json:"dropped_events"`
}

// ControlHandler serves the daemon's IPC requests.
type ControlHandler struct {
	coordinator *core.Coordinator
	sources     *Sources
	logger      *logging.Logger
}

func NewControlHandler(coordinator *core.Coordinator, sources *Sources) *ControlHandler {
	return &ControlHandler{
		coordinator: coordinator,
		sources:     sources,
		logger:      logging.GetLogger("control"),
	}
}

// Register installs the handlers on server.
func (ch *ControlHandler) Register(server *ipc.IPCServer) {
	server.RegisterHandler(types.MsgResync, ch.handleResync)
	server.RegisterHandler(types.MsgMode, ch.handleMode)
	server.RegisterHandler(types.MsgShutdown, ch.handleShutdown)
	server.RegisterHandler(types.MsgScreen, ch.handleScreen)
	server.RegisterHandler(types.MsgStatus, ch.handleStatus)
}

func (ch *ControlHandler) handleResync(msg types.IPCMessage) (map[string]interface{}, error) {
	ch.coordinator.Submit(types.Resync("ipc"))
	return map[string]interface{}{"queued": true}, nil
}

// handleMode accepts {"mode": name}; an empty name or "next" advances
// through the cycle.
func (ch *ControlHandler) handleMode(msg types.IPCMessage) (map[string]interface{}, error) {
	name, _ := msg.Data["mode"].(string)
	name = strings.TrimSpace(name)

	var target types.Mode
	if name != "" && name != "next" {
		m, err := types.ParseMode(name)
		if err != nil {
			return nil, err
		}
		target = m
	}
	ch.coordinator.Submit(types.ModeCycle(target, "ipc"))
	ch.logger.Info("Mode change requested", "client", msg.Source, "mode", name)
	return map[string]interface{}{"queued": true, "mode": string(target)}, nil
}

// handleScreen accepts {"action": name} for page navigation and clearing
// stored media.
func (ch *ControlHandler) handleScreen(msg types.IPCMessage) (map[string]interface{}, error) {
	action, _ := msg.Data["action"].(string)
	cmd, err := comm.ParseScreenAction(strings.TrimSpace(action))
	if err != nil {
		return nil, err
	}
	if err := ch.coordinator.Exec(cmd); err != nil {
		return nil, err
	}
	ch.logger.Info("Screen command requested", "client", msg.Source, "command", cmd.ID.String())
	return map[string]interface{}{"queued": true, "command": cmd.ID.String()}, nil
}

func (ch *ControlHandler) handleShutdown(msg types.IPCMessage) (map[string]interface{}, error) {
	ch.logger.Info("Shutdown requested over IPC", "client", msg.Source)
	ch.coordinator.Submit(types.Shutdown("ipc"))
	return map[string]interface{}{"queued": true}, nil
}

func (ch *ControlHandler) handleStatus(msg types.IPCMessage) (map[string]interface{}, error) {
	report := ch.Status()
	data, err := ipc.ToData(report)
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}
	return data, nil
}

// Status assembles the current status report.
func (ch *ControlHandler) Status() StatusReport {
	hub := ch.coordinator.Hub()
	report := StatusReport{
		Coordinator:   ch.coordinator.Status(),
		Fields:        make(map[string]FieldStatus),
		Subscribers:   hub.Subscribers(),
		DroppedEvents: hub.Dropped(),
	}
	if ch.sources == nil {
		return report
	}

	report.Providers = ch.sources.Jobs()
	snap := ch.sources.Aggregator.Current()
	add := func(f aggregator.Field, state aggregator.FieldState, at time.Time, lastErr string) {
		fs := FieldStatus{State: state.String(), LastError: lastErr}
		if !at.IsZero() {
			fs.Age = snap.At.Sub(at)
		}
		report.Fields[string(f)] = fs
	}
	add(aggregator.FieldCPUTemp, snap.CPUTemp.State, snap.CPUTemp.At, snap.CPUTemp.LastError)
	add(aggregator.FieldGPUTemp, snap.GPUTemp.State, snap.GPUTemp.At, snap.GPUTemp.LastError)
	add(aggregator.FieldWeather, snap.Weather.State, snap.Weather.At, snap.Weather.LastError)
	add(aggregator.FieldLocation, snap.Location.State, snap.Location.At, snap.Location.LastError)
	add(aggregator.FieldDownloadRate, snap.DownloadRate.State, snap.DownloadRate.At, snap.DownloadRate.LastError)
	return report
}
