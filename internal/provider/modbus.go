package provider

import (
	"context"
	"fmt"
)

// RegisterReader reads one 16-bit Modbus register.
type RegisterReader interface {
	ReadRegister(ctx context.Context, address uint16, input bool) (uint16, error)
}

// ModbusTemp reads a temperature sensor exposed as a Modbus register,
// e.g. a coolant loop sensor. The raw value is a signed 16-bit integer
// multiplied by Scale.
type ModbusTemp struct {
	Reader        RegisterReader
	Register      uint16
	InputRegister bool
	Scale         float64
}

func (m *ModbusTemp) Name() string {
	return fmt.Sprintf("modbus:%d", m.Register)
}

func (m *ModbusTemp) Poll(ctx context.Context) (float64, error) {
	raw, err := m.Reader.ReadRegister(ctx, m.Register, m.InputRegister)
	if err != nil {
		return 0, err
	}
	scale := m.Scale
	if scale == 0 {
		scale = 1
	}
	return float64(int16(raw)) * scale, nil
}
