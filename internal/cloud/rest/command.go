package rest

import (
	"time"

	"github.com/google/uuid"
)

// PendingCommand is one device-mutating request heading for the signed
// channel. Commands are sent exactly once per call; the vendor does not
// guarantee idempotency, so retry policy belongs to the caller.
//
// Template carries the device-specific command envelope (cmdSet/cmdId or
// cmdFunc, per the device's command catalog) and is treated as opaque:
// its keys are merged into the request body next to sn and params.
type PendingCommand struct {
	ID       string
	DeviceSN string
	Template map[string]any
	Params   map[string]any
	IssuedAt time.Time
}

// NewCommand builds a PendingCommand with a fresh ID and issue timestamp.
//
// Parameters:
//   - deviceSN: Target device serial number
//   - template: Opaque command envelope from the device catalog
//   - params: Command parameters, nested values allowed
//
// Returns:
//   - PendingCommand: Ready to pass to Client.SendCommand
func NewCommand(deviceSN string, template, params map[string]any) PendingCommand {
	return PendingCommand{
		ID:       uuid.NewString(),
		DeviceSN: deviceSN,
		Template: template,
		Params:   params,
		IssuedAt: time.Now(),
	}
}

// body assembles the JSON request body: sn, the template keys, then params.
func (c PendingCommand) body() map[string]any {
	body := make(map[string]any, len(c.Template)+2)
	body["sn"] = c.DeviceSN
	for key, value := range c.Template {
		body[key] = value
	}
	if c.Params != nil {
		body["params"] = c.Params
	}
	return body
}
