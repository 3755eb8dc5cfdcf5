package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/umrr-bridge/internal/radar"
)

// Client calls radar.v1.SensorControl.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a client over cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) call(ctx context.Context, method string, fields map[string]any) (radar.Ack, error) {
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return radar.Ack{}, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return radar.Ack{}, err
	}
	m := out.AsMap()
	accepted, _ := m["accepted"].(bool)
	id, _ := m["client_id"].(string)
	return radar.Ack{Accepted: accepted, ClientID: radar.ClientID(id)}, nil
}

// SetMode sets an instruction parameter on the sensor in slot.
func (c *Client) SetMode(ctx context.Context, slot int, instruction string, value int64) (radar.Ack, error) {
	return c.call(ctx, "SetMode", map[string]any{"slot": slot, "instruction": instruction, "value": value})
}

// SetIP moves the sensor in slot to address.
func (c *Client) SetIP(ctx context.Context, slot int, address string) (radar.Ack, error) {
	return c.call(ctx, "SetIp", map[string]any{"slot": slot, "address": address})
}

// SendCommand runs a named command on the sensor in slot.
func (c *Client) SendCommand(ctx context.Context, slot int, command string, value int64) (radar.Ack, error) {
	return c.call(ctx, "SendCommand", map[string]any{"slot": slot, "command": command, "value": value})
}
