// Package transport is the bridge's reference transport: it moves sensor
// telemetry, requests and responses between the Dispatcher and sensors over
// UDP sessions or serial-attached adapters, and can replay captured
// traffic.
//
// Every message travels in a Frame. Telemetry payloads are the sensor's raw
// variant batch; request and response payloads are CBOR.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/banshee-data/umrr-bridge/internal/radar"
)

// MessageType identifies a frame's payload.
type MessageType uint8

const (
	MsgTelemetry MessageType = 1
	MsgRequest   MessageType = 2
	MsgResponse  MessageType = 3
)

func (t MessageType) String() string {
	switch t {
	case MsgTelemetry:
		return "telemetry"
	case MsgRequest:
		return "request"
	case MsgResponse:
		return "response"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

const (
	frameVersion    = 1
	FrameHeaderSize = 8
	// MaxFrameSize bounds a frame to one UDP datagram.
	MaxFrameSize = 65507
)

// ErrMalformedFrame reports a frame that could not be parsed.
var ErrMalformedFrame = errors.New("malformed frame")

// Frame is one transport message.
//
//	off size field
//	0   2    magic "UB"
//	2   1    version (1)
//	3   1    message type
//	4   4    sensor id, big endian
//	8   n    payload
type Frame struct {
	SensorID uint32
	Type     MessageType
	Payload  []byte
}

// MarshalBinary encodes f.
func (f Frame) MarshalBinary() ([]byte, error) {
	if len(f.Payload) > MaxFrameSize-FrameHeaderSize {
		return nil, fmt.Errorf("frame payload of %d bytes exceeds %d", len(f.Payload), MaxFrameSize-FrameHeaderSize)
	}
	b := make([]byte, FrameHeaderSize+len(f.Payload))
	b[0], b[1], b[2], b[3] = 'U', 'B', frameVersion, byte(f.Type)
	binary.BigEndian.PutUint32(b[4:], f.SensorID)
	copy(b[FrameHeaderSize:], f.Payload)
	return b, nil
}

// ParseFrame decodes b. The returned payload aliases b.
func ParseFrame(b []byte) (Frame, error) {
	if len(b) < FrameHeaderSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(b))
	}
	if b[0] != 'U' || b[1] != 'B' {
		return Frame{}, fmt.Errorf("%w: bad magic", ErrMalformedFrame)
	}
	if b[2] != frameVersion {
		return Frame{}, fmt.Errorf("%w: version %d", ErrMalformedFrame, b[2])
	}
	t := MessageType(b[3])
	if t < MsgTelemetry || t > MsgResponse {
		return Frame{}, fmt.Errorf("%w: %s", ErrMalformedFrame, t)
	}
	return Frame{
		SensorID: binary.BigEndian.Uint32(b[4:]),
		Type:     t,
		Payload:  b[FrameHeaderSize:],
	}, nil
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("transport: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("transport: CBOR decoder initialization failed: " + err.Error())
	}
}

type requestBody struct {
	ClientID string `cbor:"1,keyasint"`
	Category uint8  `cbor:"2,keyasint"`
	Name     string `cbor:"3,keyasint,omitempty"`
	Value    int64  `cbor:"4,keyasint,omitempty"`
	Address  string `cbor:"5,keyasint,omitempty"`
}

type responseBody struct {
	ClientID string `cbor:"1,keyasint"`
	Status   uint8  `cbor:"2,keyasint"`
	Detail   string `cbor:"3,keyasint,omitempty"`
}

// RequestFrame builds the frame carrying req to sensorID under id.
func RequestFrame(sensorID uint32, id radar.ClientID, req radar.Request) (Frame, error) {
	body, err := encMode.Marshal(requestBody{
		ClientID: string(id),
		Category: uint8(req.Category),
		Name:     req.Name,
		Value:    req.Value,
		Address:  req.Address,
	})
	if err != nil {
		return Frame{}, err
	}
	return Frame{SensorID: sensorID, Type: MsgRequest, Payload: body}, nil
}

// ParseRequest decodes a request frame's payload. The slot is not carried
// on the wire and is left zero.
func ParseRequest(f Frame) (radar.ClientID, radar.Request, error) {
	if f.Type != MsgRequest {
		return "", radar.Request{}, fmt.Errorf("%w: %s is not a request", ErrMalformedFrame, f.Type)
	}
	var b requestBody
	if err := decMode.Unmarshal(f.Payload, &b); err != nil {
		return "", radar.Request{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return radar.ClientID(b.ClientID), radar.Request{
		Category: radar.Category(b.Category),
		Name:     b.Name,
		Value:    b.Value,
		Address:  b.Address,
	}, nil
}

// ResponseFrame builds the frame a sensor answers with.
func ResponseFrame(sensorID uint32, resp radar.Response) (Frame, error) {
	body, err := encMode.Marshal(responseBody{
		ClientID: string(resp.ClientID),
		Status:   uint8(resp.Status),
		Detail:   resp.Detail,
	})
	if err != nil {
		return Frame{}, err
	}
	return Frame{SensorID: sensorID, Type: MsgResponse, Payload: body}, nil
}

// ParseResponse decodes a response frame's payload.
func ParseResponse(f Frame) (radar.Response, error) {
	if f.Type != MsgResponse {
		return radar.Response{}, fmt.Errorf("%w: %s is not a response", ErrMalformedFrame, f.Type)
	}
	var b responseBody
	if err := decMode.Unmarshal(f.Payload, &b); err != nil {
		return radar.Response{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if b.ClientID == "" {
		return radar.Response{}, fmt.Errorf("%w: response without client id", ErrMalformedFrame)
	}
	return radar.Response{
		ClientID: radar.ClientID(b.ClientID),
		Status:   radar.ResponseStatus(b.Status),
		Detail:   b.Detail,
	}, nil
}
