package protocol

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/bergpinheiro/dashdocker/pkg/types"
)

// Message types exchanged over the agent websocket.
const (
	TypeRegister   = "register"
	TypeRegistered = "registered"
	TypeNodeData   = "node_data"
	TypeError      = "error"
)

// EncodeMessage encodes a message to JSON bytes, stamping the send time.
func EncodeMessage(msg *types.Message) ([]byte, error) {
	msg.Timestamp = time.Now().UTC()
	return json.Marshal(msg)
}

// DecodeMessage decodes JSON bytes to a message.
func DecodeMessage(data []byte) (*types.Message, error) {
	var msg types.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// NewRegister creates the registration handshake message.
func NewRegister(req types.RegistrationRequest) *types.Message {
	return &types.Message{
		Type:    TypeRegister,
		ID:      uuid.New().String(),
		Payload: req,
	}
}

// NewRegistered creates the acknowledgement for a registration, correlated
// by the request's ID.
func NewRegistered(requestID string, resp types.RegistrationResponse) *types.Message {
	return &types.Message{
		Type:    TypeRegistered,
		ID:      requestID,
		Payload: resp,
	}
}

// NewNodeData wraps one collection cycle's push.
func NewNodeData(update types.NodeUpdate) *types.Message {
	return &types.Message{
		Type:    TypeNodeData,
		ID:      uuid.New().String(),
		Payload: update,
	}
}

// NewError creates an error message, correlated to the offending request
// when its ID is known.
func NewError(requestID string, err error) *types.Message {
	return &types.Message{
		Type:  TypeError,
		ID:    requestID,
		Error: err.Error(),
	}
}

// ParsePayload parses the payload of a decoded message into the target
// type. Decoding leaves payloads as generic maps; re-marshalling converts
// them to the concrete struct.
func ParsePayload(msg *types.Message, target interface{}) error {
	data, err := json.Marshal(msg.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}
