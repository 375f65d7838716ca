package protocol

import (
	"testing"

	"github.com/bergpinheiro/dashdocker/pkg/types"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	msg := NewNodeData(types.NodeUpdate{
		NodeID:    "worker-1",
		Timestamp: 1700000000000,
		Containers: []types.ContainerSnapshot{
			{ID: "abc", Name: "web", State: "running"},
		},
	})

	data, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage() error = %v", err)
	}

	decoded, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("DecodeMessage() error = %v", err)
	}
	if decoded.Type != TypeNodeData {
		t.Errorf("Type = %q, want %q", decoded.Type, TypeNodeData)
	}
	if decoded.ID != msg.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, msg.ID)
	}
	if decoded.Timestamp.IsZero() {
		t.Error("Timestamp not stamped on encode")
	}

	var update types.NodeUpdate
	if err := ParsePayload(decoded, &update); err != nil {
		t.Fatalf("ParsePayload() error = %v", err)
	}
	if update.NodeID != "worker-1" || len(update.Containers) != 1 {
		t.Errorf("payload not preserved: %+v", update)
	}
}

func TestNewRegisterAssignsID(t *testing.T) {
	a := NewRegister(types.RegistrationRequest{NodeID: "worker-1"})
	b := NewRegister(types.RegistrationRequest{NodeID: "worker-1"})

	if a.ID == "" || a.ID == b.ID {
		t.Errorf("registration IDs must be unique and non-empty, got %q and %q", a.ID, b.ID)
	}
}

func TestNewRegisteredCorrelates(t *testing.T) {
	req := NewRegister(types.RegistrationRequest{NodeID: "worker-1"})
	ack := NewRegistered(req.ID, types.RegistrationResponse{NodeID: "worker-1"})

	if ack.ID != req.ID {
		t.Errorf("ack ID = %q, want request ID %q", ack.ID, req.ID)
	}
}

func TestDecodeMessageRejectsGarbage(t *testing.T) {
	if _, err := DecodeMessage([]byte("{not json")); err == nil {
		t.Error("DecodeMessage() expected error for malformed input")
	}
}
