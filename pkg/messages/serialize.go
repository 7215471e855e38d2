package messages

import (
	"encoding/json"
	"fmt"
)

// SerializeMessages encodes packets as one frame: a JSON array of command objects.
func SerializeMessages(packets ...Packet) ([]byte, error) {
	frame := make([]json.RawMessage, 0, len(packets))
	for _, p := range packets {
		b, err := SerializePacket(p)
		if err != nil {
			return nil, err
		}
		frame = append(frame, b)
	}
	b, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame: %w", err)
	}
	return b, nil
}

// SerializePacket encodes one packet as a command object.
func SerializePacket(p Packet) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", p.Command(), err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("%s does not encode to an object: %w", p.Command(), err)
	}
	cmd, _ := json.Marshal(p.Command())
	fields["cmd"] = cmd
	return json.Marshal(fields)
}

// DeserializeMessages splits a frame into its command objects.
func DeserializeMessages(data []byte) ([]*Message, error) {
	var frame []json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	out := make([]*Message, 0, len(frame))
	for i, raw := range frame {
		var head struct {
			Cmd string `json:"cmd"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("failed to unmarshal command %d: %w", i, err)
		}
		if head.Cmd == "" {
			return nil, fmt.Errorf("command %d has no cmd field", i)
		}
		out = append(out, &Message{Cmd: head.Cmd, Payload: raw})
	}
	return out, nil
}

// Decode unmarshals the message body into p, which must match the message command.
func (m *Message) Decode(p Packet) error {
	if p.Command() != m.Cmd {
		return fmt.Errorf("cannot decode %s into %s", m.Cmd, p.Command())
	}
	if err := json.Unmarshal(m.Payload, p); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", m.Cmd, err)
	}
	return nil
}
