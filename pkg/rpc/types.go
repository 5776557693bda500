package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Command type constants. They double as the tag keys on the wire.
const (
	CommandRegister    = "Register"
	CommandUnregister  = "Unregister"
	CommandQueryStatus = "QueryStatus"
)

// Reply type constants.
const (
	ReplyRegistered   = "Registered"
	ReplyUnregistered = "Unregistered"
	ReplyStatus       = "Status"
	ReplyError        = "Error"
)

// ErrEmptyLine is returned when a line carries no message at all.
var ErrEmptyLine = errors.New("empty command line")

// RegisterRequest asks for a concurrency slot for pid.
type RegisterRequest struct {
	Pid     int32    `json:"pid"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// UnregisterRequest returns the slot held by pid.
type UnregisterRequest struct {
	Pid int32 `json:"pid"`
}

// Command is one decoded control-plane message.
// Exactly one payload is set, selected by Type; QueryStatus has none.
//
// On the wire a command is an externally tagged JSON value:
//
//	{"Register":{"pid":1234,"command":"npm","args":["test"]}}
//	{"Unregister":{"pid":1234}}
//	"QueryStatus"
type Command struct {
	Type       string
	Register   *RegisterRequest
	Unregister *UnregisterRequest
}

// NewRegisterCommand creates a Register command.
func NewRegisterCommand(pid int32, command string, args []string) Command {
	if args == nil {
		args = []string{}
	}
	return Command{
		Type:     CommandRegister,
		Register: &RegisterRequest{Pid: pid, Command: command, Args: args},
	}
}

// NewUnregisterCommand creates an Unregister command.
func NewUnregisterCommand(pid int32) Command {
	return Command{
		Type:       CommandUnregister,
		Unregister: &UnregisterRequest{Pid: pid},
	}
}

// NewQueryStatusCommand creates a QueryStatus command.
func NewQueryStatusCommand() Command {
	return Command{Type: CommandQueryStatus}
}

// Pid returns the process id the command refers to, or 0 for QueryStatus.
func (c Command) Pid() int32 {
	switch {
	case c.Register != nil:
		return c.Register.Pid
	case c.Unregister != nil:
		return c.Unregister.Pid
	}
	return 0
}

// MarshalJSON encodes the command in its externally tagged form.
func (c Command) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case CommandRegister:
		if c.Register == nil {
			return nil, fmt.Errorf("register command without payload")
		}
		return json.Marshal(map[string]*RegisterRequest{CommandRegister: c.Register})
	case CommandUnregister:
		if c.Unregister == nil {
			return nil, fmt.Errorf("unregister command without payload")
		}
		return json.Marshal(map[string]*UnregisterRequest{CommandUnregister: c.Unregister})
	case CommandQueryStatus:
		return json.Marshal(CommandQueryStatus)
	default:
		return nil, fmt.Errorf("unknown command type %q", c.Type)
	}
}

// UnmarshalJSON decodes an externally tagged command.
func (c *Command) UnmarshalJSON(data []byte) error {
	tag, payload, err := splitTagged(data)
	if err != nil {
		return err
	}

	switch tag {
	case CommandRegister:
		var req struct {
			Pid     *int32   `json:"pid"`
			Command *string  `json:"command"`
			Args    []string `json:"args"`
		}
		if err := decodePayload(payload, &req); err != nil {
			return fmt.Errorf("decode %s: %w", tag, err)
		}
		if req.Pid == nil || req.Command == nil {
			return fmt.Errorf("decode %s: pid and command are required", tag)
		}
		*c = NewRegisterCommand(*req.Pid, *req.Command, req.Args)
	case CommandUnregister:
		var req struct {
			Pid *int32 `json:"pid"`
		}
		if err := decodePayload(payload, &req); err != nil {
			return fmt.Errorf("decode %s: %w", tag, err)
		}
		if req.Pid == nil {
			return fmt.Errorf("decode %s: pid is required", tag)
		}
		*c = NewUnregisterCommand(*req.Pid)
	case CommandQueryStatus:
		*c = NewQueryStatusCommand()
	default:
		return fmt.Errorf("unknown command type %q", tag)
	}
	return nil
}

// DecodeCommand decodes a single line into a Command.
func DecodeCommand(line []byte) (Command, error) {
	var cmd Command
	if len(bytes.TrimSpace(line)) == 0 {
		return cmd, ErrEmptyLine
	}
	if err := json.Unmarshal(line, &cmd); err != nil {
		return Command{}, err
	}
	return cmd, nil
}

// Status is the derived admission state reported to clients.
type Status struct {
	ActiveCount    int  `json:"active_count"`
	QueueDepth     int  `json:"queue_depth"`
	ShouldThrottle bool `json:"should_throttle"`
}

// RegisteredAck confirms that pid holds a slot.
type RegisteredAck struct {
	Pid int32 `json:"pid"`
}

// UnregisteredAck reports whether an Unregister actually released a slot.
type UnregisteredAck struct {
	Pid      int32 `json:"pid"`
	Released bool  `json:"released"`
}

// ErrorInfo describes a rejected command.
type ErrorInfo struct {
	Pid     int32  `json:"pid,omitempty"`
	Message string `json:"message"`
}

// Reply is a message sent back on the connection a command arrived on.
// It uses the same externally tagged encoding as Command.
type Reply struct {
	Type         string
	Registered   *RegisteredAck
	Unregistered *UnregisteredAck
	Status       *Status
	Error        *ErrorInfo
}

// RegisteredReply creates a Registered reply.
func RegisteredReply(pid int32) Reply {
	return Reply{Type: ReplyRegistered, Registered: &RegisteredAck{Pid: pid}}
}

// UnregisteredReply creates an Unregistered reply.
func UnregisteredReply(pid int32, released bool) Reply {
	return Reply{Type: ReplyUnregistered, Unregistered: &UnregisteredAck{Pid: pid, Released: released}}
}

// StatusReply creates a Status reply.
func StatusReply(st Status) Reply {
	return Reply{Type: ReplyStatus, Status: &st}
}

// ErrorReply creates an Error reply.
func ErrorReply(pid int32, msg string) Reply {
	return Reply{Type: ReplyError, Error: &ErrorInfo{Pid: pid, Message: msg}}
}

// MarshalJSON encodes the reply in its externally tagged form.
func (r Reply) MarshalJSON() ([]byte, error) {
	var payload any
	switch r.Type {
	case ReplyRegistered:
		payload = r.Registered
	case ReplyUnregistered:
		payload = r.Unregistered
	case ReplyStatus:
		payload = r.Status
	case ReplyError:
		payload = r.Error
	default:
		return nil, fmt.Errorf("unknown reply type %q", r.Type)
	}
	return json.Marshal(map[string]any{r.Type: payload})
}

// UnmarshalJSON decodes an externally tagged reply.
func (r *Reply) UnmarshalJSON(data []byte) error {
	tag, payload, err := splitTagged(data)
	if err != nil {
		return err
	}

	out := Reply{Type: tag}
	switch tag {
	case ReplyRegistered:
		out.Registered = &RegisteredAck{}
		err = decodePayload(payload, out.Registered)
	case ReplyUnregistered:
		out.Unregistered = &UnregisteredAck{}
		err = decodePayload(payload, out.Unregistered)
	case ReplyStatus:
		out.Status = &Status{}
		err = decodePayload(payload, out.Status)
	case ReplyError:
		out.Error = &ErrorInfo{}
		err = decodePayload(payload, out.Error)
	default:
		return fmt.Errorf("unknown reply type %q", tag)
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", tag, err)
	}
	*r = out
	return nil
}

// EncodeLine marshals v and terminates it with a newline.
func EncodeLine(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// splitTagged accepts either a bare string tag (unit variant) or an
// object with exactly one key.
func splitTagged(data []byte) (string, json.RawMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return "", nil, ErrEmptyLine
	}

	if data[0] == '"' {
		var tag string
		if err := json.Unmarshal(data, &tag); err != nil {
			return "", nil, err
		}
		return tag, nil, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, fmt.Errorf("expected exactly one message tag, got %d", len(obj))
	}
	for tag, payload := range obj {
		return tag, payload, nil
	}
	return "", nil, nil
}

func decodePayload(payload json.RawMessage, v any) error {
	if len(payload) == 0 || bytes.Equal(bytes.TrimSpace(payload), []byte("null")) {
		return errors.New("missing payload")
	}
	return json.Unmarshal(payload, v)
}
