package message

import (
	"bytes"
	"fmt"
)

// Dash pods exchange messages as short ASCII wrapped strings: commands are
// "S0.0=" <len> <message> ",G0.0" and responses "0.0=" <len> <message>,
// where <len> is a big endian uint16.
const (
	commandPrefix  = "S0.0="
	commandSuffix  = ",G0.0"
	responsePrefix = "0.0="
)

// WrapCommand wraps an encoded message for sending to the pod.
func WrapCommand(msg []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(commandPrefix)
	buf.WriteByte(byte(len(msg) >> 8))
	buf.WriteByte(byte(len(msg)))
	buf.Write(msg)
	buf.WriteString(commandSuffix)
	return buf.Bytes()
}

// UnwrapCommand returns the message inside a wrapped command.
func UnwrapCommand(data []byte) ([]byte, error) {
	n := len(data)
	if n < len(commandPrefix)+2+len(commandSuffix) {
		return nil, fmt.Errorf("command is too short: %x", data)
	}
	if !bytes.HasPrefix(data, []byte(commandPrefix)) {
		return nil, fmt.Errorf("command should start with %s %x", commandPrefix, data)
	}
	if !bytes.HasSuffix(data, []byte(commandSuffix)) {
		return nil, fmt.Errorf("command should end with %s %x", commandSuffix, data)
	}
	p := len(commandPrefix)
	l := int(data[p])<<8 | int(data[p+1])
	if l != n-p-2-len(commandSuffix) {
		return nil, fmt.Errorf("invalid command length: %d :: %d :: %x", l, n-p-2-len(commandSuffix), data)
	}
	return data[p+2 : n-len(commandSuffix)], nil
}

// WrapResponse wraps an encoded message sent by the pod.
func WrapResponse(msg []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(responsePrefix)
	buf.WriteByte(byte(len(msg) >> 8))
	buf.WriteByte(byte(len(msg)))
	buf.Write(msg)
	return buf.Bytes()
}

// UnwrapResponse returns the message inside a wrapped response.
func UnwrapResponse(data []byte) ([]byte, error) {
	p := len(responsePrefix)
	if len(data) < p+2 {
		return nil, fmt.Errorf("response is too short: %x", data)
	}
	if !bytes.HasPrefix(data, []byte(responsePrefix)) {
		return nil, fmt.Errorf("response should start with %s %x", responsePrefix, data)
	}
	l := int(data[p])<<8 | int(data[p+1])
	if l != len(data)-p-2 {
		return nil, fmt.Errorf("invalid response length: %d :: %d :: %x", l, len(data)-p-2, data)
	}
	return data[p+2:], nil
}
