package response

import (
	"github.com/avereha/podcomm/pkg/block"
	"github.com/avereha/podcomm/pkg/wire"
)

const pulseLogEntrySize = 4

func unmarshalPulseLogEntries(t block.PodInfoType, b []byte) ([]uint32, error) {
	if len(b)%pulseLogEntrySize != 0 {
		return nil, pageLength(t, len(b)+1)
	}
	var ret []uint32
	for off := 0; off < len(b); off += pulseLogEntrySize {
		ret = append(ret, wire.Uint32(b, off))
	}
	return ret, nil
}

func appendPulseLogEntries(b []byte, entries []uint32) []byte {
	for _, e := range entries {
		b = wire.AppendUint32(b, e)
	}
	return b
}

// PulseLogPlus is pod info page 0x03: fault context followed by the most
// recent pulse log entries.
type PulseLogPlus struct {
	FaultCode     FaultEventCode
	FaultMinutes  uint16
	MinutesActive uint16
	EntrySize     uint8
	MaxEntries    uint16
	Entries       []uint32
}

const pulseLogPlusHeader = 8

func unmarshalPulseLogPlus(b []byte) (*PulseLogPlus, error) {
	t := block.PodInfoPulseLogPlus
	if len(b) < pulseLogPlusHeader {
		return nil, shortPage(t, pulseLogPlusHeader, len(b))
	}
	entries, err := unmarshalPulseLogEntries(t, b[pulseLogPlusHeader:])
	if err != nil {
		return nil, err
	}
	return &PulseLogPlus{
		FaultCode:     FaultEventCode(b[0]),
		FaultMinutes:  wire.Uint16(b, 1),
		MinutesActive: wire.Uint16(b, 3),
		EntrySize:     b[5],
		MaxEntries:    wire.Uint16(b, 6),
		Entries:       entries,
	}, nil
}

func (p *PulseLogPlus) InfoType() block.PodInfoType {
	return block.PodInfoPulseLogPlus
}

func (p *PulseLogPlus) marshalInfo() ([]byte, error) {
	b := []byte{byte(p.FaultCode)}
	b = wire.AppendUint16(b, p.FaultMinutes)
	b = wire.AppendUint16(b, p.MinutesActive)
	b = append(b, p.EntrySize)
	b = wire.AppendUint16(b, p.MaxEntries)
	return appendPulseLogEntries(b, p.Entries), nil
}

// PulseLogRecent is pod info page 0x50: the newest pulse log entries and
// the index of the last one written.
type PulseLogRecent struct {
	LastEntryIndex uint16
	Entries        []uint32
}

func unmarshalPulseLogRecent(b []byte) (*PulseLogRecent, error) {
	t := block.PodInfoPulseLogRecent
	if len(b) < 2 {
		return nil, shortPage(t, 2, len(b))
	}
	entries, err := unmarshalPulseLogEntries(t, b[2:])
	if err != nil {
		return nil, err
	}
	return &PulseLogRecent{LastEntryIndex: wire.Uint16(b, 0), Entries: entries}, nil
}

func (p *PulseLogRecent) InfoType() block.PodInfoType {
	return block.PodInfoPulseLogRecent
}

func (p *PulseLogRecent) marshalInfo() ([]byte, error) {
	return appendPulseLogEntries(wire.AppendUint16(nil, p.LastEntryIndex), p.Entries), nil
}

// PulseLogPrevious is pod info page 0x51: the entries before those in
// PulseLogRecent.
type PulseLogPrevious struct {
	NumEntries uint16
	Entries    []uint32
}

func unmarshalPulseLogPrevious(b []byte) (*PulseLogPrevious, error) {
	t := block.PodInfoPulseLogPrevious
	if len(b) < 2 {
		return nil, shortPage(t, 2, len(b))
	}
	entries, err := unmarshalPulseLogEntries(t, b[2:])
	if err != nil {
		return nil, err
	}
	return &PulseLogPrevious{NumEntries: wire.Uint16(b, 0), Entries: entries}, nil
}

func (p *PulseLogPrevious) InfoType() block.PodInfoType {
	return block.PodInfoPulseLogPrevious
}

func (p *PulseLogPrevious) marshalInfo() ([]byte, error) {
	return appendPulseLogEntries(wire.AppendUint16(nil, p.NumEntries), p.Entries), nil
}
