// Package ccid implements the CCID-style framing used by SpringCard BLE readers:
// PC_To_RDR command frames, RDR_To_PC response frames, multi-notification
// reassembly and the status characteristic layout.
package ccid

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

// HeaderSize is the size of both the command and the response header.
const HeaderSize = 10

const (
	encryptedFlag = uint32(0x80000000)
	lengthMask    = ^encryptedFlag
)

var (
	// ErrShortHeader is returned when fewer than HeaderSize bytes are available.
	ErrShortHeader = errors.New("ccid: header too short")
	// ErrUnknownResponse is returned for a response code outside DataBlock, SlotStatus and Escape.
	ErrUnknownResponse = errors.New("ccid: unknown response code")
	// ErrOverflow is returned when a long answer receives more bytes than declared.
	ErrOverflow = errors.New("ccid: answer longer than declared length")
)

// Command is a PC_To_RDR message type.
type Command byte

const (
	PowerOn       Command = 0x62
	PowerOff      Command = 0x63
	GetSlotStatus Command = 0x65
	Escape        Command = 0x6B
	XfrBlock      Command = 0x6F
)

func (c Command) String() string {
	switch c {
	case PowerOn:
		return "PC_To_RDR_IccPowerOn"
	case PowerOff:
		return "PC_To_RDR_IccPowerOff"
	case GetSlotStatus:
		return "PC_To_RDR_GetSlotStatus"
	case Escape:
		return "PC_To_RDR_Escape"
	case XfrBlock:
		return "PC_To_RDR_XfrBlock"
	}
	return fmt.Sprintf("PC_To_RDR(0x%02X)", byte(c))
}

// ResponseCode is a RDR_To_PC message type.
type ResponseCode byte

const (
	DataBlock      ResponseCode = 0x80
	SlotStatus     ResponseCode = 0x81
	EscapeResponse ResponseCode = 0x83
)

// Valid reports whether r is one of the three response codes a reader may send.
func (r ResponseCode) Valid() bool {
	return r == DataBlock || r == SlotStatus || r == EscapeResponse
}

func (r ResponseCode) String() string {
	switch r {
	case DataBlock:
		return "RDR_To_PC_DataBlock"
	case SlotStatus:
		return "RDR_To_PC_SlotStatus"
	case EscapeResponse:
		return "RDR_To_PC_Escape"
	}
	return fmt.Sprintf("RDR_To_PC(0x%02X)", byte(r))
}

func putLength(b []byte, n uint32, encrypted bool) {
	v := n & lengthMask
	if encrypted {
		v |= encryptedFlag
	}
	binary.LittleEndian.PutUint32(b, v)
}

func readLength(b []byte) (uint32, bool) {
	v := binary.LittleEndian.Uint32(b)
	return v & lengthMask, v&encryptedFlag != 0
}

// CommandHeader is the 10 byte PC_To_RDR header.
type CommandHeader struct {
	Command   Command
	Length    uint32
	Encrypted bool
	Slot      byte
	Sequence  byte
	Params    [3]byte
}

// Bytes encodes the header.
func (h CommandHeader) Bytes() []byte {
	b := make([]byte, HeaderSize)
	b[0] = byte(h.Command)
	putLength(b[1:5], h.Length, h.Encrypted)
	b[5] = h.Slot
	b[6] = h.Sequence
	copy(b[7:10], h.Params[:])
	return b
}

// DecodeCommandHeader parses a PC_To_RDR header.
func DecodeCommandHeader(b []byte) (CommandHeader, error) {
	if len(b) < HeaderSize {
		return CommandHeader{}, ErrShortHeader
	}
	h := CommandHeader{
		Command:  Command(b[0]),
		Slot:     b[5],
		Sequence: b[6],
	}
	h.Length, h.Encrypted = readLength(b[1:5])
	copy(h.Params[:], b[7:10])
	return h, nil
}

// OutboundFrame is a complete command: header and payload.
type OutboundFrame struct {
	Header  CommandHeader
	Payload []byte
}

// NewCommand builds a plain command frame. The payload is copied.
func NewCommand(cmd Command, slot, seq byte, payload []byte) OutboundFrame {
	p := make([]byte, len(payload))
	copy(p, payload)
	return OutboundFrame{
		Header: CommandHeader{
			Command:  cmd,
			Length:   uint32(len(p)),
			Slot:     slot,
			Sequence: seq,
		},
		Payload: p,
	}
}

// Bytes encodes header followed by payload.
func (f OutboundFrame) Bytes() []byte {
	out := f.Header.Bytes()
	return append(out, f.Payload...)
}

func (f OutboundFrame) String() string {
	return fmt.Sprintf("%v slot=%d seq=%d len=%d enc=%v %s",
		f.Header.Command, f.Header.Slot, f.Header.Sequence, f.Header.Length,
		f.Header.Encrypted, hex.EncodeToString(f.Payload))
}

// ResponseHeader is the 10 byte RDR_To_PC header.
type ResponseHeader struct {
	Code       ResponseCode
	Length     uint32
	Encrypted  bool
	Slot       byte
	Sequence   byte
	SlotStatus byte
	SlotError  byte
	RFU        byte
}

// Bytes encodes the header.
func (h ResponseHeader) Bytes() []byte {
	b := make([]byte, HeaderSize)
	b[0] = byte(h.Code)
	putLength(b[1:5], h.Length, h.Encrypted)
	b[5] = h.Slot
	b[6] = h.Sequence
	b[7] = h.SlotStatus
	b[8] = h.SlotError
	b[9] = h.RFU
	return b
}

// DecodeResponseHeader parses a RDR_To_PC header and rejects unknown response codes.
func DecodeResponseHeader(b []byte) (ResponseHeader, error) {
	if len(b) < HeaderSize {
		return ResponseHeader{}, ErrShortHeader
	}
	h := ResponseHeader{
		Code:       ResponseCode(b[0]),
		Slot:       b[5],
		Sequence:   b[6],
		SlotStatus: b[7],
		SlotError:  b[8],
		RFU:        b[9],
	}
	if !h.Code.Valid() {
		return ResponseHeader{}, fmt.Errorf("%w 0x%02X", ErrUnknownResponse, b[0])
	}
	h.Length, h.Encrypted = readLength(b[1:5])
	return h, nil
}

// InboundFrame is a response, possibly still waiting for more notifications.
type InboundFrame struct {
	Header  ResponseHeader
	Payload []byte
	// Long is set while fewer payload bytes than declared have been received.
	Long bool
}

// ParseResponse decodes a header and copies the payload from [10, 10+Length).
// When the buffer holds fewer bytes the frame is returned with Long set.
func ParseResponse(b []byte) (*InboundFrame, error) {
	h, err := DecodeResponseHeader(b)
	if err != nil {
		return nil, err
	}

	avail := len(b) - HeaderSize
	n := int(h.Length)
	f := &InboundFrame{Header: h}
	if avail < n {
		n = avail
		f.Long = true
	}
	f.Payload = make([]byte, n)
	copy(f.Payload, b[HeaderSize:HeaderSize+n])
	return f, nil
}

// Complete reports whether the accumulated payload matches the declared length.
func (f *InboundFrame) Complete() bool {
	return uint32(len(f.Payload)) == f.Header.Length
}

// Bytes encodes the frame as received: header followed by the accumulated payload.
func (f *InboundFrame) Bytes() []byte {
	out := f.Header.Bytes()
	return append(out, f.Payload...)
}

// Status returns the decoded bStatus byte.
func (f *InboundFrame) Status() SlotState {
	return DecodeSlotState(f.Header.SlotStatus)
}

// Failed reports a nonzero slot status or slot error byte.
func (f *InboundFrame) Failed() bool {
	return f.Header.SlotStatus != 0 || f.Header.SlotError != 0
}

func (f *InboundFrame) String() string {
	return fmt.Sprintf("%v slot=%d seq=%d len=%d enc=%v status=0x%02X error=0x%02X %s",
		f.Header.Code, f.Header.Slot, f.Header.Sequence, f.Header.Length, f.Header.Encrypted,
		f.Header.SlotStatus, f.Header.SlotError, hex.EncodeToString(f.Payload))
}
