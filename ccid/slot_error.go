package ccid

import "fmt"

// IccStatus is the low two bits of bStatus.
type IccStatus byte

const (
	IccActive   IccStatus = 0
	IccInactive IccStatus = 1
	IccAbsent   IccStatus = 2
)

// CommandStatus is the high two bits of bStatus.
type CommandStatus byte

const (
	CommandOK           CommandStatus = 0
	CommandFailed       CommandStatus = 1
	CommandTimeExtended CommandStatus = 2
)

// SlotState is a decoded bStatus byte.
type SlotState struct {
	Icc     IccStatus
	Command CommandStatus
}

// DecodeSlotState splits a bStatus byte.
func DecodeSlotState(b byte) SlotState {
	return SlotState{
		Icc:     IccStatus(b & 0x03),
		Command: CommandStatus((b >> 6) & 0x03),
	}
}

func (s SlotState) String() string {
	icc := "reserved"
	switch s.Icc {
	case IccActive:
		icc = "active"
	case IccInactive:
		icc = "inactive"
	case IccAbsent:
		icc = "absent"
	}
	cmd := "reserved"
	switch s.Command {
	case CommandOK:
		cmd = "ok"
	case CommandFailed:
		cmd = "failed"
	case CommandTimeExtended:
		cmd = "time extension"
	}
	return fmt.Sprintf("icc %s, command %s", icc, cmd)
}

// SlotError is the bError byte of a response.
type SlotError byte

const (
	ErrCmdAborted          SlotError = 0xFF
	ErrIccMute             SlotError = 0xFE
	ErrXfrParity           SlotError = 0xFD
	ErrXfrOverrun          SlotError = 0xFC
	ErrHardware            SlotError = 0xFB
	ErrBadAtrTS            SlotError = 0xF8
	ErrBadAtrTCK           SlotError = 0xF7
	ErrProtocolNotSupp     SlotError = 0xF6
	ErrClassNotSupp        SlotError = 0xF5
	ErrProcByteConflict    SlotError = 0xF4
	ErrDeactivatedProtocol SlotError = 0xF3
	ErrBusyAutoSequence    SlotError = 0xF2
	ErrCmdSlotBusy         SlotError = 0xE0
)

var slotErrorNames = map[SlotError]string{
	ErrCmdAborted:          "CMD_ABORTED",
	ErrIccMute:             "ICC_MUTE",
	ErrXfrParity:           "XFR_PARITY_ERROR",
	ErrXfrOverrun:          "XFR_OVERRUN",
	ErrHardware:            "HW_ERROR",
	ErrBadAtrTS:            "BAD_ATR_TS",
	ErrBadAtrTCK:           "BAD_ATR_TCK",
	ErrProtocolNotSupp:     "ICC_PROTOCOL_NOT_SUPPORTED",
	ErrClassNotSupp:        "ICC_CLASS_NOT_SUPPORTED",
	ErrProcByteConflict:    "PROCEDURE_BYTE_CONFLICT",
	ErrDeactivatedProtocol: "DEACTIVATED_PROTOCOL",
	ErrBusyAutoSequence:    "BUSY_WITH_AUTO_SEQUENCE",
	ErrCmdSlotBusy:         "CMD_SLOT_BUSY",
}

func (e SlotError) String() string {
	if s, ok := slotErrorNames[e]; ok {
		return s
	}
	return fmt.Sprintf("0x%02X", byte(e))
}
