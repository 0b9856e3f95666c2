package apdu

import "fmt"

// StatusWord is the SW1-SW2 trailer of a response.
type StatusWord uint16

// NewStatusWord creates a StatusWord from its two bytes.
func NewStatusWord(sw1, sw2 byte) StatusWord {
	return StatusWord(uint16(sw1)<<8 | uint16(sw2))
}

const (
	SWNoError              StatusWord = 0x9000
	SWWrongLength          StatusWord = 0x6700
	SWSecurityNotSatisfied StatusWord = 0x6982
	SWFileNotFound         StatusWord = 0x6A82
	SWWrongP1P2            StatusWord = 0x6B00
	SWInsNotSupported      StatusWord = 0x6D00
	SWClaNotSupported      StatusWord = 0x6E00
)

var statusWordNames = map[StatusWord]string{
	SWNoError:              "no error",
	SWWrongLength:          "wrong length",
	SWSecurityNotSatisfied: "security status not satisfied",
	SWFileNotFound:         "file or application not found",
	SWWrongP1P2:            "wrong parameters P1-P2",
	SWInsNotSupported:      "instruction not supported",
	SWClaNotSupported:      "class not supported",
}

func (sw StatusWord) SW1() byte { return byte(sw >> 8) }
func (sw StatusWord) SW2() byte { return byte(sw) }

// IsSuccess reports 9000 and 61XX.
func (sw StatusWord) IsSuccess() bool {
	return sw == SWNoError || sw.SW1() == 0x61
}

// BytesAvailable returns the XX of a 61XX status, to be fetched with GetResponse.
func (sw StatusWord) BytesAvailable() (byte, bool) {
	return sw.SW2(), sw.SW1() == 0x61
}

// CorrectLength returns the XX of a 6CXX status, the Le to resend the command with.
func (sw StatusWord) CorrectLength() (byte, bool) {
	return sw.SW2(), sw.SW1() == 0x6C
}

// Verbose describes the status word.
func (sw StatusWord) Verbose() string {
	if n, ok := sw.BytesAvailable(); ok {
		return fmt.Sprintf("[%04X] %d bytes available", uint16(sw), n)
	}
	if n, ok := sw.CorrectLength(); ok {
		return fmt.Sprintf("[%04X] wrong length, correct Le is %d", uint16(sw), n)
	}
	if s, ok := statusWordNames[sw]; ok {
		return fmt.Sprintf("[%04X] %s", uint16(sw), s)
	}
	return fmt.Sprintf("[%04X] unknown status", uint16(sw))
}

func (sw StatusWord) String() string {
	return fmt.Sprintf("%04X", uint16(sw))
}
