// Package apdu holds the ISO 7816-4 helpers an application needs on top of
// Channel.Transmit: short command encoding, response splitting and BER-TLV
// lookups in response data.
package apdu

import (
	"strings"

	"github.com/moov-io/bertlv"
	"github.com/pkg/errors"
)

// ErrShortResponse is returned for a response without a status word.
var ErrShortResponse = errors.New("apdu: response shorter than a status word")

// Command is a short C-APDU.
type Command struct {
	CLA, INS, P1, P2 byte
	Data             []byte
	// Le is the expected response length. Zero means no Le, 256 is encoded as 0x00.
	Le int
}

// Bytes encodes the command in short length form (cases 1 to 4).
func (c Command) Bytes() ([]byte, error) {
	if len(c.Data) > 255 {
		return nil, errors.Errorf("apdu: %d data bytes need extended length", len(c.Data))
	}
	if c.Le < 0 || c.Le > 256 {
		return nil, errors.Errorf("apdu: invalid Le %d", c.Le)
	}

	out := []byte{c.CLA, c.INS, c.P1, c.P2}
	if len(c.Data) > 0 {
		out = append(out, byte(len(c.Data)))
		out = append(out, c.Data...)
	}
	if c.Le > 0 {
		out = append(out, byte(c.Le))
	}
	return out, nil
}

// Select returns a SELECT by DF name command.
func Select(aid []byte) Command {
	return Command{CLA: 0x00, INS: 0xA4, P1: 0x04, P2: 0x00, Data: aid, Le: 256}
}

// GetResponse returns the command that fetches n pending bytes after a 61XX status.
func GetResponse(n byte) Command {
	le := int(n)
	if le == 0 {
		le = 256
	}
	return Command{CLA: 0x00, INS: 0xC0, Le: le}
}

// GetData returns a GET DATA command for a two byte tag.
func GetData(cla byte, tag uint16) Command {
	return Command{CLA: cla, INS: 0xCA, P1: byte(tag >> 8), P2: byte(tag), Le: 256}
}

// Response is a split R-APDU.
type Response struct {
	Data []byte
	SW   StatusWord
}

// ParseResponse splits the trailing status word from the data field.
func ParseResponse(b []byte) (Response, error) {
	if len(b) < 2 {
		return Response{}, ErrShortResponse
	}
	n := len(b) - 2
	data := make([]byte, n)
	copy(data, b[:n])
	return Response{Data: data, SW: NewStatusWord(b[n], b[n+1])}, nil
}

// Err returns nil for a successful status word and a descriptive error otherwise.
func (r Response) Err() error {
	if r.SW.IsSuccess() {
		return nil
	}
	return errors.Errorf("apdu: %s", r.SW.Verbose())
}

// DecodeTLV decodes BER-TLV response data.
func DecodeTLV(data []byte) ([]bertlv.TLV, error) {
	tlvs, err := bertlv.Decode(data)
	if err != nil {
		return nil, errors.Wrap(err, "apdu: decode tlv")
	}
	return tlvs, nil
}

// FindTag searches data, descending into constructed objects, for the first
// object with the given tag and returns its value.
func FindTag(data []byte, tag string) ([]byte, error) {
	tlvs, err := DecodeTLV(data)
	if err != nil {
		return nil, err
	}
	if v, ok := findTag(tlvs, strings.ToUpper(tag)); ok {
		return v, nil
	}
	return nil, errors.Errorf("apdu: tag %s not found", tag)
}

func findTag(tlvs []bertlv.TLV, tag string) ([]byte, bool) {
	for _, t := range tlvs {
		if strings.ToUpper(t.Tag) == tag {
			if len(t.TLVs) > 0 {
				v, err := bertlv.Encode(t.TLVs)
				return v, err == nil
			}
			return t.Value, true
		}
		if v, ok := findTag(t.TLVs, tag); ok {
			return v, true
		}
	}
	return nil, false
}
