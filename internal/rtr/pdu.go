package rtr

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/netip"
	"time"

	"github.com/dgnsrekt/rtr-relay/internal/payload"
)

// PDU types.
const (
	TypeSerialNotify  uint8 = 0
	TypeSerialQuery   uint8 = 1
	TypeResetQuery    uint8 = 2
	TypeCacheResponse uint8 = 3
	TypeIPv4Prefix    uint8 = 4
	TypeIPv6Prefix    uint8 = 6
	TypeEndOfData     uint8 = 7
	TypeCacheReset    uint8 = 8
	TypeRouterKey     uint8 = 9
	TypeErrorReport   uint8 = 10
)

const (
	// Version is the protocol version spoken by the client.
	Version uint8 = 1

	headerLen = 8
	maxPDULen = 1 << 16

	flagAnnounce = 0x01
)

// Timing carries the intervals announced by the server in End of Data.
type Timing struct {
	Refresh time.Duration
	Retry   time.Duration
	Expire  time.Duration
}

// DefaultTiming is used until the server tells otherwise.
var DefaultTiming = Timing{
	Refresh: 3600 * time.Second,
	Retry:   600 * time.Second,
	Expire:  7200 * time.Second,
}

// Header is the common header of every PDU. Session holds the session id
// or, for error reports, the error code.
type Header struct {
	Version uint8
	Type    uint8
	Session uint16
	Length  uint32
}

// PDU is a raw PDU as read from the wire.
type PDU struct {
	Header
	Body []byte
}

// ReadPDU reads a single PDU.
func ReadPDU(r io.Reader) (PDU, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return PDU{}, err
	}
	p := PDU{Header: Header{
		Version: hdr[0],
		Type:    hdr[1],
		Session: binary.BigEndian.Uint16(hdr[2:4]),
		Length:  binary.BigEndian.Uint32(hdr[4:8]),
	}}
	if p.Length < headerLen || p.Length > maxPDULen {
		return PDU{}, corruptf("invalid PDU length %d", p.Length)
	}
	p.Body = make([]byte, p.Length-headerLen)
	if _, err := io.ReadFull(r, p.Body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return PDU{}, err
	}
	return p, nil
}

func appendHeader(b []byte, version, typ uint8, session uint16, length int) []byte {
	b = append(b, version, typ)
	b = binary.BigEndian.AppendUint16(b, session)
	return binary.BigEndian.AppendUint32(b, uint32(length))
}

// AppendSerialNotify appends a Serial Notify PDU.
func AppendSerialNotify(b []byte, version uint8, session uint16, serial uint32) []byte {
	b = appendHeader(b, version, TypeSerialNotify, session, 12)
	return binary.BigEndian.AppendUint32(b, serial)
}

// AppendSerialQuery appends a Serial Query PDU.
func AppendSerialQuery(b []byte, version uint8, session uint16, serial uint32) []byte {
	b = appendHeader(b, version, TypeSerialQuery, session, 12)
	return binary.BigEndian.AppendUint32(b, serial)
}

// AppendResetQuery appends a Reset Query PDU.
func AppendResetQuery(b []byte, version uint8) []byte {
	return appendHeader(b, version, TypeResetQuery, 0, headerLen)
}

// AppendCacheResponse appends a Cache Response PDU.
func AppendCacheResponse(b []byte, version uint8, session uint16) []byte {
	return appendHeader(b, version, TypeCacheResponse, session, headerLen)
}

// AppendCacheReset appends a Cache Reset PDU.
func AppendCacheReset(b []byte, version uint8) []byte {
	return appendHeader(b, version, TypeCacheReset, 0, headerLen)
}

// AppendPrefix appends an IPv4 or IPv6 Prefix PDU, depending on the
// address family of the payload.
func AppendPrefix(b []byte, version uint8, action payload.Action, p payload.Payload) []byte {
	var flags uint8
	if action == payload.Announce {
		flags = flagAnnounce
	}
	addr := p.Prefix.Addr()
	if addr.Is4() {
		b = appendHeader(b, version, TypeIPv4Prefix, 0, 20)
	} else {
		b = appendHeader(b, version, TypeIPv6Prefix, 0, 32)
	}
	b = append(b, flags, uint8(p.Prefix.Bits()), p.MaxLength, 0)
	b = append(b, addr.AsSlice()...)
	return binary.BigEndian.AppendUint32(b, p.ASN)
}

// AppendEndOfData appends an End of Data PDU. Version 0 PDUs carry no
// timing information.
func AppendEndOfData(b []byte, version uint8, session uint16, serial uint32, timing Timing) []byte {
	if version == 0 {
		b = appendHeader(b, version, TypeEndOfData, session, 12)
		return binary.BigEndian.AppendUint32(b, serial)
	}
	b = appendHeader(b, version, TypeEndOfData, session, 24)
	b = binary.BigEndian.AppendUint32(b, serial)
	b = binary.BigEndian.AppendUint32(b, uint32(timing.Refresh/time.Second))
	b = binary.BigEndian.AppendUint32(b, uint32(timing.Retry/time.Second))
	return binary.BigEndian.AppendUint32(b, uint32(timing.Expire/time.Second))
}

// AppendErrorReport appends an Error Report PDU.
func AppendErrorReport(b []byte, version uint8, code ErrorCode, erroneous []byte, text string) []byte {
	length := headerLen + 4 + len(erroneous) + 4 + len(text)
	b = appendHeader(b, version, TypeErrorReport, uint16(code), length)
	b = binary.BigEndian.AppendUint32(b, uint32(len(erroneous)))
	b = append(b, erroneous...)
	b = binary.BigEndian.AppendUint32(b, uint32(len(text)))
	return append(b, text...)
}

// Bytes re-encodes the PDU.
func (p PDU) Bytes() []byte {
	b := appendHeader(make([]byte, 0, p.Length), p.Version, p.Type, p.Session, headerLen+len(p.Body))
	return append(b, p.Body...)
}

// Serial returns the serial number of a Serial Notify, Serial Query or
// End of Data PDU.
func (p PDU) Serial() (uint32, error) {
	if len(p.Body) < 4 {
		return 0, corruptf("short PDU type %d", p.Type)
	}
	return binary.BigEndian.Uint32(p.Body[:4]), nil
}

// Prefix decodes an IPv4 or IPv6 Prefix PDU.
func (p PDU) Prefix() (payload.Action, payload.Payload, error) {
	var addrLen int
	var maxBits uint8
	switch p.Type {
	case TypeIPv4Prefix:
		addrLen, maxBits = 4, 32
	case TypeIPv6Prefix:
		addrLen, maxBits = 16, 128
	default:
		return 0, payload.Payload{}, corruptf("PDU type %d is not a prefix", p.Type)
	}
	if len(p.Body) != 4+addrLen+4 {
		return 0, payload.Payload{}, corruptf("invalid prefix PDU length %d", p.Length)
	}
	flags, bits, maxLen := p.Body[0], p.Body[1], p.Body[2]
	if bits > maxBits || maxLen > maxBits || maxLen < bits {
		return 0, payload.Payload{}, corruptf("invalid prefix length %d-%d", bits, maxLen)
	}
	addr, _ := netip.AddrFromSlice(p.Body[4 : 4+addrLen])
	prefix, err := addr.Prefix(int(bits))
	if err != nil {
		return 0, payload.Payload{}, corruptf("invalid prefix: %v", err)
	}
	action := payload.Withdraw
	if flags&flagAnnounce != 0 {
		action = payload.Announce
	}
	return action, payload.Payload{
		Prefix:    prefix,
		MaxLength: maxLen,
		ASN:       binary.BigEndian.Uint32(p.Body[4+addrLen:]),
	}, nil
}

// EndOfData decodes the serial and timing of an End of Data PDU.
func (p PDU) EndOfData() (uint32, Timing, error) {
	serial, err := p.Serial()
	if err != nil {
		return 0, Timing{}, err
	}
	if p.Version == 0 {
		return serial, DefaultTiming, nil
	}
	if len(p.Body) != 16 {
		return 0, Timing{}, corruptf("invalid End of Data length %d", p.Length)
	}
	seconds := func(off int) time.Duration {
		return time.Duration(binary.BigEndian.Uint32(p.Body[off:off+4])) * time.Second
	}
	return serial, Timing{Refresh: seconds(4), Retry: seconds(8), Expire: seconds(12)}, nil
}

// ErrorReport decodes an Error Report PDU.
func (p PDU) ErrorReport() (*ErrorReport, error) {
	b := p.Body
	if len(b) < 4 {
		return nil, corruptf("short error report")
	}
	n := int(binary.BigEndian.Uint32(b[:4]))
	b = b[4:]
	if n > len(b) {
		return nil, corruptf("invalid encapsulated PDU length %d", n)
	}
	b = b[n:]
	if len(b) < 4 {
		return nil, corruptf("short error report")
	}
	n = int(binary.BigEndian.Uint32(b[:4]))
	b = b[4:]
	if n > len(b) {
		return nil, corruptf("invalid error text length %d", n)
	}
	return &ErrorReport{Code: ErrorCode(p.Session), Text: string(b[:n])}, nil
}

func (h Header) String() string {
	return fmt.Sprintf("PDU(v%d type=%d session=%d len=%d)", h.Version, h.Type, h.Session, h.Length)
}
