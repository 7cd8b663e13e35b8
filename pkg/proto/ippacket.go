package proto

import (
	"encoding/binary"
	"net/netip"

	ipv4header "github.com/brown-csci1680/iptcp-headers"
	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

const (
	IPVersion          = 4
	DefaultIpHeaderLen = ipv4header.HeaderLen
	MaxIpHeaderLen     = 60
	MaxPacketLen       = 1<<16 - 1

	ProtoNumTest uint8 = 0
	ProtoNumTCP  uint8 = uint8(header.TCPProtocolNumber)
)

var ErrBadHeader = errors.New("malformed ipv4 header")

type IPPacket struct {
	Header  *ipv4header.IPv4Header
	Payload []byte
}

// Create a new packet carrying msg. The header has no options.
func NewPacket(srcIP netip.Addr, destIP netip.Addr, msg []byte, protoNum uint8) *IPPacket {
	return &IPPacket{
		Header:  newHeader(srcIP, destIP, msg, protoNum),
		Payload: msg,
	}
}

// Marshal computes the header checksum and returns header and payload.
func (p *IPPacket) Marshal() ([]byte, error) {
	p.Header.Checksum = 0
	headerBytes, err := p.Header.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "error marshalling header")
	}
	p.Header.Checksum = int(ComputeChecksum(headerBytes))
	headerBytes, err = p.Header.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "error marshalling header")
	}

	bytesToSend := make([]byte, 0, len(headerBytes)+len(p.Payload))
	bytesToSend = append(bytesToSend, headerBytes...)
	bytesToSend = append(bytesToSend, p.Payload...)
	return bytesToSend, nil
}

// Unmarshal parses one whole packet. Bytes past the header's total length
// are ignored.
func (p *IPPacket) Unmarshal(data []byte) error {
	hdr, err := ipv4header.ParseHeader(data)
	if err != nil {
		return errors.Wrap(err, "error parsing header")
	}
	if hdr.TotalLen < hdr.Len || hdr.TotalLen > len(data) {
		return errors.Wrapf(ErrBadHeader, "total length %d with %d bytes", hdr.TotalLen, len(data))
	}
	p.Header = hdr
	p.Payload = data[hdr.Len:hdr.TotalLen]
	return nil
}

// ValidChecksum checks the header checksum against raw, the bytes p was
// parsed from.
func (p *IPPacket) ValidChecksum(raw []byte) bool {
	fromHeader := uint16(p.Header.Checksum)
	return fromHeader == ValidateIPChecksum(raw[:p.Header.Len], fromHeader)
}

// PeekLengths reads the header and total length out of the fixed part of
// an IPv4 header.
func PeekLengths(b []byte) (hdrLen int, totalLen int, err error) {
	if len(b) < DefaultIpHeaderLen {
		return 0, 0, errors.Wrapf(ErrBadHeader, "need %d bytes, have %d", DefaultIpHeaderLen, len(b))
	}
	if version := int(b[0] >> 4); version != IPVersion {
		return 0, 0, errors.Wrapf(ErrBadHeader, "version %d", version)
	}
	hdrLen = int(b[0]&0x0f) << 2
	totalLen = int(binary.BigEndian.Uint16(b[2:4]))
	if hdrLen < DefaultIpHeaderLen || totalLen < hdrLen {
		return 0, 0, errors.Wrapf(ErrBadHeader, "header length %d, total length %d", hdrLen, totalLen)
	}
	return hdrLen, totalLen, nil
}

func ComputeChecksum(b []byte) uint16 {
	checksum := header.Checksum(b, 0)

	// header.Checksum returns the folded sum, the header carries its
	// complement
	return checksum ^ 0xffff
}

// ValidateIPChecksum sums b, checksum field included, starting from the
// checksum in the header. For a valid header the result equals fromHeader.
func ValidateIPChecksum(b []byte, fromHeader uint16) uint16 {
	return header.Checksum(b, fromHeader)
}

func newHeader(srcIP netip.Addr, destIP netip.Addr, msg []byte, protoNum uint8) *ipv4header.IPv4Header {
	return &ipv4header.IPv4Header{
		Version:  IPVersion,
		Len:      DefaultIpHeaderLen,
		TOS:      0,
		TotalLen: DefaultIpHeaderLen + len(msg),
		ID:       0,
		Flags:    0,
		FragOff:  0,
		TTL:      32,
		Protocol: int(protoNum),
		Checksum: 0,
		Src:      srcIP,
		Dst:      destIP,
		Options:  []byte{},
	}
}
