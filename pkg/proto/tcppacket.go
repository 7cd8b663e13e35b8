package proto

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"

	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

const (
	DefaultTcpHeaderLen = header.TCPMinimumSize
	TcpPseudoHeaderLen  = 12
)

type TCPPacket struct {
	TcpHeader *header.TCPFields
	Payload   []byte
}

func NewTCPPacket(localPort uint16, destPort uint16, seqNum uint32, ackNum uint32, flags uint8, payload []byte, windowSize uint16) *TCPPacket {
	tcpHdr := &header.TCPFields{
		SrcPort:       localPort,
		DstPort:       destPort,
		SeqNum:        seqNum,
		AckNum:        ackNum,
		DataOffset:    DefaultTcpHeaderLen,
		Flags:         flags,
		Checksum:      0,
		UrgentPointer: 0,
		WindowSize:    windowSize,
	}
	return &TCPPacket{TcpHeader: tcpHdr, Payload: payload}
}

// Marshal encodes the segment with its checksum filled in for the given
// addresses.
func (p *TCPPacket) Marshal(sourceIP netip.Addr, destIP netip.Addr) []byte {
	p.TcpHeader.Checksum = 0
	p.TcpHeader.Checksum = ComputeTCPChecksum(p.TcpHeader, sourceIP, destIP, p.Payload)

	b := make([]byte, DefaultTcpHeaderLen+len(p.Payload))
	header.TCP(b).Encode(p.TcpHeader)
	copy(b[DefaultTcpHeaderLen:], p.Payload)
	return b
}

func (p *TCPPacket) Unmarshal(data []byte) error {
	if len(data) < DefaultTcpHeaderLen {
		return errors.Errorf("tcp segment of %d bytes is shorter than its header", len(data))
	}
	hdr := ParseTCPHeader(data)
	if int(hdr.DataOffset) < DefaultTcpHeaderLen || int(hdr.DataOffset) > len(data) {
		return errors.Errorf("tcp data offset %d out of range for %d bytes", hdr.DataOffset, len(data))
	}
	p.TcpHeader = &hdr
	p.Payload = data[hdr.DataOffset:]
	return nil
}

// pseudoHeader builds the part of the checksum input taken from the IP
// layer, see RFC 9293 section 3.1.
func pseudoHeader(sourceIP netip.Addr, destIP netip.Addr, tcpLen int) []byte {
	b := make([]byte, TcpPseudoHeaderLen)
	copy(b[0:4], sourceIP.AsSlice())
	copy(b[4:8], destIP.AsSlice())
	b[8] = 0
	b[9] = ProtoNumTCP
	binary.BigEndian.PutUint16(b[10:12], uint16(tcpLen))
	return b
}

// ComputeTCPChecksum returns the checksum of a segment with an option-less
// header. tcpHdr.Checksum must be 0.
func ComputeTCPChecksum(tcpHdr *header.TCPFields,
	sourceIP netip.Addr, destIP netip.Addr, payload []byte) uint16 {

	headerBytes := header.TCP(make([]byte, DefaultTcpHeaderLen))
	headerBytes.Encode(tcpHdr)

	// each part carries the sum of the previous one as its initial value
	pseudoHeaderChecksum := header.Checksum(pseudoHeader(sourceIP, destIP, DefaultTcpHeaderLen+len(payload)), 0)
	headerChecksum := header.Checksum(headerBytes, pseudoHeaderChecksum)
	fullChecksum := header.Checksum(payload, headerChecksum)

	return fullChecksum ^ 0xffff
}

// ValidTCPSegment checks the checksum of a raw segment, header options
// included.
func ValidTCPSegment(segment []byte, sourceIP netip.Addr, destIP netip.Addr) bool {
	sum := header.Checksum(pseudoHeader(sourceIP, destIP, len(segment)), 0)
	return header.Checksum(segment, sum) == 0xffff
}

// ValidTCPChecksum recomputes the checksum of p, which must have no header
// options.
func ValidTCPChecksum(p *TCPPacket, srcIp netip.Addr, dstIp netip.Addr) bool {
	fromHeader := p.TcpHeader.Checksum
	p.TcpHeader.Checksum = 0
	computed := ComputeTCPChecksum(p.TcpHeader, srcIp, dstIp, p.Payload)
	p.TcpHeader.Checksum = fromHeader
	return computed == fromHeader
}

func ParseTCPHeader(b []byte) header.TCPFields {
	td := header.TCP(b)
	return header.TCPFields{
		SrcPort:       td.SourcePort(),
		DstPort:       td.DestinationPort(),
		SeqNum:        td.SequenceNumber(),
		AckNum:        td.AckNumber(),
		DataOffset:    td.DataOffset(),
		Flags:         td.Flags(),
		WindowSize:    td.WindowSize(),
		Checksum:      td.Checksum(),
		UrgentPointer: binary.BigEndian.Uint16(b[18:20]),
	}
}

var tcpFlagNames = []struct {
	flag uint8
	name string
}{
	{header.TCPFlagSyn, "SYN"},
	{header.TCPFlagAck, "ACK"},
	{header.TCPFlagPsh, "PSH"},
	{header.TCPFlagUrg, "URG"},
	{header.TCPFlagFin, "FIN"},
	{header.TCPFlagRst, "RST"},
}

// Pretty-print TCP flags, e.g. "SYN+ACK"
func TCPFlagsAsString(flags uint8) string {
	matches := make([]string, 0, len(tcpFlagNames))
	for _, f := range tcpFlagNames {
		if flags&f.flag == f.flag {
			matches = append(matches, f.name)
		}
	}
	return strings.Join(matches, "+")
}

func TCPFieldsToString(hdr *header.TCPFields) string {
	return fmt.Sprintf("{SrcPort:%d DstPort:%d SeqNum:%d AckNum:%d DataOffset:%d Flags:%s WindowSize:%d Checksum:%x UrgentPointer:%d}",
		hdr.SrcPort, hdr.DstPort, hdr.SeqNum, hdr.AckNum, hdr.DataOffset, TCPFlagsAsString(hdr.Flags), hdr.WindowSize, hdr.Checksum, hdr.UrgentPointer)
}

func (p *TCPPacket) IsAck() bool {
	return p.TcpHeader.Flags&header.TCPFlagAck != 0
}

func (p *TCPPacket) IsSyn() bool {
	return p.TcpHeader.Flags&header.TCPFlagSyn != 0
}

func (p *TCPPacket) IsFin() bool {
	return p.TcpHeader.Flags&header.TCPFlagFin != 0
}

func (p *TCPPacket) IsRst() bool {
	return p.TcpHeader.Flags&header.TCPFlagRst != 0
}
