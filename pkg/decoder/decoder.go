// Package decoder reassembles IPv4 packets from an unframed byte stream.
//
// Input is buffered in a seekable stream. The decoder reads the fixed
// IPv4 header to learn the frame length, rewinds to the frame start and
// only consumes the frame once all of it is resident. Consumed frames are
// cleaned from the stream right away, so at most one partial frame is
// kept between calls to Feed.
package decoder

import (
	"io"

	"seekstream/pkg/proto"
	"seekstream/pkg/sstream"

	"github.com/gammazero/deque"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Frame is one decoded packet. TCP is nil unless the packet carries TCP.
type Frame struct {
	IP  *proto.IPPacket
	TCP *proto.TCPPacket
}

type Stats struct {
	BytesFed    uint64
	Frames      uint64
	BadChecksum uint64
	Malformed   uint64
	Resyncs     uint64
}

type Decoder struct {
	logger *zap.Logger
	stream *sstream.Stream
	frames *deque.Deque[*Frame]
	hdr    [proto.DefaultIpHeaderLen]byte
	stats  Stats
}

// New creates a decoder buffering input in a stream built from conf. A nil
// logger discards log output.
func New(logger *zap.Logger, conf *sstream.Config) (*Decoder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s, err := sstream.New(conf)
	if err != nil {
		return nil, errors.Wrap(err, "decoder: create stream")
	}
	return &Decoder{
		logger: logger,
		stream: s,
		frames: deque.New[*Frame](),
	}, nil
}

// Feed buffers b. When the stream fills up, pending frames are decoded to
// make room. An error is returned only if b cannot be buffered even after
// decoding; the bytes before the failing part stay buffered.
func (d *Decoder) Feed(b []byte) error {
	for len(b) > 0 {
		free := d.stream.Stat().Free
		if free == 0 {
			if d.decode() == 0 {
				return errors.Wrapf(sstream.ErrNoSpace, "decoder: %d bytes not buffered", len(b))
			}
			continue
		}

		n := len(b)
		if uint64(n) > uint64(free) {
			n = int(free)
		}
		if _, err := d.stream.Write(b[:n]); err != nil {
			return errors.Wrap(err, "decoder: write")
		}
		d.stats.BytesFed += uint64(n)
		b = b[n:]
	}
	return nil
}

// Next returns the oldest decoded frame, decoding buffered input if no
// frame is queued.
func (d *Decoder) Next() (*Frame, bool) {
	if d.frames.Len() == 0 {
		d.decode()
	}
	if d.frames.Len() == 0 {
		return nil, false
	}
	return d.frames.PopFront(), true
}

// Pending decodes buffered input and returns the number of queued frames.
func (d *Decoder) Pending() int {
	d.decode()
	return d.frames.Len()
}

// Buffered returns the number of undecoded bytes.
func (d *Decoder) Buffered() int {
	return d.stream.Len()
}

func (d *Decoder) Stats() Stats {
	return d.stats
}

func (d *Decoder) Close() error {
	d.frames.Clear()
	return d.stream.Close()
}

// decode consumes as many whole frames as are buffered and returns how
// many steps made progress (frames queued or dropped, resyncs).
func (d *Decoder) decode() int {
	steps := 0
	for d.step() {
		steps++
	}
	return steps
}

// step handles the frame at the start of the stream. It returns false when
// more input is needed.
func (d *Decoder) step() bool {
	hdr := d.hdr[:]
	if _, err := d.stream.Read(hdr); err != nil {
		return false
	}

	_, totalLen, err := proto.PeekLengths(hdr)
	if err == nil && uint64(totalLen) > uint64(d.stream.Stat().Capacity) {
		err = errors.Errorf("frame of %d bytes exceeds stream capacity", totalLen)
	}
	if err != nil {
		d.resync(err)
		return true
	}

	// back to the frame start; the header is read again with the frame
	if _, err := d.stream.Seek(0, io.SeekStart); err != nil {
		panic(err)
	}
	if d.stream.Len() < totalLen {
		return false
	}

	raw := make([]byte, totalLen)
	if _, err := d.stream.ReadClean(raw); err != nil {
		panic(err)
	}
	d.handle(raw)
	return true
}

// resync drops the first buffered byte so decoding restarts one byte later.
func (d *Decoder) resync(cause error) {
	d.stats.Resyncs++
	d.logger.Debug("resync", zap.Error(cause), zap.Int("buffered", d.stream.Len()+len(d.hdr)))
	if _, err := d.stream.Seek(1, io.SeekStart); err != nil {
		panic(err)
	}
	d.stream.Clean()
}

func (d *Decoder) handle(raw []byte) {
	ip := new(proto.IPPacket)
	if err := ip.Unmarshal(raw); err != nil {
		d.stats.Malformed++
		d.logger.Warn("dropping malformed packet", zap.Error(err), zap.Int("len", len(raw)))
		return
	}
	if !ip.ValidChecksum(raw) {
		d.stats.BadChecksum++
		d.logger.Warn("dropping packet with bad ip checksum",
			zap.Stringer("src", ip.Header.Src), zap.Stringer("dst", ip.Header.Dst))
		return
	}

	frame := &Frame{IP: ip}
	if uint8(ip.Header.Protocol) == proto.ProtoNumTCP {
		seg := new(proto.TCPPacket)
		if err := seg.Unmarshal(ip.Payload); err != nil {
			d.stats.Malformed++
			d.logger.Warn("dropping malformed tcp segment", zap.Error(err))
			return
		}
		if !proto.ValidTCPSegment(ip.Payload, ip.Header.Src, ip.Header.Dst) {
			d.stats.BadChecksum++
			d.logger.Warn("dropping tcp segment with bad checksum",
				zap.Stringer("src", ip.Header.Src), zap.Stringer("dst", ip.Header.Dst))
			return
		}
		frame.TCP = seg
	}

	d.stats.Frames++
	d.logger.Debug("frame",
		zap.Stringer("src", ip.Header.Src),
		zap.Stringer("dst", ip.Header.Dst),
		zap.Int("protocol", ip.Header.Protocol),
		zap.Int("len", len(raw)))
	d.frames.PushBack(frame)
}
