package decoder

import (
	"bytes"
	"net/netip"
	"testing"

	"seekstream/pkg/proto"
	"seekstream/pkg/sstream"

	"github.com/google/netstack/tcpip/header"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	srcIP = netip.MustParseAddr("192.168.0.1")
	dstIP = netip.MustParseAddr("192.168.0.2")
)

func newTestDecoder(t *testing.T, capacity uint32) *Decoder {
	t.Helper()
	d, err := New(zaptest.NewLogger(t), &sstream.Config{Capacity: capacity})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func tcpFrame(t *testing.T, seq uint32, payload []byte) []byte {
	t.Helper()
	seg := proto.NewTCPPacket(4000, 443, seq, 0, header.TCPFlagPsh|header.TCPFlagAck, payload, 1024)
	raw, err := proto.NewPacket(srcIP, dstIP, seg.Marshal(srcIP, dstIP), proto.ProtoNumTCP).Marshal()
	require.NoError(t, err)
	return raw
}

func rawFrame(t *testing.T, payload []byte) []byte {
	t.Helper()
	raw, err := proto.NewPacket(srcIP, dstIP, payload, proto.ProtoNumTest).Marshal()
	require.NoError(t, err)
	return raw
}

func drain(d *Decoder) []*Frame {
	var frames []*Frame
	for {
		f, ok := d.Next()
		if !ok {
			return frames
		}
		frames = append(frames, f)
	}
}

func TestDecoder_ChunkedInput(t *testing.T) {
	d := newTestDecoder(t, 128)

	var input []byte
	for i := 0; i < 5; i++ {
		input = append(input, tcpFrame(t, uint32(i), bytes.Repeat([]byte{byte('a' + i)}, 10*i))...)
	}

	for len(input) > 0 {
		n := min(7, len(input))
		require.NoError(t, d.Feed(input[:n]))
		input = input[n:]
	}

	frames := drain(d)
	require.Len(t, frames, 5)
	for i, f := range frames {
		require.NotNil(t, f.TCP)
		assert.Equal(t, uint32(i), f.TCP.TcpHeader.SeqNum)
		assert.Equal(t, bytes.Repeat([]byte{byte('a' + i)}, 10*i), f.TCP.Payload)
		assert.Equal(t, srcIP, f.IP.Header.Src)
	}
	assert.Equal(t, 0, d.Buffered())
	assert.Equal(t, uint64(5), d.Stats().Frames)
}

func TestDecoder_FeedLargerThanCapacity(t *testing.T) {
	d := newTestDecoder(t, 128)

	var input []byte
	for i := 0; i < 4; i++ {
		input = append(input, tcpFrame(t, uint32(i), make([]byte, 60))...)
	}
	require.Greater(t, len(input), 128)

	require.NoError(t, d.Feed(input))
	assert.Equal(t, uint64(len(input)), d.Stats().BytesFed)
	assert.Len(t, drain(d), 4)
}

func TestDecoder_PartialFrame(t *testing.T) {
	d := newTestDecoder(t, 256)
	frame := tcpFrame(t, 7, []byte("partial"))

	require.NoError(t, d.Feed(frame[:30]))
	_, ok := d.Next()
	assert.False(t, ok)
	assert.Equal(t, 30, d.Buffered())
	assert.Equal(t, 0, d.Pending())

	require.NoError(t, d.Feed(frame[30:]))
	assert.Equal(t, 1, d.Pending())
	f, ok := d.Next()
	require.True(t, ok)
	assert.Equal(t, "partial", string(f.TCP.Payload))
}

func TestDecoder_NonTCP(t *testing.T) {
	d := newTestDecoder(t, 256)
	require.NoError(t, d.Feed(rawFrame(t, []byte("just ip"))))

	f, ok := d.Next()
	require.True(t, ok)
	assert.Nil(t, f.TCP)
	assert.Equal(t, "just ip", string(f.IP.Payload))
}

func TestDecoder_NilLogger(t *testing.T) {
	d, err := New(nil, &sstream.Config{Capacity: 256})
	require.NoError(t, err)
	defer d.Close()

	input := append([]byte{0xff}, rawFrame(t, []byte("quiet"))...)
	require.NoError(t, d.Feed(input))
	frames := drain(d)
	require.Len(t, frames, 1)
	assert.Equal(t, "quiet", string(frames[0].IP.Payload))
	assert.Equal(t, uint64(1), d.Stats().Resyncs)
}

func TestDecoder_ResyncOnGarbage(t *testing.T) {
	d := newTestDecoder(t, 256)
	input := append(bytes.Repeat([]byte{0xff}, 5), rawFrame(t, []byte("after garbage"))...)
	require.NoError(t, d.Feed(input))

	frames := drain(d)
	require.Len(t, frames, 1)
	assert.Equal(t, "after garbage", string(frames[0].IP.Payload))
	assert.Equal(t, uint64(5), d.Stats().Resyncs)
}

func TestDecoder_FrameLargerThanCapacity(t *testing.T) {
	d := newTestDecoder(t, 256)

	// a header announcing 300 bytes, followed by a good frame
	oversized := make([]byte, proto.DefaultIpHeaderLen)
	oversized[0] = 4<<4 | 5
	oversized[2], oversized[3] = 0x01, 0x2c
	input := append(oversized, rawFrame(t, []byte("ok"))...)
	require.NoError(t, d.Feed(input))

	frames := drain(d)
	require.Len(t, frames, 1)
	assert.Equal(t, "ok", string(frames[0].IP.Payload))
	assert.Equal(t, uint64(proto.DefaultIpHeaderLen), d.Stats().Resyncs)
}

func TestDecoder_DropsBadChecksums(t *testing.T) {
	d := newTestDecoder(t, 256)

	badIP := rawFrame(t, []byte("bad ip"))
	badIP[8]++
	badTCP := tcpFrame(t, 1, []byte("bad tcp"))
	badTCP[len(badTCP)-1] ^= 0x01
	good := tcpFrame(t, 2, []byte("good"))

	require.NoError(t, d.Feed(badIP))
	require.NoError(t, d.Feed(badTCP))
	require.NoError(t, d.Feed(good))

	frames := drain(d)
	require.Len(t, frames, 1)
	assert.Equal(t, "good", string(frames[0].TCP.Payload))

	st := d.Stats()
	assert.Equal(t, uint64(2), st.BadChecksum)
	assert.Equal(t, uint64(1), st.Frames)
	assert.Equal(t, uint64(0), st.Resyncs)
}

func TestDecoder_MalformedTCP(t *testing.T) {
	d := newTestDecoder(t, 256)
	require.NoError(t, d.Feed(rawFrameWithProto(t, []byte("short"), proto.ProtoNumTCP)))

	_, ok := d.Next()
	assert.False(t, ok)
	assert.Equal(t, uint64(1), d.Stats().Malformed)
}

func rawFrameWithProto(t *testing.T, payload []byte, protoNum uint8) []byte {
	t.Helper()
	raw, err := proto.NewPacket(srcIP, dstIP, payload, protoNum).Marshal()
	require.NoError(t, err)
	return raw
}
