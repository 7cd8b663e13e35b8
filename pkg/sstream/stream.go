package sstream

import (
	"fmt"
	"io"
	"math"
)

// Layout of the ring inside the allocated memory:
//
// |------ allocated memory -----------------------------------|
// |------ ring (capacity + 1) ---------------------|          |
// | free | stale          | fresh          | free  | unused   |
//        head             head+cursor      tail
//        |---- used ----------------------|
//
// One slot of the ring is always left empty so head == tail means empty.

const (
	CapacityMin     = 128
	CapacityDefault = 1024
)

type Config struct {
	Capacity uint32
}

// Stat is a snapshot of the stream's region accounting.
type Stat struct {
	Capacity uint32
	Used     uint32
	Stale    uint32
	Fresh    uint32
	Free     uint32
	Cursor   uint32
}

// Stream is a fixed capacity ring buffer whose read cursor can be moved
// back over data that was read but not yet cleaned. A Stream has a single
// owner; it does no locking.
type Stream struct {
	buff     []byte
	capacity uint32
	head     uint32
	tail     uint32
	stale    uint32 // also the cursor
	fresh    uint32
}

var (
	_ io.Reader = (*Stream)(nil)
	_ io.Writer = (*Stream)(nil)
	_ io.Seeker = (*Stream)(nil)
)

// New creates a stream. A nil conf, or a capacity below CapacityMin,
// gives a stream of CapacityDefault bytes.
func New(conf *Config) (*Stream, error) {
	return newStream(conf, allocate)
}

func newStream(conf *Config, alloc func(size uint64) ([]byte, error)) (*Stream, error) {
	capacity := uint32(CapacityDefault)
	// below the minimum falls back to the default, not to the minimum
	if conf != nil && conf.Capacity >= CapacityMin {
		capacity = conf.Capacity
	}

	buff, err := alloc(allocSize(capacity))
	if err != nil {
		return nil, err
	}
	return &Stream{
		buff:     buff,
		capacity: capacity,
	}, nil
}

// allocSize rounds capacity+1 up to a multiple of 8.
func allocSize(capacity uint32) uint64 {
	return ((uint64(capacity) >> 3) + 1) << 3
}

func allocate(size uint64) (buff []byte, err error) {
	if size > math.MaxInt {
		return nil, ErrNoMemory
	}
	defer func() {
		if r := recover(); r != nil {
			buff, err = nil, ErrNoMemory
		}
	}()
	return make([]byte, size), nil
}

// Close releases the backing storage. The stream must not be used again.
func (s *Stream) Close() error {
	s.mustBeOpen()
	s.buff = nil
	s.head, s.tail, s.stale, s.fresh = 0, 0, 0, 0
	return nil
}

func (s *Stream) Stat() Stat {
	s.mustBeOpen()
	used := s.used()
	return Stat{
		Capacity: s.capacity,
		Used:     used,
		Stale:    s.stale,
		Fresh:    s.fresh,
		Free:     s.capacity - used,
		Cursor:   s.stale,
	}
}

// Len returns the number of bytes ahead of the cursor.
func (s *Stream) Len() int {
	s.mustBeOpen()
	return int(s.fresh)
}

// Clean drops everything behind the cursor and gives its space back to
// writers. The cursor returns to 0.
func (s *Stream) Clean() {
	s.mustBeOpen()
	if s.stale == 0 {
		return
	}
	s.head = s.advance(s.head, s.stale)
	s.stale = 0
}

// Write appends p to the stream. Either all of p is written or nothing is,
// in which case ErrNoSpace is returned.
func (s *Stream) Write(p []byte) (int, error) {
	s.mustBeOpen()
	if len(p) == 0 {
		return 0, nil
	}
	if uint64(len(p)) > uint64(s.free()) {
		return 0, ErrNoSpace
	}
	s.put(p, uint32(len(p)))
	return len(p), nil
}

// WriteZero appends n zero bytes.
func (s *Stream) WriteZero(n uint32) error {
	s.mustBeOpen()
	if n == 0 {
		return nil
	}
	if n > s.free() {
		return ErrNoSpace
	}
	s.put(nil, n)
	return nil
}

// put copies n bytes of p (or zeros when p is nil) at tail. The caller has
// checked the free space.
func (s *Stream) put(p []byte, n uint32) {
	tail := uint64(s.tail)
	size := uint64(n)
	if s.modulus()-tail >= size {
		fill(s.buff[tail:tail+size], p)
	} else {
		first := s.modulus() - tail
		fill(s.buff[tail:s.modulus()], p)
		if p != nil {
			p = p[first:]
		}
		fill(s.buff[:size-first], p)
	}
	s.tail = s.advance(s.tail, n)
	s.fresh += n
}

func fill(dst, src []byte) {
	if src == nil {
		clear(dst)
		return
	}
	copy(dst, src)
}

// Read copies exactly len(p) bytes from the cursor into p. If fewer bytes
// are available nothing is read and ErrNoData is returned. Read bytes stay
// in the stream until Clean is called.
//
// Unlike most io.Readers, Read never returns a short read: callers that
// pass a buffer larger than Len, such as io.ReadAll or bufio.Reader, get
// ErrNoData even when data is resident. Size p with Len first.
func (s *Stream) Read(p []byte) (int, error) {
	s.mustBeOpen()
	if len(p) == 0 {
		return 0, nil
	}
	if uint64(len(p)) > uint64(s.fresh) {
		return 0, ErrNoData
	}
	s.get(p, uint32(len(p)))
	return len(p), nil
}

// ReadClean is Read followed by Clean. An empty p does nothing, it does
// not clean.
func (s *Stream) ReadClean(p []byte) (int, error) {
	s.mustBeOpen()
	if len(p) == 0 {
		return 0, nil
	}
	n, err := s.Read(p)
	if err != nil {
		return n, err
	}
	s.Clean()
	return n, nil
}

// Skip moves the cursor forward by n bytes without copying them.
func (s *Stream) Skip(n uint32, clean bool) error {
	s.mustBeOpen()
	if n == 0 {
		return nil
	}
	if n > s.fresh {
		return ErrNoData
	}
	s.get(nil, n)
	if clean {
		s.Clean()
	}
	return nil
}

// get copies n bytes at the cursor into p (when p is not nil) and moves
// the cursor past them. The caller has checked the fresh size.
func (s *Stream) get(p []byte, n uint32) {
	if p != nil {
		start := uint64(s.advance(s.head, s.stale))
		size := uint64(n)
		if s.modulus()-start >= size {
			copy(p, s.buff[start:start+size])
		} else {
			first := s.modulus() - start
			copy(p, s.buff[start:s.modulus()])
			copy(p[first:], s.buff[:size-first])
		}
	}
	s.stale += n
	s.fresh -= n
}

// Seek moves the cursor within the resident data, [0, used]. whence is one
// of io.SeekStart, io.SeekCurrent or io.SeekEnd. It returns the new cursor.
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	s.mustBeOpen()
	if whence != io.SeekStart && whence != io.SeekCurrent && whence != io.SeekEnd {
		panic(fmt.Sprintf("sstream: invalid whence %d", whence))
	}
	used := int64(s.used())
	cursor := int64(s.stale)

	// every valid target is within used of 0, cursor and used; this
	// also bounds the sums below
	if offset > used || offset < -used {
		return cursor, ErrBadOffset
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = cursor + offset
	case io.SeekEnd:
		target = used + offset
	}

	if target < 0 || target > used {
		return cursor, ErrBadOffset
	}
	if target == cursor {
		return cursor, nil
	}
	s.stale = uint32(target)
	s.fresh = uint32(used - target)
	return target, nil
}

// Bytes returns a copy of the resident data, stale bytes first.
func (s *Stream) Bytes() []byte {
	s.mustBeOpen()
	used := uint64(s.used())
	if used == 0 {
		return nil
	}
	buf := make([]byte, used)
	head := uint64(s.head)
	if s.modulus()-head >= used {
		copy(buf, s.buff[head:head+used])
	} else {
		first := s.modulus() - head
		copy(buf, s.buff[head:s.modulus()])
		copy(buf[first:], s.buff[:used-first])
	}
	return buf
}

func (s *Stream) used() uint32 {
	return s.stale + s.fresh
}

func (s *Stream) free() uint32 {
	return s.capacity - s.used()
}

func (s *Stream) modulus() uint64 {
	return uint64(s.capacity) + 1
}

// advance returns idx moved forward by n around the ring.
func (s *Stream) advance(idx uint32, n uint32) uint32 {
	return uint32((uint64(idx) + uint64(n)) % s.modulus())
}

func (s *Stream) mustBeOpen() {
	if s.buff == nil {
		panic("sstream: use of closed stream")
	}
}

// checkInvariants reports the first broken accounting invariant, if any.
func (s *Stream) checkInvariants() error {
	if uint64(s.head) > uint64(s.capacity) || uint64(s.tail) > uint64(s.capacity) {
		return fmt.Errorf("index out of ring: head=%d tail=%d capacity=%d", s.head, s.tail, s.capacity)
	}
	if uint64(s.stale)+uint64(s.fresh) > uint64(s.capacity) {
		return fmt.Errorf("used %d exceeds capacity %d", uint64(s.stale)+uint64(s.fresh), s.capacity)
	}
	dist := (uint64(s.tail) + s.modulus() - uint64(s.head)) % s.modulus()
	if dist != uint64(s.used()) {
		return fmt.Errorf("ring distance %d != used %d", dist, s.used())
	}
	if uint64(len(s.buff)) < s.modulus() || uint64(len(s.buff))%8 != 0 {
		return fmt.Errorf("backing size %d for capacity %d", len(s.buff), s.capacity)
	}
	return nil
}
