package wire

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/ansel1/merry"
)

// Frame layout, all integers big-endian:
//
//	u32 payload length
//	i64 unix milliseconds
//	u8  device type
//	i32 device id
//	i32 point count
//	point count times: f64 value, 4 x i32 alarm status
//
// A device without alarm statuses encodes all four as -1.
const (
	headerSize = 8 + 1 + 4 + 4
	pointSize  = 8 + 4*4

	// MaxPoints bounds the point count a frame may carry. Used to
	// reject garbage lengths when resynchronizing a byte stream.
	MaxPoints = 4096
)

var ErrBadFrame = merry.New("malformed frame")

// Marshal encodes the record as a single frame including the length prefix.
func Marshal(r Record) []byte {
	payload := headerSize + len(r.Points)*pointSize
	buf := make([]byte, 4+payload)
	binary.BigEndian.PutUint32(buf, uint32(payload))
	p := buf[4:]
	binary.BigEndian.PutUint64(p, uint64(r.Time.UnixMilli()))
	p[8] = byte(r.Device)
	binary.BigEndian.PutUint32(p[9:], uint32(r.DeviceID))
	binary.BigEndian.PutUint32(p[13:], uint32(len(r.Points)))
	off := headerSize
	for _, pt := range r.Points {
		binary.BigEndian.PutUint64(p[off:], math.Float64bits(pt.Value))
		off += 8
		for i := 0; i < 4; i++ {
			a := int32(-1)
			if pt.Alarms != nil {
				a = pt.Alarms[i]
			}
			binary.BigEndian.PutUint32(p[off:], uint32(a))
			off += 4
		}
	}
	return buf
}

// Unmarshal decodes one payload (without the length prefix).
func Unmarshal(p []byte) (Record, error) {
	var r Record
	if len(p) < headerSize {
		return r, ErrBadFrame.Here()
	}
	n := int(int32(binary.BigEndian.Uint32(p[13:])))
	if n < 0 || n > MaxPoints || len(p) != headerSize+n*pointSize {
		return r, ErrBadFrame.Here()
	}
	dt := DeviceType(p[8])
	if dt != Recorder && dt != ModbusDevice {
		return r, ErrBadFrame.Here()
	}
	r.Time = time.UnixMilli(int64(binary.BigEndian.Uint64(p))).Local()
	r.Device = dt
	r.DeviceID = int32(binary.BigEndian.Uint32(p[9:]))
	r.Points = make([]Point, n)
	off := headerSize
	for i := range r.Points {
		r.Points[i].Value = math.Float64frombits(binary.BigEndian.Uint64(p[off:]))
		off += 8
		alarms := make([]int32, 4)
		none := true
		for j := 0; j < 4; j++ {
			alarms[j] = int32(binary.BigEndian.Uint32(p[off:]))
			off += 4
			if alarms[j] != -1 {
				none = false
			}
		}
		if !none {
			r.Points[i].Alarms = alarms
		}
	}
	return r, nil
}

// Decoder pulls frames out of a byte stream. On a malformed frame it
// slides forward one byte at a time until a plausible length prefix
// lines up again, so a corrupted frame costs data but not the link.
type Decoder struct {
	br      *bufio.Reader
	skipped int
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{br: bufio.NewReaderSize(r, 64*1024)}
}

// Next blocks until a whole valid record arrives or the reader fails.
// The number of bytes discarded while resynchronizing is returned
// alongside the record.
func (d *Decoder) Next() (Record, int, error) {
	for {
		prefix, err := d.br.Peek(4)
		if err != nil {
			return Record{}, d.takeSkipped(), err
		}
		n := int(binary.BigEndian.Uint32(prefix))
		if !plausibleLength(n) {
			d.slide()
			continue
		}
		frame := make([]byte, 4+n)
		if _, err := io.ReadFull(d.br, frame[:4]); err != nil {
			return Record{}, d.takeSkipped(), err
		}
		if _, err := io.ReadFull(d.br, frame[4:]); err != nil {
			return Record{}, d.takeSkipped(), err
		}
		rec, err := Unmarshal(frame[4:])
		if err != nil {
			// Push nothing back: the bytes are already consumed.
			// Count them as skipped and keep scanning.
			d.skipped += len(frame)
			continue
		}
		return rec, d.takeSkipped(), nil
	}
}

func (d *Decoder) slide() {
	if _, err := d.br.Discard(1); err == nil {
		d.skipped++
	}
}

func (d *Decoder) takeSkipped() int {
	n := d.skipped
	d.skipped = 0
	return n
}

func plausibleLength(n int) bool {
	return n >= headerSize && (n-headerSize)%pointSize == 0 &&
		(n-headerSize)/pointSize <= MaxPoints
}
