package rtloop

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log"
	"os"
	"time"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
)

// WriteLatencyEvent matches the struct a kprobe on the HID write
// syscall would emit: the torque-command sequence number and the
// measured latency in nanoseconds.
type WriteLatencyEvent struct {
	SequenceID uint32
	LatencyNs  uint64
}

// tracerObjects holds the eBPF program and ring buffer map (stub).
type tracerObjects struct {
	TraceWrite    *ebpf.Program `ebpf:"trace_hid_write"`
	LatencyEvents *ebpf.Map     `ebpf:"latency_events"`
}

func (o *tracerObjects) Close() error {
	if o.TraceWrite != nil {
		o.TraceWrite.Close()
	}
	if o.LatencyEvents != nil {
		o.LatencyEvents.Close()
	}
	return nil
}

// loadTracerObjects loads the compiled eBPF objects (stub). In a real
// build this would be generated by bpf2go from a .bpf.c source; no
// such compiler is available here, so this returns nil, leaving the
// program/map fields unset and forcing Tracer into wall-clock fallback.
func loadTracerObjects(obj *tracerObjects, opts *ebpf.CollectionOptions) error {
	return nil
}

// Tracer samples HID write latency via a kprobe on the device write
// path when eBPF is available, falling back to wall-clock timing
// (time.Since around the call site) otherwise. The fallback is the
// common case outside a real-time kernel build and is not itself an
// error condition.
type Tracer struct {
	objs     tracerObjects
	kprobe   link.Link
	reader   *ringbuf.Reader
	fallback bool
}

// NewTracer attaches a kprobe on kprobeSymbol (the kernel entry point
// for the transport's write syscall, e.g. "usb_bulk_msg" or a stub
// symbol in non-hardware environments). On any failure it logs once
// and returns a Tracer in fallback mode rather than an error: latency
// tracing is an observability nicety, never a reason to fail startup.
func NewTracer(kprobeSymbol string) *Tracer {
	t := &Tracer{}

	if err := rlimit.RemoveMemlock(); err != nil {
		log.Printf("rtloop: eBPF memlock rlimit unavailable, using wall-clock latency sampling: %v", err)
		t.fallback = true
		return t
	}

	if err := loadTracerObjects(&t.objs, nil); err != nil {
		log.Printf("rtloop: failed to load eBPF tracer objects, using wall-clock latency sampling: %v", err)
		t.fallback = true
		return t
	}

	kp, err := link.Kprobe(kprobeSymbol, t.objs.TraceWrite, nil)
	if err != nil {
		log.Printf("rtloop: failed to attach kprobe %q, using wall-clock latency sampling: %v", kprobeSymbol, err)
		t.fallback = true
		return t
	}
	t.kprobe = kp

	reader, err := ringbuf.NewReader(t.objs.LatencyEvents)
	if err != nil {
		log.Printf("rtloop: failed to open latency ring buffer, using wall-clock latency sampling: %v", err)
		kp.Close()
		t.fallback = true
		return t
	}
	t.reader = reader
	return t
}

// Fallback reports whether this tracer is operating in wall-clock mode.
func (t *Tracer) Fallback() bool { return t.fallback }

// Sample performs a single non-blocking read of the latency ring
// buffer. ok is false in fallback mode or when no event is pending. A
// past deadline forces Read to return immediately instead of blocking
// the 1 kHz caller until the next kernel-side event arrives.
func (t *Tracer) Sample() (event WriteLatencyEvent, ok bool) {
	if t.fallback || t.reader == nil {
		return WriteLatencyEvent{}, false
	}
	if err := t.reader.SetDeadline(time.Now()); err != nil {
		log.Printf("rtloop: failed to set latency ring buffer deadline: %v", err)
		return WriteLatencyEvent{}, false
	}
	record, err := t.reader.Read()
	if err != nil {
		if !errors.Is(err, ringbuf.ErrClosed) && !errors.Is(err, os.ErrDeadlineExceeded) {
			log.Printf("rtloop: latency ring buffer read failed: %v", err)
		}
		return WriteLatencyEvent{}, false
	}
	if err := binary.Read(bytes.NewReader(record.RawSample), binary.LittleEndian, &event); err != nil {
		log.Printf("rtloop: failed to decode latency event: %v", err)
		return WriteLatencyEvent{}, false
	}
	return event, true
}

func (t *Tracer) Close() error {
	if t.reader != nil {
		t.reader.Close()
	}
	if t.kprobe != nil {
		t.kprobe.Close()
	}
	return t.objs.Close()
}
