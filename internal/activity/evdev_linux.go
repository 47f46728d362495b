//go:build linux

package activity

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/majorcontext/asrtt/internal/log"
	"golang.org/x/sys/unix"
)

// Linux input event types and codes (linux/input-event-codes.h).
const (
	evKey = 0x01
	evRel = 0x02
	evAbs = 0x03

	relHWheel = 0x06
	relWheel  = 0x08

	btnMouseFirst = 0x110
	btnMouseLast  = 0x117
)

// inputEvent mirrors struct input_event. The timestamp is a struct timeval,
// whose field width follows the architecture: 24 bytes per record on 64-bit
// platforms, 16 on 32-bit ones.
type inputEvent struct {
	Time  unix.Timeval
	Type  uint16
	Code  uint16
	Value int32
}

// Subscribe opens every readable device matching the pattern. It fails only
// if no device could be opened.
func (e *Evdev) Subscribe(ctx context.Context) (<-chan Event, error) {
	paths, err := filepath.Glob(e.pattern())
	if err != nil {
		return nil, fmt.Errorf("listing input devices: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no input devices match %s", e.pattern())
	}

	var files []*os.File
	var openErrs []error
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			openErrs = append(openErrs, err)
			continue
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("opening input devices: %w", errors.Join(openErrs...))
	}
	if len(openErrs) > 0 {
		log.Debug("some input devices are not readable", "error", errors.Join(openErrs...))
	}

	out := make(chan Event, subscriberBuffer)
	var wg sync.WaitGroup
	for _, f := range files {
		wg.Add(1)
		go func(f *os.File) {
			defer wg.Done()
			readDevice(f, out)
		}(f)
	}

	go func() {
		<-ctx.Done()
		for _, f := range files {
			f.Close()
		}
		wg.Wait()
		close(out)
	}()
	return out, nil
}

func readDevice(r io.Reader, out chan<- Event) {
	for {
		var ie inputEvent
		if err := binary.Read(r, binary.NativeEndian, &ie); err != nil {
			return
		}
		kind, ok := classify(ie)
		if !ok {
			continue
		}
		select {
		case out <- Event{Kind: kind, Time: time.Unix(ie.Time.Unix())}:
		default:
		}
	}
}

// classify maps a raw input event to an activity kind. Key releases,
// autorepeat and sync frames are not activity of their own.
func classify(ie inputEvent) (Kind, bool) {
	switch ie.Type {
	case evKey:
		if ie.Value != 1 {
			return 0, false
		}
		if ie.Code >= btnMouseFirst && ie.Code <= btnMouseLast {
			return Click, true
		}
		return KeyPress, true
	case evRel:
		if ie.Code == relWheel || ie.Code == relHWheel {
			return Scroll, true
		}
		return PointerMove, true
	case evAbs:
		return PointerMove, true
	}
	return 0, false
}
