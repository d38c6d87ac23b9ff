//go:build linux

package capture

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/google/gopacket/afpacket"
	"golang.org/x/sys/unix"
)

// ringBinder binds a single promiscuous AF_PACKET ring to one interface,
// grounded on the TPacket setup used by datadog-agent's Linux packet
// source.
type ringBinder struct {
	tpacket *afpacket.TPacket
	iface   string
}

// InterfaceOpenError is returned when an interface cannot be bound: it
// does not exist, is down, or the process lacks raw-socket privileges.
// A failure binding one interface must never prevent others from being
// bound, so callers collect these per interface rather than aborting.
type InterfaceOpenError struct {
	Interface string
	Err       error
}

func (e *InterfaceOpenError) Error() string {
	return fmt.Sprintf("capture: open interface %q: %v", e.Interface, e.Err)
}

func (e *InterfaceOpenError) Unwrap() error { return e.Err }

// bindInterface opens a raw socket bound to iface with a memory-mapped
// ring of approximately ringBufferFrames frames, each able to hold a
// snapLength-byte capture.
func bindInterface(iface string, promiscuous bool, ringBufferFrames, snapLength int) (*ringBinder, error) {
	frameSize, blockSize, numBlocks, err := afpacketComputeSize(ringBufferFrames, snapLength, os.Getpagesize())
	if err != nil {
		return nil, &InterfaceOpenError{iface, fmt.Errorf("compute ring geometry: %w", err)}
	}

	opts := []interface{}{
		afpacket.OptInterface(iface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(500 * time.Millisecond),
		afpacket.OptAddPktType(true),
	}

	tp, err := afpacket.NewTPacket(opts...)
	if err != nil {
		return nil, &InterfaceOpenError{iface, err}
	}

	if promiscuous {
		if err := setPromiscuous(iface, true); err != nil {
			tp.Close()
			return nil, &InterfaceOpenError{iface, fmt.Errorf("set promiscuous mode: %w", err)}
		}
	}

	return &ringBinder{tpacket: tp, iface: iface}, nil
}

func (r *ringBinder) Close() {
	r.tpacket.Close()
}

// readPacketData pulls the next raw frame slice from the ring, retrying
// on EAGAIN and surfacing a poll timeout as (nil, zero time, nil) so the
// caller's busy-poll loop can re-check its exit channel.
func (r *ringBinder) readPacketData() ([]byte, time.Time, error) {
	for {
		data, ci, err := r.tpacket.ZeroCopyReadPacketData()
		switch err {
		case nil:
			return data, ci.Timestamp, nil
		case syscall.EAGAIN:
			continue
		case afpacket.ErrTimeout:
			return nil, time.Time{}, nil
		default:
			return nil, time.Time{}, err
		}
	}
}

// setPromiscuous toggles IFF_PROMISC on iface via an ioctl on a
// temporary raw socket, the standard Linux mechanism since AF_PACKET
// itself has no per-socket promiscuous flag.
func setPromiscuous(iface string, enable bool) error {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM, 0)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	ifr, err := unix.NewIfreq(iface)
	if err != nil {
		return err
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFFLAGS, ifr); err != nil {
		return err
	}

	flags := ifr.Uint16()
	if enable {
		flags |= unix.IFF_PROMISC
	} else {
		flags &^= unix.IFF_PROMISC
	}
	ifr.SetUint16(flags)

	return unix.IoctlIfreq(fd, unix.SIOCSIFFLAGS, ifr)
}

// afpacketComputeSize mirrors the block/frame sizing logic used to size
// an AF_PACKET mmap ring: block_size must be divisible by both frame
// size and the page size.
func afpacketComputeSize(targetFrames, snaplen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	frameSize = tpacketAlign(unix.TPACKET_HDRLEN) + tpacketAlign(snaplen)
	if frameSize <= pageSize {
		frameSize = int(nextPowerOf2(int64(frameSize)))
		blockSize = pageSize
	} else {
		frameSize = (frameSize + pageSize - 1) &^ (pageSize - 1)
		blockSize = frameSize
	}

	framesPerBlock := blockSize / frameSize
	if framesPerBlock == 0 {
		return 0, 0, 0, fmt.Errorf("frame size %d exceeds block size %d", frameSize, blockSize)
	}
	numBlocks = targetFrames / framesPerBlock
	if numBlocks == 0 {
		numBlocks = 1
	}
	if numBlocks > afpacket.DefaultNumBlocks*4 {
		numBlocks = afpacket.DefaultNumBlocks * 4
	}
	return frameSize, blockSize, numBlocks, nil
}

func tpacketAlign(x int) int {
	return (x + unix.TPACKET_ALIGNMENT - 1) &^ (unix.TPACKET_ALIGNMENT - 1)
}

func nextPowerOf2(v int64) int64 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}
