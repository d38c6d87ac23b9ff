// Package capture implements the capture pipeline: binding a ring to
// each configured interface (C1), decoding frames off that ring (C2),
// and batching/publishing decoded frames to the frame stream (C3).
package capture

import (
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/netsentinel/netsentinel/internal/config"
	"github.com/netsentinel/netsentinel/internal/decode"
	"github.com/netsentinel/netsentinel/internal/telemetry"
)

// InterfaceWorker binds one interface's ring, decodes frames off it in
// ring order, and feeds its dedicated Batcher. One worker runs per
// configured interface, each on its own goroutine, matching the
// one-dedicated-worker-per-interface scheduling rule from the binder's
// contract.
type InterfaceWorker struct {
	iface   string
	binder  *ringBinder
	batcher *Batcher
	exit    chan struct{}
	stopped chan struct{}
}

// StartInterfaceWorker binds iface and launches its batcher and read
// loop. A bind failure on one interface is returned to the caller and
// must not prevent other interfaces from starting.
func StartInterfaceWorker(ifaceCfg config.InterfaceConfig, capCfg config.CaptureSection, maxStreamLength int64, publisher Publisher, publishQueueDepth int) (*InterfaceWorker, error) {
	binder, err := bindInterface(ifaceCfg.Name, ifaceCfg.Promiscuous, capCfg.RingBufferSize, capCfg.SnapLength)
	if err != nil {
		return nil, err
	}

	batcher := NewBatcher(
		ifaceCfg.Name,
		capCfg.BatchSize,
		time.Duration(capCfg.FlushIntervalMs)*time.Millisecond,
		maxStreamLength,
		publishQueueDepth,
		publisher,
	)

	w := &InterfaceWorker{
		iface:   ifaceCfg.Name,
		binder:  binder,
		batcher: batcher,
		exit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go batcher.Run()
	go w.readLoop()

	return w, nil
}

// readLoop busy-polls the ring, decoding and submitting each frame to
// the batcher until Stop is called. It never suspends beyond the ring's
// own short poll timeout, per the binder's scheduling contract.
func (w *InterfaceWorker) readLoop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.exit:
			return
		default:
		}

		data, ts, err := w.binder.readPacketData()
		if err != nil {
			log.WithFields(log.Fields{"interface": w.iface, "error": err}).
				Error("ring read failed, worker exiting")
			return
		}
		if data == nil {
			continue // poll timeout, re-check exit
		}

		telemetry.FramesCaptured.WithLabelValues(w.iface).Inc()

		f, err := decode.Frame(data, w.iface, ts)
		if err != nil {
			var decErr *decode.Error
			layer := "unknown"
			if ok := asDecodeError(err, &decErr); ok {
				layer = string(decErr.Reason)
			}
			telemetry.DecodeErrors.WithLabelValues(w.iface, layer).Inc()
			continue
		}

		w.batcher.Submit(f)
	}
}

func asDecodeError(err error, target **decode.Error) bool {
	de, ok := err.(*decode.Error)
	if ok {
		*target = de
	}
	return ok
}

// Stop halts the read loop and drains the batcher.
func (w *InterfaceWorker) Stop() {
	close(w.exit)
	<-w.stopped
	w.batcher.Stop()
	w.binder.Close()
}
