// Package metrics holds the node's running counters. Every counter is a
// uint32 that wraps on overflow, matching the packet fields it fills.
package metrics

import (
	"sync/atomic"

	"github.com/michaelfletchercgy/rainguage/shared/telemetry"
)

type Counters struct {
	Tips atomic.Uint32
	// USBBytesRead and LoraRxBytes stay zero: the node only transmits.
	USBBytesRead     atomic.Uint32
	USBBytesWritten  atomic.Uint32
	USBErrors        atomic.Uint32
	LoraRxBytes      atomic.Uint32
	LoraTxBytes      atomic.Uint32
	LoraErrors       atomic.Uint32
	HardwareErrOther atomic.Uint32
}

// AddBytes adds n to c, truncating n to 32 bits so the sum wraps.
func AddBytes(c *atomic.Uint32, n int) {
	if n > 0 {
		c.Add(uint32(n))
	}
}

// Fill copies the current counter values into p.
func (c *Counters) Fill(p *telemetry.Packet) {
	p.TipCnt = c.Tips.Load()
	p.USBBytesRead = c.USBBytesRead.Load()
	p.USBBytesWritten = c.USBBytesWritten.Load()
	p.USBErrorCnt = c.USBErrors.Load()
	p.LoraRxBytes = c.LoraRxBytes.Load()
	p.LoraTxBytes = c.LoraTxBytes.Load()
	p.LoraErrorCnt = c.LoraErrors.Load()
	p.HardwareErrOtherCnt = c.HardwareErrOther.Load()
}
