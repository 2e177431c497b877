package mmiobus

import "time"

// EventInterval is the default period at which RunEventLoop ticks every
// attached device's Update hook (spec.md §4.4: "~100 Hz").
const EventInterval = 10 * time.Millisecond

// RunEventLoop starts the bus's single event thread, which periodically
// calls every attached region's optional Update hook in attach order.
// It runs until StopEventLoop is called (or the process exits) and must only be
// started once per Bus.
func (b *Bus) RunEventLoop() {
	b.stopEvents = make(chan struct{})
	b.eventsDone = make(chan struct{})
	go b.eventLoop()
}

func (b *Bus) eventLoop() {
	defer close(b.eventsDone)
	ticker := time.NewTicker(EventInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopEvents:
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *Bus) tick() {
	b.mu.Lock()
	seq := append([]*Region(nil), b.attachSeq...)
	b.mu.Unlock()
	for _, r := range seq {
		if r.Type != nil && r.Type.Update != nil {
			r.Type.Update(r.Data)
		}
	}
}

// StopEventLoop stops the event thread started by RunEventLoop and waits
// for it to exit.
func (b *Bus) StopEventLoop() {
	if b.stopEvents == nil {
		return
	}
	close(b.stopEvents)
	<-b.eventsDone
	b.stopEvents = nil
	b.eventsDone = nil
}
