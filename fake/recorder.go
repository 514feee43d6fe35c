// File: fake/recorder.go
// Author: momentics <momentics@gmail.com>
//
// Recorder is a pipeline handler that captures the ordered event stream
// a channel delivers, for assertions in tests.

package fake

import (
	"fmt"
	"sync"

	"github.com/momentics/hioload-channel/api"
	"github.com/momentics/hioload-channel/channel"
)

// Recorder implements every inbound handler interface and records event
// names in delivery order.
type Recorder struct {
	mu       sync.Mutex
	events   []string
	messages []any
}

// Events returns the event names observed so far.
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// Messages returns the channelRead payloads observed so far.
func (r *Recorder) Messages() []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]any, len(r.messages))
	copy(out, r.messages)
	return out
}

// Count returns how many times the named event was delivered.
func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func (r *Recorder) add(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *Recorder) ChannelRegistered(*channel.HandlerContext) { r.add("registered") }

func (r *Recorder) ChannelUnregistered(*channel.HandlerContext) { r.add("unregistered") }

func (r *Recorder) ChannelActive(*channel.HandlerContext) { r.add("active") }

func (r *Recorder) ChannelInactive(*channel.HandlerContext) { r.add("inactive") }

func (r *Recorder) ChannelShutdown(_ *channel.HandlerContext, direction api.ShutdownDirection) {
	r.add("shutdown:" + direction.String())
}

func (r *Recorder) ChannelRead(_ *channel.HandlerContext, msg any) {
	r.mu.Lock()
	r.events = append(r.events, "read")
	r.messages = append(r.messages, msg)
	r.mu.Unlock()
}

func (r *Recorder) ChannelReadComplete(*channel.HandlerContext) { r.add("readComplete") }

func (r *Recorder) ChannelWritabilityChanged(ctx *channel.HandlerContext) {
	r.add(fmt.Sprintf("writabilityChanged:%t", ctx.Channel().IsWritable()))
}

func (r *Recorder) ChannelExceptionCaught(_ *channel.HandlerContext, err error) {
	r.add("exception:" + err.Error())
}
