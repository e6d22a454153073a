package dbusclient

import (
	"context"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/fieldkit-io/btprovd/internal/reactor"
)

// Request describes an outgoing method call or signal. A Request with
// no Destination is a signal emission (signals are broadcast, never
// addressed); one with a Destination is a method call.
type Request struct {
	Destination string
	Path        dbus.ObjectPath
	Interface   string
	Member      string
	Args        []interface{}
	// NoReply marks a method call as fire-and-forget at the wire level
	// (NO_REPLY_EXPECTED); ignored for signals, which never reply.
	NoReply bool
}

func (r Request) fullMethod() string { return r.Interface + "." + r.Member }

// SendOneway enqueues a method call or signal and does not wait for (or
// expect) a reply.
func (c *Client) SendOneway(req Request) error {
	if req.Destination == "" {
		return c.emit(req)
	}
	obj := c.conn.Object(req.Destination, req.Path)
	call := obj.Go(req.fullMethod(), dbus.FlagNoReplyExpected, nil, req.Args...)
	if call.Err != nil {
		return &TransientBrokerError{Op: "send_oneway", Err: call.Err}
	}
	return nil
}

func (c *Client) emit(req Request) error {
	return c.conn.Emit(req.Path, req.Interface+"."+req.Member, req.Args...)
}

// SendAsync sends a method call and invokes cb on the Reactor goroutine
// when the reply arrives, or when timeout elapses first. A serial-like
// CallHandle is returned for bookkeeping.
func (c *Client) SendAsync(req Request, timeout time.Duration, cb AsyncCallback) (CallHandle, error) {
	obj := c.conn.Object(req.Destination, req.Path)
	call := obj.Go(req.fullMethod(), 0, c.callDoneCh, req.Args...)
	if call.Err != nil {
		return 0, &TransientBrokerError{Op: "send_async", Err: call.Err}
	}

	c.mu.Lock()
	c.nextCall++
	handle := c.nextCall
	entry := &pendingCall{handle: handle, call: call, cb: cb}
	c.pending[handle] = entry
	c.mu.Unlock()

	if timeout > 0 {
		entry.timer = reactor.NewTimer(func() { c.reapTimeout(handle) })
		c.re.TimerSet(entry.timer, timeout.Milliseconds())
	}
	return handle, nil
}

func (c *Client) reapTimeout(handle CallHandle) {
	c.mu.Lock()
	entry, ok := c.pending[handle]
	if ok {
		delete(c.pending, handle)
	}
	c.mu.Unlock()
	if !ok {
		return
	}
	entry.cb(nil, ErrNameTimeout)
}

// SendSync blocks the calling goroutine until a reply arrives or timeout
// elapses. Per the broker client's contract this must never be called
// from within a handler invoked by dispatch (those run on the Reactor
// goroutine and would block its own dispatch loop waiting on itself);
// callers outside that context — CLI tooling, startup probes — may use
// it freely.
func (c *Client) SendSync(req Request, timeout time.Duration) ([]interface{}, error) {
	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	obj := c.conn.Object(req.Destination, req.Path)
	call := obj.CallWithContext(ctx, req.fullMethod(), 0, req.Args...)
	if call.Err != nil {
		if ctx.Err() != nil {
			return nil, &TimeoutError{}
		}
		name, msg := errNameAndMessage(call.Err)
		return nil, &PeerRejection{ErrorName: name, Message: msg}
	}
	return call.Body, nil
}

// AddFilter installs an in-process filter. If the filter selects SIGNAL
// messages, it also emits an AddMatch rule to the broker so the bus
// actually forwards those signals to this connection.
func (c *Client) AddFilter(f Filter, cb FilterCallback) (FilterHandle, error) {
	c.mu.Lock()
	c.nextFilter++
	handle := c.nextFilter
	c.filters[handle] = &filterEntry{handle: handle, filter: f, cb: cb}
	c.mu.Unlock()

	if f.Type == Signal || f.Type == AnyMessage {
		if err := c.conn.AddMatchSignal(matchOptions(f)...); err != nil {
			c.mu.Lock()
			delete(c.filters, handle)
			c.mu.Unlock()
			return 0, &TransientBrokerError{Op: "add_match", Err: err}
		}
	}
	return handle, nil
}

// RemoveFilter removes a previously installed filter, emitting
// RemoveMatch if it was a signal filter.
func (c *Client) RemoveFilter(handle FilterHandle) error {
	c.mu.Lock()
	entry, ok := c.filters[handle]
	if ok {
		delete(c.filters, handle)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	if entry.filter.Type == Signal || entry.filter.Type == AnyMessage {
		return c.conn.RemoveMatchSignal(matchOptions(entry.filter)...)
	}
	return nil
}

func matchOptions(f Filter) []dbus.MatchOption {
	var opts []dbus.MatchOption
	if f.Interface != "" {
		opts = append(opts, dbus.WithMatchInterface(f.Interface))
	}
	if f.Member != "" {
		opts = append(opts, dbus.WithMatchMember(f.Member))
	}
	if f.Sender != "" {
		opts = append(opts, dbus.WithMatchSender(f.Sender))
	}
	if f.Path != "" {
		opts = append(opts, dbus.WithMatchObjectPath(f.Path))
	}
	if f.Destination != "" {
		opts = append(opts, dbus.WithMatchDestination(f.Destination))
	}
	if f.Eavesdrop {
		opts = append(opts, dbus.WithMatchOption("eavesdrop", "true"))
	}
	return opts
}

// RegisterObject exports impl's methods at path for iface. impl must be
// a value whose exported methods match the signatures godbus's
// reflection-based Export expects for that interface (each returning a
// trailing *dbus.Error). Calls are dispatched by godbus on its own
// goroutine, not the Reactor's; implementations that touch shared state
// must guard it themselves, as gattsvc does with a single service-wide
// mutex.
func (c *Client) RegisterObject(path dbus.ObjectPath, iface string, impl interface{}) error {
	return c.conn.Export(impl, path, iface)
}

// UnregisterObject removes every interface exported on path.
func (c *Client) UnregisterObject(path dbus.ObjectPath) error {
	return c.conn.Export(nil, path, "")
}
