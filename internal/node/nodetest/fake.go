// Package nodetest provides in-memory node transports for tests.
package nodetest

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	lerrors "github.com/devrev/voicelink/internal/errors"
	"github.com/devrev/voicelink/internal/node"
)

// ErrRefused is returned by a Dialer with no scripted step left.
var ErrRefused = errors.New("connection refused")

// Transport is an in-memory node.Transport. Frames passed to Deliver are
// returned by ReadFrame; frames the connection writes appear on Written.
type Transport struct {
	in      chan []byte
	Written chan []byte
	closed  chan struct{}
	once    sync.Once
}

// NewTransport returns an open transport.
func NewTransport() *Transport {
	return &Transport{
		in:      make(chan []byte, 64),
		Written: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

// Deliver queues a frame as if the node had sent it.
func (t *Transport) Deliver(frame []byte) {
	t.in <- frame
}

// Closed is closed once either side closed the transport.
func (t *Transport) Closed() <-chan struct{} {
	return t.closed
}

func (t *Transport) ReadFrame(timeout time.Duration) ([]byte, error) {
	select {
	case data := <-t.in:
		return data, nil
	case <-t.closed:
		return nil, lerrors.UnexpectedClose(errors.New("transport closed"))
	}
}

func (t *Transport) WriteFrame(data []byte, timeout time.Duration) error {
	select {
	case <-t.closed:
		return lerrors.WriteFailed(errors.New("transport closed"))
	default:
	}
	t.Written <- data
	return nil
}

func (t *Transport) Ping(timeout time.Duration) error {
	return nil
}

// Close simulates either side dropping the connection.
func (t *Transport) Close() error {
	t.once.Do(func() { close(t.closed) })
	return nil
}

// Step is one scripted dial outcome.
type Step struct {
	Transport *Transport
	Header    http.Header
	Err       error
}

// Dialer replays scripted steps in order. Once they are used up every dial
// fails with ErrRefused.
type Dialer struct {
	mu      sync.Mutex
	steps   []Step
	headers []http.Header
}

// NewDialer returns a dialer with the given script.
func NewDialer(steps ...Step) *Dialer {
	return &Dialer{steps: steps}
}

// Push appends steps to the script.
func (d *Dialer) Push(steps ...Step) {
	d.mu.Lock()
	d.steps = append(d.steps, steps...)
	d.mu.Unlock()
}

// Headers returns the handshake headers of every dial so far.
func (d *Dialer) Headers() []http.Header {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]http.Header(nil), d.headers...)
}

// Dials returns the number of dial attempts so far.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.headers)
}

func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (node.Transport, http.Header, error) {
	d.mu.Lock()
	d.headers = append(d.headers, header.Clone())
	var step Step
	if len(d.steps) > 0 {
		step = d.steps[0]
		d.steps = d.steps[1:]
	} else {
		step.Err = ErrRefused
	}
	d.mu.Unlock()

	if step.Err != nil {
		if lerrors.IsError(step.Err) {
			return nil, nil, step.Err
		}
		return nil, nil, lerrors.HandshakeFailed(url, step.Err)
	}
	if step.Transport == nil {
		step.Transport = NewTransport()
	}
	return step.Transport, step.Header, nil
}

// Connected returns a step that succeeds with t.
func Connected(t *Transport) Step {
	return Step{Transport: t}
}

// Refused returns a failing step.
func Refused() Step {
	return Step{Err: ErrRefused}
}
