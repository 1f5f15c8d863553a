package rtmp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/flv"
	"github.com/rtc2rtmp/rtc2rtmp/pkg/h264"
)

const (
	DefaultHandshakeTimeout = 3 * time.Second
	DefaultStream           = "gengteng"
	DefaultTcURL            = "rtmp://localhost/live"

	readBufferSize  = 8192
	writeBufferSize = 64 * 1024
)

type options struct {
	log              zerolog.Logger
	handshakeTimeout time.Duration
	stream           string
	tcURL            string
	chunkSize        uint32
	metadata         flv.Metadata
}

type Option func(*options)

func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) { o.handshakeTimeout = d }
}

// WithStream - stream name for publishing after connection accepted
func WithStream(name string) Option {
	return func(o *options) { o.stream = name }
}

func WithTcURL(tcURL string) Option {
	return func(o *options) { o.tcURL = tcURL }
}

func WithChunkSize(size uint32) Option {
	return func(o *options) { o.chunkSize = size }
}

func WithMetadata(metadata flv.Metadata) Option {
	return func(o *options) { o.metadata = metadata }
}

type Stats struct {
	BytesSent     atomic.Uint64
	BytesReceived atomic.Uint64
	VideoPackets  atomic.Uint64
	Timestamp     atomic.Uint32 // last RTMP timestamp
}

type command struct {
	app string
}

// Connection - RTMP publish driver. One goroutine owns the session and the socket writer,
// another one reads the socket.
type Connection struct {
	Stats Stats

	conn    net.Conn
	wr      *bufio.Writer
	session *ClientSession
	units   <-chan h264.Unit
	opts    options
	log     zerolog.Logger

	state     atomic.Int32
	realigner Realigner

	commands  chan command
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// Connect - dial, handshake and start the session event loop.
// Units are published only after the server accepts publishing.
func Connect(ctx context.Context, address string, units <-chan h264.Unit, opts ...Option) (*Connection, error) {
	o := options{
		log:              zerolog.Nop(),
		handshakeTimeout: DefaultHandshakeTimeout,
		stream:           DefaultStream,
		metadata: flv.Metadata{
			Encoder:      "rtc2rtmp",
			VideoWidth:   320,
			VideoHeight:  240,
			VideoCodecID: "7",
		},
	}
	for _, opt := range opts {
		opt(&o)
	}

	target, err := ParseURL(address)
	if err != nil {
		return nil, err
	}

	if o.tcURL == "" {
		if target.App != "" {
			o.tcURL = target.TcURL
		} else {
			o.tcURL = DefaultTcURL
		}
	}

	c := &Connection{
		units:    units,
		opts:     o,
		log:      o.log,
		commands: make(chan command),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
	}

	if c.conn, err = target.Dial(ctx); err != nil {
		return nil, err
	}

	c.wr = bufio.NewWriterSize(c.conn, writeBufferSize)

	remaining, err := c.handshake()
	if err != nil {
		_ = c.conn.Close()
		c.setState(StateClosed)
		return nil, err
	}

	session, results, err := NewClientSession(ClientSessionConfig{
		TcURL:     o.tcURL,
		ChunkSize: o.chunkSize,
	})
	if err != nil {
		_ = c.conn.Close()
		c.setState(StateClosed)
		return nil, err
	}
	c.session = session

	if len(remaining) > 0 {
		more, err := session.HandleInput(remaining)
		if err != nil {
			_ = c.conn.Close()
			c.setState(StateClosed)
			return nil, err
		}
		results = append(results, more...)
	}

	if err = c.handleResults(results); err == nil {
		err = c.flush()
	}
	if err != nil {
		_ = c.conn.Close()
		c.setState(StateClosed)
		return nil, err
	}

	c.setState(StateConnected)
	c.log.Debug().Str("addr", target.Address).Msg("[rtmp] connected")

	go c.run()

	return c, nil
}

func (c *Connection) handshake() ([]byte, error) {
	c.setState(StateHandshaking)

	hs := NewHandshake()
	if err := c.write(hs.C0C1()); err != nil {
		return nil, err
	}
	if err := c.flush(); err != nil {
		return nil, err
	}

	b := make([]byte, readBufferSize)

	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.handshakeTimeout)); err != nil {
			return nil, err
		}

		n, err := c.conn.Read(b)
		if err != nil {
			return nil, fmt.Errorf("rtmp: handshake: %w", err)
		}

		c.Stats.BytesReceived.Add(uint64(n))

		res, err := hs.Process(b[:n])
		if err != nil {
			return nil, err
		}

		if len(res.Response) > 0 {
			if err = c.write(res.Response); err != nil {
				return nil, err
			}
			if err = c.flush(); err != nil {
				return nil, err
			}
		}

		if res.Done {
			return res.Remaining, c.conn.SetReadDeadline(time.Time{})
		}
	}
}

// Publish - request connection to the app, stream publishing starts after it is accepted
func (c *Connection) Publish(app string) error {
	select {
	case c.commands <- command{app: app}:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

// Close - graceful end of the event loop
func (c *Connection) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	<-c.done
	return nil
}

// Wait - block until the event loop ends and return its error
func (c *Connection) Wait() error {
	<-c.done
	return c.err
}

// Done - closed when the event loop ends
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(state State) {
	c.state.Store(int32(state))
}

func (c *Connection) run() {
	reads := make(chan []byte)
	readErr := make(chan error, 1)
	stop := make(chan struct{})

	go c.readLoop(reads, readErr, stop)

	err := c.loop(reads, readErr)

	close(stop)
	_ = c.conn.Close()

	c.err = err
	c.setState(StateClosed)

	if err != nil {
		c.log.Error().Err(err).Msg("[rtmp] session closed")
	} else {
		c.log.Debug().Msg("[rtmp] session closed")
	}

	close(c.done)
}

func (c *Connection) readLoop(reads chan<- []byte, readErr chan<- error, stop <-chan struct{}) {
	for {
		b := make([]byte, readBufferSize)
		n, err := c.conn.Read(b)
		if n > 0 {
			c.Stats.BytesReceived.Add(uint64(n))
			select {
			case reads <- b[:n]:
			case <-stop:
				return
			}
		}
		if err != nil {
			readErr <- err
			return
		}
	}
}

func (c *Connection) loop(reads <-chan []byte, readErr <-chan error) error {
	for {
		// units are consumed only while publishing
		var units <-chan h264.Unit
		if c.State() == StatePublishing {
			units = c.units
		}

		select {
		case b := <-reads:
			results, err := c.session.HandleInput(b)
			if err != nil {
				return err
			}
			if err = c.handleResults(results); err != nil {
				return err
			}

		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("rtmp: peer closed connection: %w", err)
			}
			return fmt.Errorf("rtmp: read: %w", err)

		case cmd := <-c.commands:
			packet, err := c.session.RequestConnection(cmd.app)
			if err != nil {
				return err
			}
			if err = c.write(packet.Bytes); err != nil {
				return err
			}

		case unit, ok := <-units:
			if !ok {
				return nil
			}
			if err := c.publishUnit(unit); err != nil {
				return err
			}

		case <-c.closing:
			return nil
		}

		if err := c.flush(); err != nil {
			return err
		}
	}
}

func (c *Connection) handleResults(results []Result) error {
	for _, result := range results {
		switch result := result.(type) {
		case *Packet:
			if err := c.write(result.Bytes); err != nil {
				return err
			}

		case *Event:
			if err := c.handleEvent(result); err != nil {
				return err
			}

		case *UnhandledMessage:
			c.log.Trace().Uint8("type", result.Message.TypeID).
				Uint32("stream", result.Message.StreamID).Msg("[rtmp] unhandled message")
		}
	}
	return nil
}

func (c *Connection) handleEvent(event *Event) error {
	switch event.Type {
	case EventConnectionAccepted:
		c.log.Debug().Msg("[rtmp] connection accepted")

		packet, err := c.session.RequestPublishing(c.opts.stream, PublishLive)
		if err != nil {
			return err
		}
		c.setState(StatePublishRequested)
		return c.write(packet.Bytes)

	case EventPublishAccepted:
		c.log.Info().Str("stream", c.opts.stream).Msg("[rtmp] publish accepted")

		packet, err := c.session.PublishMetadata(&c.opts.metadata)
		if err != nil {
			return err
		}
		c.setState(StatePublishing)
		return c.write(packet.Bytes)

	case EventConnectionRejected, EventPublishRejected:
		return fmt.Errorf("%w: %s %s %s", ErrResponse, event.Type, event.Code, event.Description)
	}

	c.log.Debug().Str("event", event.Type.String()).Str("code", event.Code).Uint32("value", event.Value).
		Msg("[rtmp] event")
	return nil
}

func (c *Connection) publishUnit(unit h264.Unit) error {
	var payload []byte
	var ts uint32

	switch unit := unit.(type) {
	case *h264.Data:
		payload = unit.Payload
		if flv.IsSequenceHeader(payload) {
			ts = c.realigner.Current()
		} else {
			ts = c.realigner.Next(unit.Timestamp)
		}
	case *h264.Configuration:
		payload = flv.SequenceHeader(unit.Record)
		ts = c.realigner.Current()
	default:
		return nil
	}

	packet, err := c.session.PublishVideoData(payload, ts)
	if err != nil {
		return err
	}

	c.Stats.VideoPackets.Add(1)
	c.Stats.Timestamp.Store(ts)

	return c.write(packet.Bytes)
}

func (c *Connection) write(b []byte) error {
	n, err := c.wr.Write(b)
	c.Stats.BytesSent.Add(uint64(n))
	return err
}

func (c *Connection) flush() error {
	return c.wr.Flush()
}
