package channels

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ConsoleChatID is the chat id used for every console message.
const ConsoleChatID = "console"

// ConsoleChannel reads one message per line from in and prints replies to out.
// It backs `deedee chat`.
type ConsoleChannel struct {
	in  io.Reader
	out io.Writer

	mu      sync.Mutex
	seq     int
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewConsoleChannel creates a console channel over the given streams.
func NewConsoleChannel(in io.Reader, out io.Writer) *ConsoleChannel {
	return &ConsoleChannel{in: in, out: out}
}

func (c *ConsoleChannel) Name() string { return "console" }

// Start begins reading lines. Each non-empty line is dispatched and the
// next line is not read until the dispatch returned.
func (c *ConsoleChannel) Start(ctx context.Context, dispatch DispatchFunc) error {
	if dispatch == nil {
		return fmt.Errorf("dispatch function is required")
	}

	c.mu.Lock()
	if c.done != nil {
		c.mu.Unlock()
		return fmt.Errorf("console channel already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		scanner := bufio.NewScanner(c.in)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			c.mu.Lock()
			c.seq++
			id := strconv.Itoa(c.seq)
			c.mu.Unlock()

			msg := InboundMessage{Channel: c.Name(), ChatID: ConsoleChatID, MessageID: id, Text: line}
			if err := dispatch(ctx, msg); err != nil {
				log.Debug().Err(err).Str("channel", c.Name()).Msg("Console dispatch returned error")
			}
		}
	}()

	return nil
}

// Send prints msg. Notices and errors are prefixed so they stand out from replies.
func (c *ConsoleChannel) Send(_ context.Context, msg OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return fmt.Errorf("console channel stopped")
	}

	var prefix string
	switch msg.Kind {
	case KindNotice:
		prefix = "… "
	case KindError:
		prefix = "! "
	}

	if msg.Text != "" {
		if _, err := fmt.Fprintf(c.out, "%s%s\n", prefix, msg.Text); err != nil {
			return err
		}
	}
	if msg.Media != nil {
		if _, err := fmt.Fprintf(c.out, "[%s attachment %q, %d bytes]\n", msg.Media.MimeType, msg.Media.Filename, len(msg.Media.Data)); err != nil {
			return err
		}
	}
	return nil
}

// Done is closed when the input stream is exhausted or the channel stopped.
func (c *ConsoleChannel) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// Stop cancels the reader. A line already being dispatched finishes first.
func (c *ConsoleChannel) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopped = true
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}
