package chat

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// readConsole delivers lines typed on r until r is exhausted or ctx is
// done. The goroutine may stay blocked in a read after ctx is done; it
// holds nothing but r.
func readConsole(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(r)
		for {
			line, err := readLine(reader)
			if err != nil {
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err == nil {
		return strings.TrimRight(line, "\r\n"), nil
	}
	if err == io.EOF && line != "" {
		// last line without newline
		return strings.TrimRight(line, "\r\n"), nil
	}
	if err == io.EOF {
		return "", io.EOF
	}
	return "", fmt.Errorf("read: %w", err)
}

// produce writes console lines straight to the socket, bypassing the
// reactor goroutine. It owns the connection's write buffer; the reactor
// only ever touches the read buffer. End of console input counts as quit.
func (c *Client) produce(ctx context.Context, lines <-chan string) {
	defer c.wg.Done()

	for {
		var line string
		select {
		case <-ctx.Done():
			return
		case l, ok := <-lines:
			if !ok {
				c.logger.Debug("console input closed")
				l = QuitLine
			}
			line = l
		}
		if line == "" {
			continue
		}

		frame, err := Encode(line + "\n")
		if err != nil {
			c.logger.Warn("line not sent", "bytes", len(line), "error", err)
			continue
		}

		quit := IsQuit(line)
		if quit {
			// Set before the write: the server may hang up before this
			// goroutine runs again.
			c.pendingQuit.Set()
		}
		if err := c.conn.SendBlocking(ctx, frame); err != nil {
			if ctx.Err() == nil {
				c.signal(&OpError{Op: "write", Err: err})
			}
			return
		}
		if quit {
			c.signal(nil)
			return
		}
	}
}
