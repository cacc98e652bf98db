package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"sync"
	"syscall"
	"time"
)

// DefaultBroadcastPipe is the FIFO where sandbox-side MCP servers
// publish incremental tool output as newline-delimited JSON.
const DefaultBroadcastPipe = "/tmp/strand_broadcaster_pipe"

// broadcastEvent is one line on the broadcast pipe. Only delta.content
// carries streamable text; done events with an output field are
// ignored because the same data arrives in the tool call result.
type broadcastEvent struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

// CallToolStream invokes a tool while reading incremental output from
// the broadcast pipe. When the pipe is missing the call degrades to a
// single chunk carrying the full result. Call failures surface as a
// final "Error: ..." delta.
func (c *Connection) CallToolStream(ctx context.Context, name string, args map[string]any, pipePath string) <-chan string {
	return streamToolCall(ctx, pipePath, func(ctx context.Context) (string, error) {
		return c.CallTool(ctx, name, args)
	})
}

func streamToolCall(ctx context.Context, pipePath string, call func(context.Context) (string, error)) <-chan string {
	out := make(chan string)

	go func() {
		defer close(out)

		if !isNamedPipe(pipePath) {
			text, err := call(ctx)
			if err != nil {
				text = "Error: " + err.Error()
			}
			if text != "" {
				select {
				case out <- text:
				case <-ctx.Done():
				}
			}
			return
		}

		stop := make(chan struct{})
		var stopOnce sync.Once
		stopReader := func() { stopOnce.Do(func() { close(stop) }) }

		deltas := make(chan string, 64)
		go readBroadcastPipe(pipePath, deltas, stop)

		// The reader only exits once stop is closed, so drain it on
		// every return path to avoid stranding it mid-send.
		defer func() {
			stopReader()
			for range deltas {
			}
		}()

		type callResult struct {
			text string
			err  error
		}
		callCh := make(chan callResult, 1)
		go func() {
			text, err := call(ctx)
			callCh <- callResult{text: text, err: err}
		}()

		var sent bool
		var res callResult
		for done := false; !done; {
			select {
			case d := <-deltas:
				if d == "" {
					continue
				}
				sent = true
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			case res = <-callCh:
				done = true
			case <-ctx.Done():
				return
			}
		}

		// Tool finished; flush whatever the pipe already holds.
		stopReader()
		for d := range deltas {
			if d == "" {
				continue
			}
			sent = true
			select {
			case out <- d:
			case <-ctx.Done():
				return
			}
		}

		if res.err != nil {
			res.text = "Error: " + res.err.Error()
		}
		if !sent && res.text != "" {
			select {
			case out <- res.text:
			case <-ctx.Done():
			}
		}
	}()

	return out
}

// readBroadcastPipe tails the FIFO, emitting delta.content from each
// complete JSON line. It polls non-blocking so a pipe with no writer
// never wedges the stream, and performs a final drain once stop
// closes before closing deltas.
func readBroadcastPipe(path string, deltas chan<- string, stop <-chan struct{}) {
	defer close(deltas)

	f, err := os.OpenFile(path, os.O_RDONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		return
	}
	defer f.Close()

	buf := make([]byte, 4096)
	var pending []byte

	readChunk := func() (int, error) {
		n, err := f.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
		}
		return n, err
	}

	for {
		select {
		case <-stop:
			for {
				n, err := readChunk()
				if n == 0 || err != nil {
					break
				}
			}
			emitBroadcastLines(&pending, deltas)
			return
		default:
		}

		n, err := readChunk()
		if n > 0 {
			emitBroadcastLines(&pending, deltas)
			continue
		}
		if err != nil && err != io.EOF && !errors.Is(err, syscall.EAGAIN) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// emitBroadcastLines consumes complete lines from pending, sending any
// extracted content. Unparseable lines are skipped.
func emitBroadcastLines(pending *[]byte, deltas chan<- string) {
	for {
		idx := -1
		for i, b := range *pending {
			if b == '\n' {
				idx = i
				break
			}
		}
		if idx < 0 {
			return
		}
		line := (*pending)[:idx]
		*pending = (*pending)[idx+1:]

		if len(line) == 0 {
			continue
		}
		var event broadcastEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		if event.Delta.Content != "" {
			deltas <- event.Delta.Content
		}
	}
}

func isNamedPipe(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeNamedPipe != 0
}
