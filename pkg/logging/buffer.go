package logging

import (
	"bytes"
	"sync"
)

// captureSize is how many recent lines a LineCapture retains.
const captureSize = 32

// LineCapture is an io.Writer that retains the most recent log lines in a
// fixed ring.
type LineCapture struct {
	mu    sync.RWMutex
	lines [captureSize]string
	next  int
	count int
}

// Capture holds recent INFO+ server log lines for the API.
var Capture = &LineCapture{}

// Write stores each newline-terminated line in p.
func (c *LineCapture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte("\n")) {
		c.lines[c.next] = string(line)
		c.next = (c.next + 1) % captureSize
		if c.count < captureSize {
			c.count++
		}
	}
	return len(p), nil
}

// Last returns the most recent line, or "" before anything was logged.
func (c *LineCapture) Last() string {
	lines := c.Recent(1)
	if len(lines) == 0 {
		return ""
	}
	return lines[0]
}

// Recent returns up to n lines, oldest first.
func (c *LineCapture) Recent(n int) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if n > c.count {
		n = c.count
	}
	out := make([]string, n)
	for i := range n {
		out[i] = c.lines[(c.next-n+i+captureSize)%captureSize]
	}
	return out
}
