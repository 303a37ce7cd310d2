// log.go provides a small buffered log sink, adapted from the teacher's
// channel-based Writer/ListenWrite pair (src/util/io.go in vslc), which
// originally buffered assembler text from worker goroutines. Here each
// jit.Facade holds one Logger; the façade itself writes nothing to it
// (cmd/xojit prints its verbose IR dump with fmt.Println directly).

package util

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Logger buffers formatted log lines and flushes them to an output
// writer over a channel, the way the teacher's Writer flushes buffered
// assembler text.
type Logger struct {
	sb strings.Builder
	c  chan string
}

var lc chan string      // Log channel used for receiving text from a Logger.
var lclose chan error   // Close channel used to stop the listener.
var lwg *sync.WaitGroup // synchronises shutdown with the listener goroutine.

// Logf appends a formatted line to the Logger's buffer.
func (l *Logger) Logf(format string, args ...interface{}) {
	l.sb.WriteString(fmt.Sprintf(format, args...))
	if !strings.HasSuffix(format, "\n") {
		l.sb.WriteByte('\n')
	}
}

// Flush sends the buffered text to the listener and resets the buffer.
func (l *Logger) Flush() {
	if l.c == nil {
		return
	}
	l.c <- l.sb.String()
	l.sb = strings.Builder{}
}

// NewLogger returns a Logger writing to the process-wide listener
// started by ListenLog. Must not be called before ListenLog.
func NewLogger() Logger {
	return Logger{c: lc}
}

// ListenLog starts the process-wide log listener, writing to stdout.
// Call CloseLog once, after every Facade created in this process has
// been disposed.
func ListenLog(wg *sync.WaitGroup) {
	lwg = wg
	lc = make(chan string, 8)
	lclose = make(chan error, 1)

	w := bufio.NewWriter(os.Stdout)

	lwg.Add(1)
	go func(lc chan string, lclose chan error) {
		defer lwg.Done()
		defer close(lc)
		defer close(lclose)
		for {
			select {
			case s := <-lc:
				if _, err := w.WriteString(s); err != nil {
					fmt.Fprintln(os.Stderr, err)
				}
				if err := w.Flush(); err != nil {
					fmt.Fprintln(os.Stderr, err)
				}
			case <-lclose:
				return
			}
		}
	}(lc, lclose)
}

// CloseLog stops the process-wide log listener.
func CloseLog() {
	lclose <- nil
}
