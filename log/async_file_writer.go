package log

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// TimeTicker fires whenever the wall clock crosses the next hour boundary
// that is a whole number of rotateHours away. A zero interval never fires.
type TimeTicker struct {
	C    <-chan time.Time
	stop chan struct{}
}

func NewTimeTicker(rotateHours uint) *TimeTicker {
	ch := make(chan time.Time)
	tt := &TimeTicker{C: ch, stop: make(chan struct{})}
	if rotateHours > 0 {
		go tt.loop(ch, rotateHours)
	}
	return tt
}

func (tt *TimeTicker) Stop() {
	close(tt.stop)
}

func (tt *TimeTicker) loop(ch chan time.Time, rotateHours uint) {
	for {
		now := time.Now()
		next := now.Truncate(time.Hour).Add(time.Duration(rotateHours) * time.Hour)
		timer := time.NewTimer(next.Sub(now))
		select {
		case t := <-timer.C:
			select {
			case ch <- t:
			case <-tt.stop:
				return
			}
		case <-tt.stop:
			timer.Stop()
			return
		}
	}
}

// AsyncFileWriter decouples log output from disk latency: Write buffers the
// message and a background goroutine appends it to the file. With a non-zero
// rotation interval the writer switches to a fresh timestamped file at every
// boundary and keeps the configured path as a symlink to the active one.
// When the buffer is full, messages are dropped rather than blocking the
// caller.
type AsyncFileWriter struct {
	filePath string
	rotate   bool
	fd       *os.File

	wg      sync.WaitGroup
	started atomic.Bool
	buf     chan []byte
	stop    chan struct{}
	ticker  *TimeTicker
}

// NewAsyncFileWriter creates a writer appending to filePath, buffering up to
// bufferLimit messages. rotateHours of zero disables rotation.
func NewAsyncFileWriter(filePath string, bufferLimit int, rotateHours uint) *AsyncFileWriter {
	abs, err := filepath.Abs(filePath)
	if err != nil {
		panic(fmt.Sprintf("resolving log path %s: %v", filePath, err))
	}
	return &AsyncFileWriter{
		filePath: abs,
		rotate:   rotateHours > 0,
		buf:      make(chan []byte, bufferLimit),
		stop:     make(chan struct{}),
		ticker:   NewTimeTicker(rotateHours),
	}
}

// Start opens the file and launches the background writer. The writer is
// one-shot: once closed it cannot be started again.
func (w *AsyncFileWriter) Start() error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("writer already started")
	}
	if err := w.openFile(); err != nil {
		return err
	}
	w.wg.Add(1)
	go w.run()
	return nil
}

func (w *AsyncFileWriter) openFile() error {
	if !w.rotate {
		fd, err := os.OpenFile(w.filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		w.fd = fd
		return nil
	}
	real := w.filePath + "." + time.Now().Format("2006-01-02_15")
	fd, err := os.OpenFile(real, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	w.fd = fd
	if _, err := os.Lstat(w.filePath); err == nil {
		if err := os.Remove(w.filePath); err != nil {
			return err
		}
	}
	return os.Symlink(real, w.filePath)
}

func (w *AsyncFileWriter) run() {
	defer w.wg.Done()
	for {
		select {
		case msg := <-w.buf:
			w.syncWrite(msg)
		case <-w.stop:
			w.drain()
			return
		}
	}
}

func (w *AsyncFileWriter) drain() {
	for {
		select {
		case msg := <-w.buf:
			w.syncWrite(msg)
		default:
			return
		}
	}
}

func (w *AsyncFileWriter) syncWrite(msg []byte) {
	w.rotateFile()
	if w.fd != nil {
		w.fd.Write(msg)
	}
}

func (w *AsyncFileWriter) rotateFile() {
	select {
	case <-w.ticker.C:
		if err := w.closeFile(); err != nil {
			fmt.Fprintf(os.Stderr, "closing rotated log file: %v\n", err)
		}
		if err := w.openFile(); err != nil {
			fmt.Fprintf(os.Stderr, "reopening log file: %v\n", err)
		}
	default:
	}
}

// Write buffers msg for the background writer. It never blocks; the message
// is dropped when the buffer is full. The slice is copied because handlers
// reuse their formatting buffers.
func (w *AsyncFileWriter) Write(msg []byte) (int, error) {
	cp := make([]byte, len(msg))
	copy(cp, msg)
	select {
	case w.buf <- cp:
	default:
	}
	return len(msg), nil
}

// Flush forces buffered file contents to stable storage.
func (w *AsyncFileWriter) Flush() error {
	if w.fd == nil {
		return nil
	}
	return w.fd.Sync()
}

// Close stops the background writer, drains the remaining buffered messages
// and closes the file.
func (w *AsyncFileWriter) Close() error {
	close(w.stop)
	w.wg.Wait()
	w.ticker.Stop()
	return w.closeFile()
}

func (w *AsyncFileWriter) closeFile() error {
	if w.fd == nil {
		return nil
	}
	if err := w.fd.Sync(); err != nil {
		return err
	}
	return w.fd.Close()
}
