package wal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/edgevec/edgevec/codec"
)

// SyncPolicy selects when appended records are fsync'd.
//
// Exactly one of the three modes is active:
//   - SyncOnWrite: fsync before every batch acknowledgment
//   - SyncEveryN > 0: fsync after every N accumulated records
//   - SyncInterval > 0: a background task fsyncs on a timer
//
// With none set, durability is left to the OS page cache.
type SyncPolicy struct {
	SyncOnWrite  bool
	SyncEveryN   int
	SyncInterval time.Duration
}

// Options configures a Writer.
type Options struct {
	Sync SyncPolicy

	// GroupCommitMaxBatch bounds how many queued appends one commit drains.
	GroupCommitMaxBatch int
	// GroupCommitFlushDelay optionally waits for stragglers to coalesce
	// before committing a non-full batch.
	GroupCommitFlushDelay time.Duration

	Codec codec.Codec

	// QueueDepth bounds the coordinator's inbound channel.
	QueueDepth int
}

// DefaultOptions returns conservative defaults: durable single-record
// commits with a 16-record group commit window.
func DefaultOptions() Options {
	return Options{
		Sync:                SyncPolicy{SyncOnWrite: true},
		GroupCommitMaxBatch: 16,
		Codec:               codec.Default,
		QueueDepth:          256,
	}
}

type appendRequest struct {
	records []Record
	done    chan error
}

// Writer is an append-only WAL writer with a single commit coordinator.
//
// All appends flow through one goroutine, which preserves total append order
// and lets racing writers share a single write+fsync per batch.
type Writer struct {
	opts Options
	path string

	mu   sync.Mutex // guards file handle and counters
	file *os.File
	size int64

	sinceSync int
	appended  uint64

	queue    chan appendRequest
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	syncTicker *time.Ticker
}

// Open creates or appends to the WAL at path and starts the commit
// coordinator.
func Open(path string, opts Options) (*Writer, error) {
	if opts.GroupCommitMaxBatch <= 0 {
		opts.GroupCommitMaxBatch = 16
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = 256
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create wal directory: %w", err)
		}
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open wal file: %w", err)
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("stat wal file: %w", err)
	}

	w := &Writer{
		opts:   opts,
		path:   path,
		file:   file,
		size:   st.Size(),
		queue:  make(chan appendRequest, opts.QueueDepth),
		stopCh: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.commitLoop()

	if opts.Sync.SyncInterval > 0 && !opts.Sync.SyncOnWrite {
		w.syncTicker = time.NewTicker(opts.Sync.SyncInterval)
		w.wg.Add(1)
		go w.syncLoop()
	}

	return w, nil
}

// Append enqueues records as one atomic unit and blocks until the commit
// coordinator has written (and, per the sync policy, fsync'd) the batch that
// contains them. ctx cancellation is observed while waiting for queue space;
// once enqueued, the append completes regardless so the caller can honor the
// WAL-is-authoritative rule.
func (w *Writer) Append(ctx context.Context, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	req := appendRequest{records: records, done: make(chan error, 1)}

	// Checked first: once stopCh is closed a send on the buffered queue
	// could still be selected, and nothing would drain it.
	select {
	case <-w.stopCh:
		return fmt.Errorf("wal writer closed")
	default:
	}

	select {
	case w.queue <- req:
	case <-w.stopCh:
		return fmt.Errorf("wal writer closed")
	case <-ctx.Done():
		return ctx.Err()
	}

	return <-req.done
}

// commitLoop is the single commit coordinator.
func (w *Writer) commitLoop() {
	defer w.wg.Done()
	for {
		select {
		case first := <-w.queue:
			batch := []appendRequest{first}
			batch = w.drainMore(batch)
			w.commit(batch)
		case <-w.stopCh:
			// Drain whatever is already queued so no waiter hangs.
			for {
				select {
				case req := <-w.queue:
					w.commit([]appendRequest{req})
				default:
					return
				}
			}
		}
	}
}

// drainMore collects queued appends up to the batch cap, optionally waiting
// the flush delay so concurrent writers coalesce into one fsync.
func (w *Writer) drainMore(batch []appendRequest) []appendRequest {
	var deadline <-chan time.Time
	if w.opts.GroupCommitFlushDelay > 0 {
		t := time.NewTimer(w.opts.GroupCommitFlushDelay)
		defer t.Stop()
		deadline = t.C
	}

	for len(batch) < w.opts.GroupCommitMaxBatch {
		select {
		case req := <-w.queue:
			batch = append(batch, req)
		case <-deadline:
			return batch
		default:
			if deadline == nil {
				return batch
			}
			select {
			case req := <-w.queue:
				batch = append(batch, req)
			case <-deadline:
				return batch
			case <-w.stopCh:
				return batch
			}
		}
	}
	return batch
}

func (w *Writer) commit(batch []appendRequest) {
	var buf []byte
	total := 0
	var encodeErr error
	for _, req := range batch {
		for i := range req.records {
			data, err := req.records[i].Encode(w.opts.Codec)
			if err != nil {
				encodeErr = err
				break
			}
			buf = append(buf, data...)
			buf = append(buf, '\n')
			total++
		}
		if encodeErr != nil {
			break
		}
	}
	if encodeErr != nil {
		for _, req := range batch {
			req.done <- fmt.Errorf("encode wal record: %w", encodeErr)
		}
		return
	}

	w.mu.Lock()
	err := w.writeLocked(buf, total)
	w.mu.Unlock()

	for _, req := range batch {
		req.done <- err
	}
}

// writeLocked appends the encoded batch and applies the sync policy.
func (w *Writer) writeLocked(buf []byte, records int) error {
	if w.file == nil {
		return fmt.Errorf("wal writer closed")
	}
	if _, err := w.file.Write(buf); err != nil {
		return fmt.Errorf("append wal: %w", err)
	}
	w.size += int64(len(buf))
	w.appended += uint64(records)
	w.sinceSync += records

	sync := false
	switch {
	case w.opts.Sync.SyncOnWrite:
		sync = true
	case w.opts.Sync.SyncEveryN > 0 && w.sinceSync >= w.opts.Sync.SyncEveryN:
		sync = true
	}
	if sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("sync wal: %w", err)
		}
		w.sinceSync = 0
	}
	return nil
}

func (w *Writer) syncLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.syncTicker.C:
			w.mu.Lock()
			if w.file != nil && w.sinceSync > 0 {
				_ = w.file.Sync()
				w.sinceSync = 0
			}
			w.mu.Unlock()
		case <-w.stopCh:
			return
		}
	}
}

// Sync forces an fsync of everything appended so far.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.sinceSync = 0
	return nil
}

// SizeBytes returns the current WAL file size.
func (w *Writer) SizeBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Appended returns the number of acknowledged records since open/rotate.
func (w *Writer) Appended() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appended
}

// Path returns the WAL file path.
func (w *Writer) Path() string { return w.path }

// RotateTo fsyncs the current file, moves it to target, and reopens a fresh
// empty WAL at the original path. An empty WAL is not rotated.
func (w *Writer) RotateTo(target string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return false, fmt.Errorf("wal writer closed")
	}
	if w.size == 0 {
		return false, nil
	}
	if err := w.file.Sync(); err != nil {
		return false, fmt.Errorf("sync wal before rotate: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return false, fmt.Errorf("close wal before rotate: %w", err)
	}
	w.file = nil

	if err := os.Rename(w.path, target); err != nil {
		// Reopen in append mode so the writer stays usable.
		if file, openErr := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600); openErr == nil {
			w.file = file
		}
		return false, fmt.Errorf("rotate wal: %w", err)
	}

	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_TRUNC, 0o600)
	if err != nil {
		return false, fmt.Errorf("reopen wal after rotate: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return false, fmt.Errorf("sync fresh wal: %w", err)
	}
	w.file = file
	w.size = 0
	w.sinceSync = 0
	w.appended = 0
	return true, nil
}

// Close stops the coordinator, performs a final fsync, and closes the file.
func (w *Writer) Close() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	if w.syncTicker != nil {
		w.syncTicker.Stop()
	}
	w.wg.Wait()

	// Fail anything that raced its way into the queue after the final drain.
	for {
		select {
		case req := <-w.queue:
			req.done <- fmt.Errorf("wal writer closed")
			continue
		default:
		}
		break
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Sync()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}
