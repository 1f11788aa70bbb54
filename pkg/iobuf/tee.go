package iobuf

import (
	"io"
	"sync"
)

// sinkCloser is implemented by sinks (notably *io.PipeWriter) that want
// to learn how the tee's source stream ended.
type sinkCloser interface {
	CloseWithError(error) error
}

// BoundedTee returns a reader that yields exactly what src yields, while
// asynchronously copying the same bytes to sink. A single background
// goroutine pumps src, writing each read to sink before handing it to
// the returned reader. Closing the returned reader detaches client
// delivery: from then on the pump keeps copying src into sink until src
// is exhausted. This is what lets a client disconnect (Close called
// early) leave the cache fill (sink) running to completion instead of
// stalling with it (SPEC_FULL.md §4.5 step 9).
//
// Delivery to the returned reader is bounded to bufSlots chunks of lag
// behind the pump so a slow client can't grow memory without bound; once
// bufSlots chunks are undelivered, the pump blocks (and so does the copy
// to sink) until the client reads more or closes the reader.
//
// Once src is exhausted (or errors), sink is closed: via
// CloseWithError(err) if it implements that (as *io.PipeWriter does, the
// intended use: pairing BoundedTee with an io.Pipe feeding
// chunkstore.Store.WriteStream), else via plain Close if it's an
// io.Closer, else left alone.
//
// sinkErr, if non-nil, is called at most once with the first error Write
// to sink returns; the client-facing reader is unaffected by sink write
// errors.
//
// Grounded on the teacher's pkg/iobuf.AsyncReadCloser (io.Pipe-based
// async body draining), reworked from "drain a callback's response" into
// "duplicate a live read stream to a second writer with bounded lag,
// independent of whether anyone still reads the first" for the cache
// fill path (SPEC_FULL.md §4.5 steps 8-9).
func BoundedTee(src io.Reader, sink io.Writer, bufSlots int, sinkErr func(error)) io.ReadCloser {
	if bufSlots < 1 {
		bufSlots = 1
	}
	t := &boundedTee{
		ch:   make(chan []byte, bufSlots),
		done: make(chan struct{}),
	}
	go t.pump(src, sink, sinkErr)
	return t
}

type boundedTee struct {
	ch        chan []byte
	done      chan struct{}
	closeOnce sync.Once

	leftover []byte
	err      error // set by pump before ch is closed; read-after-close is safe
}

// Close detaches client delivery: the pump stops trying to hand further
// chunks to ch, but keeps draining src into sink until src is exhausted.
// Safe to call more than once and safe to call without ever reading.
func (t *boundedTee) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *boundedTee) Read(p []byte) (int, error) {
	for len(t.leftover) == 0 {
		chunk, ok := <-t.ch
		if !ok {
			if t.err != nil {
				return 0, t.err
			}
			return 0, io.EOF
		}
		t.leftover = chunk
	}
	n := copy(p, t.leftover)
	t.leftover = t.leftover[n:]
	return n, nil
}

func (t *boundedTee) pump(src io.Reader, sink io.Writer, sinkErr func(error)) {
	readBuf := make([]byte, 32*1024)
	var reported bool
	var finalErr error

	for {
		n, err := src.Read(readBuf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, readBuf[:n])

			if !reported {
				if _, werr := sink.Write(chunk); werr != nil {
					reported = true
					if sinkErr != nil {
						sinkErr(werr)
					}
				}
			}

			select {
			case t.ch <- chunk:
			case <-t.done:
				// client gave up: keep pumping src into sink without
				// trying to deliver further chunks to it.
			}
		}
		if err != nil {
			finalErr = err
			break
		}
	}

	closeErr := finalErr
	if closeErr == io.EOF {
		closeErr = nil
	}
	if sc, ok := sink.(sinkCloser); ok {
		_ = sc.CloseWithError(closeErr)
	} else if c, ok := sink.(io.Closer); ok {
		_ = c.Close()
	}

	if finalErr != io.EOF {
		t.err = finalErr
	}
	close(t.ch)
}
