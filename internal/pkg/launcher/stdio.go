// Copyright (c) 2018-2023, Sylabs Inc. All rights reserved.
// This software is licensed under a 3-clause BSD license. Please consult the
// LICENSE.md file distributed with the sources of this project regarding your
// rights to use or distribute this software.

package launcher

import (
	"bytes"
	"fmt"
	"io"
	"sync"
)

// rankPrefixWriter prefixes every line written to it with its owning
// application rank, the FIFO=1 passthrough of the SUPPLEMENTED
// FEATURES section: each write may straddle a line boundary, so a
// partial trailing line is buffered until the next write completes it.
type rankPrefixWriter struct {
	mu   sync.Mutex
	rank int
	dst  io.Writer
	buf  bytes.Buffer
}

func newRankPrefixWriter(rank int, dst io.Writer) *rankPrefixWriter {
	return &rankPrefixWriter{rank: rank, dst: dst}
}

func (w *rankPrefixWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		rest := w.buf.Bytes()
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		line := append([]byte(nil), rest[:i+1]...)
		w.buf.Next(i + 1)
		if _, err := fmt.Fprintf(w.dst, "[rank %d] %s", w.rank, line); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}
