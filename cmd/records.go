// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Thermoquad/pdscope/pkg/snooper"
)

// recordFunc receives each record of a capture file. checkErr is the
// record's *ChecksumError, or nil when it verifies or the file is stamped.
type recordFunc func(index int, dp *snooper.DecodedPacket, checkErr error) error

// forEachRecord decodes every record of a capture file in order. A
// trailing partial record ends the walk with an error wrapping
// snooper.ErrTruncated after all complete records were delivered.
func forEachRecord(path string, stamped bool, fn recordFunc) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open capture file: %w", err)
	}
	defer f.Close()

	r := snooper.NewReader(bufio.NewReaderSize(f, 64*snooper.PacketSize))
	for {
		raw, err := r.Next()
		if errors.Is(err, io.EOF) {
			return r.Index(), nil
		}
		if err != nil {
			return r.Index(), err
		}

		dp, err := snooper.Inspect(raw)
		if err != nil {
			return r.Index(), err
		}
		var checkErr error
		if !stamped {
			checkErr = dp.ChecksumError()
		}
		if err := fn(r.Index()-1, dp, checkErr); err != nil {
			return r.Index(), err
		}
	}
}
