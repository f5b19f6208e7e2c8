// Package chunker splits a resource body into content-defined chunks
// ready for registration. Cut points come from a buzhash rolling hash,
// so an edit in one region of a large body leaves the surrounding
// chunks (and their royalty records) untouched.
package chunker

import (
	"bytes"
	"fmt"
	"io"

	chunker "github.com/ipfs/boxo/chunker"

	"github.com/siteforge/wttpd/pkg/types"
)

// Split chunks data and attributes every piece to publisher. Chunk
// indices are assigned in body order starting at 0. Empty input yields
// an empty slice.
func Split(data []byte, publisher types.Identity) ([]types.DataRegistration, error) {
	return SplitReader(bytes.NewReader(data), publisher)
}

// SplitReader is Split for streaming input.
func SplitReader(r io.Reader, publisher types.Identity) ([]types.DataRegistration, error) {
	bz := chunker.NewBuzhash(r)

	var regs []types.DataRegistration
	for index := uint64(0); ; index++ {
		chunk, err := bz.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error reading chunk: %w", err)
		}

		regs = append(regs, types.DataRegistration{
			Data:       chunk,
			ChunkIndex: index,
			Publisher:  publisher,
		})
	}

	return regs, nil
}
