package pipeline

import (
	"fmt"
	"io"

	"github.com/openregistry/tmbulk/internal/decode"
	types "github.com/openregistry/tmbulk/internal/domain"
)

// BatchRows is one segmented batch: its ledger number and the decoded rows.
type BatchRows struct {
	Number int
	Rows   []decode.Record
}

// Segmenter slices a record stream into fixed-size batches numbered from
// the resume point. On a restart it discards the record prefix belonging to
// already-committed batches, so a number handed out once as committed is
// never re-emitted. The prefix length comes from the batch ledger, not from
// the configured batch size, so a restart stays correct even when the batch
// size changed between runs.
//
// The sequence is lazy, finite and non-restartable. The final batch may be
// short; an empty stream yields zero batches. A decode error beyond the
// tolerance aborts the batch being formed: its rows are discarded and the
// error surfaces immediately, leaving only fully-delivered batches behind.
type Segmenter struct {
	it         decode.Iterator
	size       int
	next       int
	prefixRows int64
	tolerance  int

	skipped       int
	rowsRead      int64
	exhausted     bool
	prefixSkipped bool
}

// NewSegmenter starts segmentation at startAt (types.BatchOrigin for a
// fresh file; the resume coordinator's resume point otherwise). prefixRows
// is the total row count of the file's committed batches, re-read and
// discarded before the first emitted batch. tolerance is the per-file
// budget of malformed records to skip.
func NewSegmenter(it decode.Iterator, batchSize, startAt int, prefixRows int64, tolerance int) *Segmenter {
	if batchSize < 1 {
		batchSize = 1
	}
	if startAt < types.BatchOrigin {
		startAt = types.BatchOrigin
	}
	if prefixRows < 0 {
		prefixRows = 0
	}
	return &Segmenter{
		it:         it,
		size:       batchSize,
		next:       startAt,
		prefixRows: prefixRows,
		tolerance:  tolerance,
	}
}

// Next returns the next batch, io.EOF at end of stream, or the decode
// error that aborted the stream.
func (s *Segmenter) Next() (*BatchRows, error) {
	if s.exhausted {
		return nil, io.EOF
	}

	if !s.prefixSkipped {
		s.prefixSkipped = true
		if err := s.skipCommitted(); err != nil {
			s.exhausted = true
			return nil, err
		}
	}

	batch := &BatchRows{Number: s.next}
	for len(batch.Rows) < s.size {
		rec, err := s.it.Next()
		if err == io.EOF {
			s.exhausted = true
			if len(batch.Rows) == 0 {
				return nil, io.EOF
			}
			s.next++
			s.rowsRead += int64(len(batch.Rows))
			return batch, nil
		}
		if err != nil {
			if IsDecode(err) && s.skipped < s.tolerance {
				s.skipped++
				continue
			}
			// Abort: the half-formed batch is dropped so the file's
			// saved-row count only ever reflects whole batches.
			s.exhausted = true
			return nil, err
		}
		batch.Rows = append(batch.Rows, rec)
	}
	s.next++
	s.rowsRead += int64(len(batch.Rows))
	return batch, nil
}

// skipCommitted discards the records covered by batches before the resume
// point. Record order is deterministic per file and the ledger records how
// many rows each committed batch held, so their sum is exactly the prefix
// to drop. Malformed records hit while re-reading do not count toward it;
// they were not part of any committed batch.
func (s *Segmenter) skipCommitted() error {
	toSkip := s.prefixRows
	for toSkip > 0 {
		_, err := s.it.Next()
		if err == io.EOF {
			s.exhausted = true
			return io.EOF
		}
		if err != nil {
			if IsDecode(err) && s.skipped < s.tolerance {
				s.skipped++
				continue
			}
			return fmt.Errorf("re-reading committed prefix: %w", err)
		}
		toSkip--
	}
	return nil
}

// RowsRead is the number of records read into batches this run, excluding
// the re-read committed prefix.
func (s *Segmenter) RowsRead() int64 { return s.rowsRead }

// Skipped is the number of malformed records dropped within tolerance.
func (s *Segmenter) Skipped() int { return s.skipped }

// NextNumber is the number the next emitted batch will carry.
func (s *Segmenter) NextNumber() int { return s.next }
