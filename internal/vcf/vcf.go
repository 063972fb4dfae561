// Package vcf holds the local helpers behind the set-vcf-sample-id sample:
// rewriting the sample column of a VCF header and counting differing lines.
package vcf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const headerPrefix = "#CHROM\t"

var (
	// ErrSampleMismatch means the header holds a different sample id than expected.
	ErrSampleMismatch = errors.New("sample id mismatch")
	// ErrChangedLines means the input did not hold exactly one header line.
	ErrChangedLines = errors.New("changed lines is not 1")
)

// Stats counts what SetSampleID processed.
type Stats struct {
	Lines   int
	Changed int
}

// SetSampleID copies r to w, replacing the last column of the "#CHROM" header
// line with newID. A non-empty originalID must match the current value.
func SetSampleID(r io.Reader, w io.Writer, originalID, newID string) (Stats, error) {
	var st Stats
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			st.Lines++
			if strings.HasPrefix(line, headerPrefix) {
				hasNL := strings.HasSuffix(line, "\n")
				fields := strings.Split(strings.TrimSuffix(line, "\n"), "\t")
				if originalID != "" && fields[len(fields)-1] != originalID {
					return st, fmt.Errorf("%w: %s != %s", ErrSampleMismatch, fields[len(fields)-1], originalID)
				}
				fields[len(fields)-1] = newID
				line = strings.Join(fields, "\t")
				if hasNL {
					line += "\n"
				}
				st.Changed++
			}
			if _, werr := bw.WriteString(line); werr != nil {
				return st, werr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return st, err
		}
	}
	if err := bw.Flush(); err != nil {
		return st, err
	}
	if st.Changed != 1 {
		return st, fmt.Errorf("%w: %d", ErrChangedLines, st.Changed)
	}
	return st, nil
}

// CountDifferences compares left and right line by line and returns the
// number of positions that differ, counting every extra line on either side.
// Lines are compared with their terminators, so CRLF against LF and a missing
// final newline both count.
func CountDifferences(left, right io.Reader) (int, error) {
	lr := bufio.NewReader(left)
	rr := bufio.NewReader(right)

	count := 0
	for {
		l, lok, err := nextLine(lr)
		if err != nil {
			return count, err
		}
		r, rok, err := nextLine(rr)
		if err != nil {
			return count, err
		}
		if !lok && !rok {
			return count, nil
		}
		if lok != rok || l != r {
			count++
		}
	}
}

// nextLine returns the next line including its terminator, and false once
// the reader is exhausted.
func nextLine(br *bufio.Reader) (string, bool, error) {
	line, err := br.ReadString('\n')
	if errors.Is(err, io.EOF) {
		return line, line != "", nil
	}
	if err != nil {
		return "", false, err
	}
	return line, true, nil
}
