package timetag

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// WriteText writes recs to w as the text mirror, one record per line:
// channel id and timestamp separated by a single space.
func WriteText(w io.Writer, recs []Record) error {
	bw := bufio.NewWriter(w)

	for _, rec := range recs {
		if _, err := fmt.Fprintf(bw, "%d %d\n", rec.Channel, rec.Time); err != nil {
			return fmt.Errorf("write record line: %w", err)
		}
	}

	return bw.Flush()
}

// ReadText parses the text mirror form back into records. Blank lines are
// ignored; anything else that does not parse is an error.
func ReadText(r io.Reader) ([]Record, error) {
	scanner := bufio.NewScanner(r)

	var recs []Record
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected 2 fields, got %d", lineNo, len(fields))
		}

		channel, err := strconv.ParseUint(fields[0], 10, 16)
		if err != nil {
			return nil, fmt.Errorf("line %d: channel: %w", lineNo, err)
		}
		ts, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: timestamp: %w", lineNo, err)
		}

		recs = append(recs, Record{Channel: uint16(channel), Time: ts})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read text records: %w", err)
	}

	return recs, nil
}

// WriteTextFile writes the text mirror of recs to path.
func WriteTextFile(path string, recs []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := WriteText(f, recs); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// ReadTextFile reads the text mirror at path.
func ReadTextFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return ReadText(f)
}
