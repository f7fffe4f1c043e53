package timetag

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// WriteBinary writes recs to w as fixed-width big-endian records.
func WriteBinary(w io.Writer, recs []Record) error {
	bw := bufio.NewWriter(w)

	var buf [RecordSize]byte
	for _, rec := range recs {
		binary.BigEndian.PutUint16(buf[0:2], rec.Channel)
		binary.BigEndian.PutUint64(buf[2:10], uint64(rec.Time))
		if _, err := bw.Write(buf[:]); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}

	return bw.Flush()
}

// ReadBinary reads fixed-width records from r until EOF. A trailing partial
// record is an error, not a silent truncation.
func ReadBinary(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)

	var recs []Record
	var buf [RecordSize]byte
	for {
		_, err := io.ReadFull(br, buf[:])
		if err == io.EOF {
			return recs, nil
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("truncated record at index %d", len(recs))
		}
		if err != nil {
			return nil, fmt.Errorf("read record: %w", err)
		}

		recs = append(recs, Record{
			Channel: binary.BigEndian.Uint16(buf[0:2]),
			Time:    int64(binary.BigEndian.Uint64(buf[2:10])),
		})
	}
}

// WriteBinaryFile writes recs to the binary file at path, replacing any
// existing file.
func WriteBinaryFile(path string, recs []Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := WriteBinary(f, recs); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

// ReadBinaryFile reads the binary file at path.
func ReadBinaryFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	return ReadBinary(f)
}

// EncodeBinary encodes recs into a byte slice, for transfer payloads.
func EncodeBinary(recs []Record) []byte {
	buf := make([]byte, 0, len(recs)*RecordSize)
	for _, rec := range recs {
		buf = binary.BigEndian.AppendUint16(buf, rec.Channel)
		buf = binary.BigEndian.AppendUint64(buf, uint64(rec.Time))
	}

	return buf
}

// DecodeBinary decodes a byte slice produced by EncodeBinary.
func DecodeBinary(data []byte) ([]Record, error) {
	if len(data)%RecordSize != 0 {
		return nil, fmt.Errorf("payload length %d is not a multiple of record size %d", len(data), RecordSize)
	}

	recs := make([]Record, 0, len(data)/RecordSize)
	for off := 0; off < len(data); off += RecordSize {
		recs = append(recs, Record{
			Channel: binary.BigEndian.Uint16(data[off : off+2]),
			Time:    int64(binary.BigEndian.Uint64(data[off+2 : off+10])),
		})
	}

	return recs, nil
}
