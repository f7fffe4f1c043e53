package correlate

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/arloliu/tagsync/timetag"
)

// ReportFileName is the fixed name of the offset report inside the output
// directory.
const ReportFileName = "offset_report.json"

// CorrectedFileName is the fixed name of the corrected master copy.
const CorrectedFileName = "master_corrected.bin"

// Report is the write-once result of one offset correlation. All time
// statistics are in nanoseconds; the offset sign convention is slave minus
// master.
type Report struct {
	SessionID        string  `json:"session_id,omitempty"`
	Samples          int     `json:"samples"`
	MinNs            int64   `json:"min_ns"`
	MaxNs            int64   `json:"max_ns"`
	MeanNs           float64 `json:"mean_ns"`
	StdDevNs         float64 `json:"stddev_ns"`
	Quality          float64 `json:"quality"`
	InsufficientData bool    `json:"insufficient_data"`
}

// CorrelateFiles runs the engine over two binary timestamp files, writes
// the offset report and the corrected master copy into outDir, and returns
// the report. No report file is written when the inputs are invalid.
//
// The corrected copy shifts every master timestamp by the rounded mean
// offset, expressing both streams in the slave's time base. When the
// report is flagged insufficient_data the corrected copy is still written,
// shifted by zero, so downstream tooling always finds the file pair.
func (e *Engine) CorrelateFiles(masterPath, slavePath, outDir, sessionID string) (*Report, error) {
	master, err := timetag.ReadBinaryFile(masterPath)
	if err != nil {
		return nil, errors.Wrap(err, "read master file")
	}
	slave, err := timetag.ReadBinaryFile(slavePath)
	if err != nil {
		return nil, errors.Wrap(err, "read slave file")
	}

	report, err := e.Correlate(master, slave)
	if err != nil {
		return nil, err
	}
	report.SessionID = sessionID

	if err := report.Write(filepath.Join(outDir, ReportFileName)); err != nil {
		return nil, err
	}

	shift := int64(0)
	if !report.InsufficientData {
		shift = roundNs(report.MeanNs)
	}
	corrected := timetag.Shift(master, shift)
	if err := timetag.WriteBinaryFile(filepath.Join(outDir, CorrectedFileName), corrected); err != nil {
		return nil, errors.Wrap(err, "write corrected master file")
	}

	return report, nil
}

// Write serializes the report as indented JSON to path.
func (r *Report) Write(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode offset report")
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "write offset report")
	}

	return nil
}

// ReadReport loads a report written by Write.
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read offset report")
	}

	var report Report
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, errors.Wrap(err, "decode offset report")
	}

	return &report, nil
}

func roundNs(v float64) int64 {
	if v >= 0 {
		return int64(v + 0.5)
	}
	return -int64(-v + 0.5)
}
