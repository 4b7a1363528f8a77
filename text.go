package dsm2las

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var errMalformedLine = errors.New("malformed line")

// A TextWriter writes point clouds as text, one "x,y,z" line per point.
type TextWriter struct {
	filename string
}

// NewTextWriter returns a new TextWriter that writes to filename.
func NewTextWriter(filename string) *TextWriter {
	return &TextWriter{
		filename: filename,
	}
}

func (w *TextWriter) String() string {
	return "txt"
}

// WritePoints writes points to w's file.
func (w *TextWriter) WritePoints(ctx context.Context, points []Point) (err error) {
	file, err := os.Create(w.filename)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); err == nil {
			err = closeErr
		}
	}()
	bufferedWriter := bufio.NewWriter(file)
	if err := EncodeText(bufferedWriter, points); err != nil {
		return err
	}
	if err := bufferedWriter.Flush(); err != nil {
		return err
	}
	pointsWritten.WithLabelValues(w.String()).Add(float64(len(points)))
	return nil
}

// EncodeText writes points to writer as newline separated "x,y,z" lines. The
// last line has no trailing newline.
func EncodeText(writer io.Writer, points []Point) error {
	var line []byte
	for i, point := range points {
		line = line[:0]
		if i != 0 {
			line = append(line, '\n')
		}
		line = appendTextValue(line, point.X)
		line = append(line, ',')
		line = appendTextValue(line, point.Y)
		line = append(line, ',')
		line = appendTextValue(line, point.Z)
		if _, err := writer.Write(line); err != nil {
			return err
		}
	}
	return nil
}

// appendTextValue appends the shortest decimal representation of value that
// parses back to value.
func appendTextValue(b []byte, value float64) []byte {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return strconv.AppendFloat(b, value, 'g', -1, 64)
	}
	return append(b, decimal.NewFromFloat(value).String()...)
}

// ParseLine parses a line written by EncodeText.
func ParseLine(line string) (Point, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 3 {
		return Point{}, fmt.Errorf("%q: %w", line, errMalformedLine)
	}
	var values [3]float64
	for i, field := range fields {
		value, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return Point{}, err
		}
		values[i] = value
	}
	return Point{X: values[0], Y: values[1], Z: values[2]}, nil
}

// A Txt2LAS writes point clouds as text and converts them to LAS with
// LAStools' txt2las.
type Txt2LAS struct {
	filename string
	program  string
	tempDir  string
	logger   *zap.Logger
}

// A Txt2LASOption sets an option on a Txt2LAS.
type Txt2LASOption func(*Txt2LAS)

// NewTxt2LAS returns a new Txt2LAS that writes to filename.
func NewTxt2LAS(filename string, options ...Txt2LASOption) *Txt2LAS {
	t := &Txt2LAS{
		filename: filename,
		program:  "txt2las",
		logger:   zap.NewNop(),
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// WithTxt2LASProgram sets the txt2las executable.
func WithTxt2LASProgram(program string) Txt2LASOption {
	return func(t *Txt2LAS) {
		t.program = program
	}
}

// WithTxt2LASTempDir writes the intermediate text file to a uniquely named
// file in tempDir, removing it afterwards. By default it is written next to
// the output with a .txt extension and kept.
func WithTxt2LASTempDir(tempDir string) Txt2LASOption {
	return func(t *Txt2LAS) {
		t.tempDir = tempDir
	}
}

// WithTxt2LASLogger sets the logger used to report txt2las runs and failures.
func WithTxt2LASLogger(logger *zap.Logger) Txt2LASOption {
	return func(t *Txt2LAS) {
		t.logger = logger
	}
}

func (t *Txt2LAS) String() string {
	return "txt2las"
}

// textFilename returns a name for the intermediate text file. With a temp
// dir, each call returns a new name.
func (t *Txt2LAS) textFilename() string {
	if t.tempDir != "" {
		return filepath.Join(t.tempDir, "dsm2las-"+uuid.NewString()+".txt")
	}
	return strings.TrimSuffix(t.filename, filepath.Ext(t.filename)) + ".txt"
}

// WritePoints writes points to a text file and runs txt2las on it. An error
// is returned only if the text file cannot be written or txt2las cannot be
// started. A non-zero exit status is logged.
func (t *Txt2LAS) WritePoints(ctx context.Context, points []Point) error {
	textFilename := t.textFilename()
	if err := NewTextWriter(textFilename).WritePoints(ctx, points); err != nil {
		return err
	}
	if t.tempDir != "" {
		defer func() {
			if err := os.Remove(textFilename); err != nil {
				t.logger.Warn("remove", zap.String("filename", textFilename), zap.Error(err))
			}
		}()
	}

	cmd := exec.CommandContext(ctx, t.program, "-i", textFilename, "-o", t.filename, "--parse", "xyz")
	var cmdStdout, cmdStderr bytes.Buffer
	cmd.Stdout = &cmdStdout
	cmd.Stderr = &cmdStderr
	t.logger.Debug("run", zap.Stringer("cmd", cmd))
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return err
		}
		t.logger.Error("run failed",
			zap.Stringer("cmd", cmd),
			zap.Int("exitCode", exitErr.ExitCode()),
			zap.String("stdout", cmdStdout.String()),
			zap.String("stderr", cmdStderr.String()),
		)
		return nil
	}
	pointsWritten.WithLabelValues(t.String()).Add(float64(len(points)))
	return nil
}
