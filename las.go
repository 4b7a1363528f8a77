package dsm2las

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
)

const (
	lasHeaderSize         = 227
	lasVLRHeaderSize      = 54
	lasPointFormat0       = 0
	lasPointFormat0Size   = 20
	lasSingleReturnFlags  = 1 | 1<<3
	lasProjectionUserID   = "LASF_Projection"
	lasDefaultScaleFactor = 0.001
	lasGeneratingSoftware = "dsm2las"
	lasSystemIdentifier   = "EXTRACTION"
	lasVersionMajor       = 1
	lasVersionMinor       = 2
)

// A lasHeader is a LAS 1.2 public header block.
type lasHeader struct {
	FileSignature          [4]byte
	FileSourceID           uint16
	GlobalEncoding         uint16
	ProjectID              uuid.UUID
	VersionMajor           uint8
	VersionMinor           uint8
	SystemIdentifier       [32]byte
	GeneratingSoftware     [32]byte
	FileCreationDayOfYear  uint16
	FileCreationYear       uint16
	HeaderSize             uint16
	OffsetToPointData      uint32
	NumberOfVLRs           uint32
	PointDataFormatID      uint8
	PointDataRecordLength  uint16
	NumberOfPointRecords   uint32
	NumberOfPointsByReturn [5]uint32
	XScaleFactor           float64
	YScaleFactor           float64
	ZScaleFactor           float64
	XOffset                float64
	YOffset                float64
	ZOffset                float64
	MaxX, MinX             float64
	MaxY, MinY             float64
	MaxZ, MinZ             float64
}

// A lasVLRHeader is the header of a LAS variable length record.
type lasVLRHeader struct {
	Reserved                uint16
	UserID                  [16]byte
	RecordID                uint16
	RecordLengthAfterHeader uint16
	Description             [32]byte
}

// A lasPoint is a LAS point data record in format 0.
type lasPoint struct {
	X, Y, Z        int32
	Intensity      uint16
	ReturnFlags    uint8
	Classification uint8
	ScanAngleRank  int8
	UserData       uint8
	PointSourceID  uint16
}

type lasVLR struct {
	recordID    uint16
	description string
	data        []byte
}

// A LASWriter writes point clouds as LAS 1.2 files.
type LASWriter struct {
	filename        string
	scaleFactor     float64
	projectID       uuid.UUID
	creationTime    time.Time
	geoKeyDirectory *GeoKeyDirectory
}

// A LASWriterOption sets an option on a LASWriter.
type LASWriterOption func(*LASWriter)

// NewLASWriter returns a new LASWriter that writes to filename.
func NewLASWriter(filename string, options ...LASWriterOption) *LASWriter {
	w := &LASWriter{
		filename:     filename,
		scaleFactor:  lasDefaultScaleFactor,
		projectID:    uuid.New(),
		creationTime: time.Now(),
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// WithScaleFactor sets the resolution at which coordinates are stored.
func WithScaleFactor(scaleFactor float64) LASWriterOption {
	return func(w *LASWriter) {
		w.scaleFactor = scaleFactor
	}
}

// WithProjectID sets the project GUID recorded in the header.
func WithProjectID(projectID uuid.UUID) LASWriterOption {
	return func(w *LASWriter) {
		w.projectID = projectID
	}
}

// WithCreationTime sets the creation date recorded in the header.
func WithCreationTime(creationTime time.Time) LASWriterOption {
	return func(w *LASWriter) {
		w.creationTime = creationTime
	}
}

// WithGeoKeyDirectory sets the CRS recorded in the written file.
func WithGeoKeyDirectory(geoKeyDirectory *GeoKeyDirectory) LASWriterOption {
	return func(w *LASWriter) {
		w.geoKeyDirectory = geoKeyDirectory
	}
}

// SetGeoKeyDirectory sets the CRS recorded in the written file, if none was
// set with WithGeoKeyDirectory.
func (w *LASWriter) SetGeoKeyDirectory(geoKeyDirectory *GeoKeyDirectory) {
	if w.geoKeyDirectory == nil {
		w.geoKeyDirectory = geoKeyDirectory
	}
}

func (w *LASWriter) String() string {
	return "las"
}

// WritePoints writes points to w's file.
func (w *LASWriter) WritePoints(ctx context.Context, points []Point) (err error) {
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
	if err := w.Encode(bufferedWriter, points); err != nil {
		return err
	}
	if err := bufferedWriter.Flush(); err != nil {
		return err
	}
	pointsWritten.WithLabelValues(w.String()).Add(float64(len(points)))
	return nil
}

// Encode encodes points as a LAS file to writer.
func (w *LASWriter) Encode(writer io.Writer, points []Point) error {
	if uint64(len(points)) > math.MaxUint32 {
		return fmt.Errorf("%d points: %w", len(points), ErrCoordinateOverflow)
	}
	for i, point := range points {
		for _, value := range []float64{point.X, point.Y, point.Z} {
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return fmt.Errorf("point %d: %v: %w", i, value, ErrCoordinateOverflow)
			}
		}
	}
	xs, ys, zs := unzipPoints(points)

	vlrs := w.vlrs()
	offsetToPointData := lasHeaderSize
	for _, vlr := range vlrs {
		offsetToPointData += lasVLRHeaderSize + len(vlr.data)
	}

	header := lasHeader{
		FileSignature:         [4]byte{'L', 'A', 'S', 'F'},
		ProjectID:             w.projectID,
		VersionMajor:          lasVersionMajor,
		VersionMinor:          lasVersionMinor,
		FileCreationDayOfYear: uint16(w.creationTime.YearDay()),
		FileCreationYear:      uint16(w.creationTime.Year()),
		HeaderSize:            lasHeaderSize,
		OffsetToPointData:     uint32(offsetToPointData),
		NumberOfVLRs:          uint32(len(vlrs)),
		PointDataFormatID:     lasPointFormat0,
		PointDataRecordLength: lasPointFormat0Size,
		NumberOfPointRecords:  uint32(len(points)),
		NumberOfPointsByReturn: [5]uint32{
			uint32(len(points)),
		},
		XScaleFactor: w.scaleFactor,
		YScaleFactor: w.scaleFactor,
		ZScaleFactor: w.scaleFactor,
	}
	copy(header.SystemIdentifier[:], lasSystemIdentifier)
	copy(header.GeneratingSoftware[:], lasGeneratingSoftware)
	if len(points) != 0 {
		header.MinX, header.MaxX = floats.Min(xs), floats.Max(xs)
		header.MinY, header.MaxY = floats.Min(ys), floats.Max(ys)
		header.MinZ, header.MaxZ = floats.Min(zs), floats.Max(zs)
		header.XOffset = math.Floor(header.MinX)
		header.YOffset = math.Floor(header.MinY)
		header.ZOffset = math.Floor(header.MinZ)
	}

	if err := binary.Write(writer, binary.LittleEndian, &header); err != nil {
		return err
	}

	for _, vlr := range vlrs {
		vlrHeader := lasVLRHeader{
			RecordID:                vlr.recordID,
			RecordLengthAfterHeader: uint16(len(vlr.data)),
		}
		copy(vlrHeader.UserID[:], lasProjectionUserID)
		copy(vlrHeader.Description[:], vlr.description)
		if err := binary.Write(writer, binary.LittleEndian, &vlrHeader); err != nil {
			return err
		}
		if _, err := writer.Write(vlr.data); err != nil {
			return err
		}
	}

	for i := range points {
		x, err := w.quantize(xs[i], header.XOffset)
		if err != nil {
			return fmt.Errorf("point %d: x: %w", i, err)
		}
		y, err := w.quantize(ys[i], header.YOffset)
		if err != nil {
			return fmt.Errorf("point %d: y: %w", i, err)
		}
		z, err := w.quantize(zs[i], header.ZOffset)
		if err != nil {
			return fmt.Errorf("point %d: z: %w", i, err)
		}
		lasPoint := lasPoint{
			X:           x,
			Y:           y,
			Z:           z,
			ReturnFlags: lasSingleReturnFlags,
		}
		if err := binary.Write(writer, binary.LittleEndian, &lasPoint); err != nil {
			return err
		}
	}

	return nil
}

// quantize returns the stored integer representation of value.
func (w *LASWriter) quantize(value, offset float64) (int32, error) {
	quantized := math.Round((value - offset) / w.scaleFactor)
	if math.IsNaN(quantized) || quantized < math.MinInt32 || quantized > math.MaxInt32 {
		return 0, fmt.Errorf("%v: %w", value, ErrCoordinateOverflow)
	}
	return int32(quantized), nil
}

// vlrs returns the variable length records describing w's CRS.
func (w *LASWriter) vlrs() []lasVLR {
	if w.geoKeyDirectory == nil || len(w.geoKeyDirectory.Directory) == 0 {
		return nil
	}
	vlrs := []lasVLR{
		{
			recordID:    geoKeyDirectoryTag,
			description: "GeoKeyDirectoryTag",
			data:        encodeLittleEndian(w.geoKeyDirectory.Directory),
		},
	}
	if len(w.geoKeyDirectory.DoubleParams) != 0 {
		vlrs = append(vlrs, lasVLR{
			recordID:    geoDoubleParamsTag,
			description: "GeoDoubleParamsTag",
			data:        encodeLittleEndian(w.geoKeyDirectory.DoubleParams),
		})
	}
	if w.geoKeyDirectory.ASCIIParams != "" {
		vlrs = append(vlrs, lasVLR{
			recordID:    geoASCIIParamsTag,
			description: "GeoAsciiParamsTag",
			data:        append([]byte(w.geoKeyDirectory.ASCIIParams), 0),
		})
	}
	return vlrs
}

// unzipPoints returns the X, Y, and Z columns of points.
func unzipPoints(points []Point) ([]float64, []float64, []float64) {
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	zs := make([]float64, len(points))
	for i, point := range points {
		xs[i] = point.X
		ys[i] = point.Y
		zs[i] = point.Z
	}
	return xs, ys, zs
}

func encodeLittleEndian[T uint16 | float64](values []T) []byte {
	data, _ := binary.Append(nil, binary.LittleEndian, values)
	return data
}
