package dsm2las

// A SampleFormat is the element type of an image's samples. The values match
// the TIFF SampleFormat tag.
type SampleFormat int

const (
	SampleFormatUint  SampleFormat = 1
	SampleFormatInt   SampleFormat = 2
	SampleFormatFloat SampleFormat = 3
)

func (f SampleFormat) String() string {
	switch f {
	case SampleFormatUint:
		return "uint"
	case SampleFormatInt:
		return "int"
	case SampleFormatFloat:
		return "float"
	default:
		return "unknown"
	}
}

// An Image is a grid of raster samples.
type Image struct {
	// Shape is rows, columns, then any further dimensions (e.g. bands).
	Shape         []int
	SampleFormat  SampleFormat
	BitsPerSample int
	// Samples are stored in row-major order, widened to float64 whatever the
	// SampleFormat.
	Samples []float64
	NoData  *float64
}

// Rows returns the number of rows in image.
func (image *Image) Rows() int {
	if len(image.Shape) < 1 {
		return 0
	}
	return image.Shape[0]
}

// Cols returns the number of columns in image.
func (image *Image) Cols() int {
	if len(image.Shape) < 2 {
		return 0
	}
	return image.Shape[1]
}

// Size returns the total number of elements described by image's shape.
func (image *Image) Size() int {
	if len(image.Shape) == 0 {
		return 0
	}
	size := 1
	for _, dim := range image.Shape {
		size *= dim
	}
	return size
}

// IsHeightmap returns whether image is a single band grid of floating point
// samples. Trailing dimensions of size one are ignored.
func IsHeightmap(image *Image) bool {
	if image == nil || len(image.Shape) < 2 {
		return false
	}
	size := image.Size()
	if size != len(image.Samples) {
		return false
	}
	return size == image.Rows()*image.Cols() && image.SampleFormat == SampleFormatFloat
}

// at returns the sample at row, col. image must be a heightmap.
func (image *Image) at(row, col int) float64 {
	return image.Samples[row*image.Cols()+col]
}
