package dsm2las

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"strconv"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"
	"golang.org/x/image/tiff/lzw"
)

const (
	compressionNone         = 1
	compressionLZW          = 5
	compressionDeflate      = 8
	compressionAdobeDeflate = 32946

	predictorNone          = 1
	predictorHorizontal    = 2
	predictorFloatingPoint = 3

	planarConfigurationContig = 1

	rasterTypePixelIsPoint = 2
)

var errShortRead = errors.New("short read")

type readAtReadSeeker interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// A GeoTIFFRaster is an open GeoTIFF file.
type GeoTIFFRaster struct {
	file            fs.File
	r               readAtReadSeeker
	byteOrder       binary.ByteOrder
	imageWidth      int
	imageLength     int
	blockWidth      int
	blockLength     int
	blocksAcross    int
	blocksDown      int
	tiled           bool
	blockOffsets    []uint64
	blockByteCounts []uint64
	samplesPerPixel int
	bitsPerSample   int
	sampleFormat    SampleFormat
	compression     int
	predictor       int
	noData          *float64
	referencePoint  Coord
	pixelSizes      Coord
	geoKeyDirectory *GeoKeyDirectory
	maxSamples      int
	image           *Image
}

// A GeoTIFFOption sets an option on a GeoTIFFRaster.
type GeoTIFFOption func(*GeoTIFFRaster)

// A geoTIFFIFD is a struct into which github.com/google/tiff can unmarshal an
// IFD.
type geoTIFFIFD struct {
	ImageWidth             uint32    `tiff:"field,tag=256"`
	ImageLength            uint32    `tiff:"field,tag=257"`
	BitsPerSample          []uint16  `tiff:"field,tag=258"`
	Compression            uint16    `tiff:"field,tag=259"`
	StripOffsets           []uint64  `tiff:"field,tag=273"`
	SamplesPerPixel        uint16    `tiff:"field,tag=277"`
	RowsPerStrip           uint32    `tiff:"field,tag=278"`
	StripByteCounts        []uint64  `tiff:"field,tag=279"`
	PlanarConfiguration    uint16    `tiff:"field,tag=284"`
	Predictor              uint16    `tiff:"field,tag=317"`
	TileWidth              uint32    `tiff:"field,tag=322"`
	TileLength             uint32    `tiff:"field,tag=323"`
	TileOffsets            []uint64  `tiff:"field,tag=324"`
	TileByteCounts         []uint64  `tiff:"field,tag=325"`
	SampleFormat           []uint16  `tiff:"field,tag=339"`
	ModelPixelScaleTag     []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag       []float64 `tiff:"field,tag=33922"`
	ModelTransformationTag []float64 `tiff:"field,tag=34264"`
	GeoKeyDirectoryTag     []uint16  `tiff:"field,tag=34735"`
	GeoDoubleParamsTag     []float64 `tiff:"field,tag=34736"`
	GeoASCIIParamsTag      string    `tiff:"field,tag=34737"`
	GDALNoData             string    `tiff:"field,tag=42113"`
}

// OpenGeoTIFF opens the GeoTIFF filename in fsys. Only the first IFD is read.
func OpenGeoTIFF(fsys fs.FS, filename string, options ...GeoTIFFOption) (*GeoTIFFRaster, error) {
	ok := false

	g := &GeoTIFFRaster{
		maxSamples: 1 << 28,
	}
	for _, option := range options {
		option(g)
	}

	file, err := fsys.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if !ok {
			_ = file.Close()
		}
	}()
	r, isReadAtReadSeeker := file.(readAtReadSeeker)
	if !isReadAtReadSeeker {
		return nil, errors.ErrUnsupported
	}
	g.file = file
	g.r = r

	header := make([]byte, 2)
	if _, err := r.ReadAt(header, 0); err != nil {
		return nil, err
	}
	switch string(header) {
	case "II":
		g.byteOrder = binary.LittleEndian
	case "MM":
		g.byteOrder = binary.BigEndian
	default:
		return nil, fmt.Errorf("%s: not a TIFF file", filename)
	}

	tiffTIFF, err := tiff.Parse(r, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return nil, err
	}
	if len(tiffTIFF.IFDs()) == 0 {
		return nil, fmt.Errorf("%s: no IFDs", filename)
	}

	var ifd geoTIFFIFD
	if err := tiff.UnmarshalIFD(tiffTIFF.IFDs()[0], &ifd); err != nil {
		return nil, err
	}

	if err := g.setSampleEncoding(&ifd); err != nil {
		return nil, err
	}
	if err := g.setLayout(&ifd); err != nil {
		return nil, err
	}
	if len(ifd.GeoKeyDirectoryTag) != 0 {
		g.geoKeyDirectory = &GeoKeyDirectory{
			Directory:    ifd.GeoKeyDirectoryTag,
			DoubleParams: ifd.GeoDoubleParamsTag,
			ASCIIParams:  ifd.GeoASCIIParamsTag,
		}
	}
	if err := g.setGeoreference(&ifd); err != nil {
		return nil, err
	}
	if noData := strings.Trim(ifd.GDALNoData, "\x00 "); noData != "" {
		value, err := strconv.ParseFloat(noData, 64)
		if err != nil {
			return nil, err
		}
		g.noData = &value
	}

	rastersOpened.Inc()
	ok = true
	return g, nil
}

// WithMaxSamples sets the maximum number of samples in an image or a single
// block. Larger rasters are rejected by OpenGeoTIFF with ErrRasterTooLarge.
func WithMaxSamples(maxSamples int) GeoTIFFOption {
	return func(g *GeoTIFFRaster) {
		g.maxSamples = maxSamples
	}
}

func (g *GeoTIFFRaster) Close() error {
	return g.file.Close()
}

// CRS returns g's CRS as an EPSG code, or the empty string if g's GeoKeys do
// not name one.
func (g *GeoTIFFRaster) CRS() string {
	if epsg, ok := g.geoKeyDirectory.EPSG(); ok {
		return "EPSG:" + strconv.Itoa(epsg)
	}
	return ""
}

// GeoKeyDirectory returns g's GeoKey directory, or nil if g has none.
func (g *GeoTIFFRaster) GeoKeyDirectory() *GeoKeyDirectory {
	return g.geoKeyDirectory
}

// ReferencePoint returns the world coordinate of the corner of g's first
// pixel.
func (g *GeoTIFFRaster) ReferencePoint() Coord {
	return g.referencePoint
}

// PixelSizes returns g's pixel sizes.
func (g *GeoTIFFRaster) PixelSizes() Coord {
	return g.pixelSizes
}

// Image decodes and returns all of g's samples. The result is cached.
func (g *GeoTIFFRaster) Image() (*Image, error) {
	if g.image != nil {
		return g.image, nil
	}

	// setLayout bounds the product.
	sampleCount := g.imageWidth * g.imageLength * g.samplesPerPixel

	shape := []int{g.imageLength, g.imageWidth}
	if g.samplesPerPixel != 1 {
		shape = append(shape, g.samplesPerPixel)
	}
	image := &Image{
		Shape:         shape,
		SampleFormat:  g.sampleFormat,
		BitsPerSample: g.bitsPerSample,
		Samples:       make([]float64, sampleCount),
		NoData:        g.noData,
	}

	for blockRow := range g.blocksDown {
		for blockCol := range g.blocksAcross {
			if err := g.decodeBlock(image, blockRow, blockCol); err != nil {
				return nil, err
			}
		}
	}

	g.image = image
	return image, nil
}

// setLayout sets g's dimensions and strip or tile layout from ifd. It must be
// called after setSampleEncoding.
func (g *GeoTIFFRaster) setLayout(ifd *geoTIFFIFD) error {
	if ifd.ImageWidth == 0 || ifd.ImageLength == 0 {
		return errors.New("empty image")
	}
	maxSamples := uint64(max(g.maxSamples, 0))
	if _, ok := checkedProduct(maxSamples, uint64(ifd.ImageWidth), uint64(ifd.ImageLength), uint64(g.samplesPerPixel)); !ok {
		return fmt.Errorf("%dx%dx%d: %w", ifd.ImageWidth, ifd.ImageLength, g.samplesPerPixel, ErrRasterTooLarge)
	}
	g.imageWidth = int(ifd.ImageWidth)
	g.imageLength = int(ifd.ImageLength)

	switch {
	case ifd.TileWidth != 0 && ifd.TileLength != 0:
		g.tiled = true
		g.blockWidth = int(ifd.TileWidth)
		g.blockLength = int(ifd.TileLength)
		g.blockOffsets = ifd.TileOffsets
		g.blockByteCounts = ifd.TileByteCounts
	case len(ifd.StripOffsets) != 0:
		g.blockWidth = g.imageWidth
		g.blockLength = int(ifd.RowsPerStrip)
		if g.blockLength == 0 || g.blockLength > g.imageLength {
			g.blockLength = g.imageLength
		}
		g.blockOffsets = ifd.StripOffsets
		g.blockByteCounts = ifd.StripByteCounts
	default:
		return errors.New("neither strips nor tiles")
	}
	if _, ok := checkedProduct(maxSamples, uint64(g.blockWidth), uint64(g.blockLength), uint64(g.samplesPerPixel)); !ok {
		return fmt.Errorf("%dx%dx%d block: %w", g.blockWidth, g.blockLength, g.samplesPerPixel, ErrRasterTooLarge)
	}
	g.blocksAcross = (g.imageWidth + g.blockWidth - 1) / g.blockWidth
	g.blocksDown = (g.imageLength + g.blockLength - 1) / g.blockLength

	blocksPerImage := g.blocksAcross * g.blocksDown
	if len(g.blockOffsets) != blocksPerImage || len(g.blockByteCounts) != blocksPerImage {
		return errors.New("incorrect number of block byte counts or offsets")
	}

	maxBlockByteCount, ok := checkedProduct(math.MaxUint64, maxSamples, uint64(g.bitsPerSample/8))
	if !ok {
		maxBlockByteCount = math.MaxUint64
	}
	for i, blockByteCount := range g.blockByteCounts {
		if blockByteCount > maxBlockByteCount {
			return fmt.Errorf("block %d: %d bytes: %w", i, blockByteCount, ErrRasterTooLarge)
		}
	}
	return nil
}

// checkedProduct returns the product of factors and whether it is at most
// limit.
func checkedProduct(limit uint64, factors ...uint64) (uint64, bool) {
	product := uint64(1)
	for _, factor := range factors {
		if factor != 0 && product > limit/factor {
			return 0, false
		}
		product *= factor
	}
	return product, product <= limit
}

// setSampleEncoding sets how g's samples are encoded from ifd.
func (g *GeoTIFFRaster) setSampleEncoding(ifd *geoTIFFIFD) error {
	g.samplesPerPixel = max(int(ifd.SamplesPerPixel), 1)
	if g.samplesPerPixel > 1 && ifd.PlanarConfiguration != 0 && ifd.PlanarConfiguration != planarConfigurationContig {
		return errors.ErrUnsupported
	}

	g.bitsPerSample = 1
	if len(ifd.BitsPerSample) != 0 {
		g.bitsPerSample = int(ifd.BitsPerSample[0])
	}
	for _, bitsPerSample := range ifd.BitsPerSample {
		if int(bitsPerSample) != g.bitsPerSample {
			return errors.ErrUnsupported
		}
	}

	g.sampleFormat = SampleFormatUint
	if len(ifd.SampleFormat) != 0 {
		g.sampleFormat = SampleFormat(ifd.SampleFormat[0])
	}
	for _, sampleFormat := range ifd.SampleFormat {
		if SampleFormat(sampleFormat) != g.sampleFormat {
			return errors.ErrUnsupported
		}
	}

	switch g.sampleFormat {
	case SampleFormatUint, SampleFormatInt:
		switch g.bitsPerSample {
		case 8, 16, 32:
		default:
			return errors.ErrUnsupported
		}
	case SampleFormatFloat:
		switch g.bitsPerSample {
		case 32, 64:
		default:
			return errors.ErrUnsupported
		}
	default:
		return errors.ErrUnsupported
	}

	g.compression = int(ifd.Compression)
	switch g.compression {
	case 0:
		g.compression = compressionNone
	case compressionNone, compressionLZW, compressionDeflate, compressionAdobeDeflate:
	default:
		return errors.ErrUnsupported
	}

	g.predictor = int(ifd.Predictor)
	switch g.predictor {
	case 0:
		g.predictor = predictorNone
	case predictorNone:
	case predictorHorizontal:
		if g.sampleFormat == SampleFormatFloat {
			return errors.ErrUnsupported
		}
	case predictorFloatingPoint:
		if g.sampleFormat != SampleFormatFloat {
			return errors.ErrUnsupported
		}
	default:
		return errors.ErrUnsupported
	}

	return nil
}

// setGeoreference sets g's reference point and pixel sizes from ifd.
func (g *GeoTIFFRaster) setGeoreference(ifd *geoTIFFIFD) error {
	switch {
	case len(ifd.ModelTransformationTag) == 16:
		t := ifd.ModelTransformationTag
		if t[1] != 0 || t[4] != 0 {
			return errors.ErrUnsupported
		}
		g.pixelSizes = Coord{X: t[0], Y: t[5]}
		g.referencePoint = Coord{X: t[3], Y: t[7]}
	case len(ifd.ModelPixelScaleTag) >= 2 && len(ifd.ModelTiepointTag) >= 6:
		scaleX, scaleY := ifd.ModelPixelScaleTag[0], ifd.ModelPixelScaleTag[1]
		i, j := ifd.ModelTiepointTag[0], ifd.ModelTiepointTag[1]
		x, y := ifd.ModelTiepointTag[3], ifd.ModelTiepointTag[4]
		g.pixelSizes = Coord{X: scaleX, Y: -scaleY}
		g.referencePoint = Coord{X: x - i*scaleX, Y: y + j*scaleY}
	default:
		return ErrNoGeoreference
	}

	// Tiepoints of PixelIsPoint rasters refer to pixel centers.
	if g.geoKeyDirectory != nil {
		if parsedGeoKeys, err := g.geoKeyDirectory.Parse(); err == nil && parsedGeoKeys.Params[GeoKeyGTRasterType] == rasterTypePixelIsPoint {
			g.referencePoint.X -= g.pixelSizes.X / 2
			g.referencePoint.Y -= g.pixelSizes.Y / 2
		}
	}

	return nil
}

// blockRows returns the number of rows stored in the block at blockRow.
func (g *GeoTIFFRaster) blockRows(blockRow int) int {
	if g.tiled {
		return g.blockLength
	}
	return min(g.blockLength, g.imageLength-blockRow*g.blockLength)
}

// decodeBlock decodes the block at blockRow, blockCol into image.
func (g *GeoTIFFRaster) decodeBlock(image *Image, blockRow, blockCol int) error {
	blockIndex := blockCol + g.blocksAcross*blockRow
	bytesPerSample := g.bitsPerSample / 8
	rowSamples := g.blockWidth * g.samplesPerPixel
	rows := g.blockRows(blockRow)

	compressedData, err := g.getCompressedBlockData(blockIndex)
	if err != nil {
		return err
	}
	blockData, err := g.decompressBlockData(compressedData, rows*rowSamples*bytesPerSample)
	if err != nil {
		return err
	}

	byteOrder := g.byteOrder
	switch g.predictor {
	case predictorHorizontal:
		for row := range rows {
			undoHorizontalDifferencing(byteOrder, blockData[row*rowSamples*bytesPerSample:(row+1)*rowSamples*bytesPerSample], g.samplesPerPixel, bytesPerSample)
		}
	case predictorFloatingPoint:
		for row := range rows {
			undoFloatingPointPredictor(blockData[row*rowSamples*bytesPerSample:(row+1)*rowSamples*bytesPerSample], g.samplesPerPixel, bytesPerSample)
		}
		byteOrder = binary.BigEndian
	}

	decodeSample := sampleDecoder(g.sampleFormat, g.bitsPerSample)
	for row := range rows {
		imageRow := blockRow*g.blockLength + row
		if imageRow >= g.imageLength {
			break
		}
		for col := range g.blockWidth {
			imageCol := blockCol*g.blockWidth + col
			if imageCol >= g.imageWidth {
				break
			}
			for sample := range g.samplesPerPixel {
				offset := ((row*g.blockWidth+col)*g.samplesPerPixel + sample) * bytesPerSample
				index := (imageRow*g.imageWidth+imageCol)*g.samplesPerPixel + sample
				image.Samples[index] = decodeSample(byteOrder, blockData[offset:offset+bytesPerSample])
			}
		}
	}

	blocksDecoded.Inc()
	return nil
}

// getCompressedBlockData returns the compressed data of the block at
// blockIndex.
func (g *GeoTIFFRaster) getCompressedBlockData(blockIndex int) ([]byte, error) {
	blockByteCount := g.blockByteCounts[blockIndex]
	blockOffset := g.blockOffsets[blockIndex]
	compressedData := make([]byte, blockByteCount)
	switch n, err := g.r.ReadAt(compressedData, int64(blockOffset)); {
	case n == int(blockByteCount):
		return compressedData, nil
	case err != nil:
		return nil, err
	default:
		return nil, errShortRead
	}
}

// decompressBlockData decompresses the block data in compressedData into size
// bytes.
func (g *GeoTIFFRaster) decompressBlockData(compressedData []byte, size int) ([]byte, error) {
	var r io.Reader
	switch g.compression {
	case compressionNone:
		if len(compressedData) < size {
			return nil, errShortRead
		}
		return compressedData[:size], nil
	case compressionLZW:
		lzwReader := lzw.NewReader(bytes.NewReader(compressedData), lzw.MSB, 8)
		defer lzwReader.Close()
		r = lzwReader
	case compressionDeflate, compressionAdobeDeflate:
		zlibReader, err := zlib.NewReader(bytes.NewReader(compressedData))
		if err != nil {
			return nil, err
		}
		defer zlibReader.Close()
		r = zlibReader
	}
	blockData := make([]byte, size)
	if _, err := io.ReadFull(r, blockData); err != nil {
		return nil, err
	}
	return blockData, nil
}

// undoHorizontalDifferencing reverses the TIFF horizontal predictor on a single
// row of integer samples.
func undoHorizontalDifferencing(byteOrder binary.ByteOrder, row []byte, samplesPerPixel, bytesPerSample int) {
	n := len(row) / bytesPerSample
	for i := samplesPerPixel; i < n; i++ {
		cur := row[i*bytesPerSample : (i+1)*bytesPerSample]
		prev := row[(i-samplesPerPixel)*bytesPerSample : (i-samplesPerPixel+1)*bytesPerSample]
		switch bytesPerSample {
		case 1:
			cur[0] += prev[0]
		case 2:
			byteOrder.PutUint16(cur, byteOrder.Uint16(cur)+byteOrder.Uint16(prev))
		case 4:
			byteOrder.PutUint32(cur, byteOrder.Uint32(cur)+byteOrder.Uint32(prev))
		}
	}
}

// undoFloatingPointPredictor reverses the TIFF floating point predictor on a
// single row. On return row contains big endian samples.
func undoFloatingPointPredictor(row []byte, samplesPerPixel, bytesPerSample int) {
	for i := samplesPerPixel; i < len(row); i++ {
		row[i] += row[i-samplesPerPixel]
	}
	n := len(row) / bytesPerSample
	planes := bytes.Clone(row)
	for i := range n {
		for b := range bytesPerSample {
			row[i*bytesPerSample+b] = planes[b*n+i]
		}
	}
}

// sampleDecoder returns a function that decodes a single sample.
func sampleDecoder(sampleFormat SampleFormat, bitsPerSample int) func(binary.ByteOrder, []byte) float64 {
	switch {
	case sampleFormat == SampleFormatUint && bitsPerSample == 8:
		return func(_ binary.ByteOrder, b []byte) float64 { return float64(b[0]) }
	case sampleFormat == SampleFormatUint && bitsPerSample == 16:
		return func(o binary.ByteOrder, b []byte) float64 { return float64(o.Uint16(b)) }
	case sampleFormat == SampleFormatUint && bitsPerSample == 32:
		return func(o binary.ByteOrder, b []byte) float64 { return float64(o.Uint32(b)) }
	case sampleFormat == SampleFormatInt && bitsPerSample == 8:
		return func(_ binary.ByteOrder, b []byte) float64 { return float64(int8(b[0])) }
	case sampleFormat == SampleFormatInt && bitsPerSample == 16:
		return func(o binary.ByteOrder, b []byte) float64 { return float64(int16(o.Uint16(b))) }
	case sampleFormat == SampleFormatInt && bitsPerSample == 32:
		return func(o binary.ByteOrder, b []byte) float64 { return float64(int32(o.Uint32(b))) }
	case sampleFormat == SampleFormatFloat && bitsPerSample == 32:
		return func(o binary.ByteOrder, b []byte) float64 { return float64(math.Float32frombits(o.Uint32(b))) }
	default:
		return func(o binary.ByteOrder, b []byte) float64 { return math.Float64frombits(o.Uint64(b)) }
	}
}
