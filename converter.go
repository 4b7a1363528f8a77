package dsm2las

import (
	"context"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// A Loader opens the raster name.
type Loader func(name string) (GeoRaster, error)

// A Converter converts DSM files into point clouds.
type Converter struct {
	scale       int
	logger      *zap.Logger
	loader      Loader
	sink        Sink
	skipNoData  bool
	sourceCRS   string
	targetCRS   string
	reprojector *Reprojector
}

// A ConverterOption sets an option on a Converter.
type ConverterOption func(*Converter)

// NewConverter returns a new Converter with the given options.
func NewConverter(options ...ConverterOption) *Converter {
	c := &Converter{
		scale:  1,
		logger: zap.NewNop(),
		loader: LoadGeoTIFF,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// WithScale sets the subsampling stride.
func WithScale(scale int) ConverterOption {
	return func(c *Converter) {
		c.scale = scale
	}
}

// WithLogger sets the logger. The default discards all logs.
func WithLogger(logger *zap.Logger) ConverterOption {
	return func(c *Converter) {
		c.logger = logger
	}
}

// WithLoader sets the function used to open rasters. The default is
// LoadGeoTIFF.
func WithLoader(loader Loader) ConverterOption {
	return func(c *Converter) {
		c.loader = loader
	}
}

// WithSink sets where converted points are written. Without a sink, points
// are only returned.
func WithSink(sink Sink) ConverterOption {
	return func(c *Converter) {
		c.sink = sink
	}
}

// WithSkipNoData drops points whose sample is NaN or the raster's nodata
// value.
func WithSkipNoData(skipNoData bool) ConverterOption {
	return func(c *Converter) {
		c.skipNoData = skipNoData
	}
}

// WithSourceCRS overrides the CRS of the raster.
func WithSourceCRS(sourceCRS string) ConverterOption {
	return func(c *Converter) {
		c.sourceCRS = sourceCRS
	}
}

// WithTargetCRS reprojects points to targetCRS.
func WithTargetCRS(targetCRS string) ConverterOption {
	return func(c *Converter) {
		c.targetCRS = targetCRS
	}
}

// WithReprojector sets the Reprojector used when a target CRS is set. By
// default a new Reprojector is created for each conversion.
func WithReprojector(reprojector *Reprojector) ConverterOption {
	return func(c *Converter) {
		c.reprojector = reprojector
	}
}

// LoadGeoTIFF opens the GeoTIFF file name.
func LoadGeoTIFF(name string) (GeoRaster, error) {
	raster, err := OpenGeoTIFF(os.DirFS(filepath.Dir(name)), filepath.Base(name))
	if err != nil {
		return nil, err
	}
	return raster, nil
}

// Convert converts the DSM dsmFile into a point cloud, writes it to c's sink
// if there is one, and returns it.
func (c *Converter) Convert(ctx context.Context, dsmFile string) ([]Point, error) {
	logger := c.logger.With(zap.String("dsmFile", dsmFile))
	start := time.Now()

	raster, err := c.loader(dsmFile)
	if err != nil {
		return nil, err
	}
	if closer, ok := raster.(io.Closer); ok {
		defer func() {
			if err := closer.Close(); err != nil {
				logger.Warn("close", zap.Error(err))
			}
		}()
	}

	image, origin, pixelSize, err := Adapt(raster)
	if err != nil {
		return nil, err
	}
	logger.Debug("adapt",
		zap.Ints("shape", image.Shape),
		zap.Stringer("sampleFormat", image.SampleFormat),
		zap.Float64s("origin", []float64{origin.X, origin.Y}),
		zap.Float64s("pixelSize", []float64{pixelSize.X, pixelSize.Y}),
	)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	points, err := c.project(image, origin, pixelSize)
	if err != nil {
		return nil, err
	}
	logger.Debug("project", zap.Int("scale", c.scale), zap.Int("points", len(points)))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reprojected := false
	if c.targetCRS != "" {
		sourceCRS := c.sourceCRS
		if sourceCRS == "" {
			if crsRaster, ok := raster.(CRSRaster); ok {
				sourceCRS = crsRaster.CRS()
			}
		}
		if sourceCRS == "" {
			return nil, ErrNoSourceCRS
		}
		if err := c.reproject(points, sourceCRS); err != nil {
			return nil, err
		}
		reprojected = true
		logger.Debug("reproject", zap.String("sourceCRS", sourceCRS), zap.String("targetCRS", c.targetCRS))
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	if c.sink != nil {
		if geoKeySink, ok := c.sink.(GeoKeySink); ok && !reprojected {
			if geoKeyRaster, ok := raster.(GeoKeyRaster); ok {
				geoKeySink.SetGeoKeyDirectory(geoKeyRaster.GeoKeyDirectory())
			}
		}
		if err := c.sink.WritePoints(ctx, points); err != nil {
			return nil, err
		}
	}

	logger.Info("convert",
		zap.Int("points", len(points)),
		zap.Duration("duration", time.Since(start)),
	)
	return points, nil
}

func (c *Converter) project(image *Image, origin, pixelSize Coord) ([]Point, error) {
	if !c.skipNoData {
		points, err := Project(image, origin, pixelSize, c.scale)
		if err != nil {
			return nil, err
		}
		pointsProjected.Add(float64(len(points)))
		return points, nil
	}

	var points []Point
	skipped := 0
	if err := ProjectFunc(image, origin, pixelSize, c.scale, func(point Point) error {
		if math.IsNaN(point.Z) || image.NoData != nil && point.Z == *image.NoData {
			skipped++
			return nil
		}
		points = append(points, point)
		return nil
	}); err != nil {
		return nil, err
	}
	pointsProjected.Add(float64(len(points) + skipped))
	noDataPointsSkipped.Add(float64(skipped))
	return points, nil
}

func (c *Converter) reproject(points []Point, sourceCRS string) error {
	reprojector := c.reprojector
	if reprojector == nil {
		var err error
		reprojector, err = NewReprojector()
		if err != nil {
			return err
		}
		defer reprojector.Close()
	}
	return reprojector.Reproject(points, sourceCRS, c.targetCRS)
}
