//go:build gdal

// Package gdalraster loads rasters in any format that GDAL reads.
package gdalraster

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/lukeroth/gdal"

	"github.com/twpayne/go-dsm2las"
)

// A Raster is a raster read with GDAL.
type Raster struct {
	dataset         gdal.Dataset
	image           *dsm2las.Image
	referencePoint  dsm2las.Coord
	pixelSizes      dsm2las.Coord
	crs             string
	geoKeyDirectory *dsm2las.GeoKeyDirectory
}

var (
	_ dsm2las.CRSRaster    = &Raster{}
	_ dsm2las.GeoKeyRaster = &Raster{}
)

// Open opens name. All bands are read, so a multi-band raster produces an
// image with a third dimension.
func Open(name string) (*Raster, error) {
	dataset, err := gdal.Open(name, gdal.ReadOnly)
	if err != nil {
		return nil, err
	}
	ok := false
	defer func() {
		if !ok {
			dataset.Close()
		}
	}()

	r := &Raster{
		dataset: dataset,
	}
	if err := r.setGeoreference(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := r.readImage(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	r.setCRS()

	ok = true
	return r, nil
}

// Load opens name. It is a dsm2las.Loader.
func Load(name string) (dsm2las.GeoRaster, error) {
	r, err := Open(name)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Raster) Close() error {
	r.dataset.Close()
	return nil
}

// CRS returns r's CRS as WKT.
func (r *Raster) CRS() string {
	return r.crs
}

// GeoKeyDirectory returns a key directory naming r's CRS, or nil if GDAL
// cannot identify its EPSG code.
func (r *Raster) GeoKeyDirectory() *dsm2las.GeoKeyDirectory {
	return r.geoKeyDirectory
}

func (r *Raster) Image() (*dsm2las.Image, error) {
	return r.image, nil
}

func (r *Raster) ReferencePoint() dsm2las.Coord {
	return r.referencePoint
}

func (r *Raster) PixelSizes() dsm2las.Coord {
	return r.pixelSizes
}

func (r *Raster) setGeoreference() error {
	geoTransform := r.dataset.GeoTransform()
	if geoTransform[2] != 0 || geoTransform[4] != 0 {
		return errors.ErrUnsupported
	}
	if geoTransform[1] == 0 || geoTransform[5] == 0 {
		return dsm2las.ErrNoGeoreference
	}
	r.referencePoint = dsm2las.Coord{X: geoTransform[0], Y: geoTransform[3]}
	r.pixelSizes = dsm2las.Coord{X: geoTransform[1], Y: geoTransform[5]}
	return nil
}

func (r *Raster) readImage() error {
	cols := r.dataset.RasterXSize()
	rows := r.dataset.RasterYSize()
	bands := r.dataset.RasterCount()
	if bands == 0 {
		return errors.New("no bands")
	}

	firstBand := r.dataset.RasterBand(1)
	dataType := firstBand.RasterDataType()
	sampleFormat, err := sampleFormat(dataType)
	if err != nil {
		return err
	}

	shape := []int{rows, cols}
	if bands != 1 {
		shape = append(shape, bands)
	}
	image := &dsm2las.Image{
		Shape:         shape,
		SampleFormat:  sampleFormat,
		BitsPerSample: dataType.Size(),
		Samples:       make([]float64, rows*cols*bands),
	}
	if noData, ok := firstBand.NoDataValue(); ok {
		image.NoData = &noData
	}

	bandSamples := make([]float64, rows*cols)
	for b := range bands {
		band := r.dataset.RasterBand(b + 1)
		if err := band.IO(gdal.Read, 0, 0, cols, rows, bandSamples, cols, rows, 0, 0); err != nil {
			return err
		}
		if bands == 1 {
			copy(image.Samples, bandSamples)
			break
		}
		for i, sample := range bandSamples {
			image.Samples[i*bands+b] = sample
		}
	}

	r.image = image
	return nil
}

// setCRS sets r's CRS from its dataset's projection. When GDAL can identify
// an EPSG code it is also recorded as a GeoKey directory.
func (r *Raster) setCRS() {
	r.crs = r.dataset.Projection()
	if r.crs == "" {
		return
	}

	spatialReference := gdal.CreateSpatialReference(r.crs)
	defer spatialReference.Destroy()
	code, ok := spatialReference.AttrValue("AUTHORITY", 1)
	if !ok {
		return
	}
	epsg, err := strconv.Atoi(code)
	if err != nil {
		return
	}
	modelType := dsm2las.ModelTypeGeographic
	if spatialReference.IsProjected() {
		modelType = dsm2las.ModelTypeProjected
	}
	if geoKeyDirectory, err := dsm2las.NewEPSGGeoKeyDirectory(modelType, epsg); err == nil {
		r.geoKeyDirectory = geoKeyDirectory
	}
}

func sampleFormat(dataType gdal.DataType) (dsm2las.SampleFormat, error) {
	switch dataType {
	case gdal.Byte, gdal.UInt16, gdal.UInt32:
		return dsm2las.SampleFormatUint, nil
	case gdal.Int16, gdal.Int32:
		return dsm2las.SampleFormatInt, nil
	case gdal.Float32, gdal.Float64:
		return dsm2las.SampleFormatFloat, nil
	default:
		return 0, fmt.Errorf("%s: %w", dataType.Name(), errors.ErrUnsupported)
	}
}
