//go:build gdal

package gdalraster_test

import (
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
	"github.com/lukeroth/gdal"

	"github.com/twpayne/go-dsm2las"
	"github.com/twpayne/go-dsm2las/gdalraster"
)

func createTestGeoTIFF(t *testing.T, dataType gdal.DataType, bands int, samples []float64) string {
	t.Helper()
	filename := filepath.Join(t.TempDir(), "dsm.tif")
	driver, err := gdal.GetDriverByName("GTiff")
	assert.NoError(t, err)
	dataset := driver.Create(filename, 3, 2, bands, dataType, nil)
	defer dataset.Close()

	assert.NoError(t, dataset.SetGeoTransform([6]float64{500000, 2, 0, 4000000, 0, -2}))
	spatialReference := gdal.CreateSpatialReference("")
	defer spatialReference.Destroy()
	assert.NoError(t, spatialReference.FromEPSG(32631))
	wkt, err := spatialReference.ToWKT()
	assert.NoError(t, err)
	assert.NoError(t, dataset.SetProjection(wkt))

	for b := range bands {
		band := dataset.RasterBand(b + 1)
		assert.NoError(t, band.SetNoDataValue(-9999))
		bandSamples := samples[b*6 : (b+1)*6]
		assert.NoError(t, band.IO(gdal.Write, 0, 0, 3, 2, bandSamples, 3, 2, 0, 0))
	}
	return filename
}

func TestOpen(t *testing.T) {
	filename := createTestGeoTIFF(t, gdal.Float32, 1, []float64{
		1, 2, 3,
		4, 5, -9999,
	})

	raster, err := gdalraster.Open(filename)
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, raster.Close())
	}()

	image, err := raster.Image()
	assert.NoError(t, err)
	assert.Equal(t, []int{2, 3}, image.Shape)
	assert.Equal(t, dsm2las.SampleFormatFloat, image.SampleFormat)
	assert.Equal(t, 32, image.BitsPerSample)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, -9999}, image.Samples)
	assert.Equal(t, -9999.0, *image.NoData)
	assert.True(t, dsm2las.IsHeightmap(image))

	assert.Equal(t, dsm2las.Coord{X: 500000, Y: 4000000}, raster.ReferencePoint())
	assert.Equal(t, dsm2las.Coord{X: 2, Y: -2}, raster.PixelSizes())
	assert.NotEqual(t, "", raster.CRS())
	epsg, ok := raster.GeoKeyDirectory().EPSG()
	assert.True(t, ok)
	assert.Equal(t, 32631, epsg)

	points, err := dsm2las.GeoRasterToPointCloud(raster, 2)
	assert.NoError(t, err)
	assert.Equal(t, []dsm2las.Point{
		{X: 500000, Y: 4000000, Z: 1},
		{X: 500004, Y: 4000000, Z: 3},
	}, points)
}

func TestOpen_MultiBand(t *testing.T) {
	filename := createTestGeoTIFF(t, gdal.Int16, 2, []float64{
		1, 2, 3, 4, 5, 6,
		10, 20, 30, 40, 50, 60,
	})

	raster, err := gdalraster.Open(filename)
	assert.NoError(t, err)
	defer func() {
		assert.NoError(t, raster.Close())
	}()

	image, err := raster.Image()
	assert.NoError(t, err)
	assert.Equal(t, []int{2, 3, 2}, image.Shape)
	assert.Equal(t, dsm2las.SampleFormatInt, image.SampleFormat)
	assert.Equal(t, []float64{1, 10, 2, 20, 3, 30, 4, 40, 5, 50, 6, 60}, image.Samples)

	_, err = dsm2las.GeoRasterToPointCloud(raster, 1)
	assert.IsError(t, err, dsm2las.ErrNotHeightmap)
}

func TestOpen_Missing(t *testing.T) {
	_, err := gdalraster.Open(filepath.Join(t.TempDir(), "missing.tif"))
	assert.Error(t, err)
}
