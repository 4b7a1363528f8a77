package dsm2las

// A GeoRaster is a georeferenced raster.
type GeoRaster interface {
	// Image returns the raster's samples.
	Image() (*Image, error)
	// ReferencePoint returns the world coordinate of the raster's pixel (0, 0).
	ReferencePoint() Coord
	// PixelSizes returns the world distance covered by one pixel step along
	// each axis. The Y size is negative for north-up rasters.
	PixelSizes() Coord
}

// A CRSRaster is a GeoRaster that knows its coordinate reference system.
type CRSRaster interface {
	GeoRaster
	// CRS returns a definition of the raster's CRS understood by PROJ, or the
	// empty string if it is not known.
	CRS() string
}

// A GeoKeyRaster is a GeoRaster that carries a GeoTIFF key directory.
type GeoKeyRaster interface {
	GeoRaster
	GeoKeyDirectory() *GeoKeyDirectory
}

// Adapt returns the image, reference point, and pixel sizes of raster.
func Adapt(raster GeoRaster) (*Image, Coord, Coord, error) {
	image, err := raster.Image()
	if err != nil {
		return nil, Coord{}, Coord{}, err
	}
	return image, raster.ReferencePoint(), raster.PixelSizes(), nil
}

// GeoRasterToPointCloud returns the point cloud of raster.
func GeoRasterToPointCloud(raster GeoRaster, scale int) ([]Point, error) {
	image, origin, pixelSize, err := Adapt(raster)
	if err != nil {
		return nil, err
	}
	return Project(image, origin, pixelSize, scale)
}
