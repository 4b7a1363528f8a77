package dsm2las

// Project returns the point cloud of heightmap image, keeping every scale-th
// row and column starting at zero. The point for the subsampled pixel at row i
// and column j is
//
//	x = origin.X + pixelSize.X*scale*j
//	y = origin.Y + pixelSize.Y*scale*i
//	z = image[i*scale, j*scale]
//
// Points are returned in row-major order.
func Project(image *Image, origin, pixelSize Coord, scale int) ([]Point, error) {
	if err := checkProjection(image, scale); err != nil {
		return nil, err
	}
	rows, cols := subsampledDims(image, scale)
	points := make([]Point, 0, rows*cols)
	_ = projectFunc(image, origin, pixelSize, scale, func(point Point) error {
		points = append(points, point)
		return nil
	})
	return points, nil
}

// ProjectFunc calls f with each point that Project would return, in the same
// order. It stops at, and returns, the first error returned by f.
func ProjectFunc(image *Image, origin, pixelSize Coord, scale int, f func(Point) error) error {
	if err := checkProjection(image, scale); err != nil {
		return err
	}
	return projectFunc(image, origin, pixelSize, scale, f)
}

func projectFunc(image *Image, origin, pixelSize Coord, scale int, f func(Point) error) error {
	stepX := pixelSize.X * float64(scale)
	stepY := pixelSize.Y * float64(scale)
	rows, cols := subsampledDims(image, scale)
	for i := range rows {
		y := origin.Y + stepY*float64(i)
		for j := range cols {
			point := Point{
				X: origin.X + stepX*float64(j),
				Y: y,
				Z: image.at(i*scale, j*scale),
			}
			if err := f(point); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkProjection(image *Image, scale int) error {
	if !IsHeightmap(image) {
		return ErrNotHeightmap
	}
	if scale < 1 {
		return ErrInvalidScale
	}
	return nil
}

// subsampledDims returns the dimensions of image after keeping every scale-th
// row and column.
func subsampledDims(image *Image, scale int) (int, int) {
	return (image.Rows() + scale - 1) / scale, (image.Cols() + scale - 1) / scale
}
