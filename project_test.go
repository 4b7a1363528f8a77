package dsm2las_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/alecthomas/assert/v2"

	"github.com/twpayne/go-dsm2las"
)

func newHeightmap(rows, cols int, samples ...float64) *dsm2las.Image {
	if samples == nil {
		samples = make([]float64, rows*cols)
		for i := range samples {
			samples[i] = float64(i)
		}
	}
	return &dsm2las.Image{
		Shape:         []int{rows, cols},
		SampleFormat:  dsm2las.SampleFormatFloat,
		BitsPerSample: 64,
		Samples:       samples,
	}
}

func TestProject(t *testing.T) {
	for _, tc := range []struct {
		name      string
		image     *dsm2las.Image
		origin    dsm2las.Coord
		pixelSize dsm2las.Coord
		scale     int
		expected  []dsm2las.Point
	}{
		{
			name:      "2x2",
			image:     newHeightmap(2, 2, 1, 2, 3, 4),
			origin:    dsm2las.Coord{X: 0, Y: 10},
			pixelSize: dsm2las.Coord{X: 0.1, Y: -0.1},
			scale:     1,
			expected: []dsm2las.Point{
				{X: 0, Y: 10, Z: 1},
				{X: 0.1, Y: 10, Z: 2},
				{X: 0, Y: 9.9, Z: 3},
				{X: 0.1, Y: 9.9, Z: 4},
			},
		},
		{
			name:      "single_pixel",
			image:     newHeightmap(1, 1, 42.5),
			origin:    dsm2las.Coord{X: 100, Y: 200},
			pixelSize: dsm2las.Coord{X: 1, Y: -1},
			scale:     1,
			expected: []dsm2las.Point{
				{X: 100, Y: 200, Z: 42.5},
			},
		},
		{
			name:      "scale_larger_than_image",
			image:     newHeightmap(2, 3),
			origin:    dsm2las.Coord{X: 5, Y: 6},
			pixelSize: dsm2las.Coord{X: 1, Y: -1},
			scale:     10,
			expected: []dsm2las.Point{
				{X: 5, Y: 6, Z: 0},
			},
		},
		{
			name:      "4x4_scale_2",
			image:     newHeightmap(4, 4),
			origin:    dsm2las.Coord{X: 0, Y: 0},
			pixelSize: dsm2las.Coord{X: 1, Y: 1},
			scale:     2,
			expected: []dsm2las.Point{
				{X: 0, Y: 0, Z: 0},
				{X: 2, Y: 0, Z: 2},
				{X: 0, Y: 2, Z: 8},
				{X: 2, Y: 2, Z: 10},
			},
		},
		{
			name:      "3x5_scale_2",
			image:     newHeightmap(3, 5),
			origin:    dsm2las.Coord{X: 1000, Y: 2000},
			pixelSize: dsm2las.Coord{X: 0.5, Y: -0.5},
			scale:     2,
			expected: []dsm2las.Point{
				{X: 1000, Y: 2000, Z: 0},
				{X: 1001, Y: 2000, Z: 2},
				{X: 1002, Y: 2000, Z: 4},
				{X: 1000, Y: 1999, Z: 10},
				{X: 1001, Y: 1999, Z: 12},
				{X: 1002, Y: 1999, Z: 14},
			},
		},
		{
			name:      "empty",
			image:     newHeightmap(0, 3),
			pixelSize: dsm2las.Coord{X: 1, Y: -1},
			scale:     1,
			expected:  []dsm2las.Point{},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := dsm2las.Project(tc.image, tc.origin, tc.pixelSize, tc.scale)
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestProject_Count(t *testing.T) {
	for _, rows := range []int{1, 2, 7, 16} {
		for _, cols := range []int{1, 3, 10} {
			for _, scale := range []int{1, 2, 3, 5, 20} {
				image := newHeightmap(rows, cols)
				points, err := dsm2las.Project(image, dsm2las.Coord{}, dsm2las.Coord{X: 1, Y: -1}, scale)
				assert.NoError(t, err)
				expected := ((rows + scale - 1) / scale) * ((cols + scale - 1) / scale)
				assert.Equal(t, expected, len(points))
			}
		}
	}
}

func TestProject_Properties(t *testing.T) {
	image := newHeightmap(6, 9)
	samples := slices.Clone(image.Samples)
	origin := dsm2las.Coord{X: 300000, Y: 5000000}
	pixelSize := dsm2las.Coord{X: 0.25, Y: -0.25}

	first, err := dsm2las.Project(image, origin, pixelSize, 2)
	assert.NoError(t, err)
	second, err := dsm2las.Project(image, origin, pixelSize, 2)
	assert.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, samples, image.Samples)

	for _, point := range first {
		assert.True(t, slices.Contains(samples, point.Z))
	}

	full, err := dsm2las.Project(image, origin, pixelSize, 1)
	assert.NoError(t, err)
	assert.Equal(t, origin.X, full[0].X)
	assert.Equal(t, origin.Y, full[0].Y)
	assert.Equal(t, image.Samples, zs(full))
}

func TestProject_Errors(t *testing.T) {
	for _, tc := range []struct {
		name        string
		image       *dsm2las.Image
		scale       int
		expectedErr error
	}{
		{
			name:        "nil",
			scale:       1,
			expectedErr: dsm2las.ErrNotHeightmap,
		},
		{
			name: "integer_samples",
			image: &dsm2las.Image{
				Shape:        []int{2, 2},
				SampleFormat: dsm2las.SampleFormatInt,
				Samples:      []float64{1, 2, 3, 4},
			},
			scale:       1,
			expectedErr: dsm2las.ErrNotHeightmap,
		},
		{
			name: "three_bands",
			image: &dsm2las.Image{
				Shape:        []int{1, 2, 3},
				SampleFormat: dsm2las.SampleFormatFloat,
				Samples:      []float64{1, 2, 3, 4, 5, 6},
			},
			scale:       1,
			expectedErr: dsm2las.ErrNotHeightmap,
		},
		{
			name:        "zero_scale",
			image:       newHeightmap(2, 2),
			scale:       0,
			expectedErr: dsm2las.ErrInvalidScale,
		},
		{
			name:        "negative_scale",
			image:       newHeightmap(2, 2),
			scale:       -1,
			expectedErr: dsm2las.ErrInvalidScale,
		},
		{
			name:        "not_heightmap_before_scale",
			scale:       0,
			expectedErr: dsm2las.ErrNotHeightmap,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			points, err := dsm2las.Project(tc.image, dsm2las.Coord{}, dsm2las.Coord{X: 1, Y: -1}, tc.scale)
			assert.IsError(t, err, tc.expectedErr)
			assert.Zero(t, points)

			called := false
			err = dsm2las.ProjectFunc(tc.image, dsm2las.Coord{}, dsm2las.Coord{X: 1, Y: -1}, tc.scale, func(dsm2las.Point) error {
				called = true
				return nil
			})
			assert.IsError(t, err, tc.expectedErr)
			assert.False(t, called)
		})
	}
}

func TestProject_TrailingSingleton(t *testing.T) {
	image := &dsm2las.Image{
		Shape:        []int{2, 2, 1},
		SampleFormat: dsm2las.SampleFormatFloat,
		Samples:      []float64{1, 2, 3, 4},
	}
	points, err := dsm2las.Project(image, dsm2las.Coord{X: 0, Y: 10}, dsm2las.Coord{X: 0.1, Y: -0.1}, 1)
	assert.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, zs(points))
}

func TestProjectFunc(t *testing.T) {
	image := newHeightmap(3, 4)
	origin := dsm2las.Coord{X: 10, Y: 20}
	pixelSize := dsm2las.Coord{X: 2, Y: -2}

	expected, err := dsm2las.Project(image, origin, pixelSize, 1)
	assert.NoError(t, err)
	var actual []dsm2las.Point
	assert.NoError(t, dsm2las.ProjectFunc(image, origin, pixelSize, 1, func(point dsm2las.Point) error {
		actual = append(actual, point)
		return nil
	}))
	assert.Equal(t, expected, actual)

	errStop := errors.New("stop")
	calls := 0
	err = dsm2las.ProjectFunc(image, origin, pixelSize, 1, func(point dsm2las.Point) error {
		calls++
		if calls == 5 {
			return errStop
		}
		return nil
	})
	assert.IsError(t, err, errStop)
	assert.Equal(t, 5, calls)
}

func zs(points []dsm2las.Point) []float64 {
	result := make([]float64, len(points))
	for i, point := range points {
		result[i] = point.Z
	}
	return result
}
