package dsm2las

import (
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestGeo_Parse(t *testing.T) {
	directory := []uint16{
		1, 1, 0, 7,
		1024, 0, 1, 1,
		1025, 0, 1, 1,
		1026, 34737, 22, 0,
		2048, 0, 1, 4258,
		2050, 0, 1, 6258,
		3072, 0, 1, 3035,
		4096, 34736, 1, 0,
	}
	doubleParams := []float64{
		5773,
	}
	asciiParams := []byte("ETRS89-extended / LAEA|")

	actual, err := ParseGeoKeys(directory, doubleParams, asciiParams)
	assert.NoError(t, err)

	assert.Equal(t, &ParsedGeoKeys{
		Params: map[GeoKey]int{
			GeoKeyGTModelType:   1,
			GeoKeyGTRasterType:  1,
			GeoKeyGeodeticCRS:   4258,
			GeoKeyGeodeticDatum: 6258,
			GeoKeyProjectedCRS:  3035,
		},
		DoubleParams: map[GeoKey]float64{
			GeoKeyVertical: 5773,
		},
		ASCIIParams: map[GeoKey]string{
			GeoKeyGTCitation: "ETRS89-extended / LAEA",
		},
	}, actual)

	epsg, ok := actual.EPSG()
	assert.True(t, ok)
	assert.Equal(t, 3035, epsg)
}

func TestParseGeoKeys_Errors(t *testing.T) {
	for _, tc := range []struct {
		name      string
		directory []uint16
	}{
		{
			name:      "short",
			directory: []uint16{1, 1, 0},
		},
		{
			name:      "bad_version",
			directory: []uint16{2, 1, 0, 0},
		},
		{
			name:      "bad_count",
			directory: []uint16{1, 1, 0, 2, 1024, 0, 1, 1},
		},
		{
			name:      "ascii_out_of_range",
			directory: []uint16{1, 1, 0, 1, 1026, 34737, 10, 0},
		},
		{
			name:      "double_out_of_range",
			directory: []uint16{1, 1, 0, 1, 4096, 34736, 1, 3},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseGeoKeys(tc.directory, nil, nil)
			assert.IsError(t, err, errParse)
		})
	}
}

func TestGeoKeyDirectory_EPSG(t *testing.T) {
	for _, tc := range []struct {
		name         string
		directory    *GeoKeyDirectory
		expectedEPSG int
		expectedOK   bool
	}{
		{
			name: "nil",
		},
		{
			name: "geographic",
			directory: &GeoKeyDirectory{
				Directory: []uint16{1, 1, 0, 2, 1024, 0, 1, 2, 2048, 0, 1, 4326},
			},
			expectedEPSG: 4326,
			expectedOK:   true,
		},
		{
			name: "user_defined",
			directory: &GeoKeyDirectory{
				Directory: []uint16{1, 1, 0, 2, 1024, 0, 1, 1, 3072, 0, 1, 32767},
			},
		},
		{
			name: "geocentric",
			directory: &GeoKeyDirectory{
				Directory: []uint16{1, 1, 0, 1, 1024, 0, 1, 3},
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			epsg, ok := tc.directory.EPSG()
			assert.Equal(t, tc.expectedOK, ok)
			assert.Equal(t, tc.expectedEPSG, epsg)
		})
	}
}

func TestNewEPSGGeoKeyDirectory(t *testing.T) {
	directory, err := NewEPSGGeoKeyDirectory(ModelTypeProjected, 32631)
	assert.NoError(t, err)
	epsg, ok := directory.EPSG()
	assert.True(t, ok)
	assert.Equal(t, 32631, epsg)

	_, err = NewEPSGGeoKeyDirectory(ModelTypeGeocentric, 4978)
	assert.Error(t, err)
}
