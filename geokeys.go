package dsm2las

import (
	"errors"
	"fmt"
)

var errParse = errors.New("parse error")

const (
	geoKeyDirectoryTag = 34735
	geoDoubleParamsTag = 34736
	geoASCIIParamsTag  = 34737
)

type GeoKey uint16

const (
	GeoKeyGTModelType  GeoKey = 1024
	GeoKeyGTRasterType GeoKey = 1025
	GeoKeyGTCitation   GeoKey = 1026

	GeoKeyGeodeticCRS   GeoKey = 2048
	GeoKeyGeogCitation  GeoKey = 2049
	GeoKeyGeodeticDatum GeoKey = 2050

	GeoKeyProjectedCRS GeoKey = 3072
	GeoKeyPCSCitation  GeoKey = 3073

	GeoKeyVertical GeoKey = 4096
)

// Model types, the values of GeoKeyGTModelType.
const (
	ModelTypeProjected  = 1
	ModelTypeGeographic = 2
	ModelTypeGeocentric = 3
)

// userDefined is the GeoKey value for a user defined CRS.
const userDefined = 32767

// A GeoKeyDirectory is the raw CRS metadata of a GeoTIFF.
type GeoKeyDirectory struct {
	Directory    []uint16
	DoubleParams []float64
	ASCIIParams  string
}

type ParsedGeoKeys struct {
	Params       map[GeoKey]int
	DoubleParams map[GeoKey]float64
	ASCIIParams  map[GeoKey]string
}

// Parse parses d.
func (d *GeoKeyDirectory) Parse() (*ParsedGeoKeys, error) {
	return ParseGeoKeys(d.Directory, d.DoubleParams, []byte(d.ASCIIParams))
}

// EPSG returns the EPSG code of the CRS described by d, or false if d does not
// name one.
func (d *GeoKeyDirectory) EPSG() (int, bool) {
	if d == nil {
		return 0, false
	}
	parsedGeoKeys, err := d.Parse()
	if err != nil {
		return 0, false
	}
	return parsedGeoKeys.EPSG()
}

// EPSG returns the EPSG code of the CRS described by p, or false if p does not
// name one.
func (p *ParsedGeoKeys) EPSG() (int, bool) {
	var key GeoKey
	switch p.Params[GeoKeyGTModelType] {
	case ModelTypeProjected:
		key = GeoKeyProjectedCRS
	case ModelTypeGeographic:
		key = GeoKeyGeodeticCRS
	default:
		return 0, false
	}
	switch code, ok := p.Params[key]; {
	case !ok, code == 0, code == userDefined:
		return 0, false
	default:
		return code, true
	}
}

// NewEPSGGeoKeyDirectory returns a key directory naming the projected or
// geographic CRS with the given EPSG code.
func NewEPSGGeoKeyDirectory(modelType, epsg int) (*GeoKeyDirectory, error) {
	var crsKey GeoKey
	switch modelType {
	case ModelTypeProjected:
		crsKey = GeoKeyProjectedCRS
	case ModelTypeGeographic:
		crsKey = GeoKeyGeodeticCRS
	default:
		return nil, fmt.Errorf("%d: unsupported model type", modelType)
	}
	return &GeoKeyDirectory{
		Directory: []uint16{
			1, 1, 0, 2,
			uint16(GeoKeyGTModelType), 0, 1, uint16(modelType),
			uint16(crsKey), 0, 1, uint16(epsg),
		},
	}, nil
}

func ParseGeoKeys(directory []uint16, doubleParams []float64, asciiParams []byte) (*ParsedGeoKeys, error) {
	if len(directory) < 4 {
		return nil, errParse
	}

	if keyDirectoryVersion := int(directory[0]); keyDirectoryVersion != 1 {
		return nil, errParse
	}
	if keyRevision := int(directory[1]); keyRevision != 1 {
		return nil, errParse
	}
	if minorRevision := int(directory[2]); minorRevision != 0 && minorRevision != 1 {
		return nil, errParse
	}
	numberOfKeys := int(directory[3])
	if len(directory) != 4+4*numberOfKeys {
		return nil, errParse
	}

	parsedGeoKeys := &ParsedGeoKeys{
		Params:       make(map[GeoKey]int),
		DoubleParams: make(map[GeoKey]float64),
		ASCIIParams:  make(map[GeoKey]string),
	}
	for i := range numberOfKeys {
		keyValues := directory[4+4*i : 4+4*(i+1)]
		key := GeoKey(keyValues[0])
		tiffTagLocation := int(keyValues[1])
		count := int(keyValues[2])
		index := int(keyValues[3])
		switch tiffTagLocation {
		case 0:
			if count != 1 {
				return nil, errParse
			}
			parsedGeoKeys.Params[key] = index
		case geoDoubleParamsTag:
			if count != 1 {
				return nil, errors.ErrUnsupported
			}
			if index >= len(doubleParams) {
				return nil, errParse
			}
			parsedGeoKeys.DoubleParams[key] = doubleParams[index]
		case geoASCIIParamsTag:
			if index+count > len(asciiParams) {
				return nil, errParse
			}
			parsedGeoKeys.ASCIIParams[key] = string(asciiParams[index : index+count])
		default:
			return nil, errors.ErrUnsupported
		}
	}
	return parsedGeoKeys, nil
}
