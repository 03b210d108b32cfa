package ingest

import "io"

// Canonical column names. Header matching is case-insensitive and accepts
// the documented aliases below; anything else in the header is ignored.
const (
	colUNNumber           = "unnumber"
	colProperShippingName = "propershippingname"
	colTechnicalName      = "technicalname"
	colClass              = "class"
	colPackingGroup       = "packinggroup"
	colLabels             = "labels"
	colSpecialProvisions  = "specialprovisions"
	colLimitedQuantity    = "limitedquantity"
	colExceptedQuantity   = "exceptedquantity"
	colNotes              = "notes"
	colCode               = "code"
	colAdditionalInfo     = "additionalinfo"
	colRegulationSpecific = "regulationspecific"

	colCountry          = "country"
	colLocation         = "location"
	colName             = "name"
	colNameWoDiacritics = "namewodiacritics"
	colSubDiv           = "subdiv"
	colFunction         = "function"
	colStatus           = "status"
	colDate             = "date"
	colIATA             = "iata"
	colCoordinates      = "coordinates"
)

// dangerousGoodsAliases maps alternate header spellings seen in published
// code lists to their canonical column.
var dangerousGoodsAliases = map[string]string{
	"un number":            colUNNumber,
	"un no":                colUNNumber,
	"un":                   colUNNumber,
	"un-number":            colUNNumber,
	"proper shipping name": colProperShippingName,
	"technical name":       colTechnicalName,
	"packing group":        colPackingGroup,
	"pg":                   colPackingGroup,
	"special provisions":   colSpecialProvisions,
	"limited quantity":     colLimitedQuantity,
	"lq":                   colLimitedQuantity,
	"excepted quantity":    colExceptedQuantity,
	"eq":                   colExceptedQuantity,
	"additional info":      colAdditionalInfo,
	"regulation specific":  colRegulationSpecific,
}

// locationAliases covers the header variants of UN/LOCODE distributions.
var locationAliases = map[string]string{
	"iso":              colCountry,
	"iso 2":            colCountry,
	"iso2":             colCountry,
	"country code":     colCountry,
	"locode":           colLocation,
	"location code":    colLocation,
	"name wo diacritics": colNameWoDiacritics,
	"namewodiacritic":  colNameWoDiacritics,
	"subdivision":      colSubDiv,
	"sub div":          colSubDiv,
	"iata code":        colIATA,
	"coords":           colCoordinates,
}

// DangerousGoodsRow is one loosely-parsed dangerous-goods row. All fields are
// raw strings; enum parsing and normalization happen in the importer.
type DangerousGoodsRow struct {
	UNNumber           string
	ProperShippingName string
	TechnicalName      string
	Class              string
	PackingGroup       string
	Labels             string
	SpecialProvisions  string
	LimitedQuantity    string
	ExceptedQuantity   string
	Notes              string

	// Extra columns carried only by scheme-specific code lists.
	Code               string
	AdditionalInfo     string
	RegulationSpecific string

	Line int
}

// DangerousGoodsReader yields DangerousGoodsRow records from a CSV stream.
type DangerousGoodsReader struct {
	rr *RowReader
}

// NewDangerousGoodsReader wraps the stream (BOM/UTF-8 handling included) and
// resolves the header. Fails only when no header can be read.
func NewDangerousGoodsReader(r io.Reader) (*DangerousGoodsReader, error) {
	rr, err := NewRowReader(WrapReader(r), dangerousGoodsAliases)
	if err != nil {
		return nil, err
	}
	return &DangerousGoodsReader{rr: rr}, nil
}

// Next returns the next row. ErrBadRow rows keep the stream usable;
// io.EOF ends it.
func (dr *DangerousGoodsReader) Next() (DangerousGoodsRow, error) {
	row, line, err := dr.rr.Next()
	if err != nil {
		return DangerousGoodsRow{Line: line}, err
	}
	return DangerousGoodsRow{
		UNNumber:           dr.rr.Get(row, colUNNumber),
		ProperShippingName: dr.rr.Get(row, colProperShippingName),
		TechnicalName:      dr.rr.Get(row, colTechnicalName),
		Class:              dr.rr.Get(row, colClass),
		PackingGroup:       dr.rr.Get(row, colPackingGroup),
		Labels:             dr.rr.Get(row, colLabels),
		SpecialProvisions:  dr.rr.Get(row, colSpecialProvisions),
		LimitedQuantity:    dr.rr.Get(row, colLimitedQuantity),
		ExceptedQuantity:   dr.rr.Get(row, colExceptedQuantity),
		Notes:              dr.rr.Get(row, colNotes),
		Code:               dr.rr.Get(row, colCode),
		AdditionalInfo:     dr.rr.Get(row, colAdditionalInfo),
		RegulationSpecific: dr.rr.Get(row, colRegulationSpecific),
		Line:               line,
	}, nil
}

// LocationRow is one loosely-parsed UN/LOCODE row.
type LocationRow struct {
	Country          string
	Location         string
	Name             string
	NameWoDiacritics string
	SubDiv           string
	Function         string
	Status           string
	Date             string
	IATA             string
	Coordinates      string

	Line int
}

// LocationReader yields LocationRow records from a CSV stream.
type LocationReader struct {
	rr *RowReader
}

// NewLocationReader wraps the stream and resolves the header.
func NewLocationReader(r io.Reader) (*LocationReader, error) {
	rr, err := NewRowReader(WrapReader(r), locationAliases)
	if err != nil {
		return nil, err
	}
	return &LocationReader{rr: rr}, nil
}

// Next returns the next row. ErrBadRow rows keep the stream usable;
// io.EOF ends it.
func (lr *LocationReader) Next() (LocationRow, error) {
	row, line, err := lr.rr.Next()
	if err != nil {
		return LocationRow{Line: line}, err
	}
	return LocationRow{
		Country:          lr.rr.Get(row, colCountry),
		Location:         lr.rr.Get(row, colLocation),
		Name:             lr.rr.Get(row, colName),
		NameWoDiacritics: lr.rr.Get(row, colNameWoDiacritics),
		SubDiv:           lr.rr.Get(row, colSubDiv),
		Function:         lr.rr.Get(row, colFunction),
		Status:           lr.rr.Get(row, colStatus),
		Date:             lr.rr.Get(row, colDate),
		IATA:             lr.rr.Get(row, colIATA),
		Coordinates:      lr.rr.Get(row, colCoordinates),
		Line:             line,
	}, nil
}
