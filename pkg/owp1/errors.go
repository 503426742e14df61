package owp1

import "errors"

// Decode errors. Callers should use errors.Is against these sentinels;
// Decode never returns an unwrapped error of any other kind.
var (
	// ErrBadReportID is returned when the leading report_id byte does
	// not match the report type being decoded.
	ErrBadReportID = errors.New("owp1: bad report id")

	// ErrTooShort is returned when the input is shorter than the
	// report's fixed wire length.
	ErrTooShort = errors.New("owp1: report too short")

	// ErrBadCRC is returned when a CRC-protected report's trailing
	// byte does not match the computed checksum.
	ErrBadCRC = errors.New("owp1: bad crc")
)
