package tiff

import "io"

// ExifIFDPointerTag and GPSIFDPointerTag locate the EXIF and GPS sub-IFDs
// from a pointer tag in the main IFD.
const (
	ExifIFDPointerTag uint16 = 34665
	GPSIFDPointerTag  uint16 = 34853
)

// ExifSubIFDPHITags are the EXIF sub-IFD tags treated as PHI-bearing.
var ExifSubIFDPHITags = map[uint16]string{
	36867: "DateTimeOriginal",
	36868: "DateTimeDigitized",
	37510: "UserComment",
	37520: "SubSecTime",
	37521: "SubSecTimeOriginal",
	37522: "SubSecTimeDigitized",
	42016: "ImageUniqueID",
}

// GPSTagNames names every GPS sub-IFD tag. Unlike ExifSubIFDPHITags, every
// GPS tag is treated as PHI unconditionally: location
// data, not just a denylisted subset.
var GPSTagNames = map[uint16]string{
	0: "GPSVersionID", 1: "GPSLatitudeRef", 2: "GPSLatitude",
	3: "GPSLongitudeRef", 4: "GPSLongitude", 5: "GPSAltitudeRef",
	6: "GPSAltitude", 7: "GPSTimeStamp", 8: "GPSSatellites",
	9: "GPSStatus", 10: "GPSMeasureMode", 11: "GPSDOP",
	12: "GPSSpeedRef", 13: "GPSSpeed", 14: "GPSTrackRef",
	15: "GPSTrack", 16: "GPSImgDirectionRef", 17: "GPSImgDirection",
	18: "GPSMapDatum", 19: "GPSDestLatitudeRef", 20: "GPSDestLatitude",
	21: "GPSDestLongitudeRef", 22: "GPSDestLongitude", 23: "GPSDestBearingRef",
	24: "GPSDestBearing", 25: "GPSDestDistanceRef", 26: "GPSDestDistance",
	27: "GPSProcessingMethod", 28: "GPSAreaInformation", 29: "GPSDateStamp",
	30: "GPSDifferential", 31: "GPSHPositioningError",
}

// readSubIFD locates pointerTag in entries, reads its numeric value as an
// IFD offset, and parses the IFD there. Returns false if the pointer tag is
// absent or unreadable.
func readSubIFD(r io.ReadSeeker, h *Header, entries []IFDEntry, pointerTag uint16) ([]IFDEntry, bool) {
	ptrEntry, ok := FindTag(entries, pointerTag)
	if !ok {
		return nil, false
	}
	val, err := ReadTagNumeric(r, h, ptrEntry)
	if err != nil || val == nil {
		return nil, false
	}
	var offset uint64
	switch v := val.(type) {
	case int64:
		offset = uint64(v)
	default:
		return nil, false
	}

	subEntries, _, err := ReadIFD(r, h, offset)
	if err != nil {
		return nil, false
	}
	return subEntries, true
}

// ReadExifSubIFD reads the EXIF sub-IFD referenced from entries, if any.
func ReadExifSubIFD(r io.ReadSeeker, h *Header, entries []IFDEntry) ([]IFDEntry, bool) {
	return readSubIFD(r, h, entries, ExifIFDPointerTag)
}

// ReadGPSSubIFD reads the GPS sub-IFD referenced from entries, if any.
func ReadGPSSubIFD(r io.ReadSeeker, h *Header, entries []IFDEntry) ([]IFDEntry, bool) {
	return readSubIFD(r, h, entries, GPSIFDPointerTag)
}
