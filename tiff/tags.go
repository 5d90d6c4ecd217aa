// Package tiff implements a read/write-capable parser and structural editor
// for classic TIFF and BigTIFF files, the shared substrate under every
// vendor whole-slide-image container this module handles.
package tiff

import "fmt"

// TagNames maps well-known TIFF and vendor-private tag IDs to their
// human-readable names, used for PHIFinding labels and logging.
var TagNames = map[uint16]string{
	254: "NewSubfileType", 256: "ImageWidth", 257: "ImageLength",
	258: "BitsPerSample", 259: "Compression", 262: "PhotometricInterpretation",
	270: "ImageDescription", 271: "Make", 272: "Model",
	273: "StripOffsets", 277: "SamplesPerPixel", 278: "RowsPerStrip", 279: "StripByteCounts",
	282: "XResolution", 283: "YResolution", 296: "ResolutionUnit",
	305: "Software", 306: "DateTime", 315: "Artist", 316: "HostComputer",
	324: "TileOffsets", 325: "TileByteCounts",
	330: "SubIFDs",
	700: "XMP", 33432: "Copyright", 33723: "IPTC", 34675: "ICCProfile",
	34665: "ExifIFDPointer", 34853: "GPSInfoIFDPointer",
	36867: "DateTimeOriginal", 36868: "DateTimeDigitized",
	37510: "UserComment", 37520: "SubSecTime", 37521: "SubSecTimeOriginal",
	37522: "SubSecTimeDigitized", 42016: "ImageUniqueID",
	// Hamamatsu NDPI-specific private tags.
	65420: "NDPI_FORMAT_FLAG", 65421: "NDPI_SOURCELENS",
	65422: "NDPI_XOFFSET", 65423: "NDPI_YOFFSET",
	65424: "NDPI_ZOFFSET", 65425: "NDPI_UNKNOWN_65425",
	65426: "NDPI_JPEGQUALITY", 65427: "NDPI_REFERENCE",
	65428: "NDPI_IMGSIZE", 65429: "NDPI_UNKNOWN_65429",
	65432: "NDPI_UNKNOWN_65432", 65433: "NDPI_UNKNOWN_65433",
	65439: "NDPI_FOCUSPOINTS", 65440: "NDPI_UNKNOWN_65440",
	65441: "NDPI_UNKNOWN_65441", 65442: "NDPI_SERIAL_NUMBER",
	65449: "NDPI_SCANNER_PROPS", 65457: "NDPI_UNKNOWN_65457",
	65458: "NDPI_UNKNOWN_65458", 65459: "NDPI_UNKNOWN_65459",
	65468: "NDPI_BARCODE", 65469: "NDPI_UNKNOWN_65469",
	65476: "NDPI_UNKNOWN_65476", 65477: "NDPI_SCANPROFILE",
	65478: "NDPI_UNKNOWN_65478", 65480: "NDPI_BARCODE_TYPE",
}

// TagName returns the human-readable name of a tag, or a placeholder of
// the form "Tag_<id>" for tags this module does not name explicitly.
func TagName(id uint16) string {
	if name, ok := TagNames[id]; ok {
		return name
	}
	return fmt.Sprintf("Tag_%d", id)
}
