package filetype

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	MIMEType    string
	Extension   string
	IsImage     bool
	Decodable   bool
	Description string
}

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// DetectBytes sniffs the leading bytes of a fetched body.
func (d *Detector) DetectBytes(head []byte) *FileTypeInfo {
	mtype := mimetype.Detect(head)
	info := &FileTypeInfo{MIMEType: mtype.String(), Extension: mtype.Extension()}
	d.classify(info)
	return info
}

// Detect detects the actual file type using magic bytes, not filename
func (d *Detector) Detect(filePath string) (*FileTypeInfo, error) {
	mtype, err := mimetype.DetectFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}

	log.Debug().Str("mime", mtype.String()).Str("ext", mtype.Extension()).Str("file", filePath).Msg("detected file type")

	info := &FileTypeInfo{MIMEType: mtype.String(), Extension: mtype.Extension()}
	d.classify(info)
	return info, nil
}

// classify marks the formats the assembler can decode.
func (d *Detector) classify(info *FileTypeInfo) {
	mimeType := info.MIMEType
	info.IsImage = strings.HasPrefix(mimeType, "image/")

	switch mimeType {
	case "image/png":
		info.Decodable = true
		info.Description = "PNG image"
	case "image/jpeg":
		info.Decodable = true
		info.Description = "JPEG image"
	case "image/gif":
		info.Decodable = true
		info.Description = "GIF image"
	case "image/webp":
		info.Decodable = true
		info.Description = "WebP image"
	case "image/bmp", "image/x-ms-bmp":
		info.Decodable = true
		info.Description = "BMP image"
	case "image/tiff":
		info.Decodable = true
		info.Description = "TIFF image"
	default:
		if info.IsImage {
			info.Description = fmt.Sprintf("Unsupported image type: %s", mimeType)
		} else {
			info.Description = fmt.Sprintf("Not an image: %s", mimeType)
		}
	}
}
