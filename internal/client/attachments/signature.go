package attachments

import (
	"bytes"
	"errors"
	"fmt"
)

// MaxFileSize is the largest accepted attachment.
const MaxFileSize = 20 << 20

var (
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrFileTooLarge        = errors.New("file too large")
	ErrEmptyFile           = errors.New("file is empty")
)

// FileType is one entry of the signature table.
type FileType struct {
	Name       string
	MIME       string
	Extensions []string
	Magic      []byte
	Offset     int
	// Resizable types get thumbnail and preview derivatives.
	Resizable bool
}

var signatures = []FileType{
	{Name: "jpg", MIME: "image/jpeg", Extensions: []string{"jpg", "jpeg"}, Magic: []byte{0xFF, 0xD8, 0xFF, 0xDB}, Resizable: true},
	{Name: "jpg", MIME: "image/jpeg", Extensions: []string{"jpg", "jpeg"}, Magic: []byte{0xFF, 0xD8, 0xFF, 0xE0}, Resizable: true},
	{Name: "jpg", MIME: "image/jpeg", Extensions: []string{"jpg", "jpeg"}, Magic: []byte{0xFF, 0xD8, 0xFF, 0xE1}, Resizable: true},
	{Name: "jpg", MIME: "image/jpeg", Extensions: []string{"jpg", "jpeg"}, Magic: []byte{0xFF, 0xD8, 0xFF, 0xE2}, Resizable: true},
	{Name: "jpg", MIME: "image/jpeg", Extensions: []string{"jpg", "jpeg"}, Magic: []byte{0xFF, 0xD8, 0xFF, 0xE3}, Resizable: true},
	{Name: "jpg", MIME: "image/jpeg", Extensions: []string{"jpg", "jpeg"}, Magic: []byte{0xFF, 0xD8, 0xFF, 0xE8}, Resizable: true},
	{Name: "png", MIME: "image/png", Extensions: []string{"png"}, Magic: []byte{0x89, 0x50, 0x4E, 0x47}, Resizable: true},
	{Name: "tiff", MIME: "image/tiff", Extensions: []string{"tif", "tiff"}, Magic: []byte{0x4D, 0x4D, 0x00, 0x2A}, Resizable: true},
	{Name: "tiff", MIME: "image/tiff", Extensions: []string{"tif", "tiff"}, Magic: []byte{0x49, 0x49, 0x2A, 0x00}, Resizable: true},
	{Name: "dcm", MIME: "application/dicom", Extensions: []string{"dcm"}, Magic: []byte{0x44, 0x49, 0x43, 0x4D}, Offset: 128},
	{Name: "pdf", MIME: "application/pdf", Extensions: []string{"pdf"}, Magic: []byte{0x25, 0x50, 0x44, 0x46, 0x2D}},
}

// DetectFileType sniffs data against the signature table.
func DetectFileType(data []byte) (FileType, error) {
	for _, s := range signatures {
		end := s.Offset + len(s.Magic)
		if len(data) >= end && bytes.Equal(data[s.Offset:end], s.Magic) {
			return s, nil
		}
	}
	return FileType{}, ErrUnsupportedFileType
}

// CheckFile enforces the size limit and the signature table.
func CheckFile(data []byte) (FileType, error) {
	if len(data) == 0 {
		return FileType{}, ErrEmptyFile
	}
	if len(data) > MaxFileSize {
		return FileType{}, fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, len(data), MaxFileSize)
	}
	return DetectFileType(data)
}
