package attachments

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
)

const (
	ThumbnailHeight = 200
	PreviewHeight   = 1000

	jpegQuality = 85
)

// Derivatives records which extra blobs were produced for one attachment.
type Derivatives struct {
	Preview   bool
	Thumbnail bool
}

// Increment is the number of blobs the attachment contributes to the flat
// upload list: 1 plain, 2 with thumbnail, 3 with thumbnail and preview.
func (d Derivatives) Increment() int {
	n := 1
	if d.Thumbnail {
		n++
	}
	if d.Preview {
		n++
	}
	return n
}

// AddPreviewsToAttachments validates every attachment's Data and returns the
// flat blob list (full, preview, thumbnail per attachment) with the
// derivatives produced for each.
func AddPreviewsToAttachments(atts []*models.Attachment) ([][]byte, []Derivatives, error) {
	blobs := make([][]byte, 0, len(atts))
	derivs := make([]Derivatives, len(atts))

	for i, a := range atts {
		ft, err := CheckFile(a.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("attachment %q: %w", a.Title, err)
		}
		if a.ContentType == "" {
			a.ContentType = ft.MIME
		}
		blobs = append(blobs, a.Data)
		if !ft.Resizable {
			continue
		}

		img, err := decode(a.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("attachment %q: decode image: %w", a.Title, err)
		}
		thumb, ok, err := resize(img, ft, ThumbnailHeight)
		if err != nil || !ok {
			if err != nil {
				return nil, nil, err
			}
			continue
		}
		preview, ok, err := resize(img, ft, PreviewHeight)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			blobs = append(blobs, preview)
			derivs[i].Preview = true
		}
		blobs = append(blobs, thumb)
		derivs[i].Thumbnail = true
	}
	return blobs, derivs, nil
}

// FilesForAttachment returns the 1 to 3 entries of files that belong to
// attachment index.
func FilesForAttachment[T any](files []T, derivs []Derivatives, index int) []T {
	start := 0
	for i := 0; i < index; i++ {
		start += derivs[i].Increment()
	}
	end := start + derivs[index].Increment()
	if end > len(files) {
		end = len(files)
	}
	if start >= end {
		return nil
	}
	return files[start:end]
}

func decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// resize scales img to height keeping the aspect ratio. It reports false
// when the image is not taller than height.
func resize(img image.Image, ft FileType, height int) ([]byte, bool, error) {
	b := img.Bounds()
	if b.Dy() <= height {
		return nil, false, nil
	}
	width := b.Dx() * height / b.Dy()
	if width < 1 {
		width = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)

	var buf bytes.Buffer
	var err error
	switch ft.Name {
	case "png":
		err = png.Encode(&buf, dst)
	case "tiff":
		err = tiff.Encode(&buf, dst, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return nil, false, fmt.Errorf("encode %dpx derivative: %w", height, err)
	}
	return buf.Bytes(), true, nil
}
