package attachments

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
	"github.com/dmitrijs2005/phrkeeper/internal/cryptox"
)

func pngOfHeight(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y += 7 {
		img.Set(0, y, color.RGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func heightOf(t *testing.T, data []byte) int {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg.Height
}

func TestDetectFileType(t *testing.T) {
	dicom := make([]byte, 140)
	copy(dicom[128:], "DICM")

	tests := []struct {
		name    string
		data    []byte
		want    string
		wantErr error
	}{
		{name: "jpeg db", data: []byte{0xFF, 0xD8, 0xFF, 0xDB, 0x00}, want: "jpg"},
		{name: "jpeg e1", data: []byte{0xFF, 0xD8, 0xFF, 0xE1}, want: "jpg"},
		{name: "png", data: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D}, want: "png"},
		{name: "tiff be", data: []byte{0x4D, 0x4D, 0x00, 0x2A}, want: "tiff"},
		{name: "tiff le", data: []byte{0x49, 0x49, 0x2A, 0x00}, want: "tiff"},
		{name: "dicom", data: dicom, want: "dcm"},
		{name: "pdf", data: []byte("%PDF-1.7"), want: "pdf"},
		{name: "zeros", data: []byte{0, 0, 0, 0}, wantErr: ErrUnsupportedFileType},
		{name: "short", data: []byte{0xFF, 0xD8}, wantErr: ErrUnsupportedFileType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ft, err := DetectFileType(tt.data)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.EqualError(t, err, "unsupported file type")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ft.Name)
		})
	}
}

func TestCheckFile_Limits(t *testing.T) {
	_, err := CheckFile(nil)
	assert.ErrorIs(t, err, ErrEmptyFile)

	big := make([]byte, MaxFileSize+1)
	copy(big, "%PDF-")
	_, err = CheckFile(big)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	ok := make([]byte, MaxFileSize)
	copy(ok, "%PDF-")
	ft, err := CheckFile(ok)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", ft.MIME)
}

func TestAddPreviewsToAttachments(t *testing.T) {
	tall := pngOfHeight(t, 100, 2000)
	medium := pngOfHeight(t, 50, 500)
	small := pngOfHeight(t, 10, 150)
	pdf := []byte("%PDF-1.4 test")

	atts := []*models.Attachment{
		{Title: "tall", Data: tall},
		{Title: "pdf", Data: pdf},
		{Title: "medium", Data: medium},
		{Title: "small", Data: small},
	}

	blobs, derivs, err := AddPreviewsToAttachments(atts)
	require.NoError(t, err)

	assert.Equal(t, []Derivatives{
		{Preview: true, Thumbnail: true},
		{},
		{Thumbnail: true},
		{},
	}, derivs)
	require.Len(t, blobs, 3+1+2+1)

	// full, preview, thumbnail
	assert.Equal(t, tall, blobs[0])
	assert.Equal(t, PreviewHeight, heightOf(t, blobs[1]))
	assert.Equal(t, ThumbnailHeight, heightOf(t, blobs[2]))
	assert.Equal(t, pdf, blobs[3])
	assert.Equal(t, medium, blobs[4])
	assert.Equal(t, ThumbnailHeight, heightOf(t, blobs[5]))
	assert.Equal(t, small, blobs[6])

	assert.Equal(t, "image/png", atts[0].ContentType)
	assert.Equal(t, "application/pdf", atts[1].ContentType)

	got := FilesForAttachment(blobs, derivs, 2)
	require.Len(t, got, 2)
	assert.Equal(t, medium, got[0])
	assert.Len(t, FilesForAttachment(blobs, derivs, 0), 3)
	assert.Equal(t, [][]byte{small}, FilesForAttachment(blobs, derivs, 3))
}

func TestAddPreviewsToAttachments_RejectsUnknown(t *testing.T) {
	_, _, err := AddPreviewsToAttachments([]*models.Attachment{{Title: "x", Data: []byte{0, 0, 0, 0}}})
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
}

func TestIdentifierPacking(t *testing.T) {
	tests := []struct {
		ids                  []string
		full, preview, thumb string
	}{
		{ids: []string{"f"}, full: "f", preview: "f", thumb: "f"},
		{ids: []string{"f", "t"}, full: "f", preview: "f", thumb: "t"},
		{ids: []string{"f", "p", "t"}, full: "f", preview: "p", thumb: "t"},
	}
	for _, tt := range tests {
		v := GetIdentifierValue(tt.ids)
		full, preview, thumb, ok := ParseIdentifierValue(v)
		require.True(t, ok, v)
		assert.Equal(t, tt.full, full)
		assert.Equal(t, tt.preview, preview)
		assert.Equal(t, tt.thumb, thumb)
	}

	assert.Equal(t, "d4l_f_p_t#a#b#c", GetIdentifierValue([]string{"a", "b", "c"}))

	_, _, _, ok := ParseIdentifierValue("other#a#b#c")
	assert.False(t, ok)
}

func TestGetAttachmentIDToDownload(t *testing.T) {
	ids := []models.Identifier{
		{System: "x", Value: "unrelated"},
		{System: IdentifierSystem, Value: GetIdentifierValue([]string{"f1", "p1", "t1"})},
		{System: IdentifierSystem, Value: GetIdentifierValue([]string{"f2"})},
	}

	a1 := &models.Attachment{ID: "f1"}
	assert.Equal(t, "f1", GetAttachmentIDToDownload(ids, models.ImageSizeFull, a1))
	assert.Equal(t, "p1", GetAttachmentIDToDownload(ids, models.ImageSizeMedium, a1))
	assert.Equal(t, "t1", GetAttachmentIDToDownload(ids, models.ImageSizeSmall, a1))

	a2 := &models.Attachment{ID: "f2"}
	assert.Equal(t, "f2", GetAttachmentIDToDownload(ids, models.ImageSizeMedium, a2))

	a3 := &models.Attachment{ID: "plain"}
	assert.Equal(t, "plain", GetAttachmentIDToDownload(ids, models.ImageSizeSmall, a3))
}

func TestSeparateOldAndNewAttachments(t *testing.T) {
	previous := []*models.Attachment{
		{ID: "old-1", Hash: "h1", Size: 10},
		{ID: "old-2", Hash: "h2"},
	}
	current := []*models.Attachment{
		{Hash: "h1", Title: "same content"},
		{ID: "old-2", Title: "metadata only"},
		{Hash: "h3", Title: "new"},
	}

	old, fresh := SeparateOldAndNewAttachments(current, previous)
	require.Len(t, old, 2)
	require.Len(t, fresh, 1)

	assert.Equal(t, "old-1", old[0].ID)
	assert.Equal(t, int64(10), old[0].Size)
	assert.Equal(t, "old-2", old[1].ID)
	assert.Equal(t, "h2", old[1].Hash)
	assert.Equal(t, "new", fresh[0].Title)
}

func TestVerifyAttachmentPayload(t *testing.T) {
	p := cryptox.NewProvider()
	data := []byte("payload")
	good := GetContentHash(p, data)

	tests := []struct {
		name     string
		creation string
		hash     string
		full     bool
		want     bool
	}{
		{name: "pre cutoff mismatch", creation: "2019-03-12", hash: "bad", full: true, want: true},
		{name: "post cutoff mismatch", creation: "2020-11-15", hash: "bad", full: true, want: false},
		{name: "post cutoff match", creation: "2020-11-15T10:00:00Z", hash: good, full: true, want: true},
		{name: "derivative mismatch", creation: "2020-11-15", hash: "bad", full: false, want: true},
		{name: "no creation mismatch", hash: "bad", full: true, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &models.Attachment{Creation: tt.creation, Hash: tt.hash}
			assert.Equal(t, tt.want, VerifyAttachmentPayload(p, a, data, tt.full))
		})
	}
}
