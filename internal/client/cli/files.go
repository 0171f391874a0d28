package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/phrkeeper/internal/client/attachments"
	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
	"github.com/dmitrijs2005/phrkeeper/internal/client/services"
	"github.com/dmitrijs2005/phrkeeper/internal/common"
	"github.com/dmitrijs2005/phrkeeper/internal/filex"
)

const downloadsDir = "downloads"

// AddFile uploads a local file as a DocumentReference with one attachment.
// Annotations are asked for interactively.
func (a *App) AddFile(ctx context.Context, args []string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	path, err := a.argOrPrompt(args, "Enter file path")
	if err != nil {
		return err
	}

	data, err := filex.ReadLimited(path, attachments.MaxFileSize)
	if errors.Is(err, filex.ErrTooLarge) {
		return fmt.Errorf("%w: %s", attachments.ErrFileTooLarge, path)
	}
	if err != nil {
		return err
	}

	title, err := getSimpleText(a.reader, fmt.Sprintf("Title [%s]", filepath.Base(path)), a.out)
	if err != nil {
		return err
	}
	if title == "" {
		title = filepath.Base(path)
	}

	annotations, err := GetLines(a.reader, "Annotations, one per line", a.out)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	doc := &models.DocumentReference{
		Status:      "current",
		Description: title,
		Indexed:     now.Format(time.RFC3339),
		Content: []models.DocumentReferenceContent{{
			Attachment: &models.Attachment{
				Title:    title,
				Creation: now.Format(common.DateLayout),
				Data:     data,
			},
		}},
	}

	rec, err := a.records().CreateResource(ctx, "", doc, services.WriteOptions{Annotations: annotations})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Created %s\n", rec.ID)
	return nil
}

// Download saves the attachments of a record under downloads/<record id>.
//
//	download <record id> [size=full|medium|small]
func (a *App) Download(ctx context.Context, args []string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	var positional []string
	size := models.ImageSizeFull
	for _, arg := range args {
		if v, ok := strings.CutPrefix(arg, "size="); ok {
			size = models.ImageSize(v)
			continue
		}
		positional = append(positional, arg)
	}
	switch size {
	case models.ImageSizeFull, models.ImageSizeMedium, models.ImageSizeSmall:
	default:
		return fmt.Errorf("unknown size %q", size)
	}

	id, err := a.argOrPrompt(positional, "Enter record id to download")
	if err != nil {
		return err
	}

	atts, err := a.records().DownloadAttachments(ctx, "", id, nil, size)
	if err != nil {
		return err
	}
	if len(atts) == 0 {
		fmt.Fprintln(a.out, "Record has no attachments")
		return nil
	}

	dir, err := filex.EnsureSubdDir(filepath.Join(downloadsDir, id))
	if err != nil {
		return err
	}
	for i, att := range atts {
		name := attachmentFileName(att, i)
		if err := filex.WriteFileAtomic(filepath.Join(dir, name), att.Data, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Saved %s\n", filepath.Join(dir, name))
	}
	return nil
}

// attachmentFileName picks a safe local name: the title, else the id, with
// an extension derived from the content.
func attachmentFileName(att *models.Attachment, i int) string {
	base := filepath.Base(strings.TrimSpace(att.Title))
	if base == "." || base == string(filepath.Separator) || base == "" {
		base = att.ID
	}
	if base == "" {
		base = fmt.Sprintf("attachment-%d", i+1)
	}
	if filepath.Ext(base) != "" {
		return base
	}
	if ft, err := attachments.DetectFileType(att.Data); err == nil {
		return base + "." + ft.Extensions[0]
	}
	return base
}
