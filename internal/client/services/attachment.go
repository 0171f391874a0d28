package services

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/phrkeeper/internal/client/attachments"
	"github.com/dmitrijs2005/phrkeeper/internal/client/envelope"
	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
)

// uploadAttachments stores the new attachments of r and rewrites r in place:
// ids are assigned, packed identifiers added and file data stripped. It
// returns the attachment key covering every document of the record.
func (s *recordService) uploadAttachments(ctx context.Context, env *envelope.Service, userID string, r models.Resource, prev *models.Record, attachmentKey *models.EncryptedDataKey) (*models.EncryptedDataKey, error) {
	current := r.Attachments()
	for _, a := range current {
		if a.Data == nil {
			continue
		}
		a.Hash = attachments.GetContentHash(s.crypto, a.Data)
		a.Size = int64(len(a.Data))
	}

	var previous []*models.Attachment
	var prevIdentifiers []models.Identifier
	if prev != nil {
		previous = prev.Resource.Attachments()
		prevIdentifiers = prev.Resource.Identifiers()
	}

	old, fresh := attachments.SeparateOldAndNewAttachments(current, previous)
	for _, a := range old {
		a.Data = nil
	}
	for _, a := range fresh {
		if a.Data == nil {
			return nil, &models.ValidationError{Field: fmt.Sprintf("attachment %q", a.Title), Msg: "unknown attachment without data"}
		}
		if a.Creation == "" {
			a.Creation = s.now().UTC().Format(time.RFC3339)
		}
	}

	identifiers := mergeIdentifiers(r.Identifiers(), prevIdentifiers, old)

	if len(fresh) > 0 {
		blobs, derivs, err := attachments.AddPreviewsToAttachments(fresh)
		if err != nil {
			return nil, &models.ValidationError{Field: "attachment", Msg: err.Error(), Err: err}
		}
		encrypted, key, err := env.EncryptBlobs(ctx, blobs, attachmentKey)
		if err != nil {
			return nil, fmt.Errorf("encrypt attachments: %w", err)
		}
		attachmentKey = key

		ids, err := s.uploadBlobs(ctx, userID, encrypted)
		if err != nil {
			return nil, err
		}

		for i, a := range fresh {
			docIDs := attachments.FilesForAttachment(ids, derivs, i)
			a.ID = docIDs[0]
			a.Data = nil
			if len(docIDs) > 1 {
				identifiers = append(identifiers, models.Identifier{
					System: attachments.IdentifierSystem,
					Value:  attachments.GetIdentifierValue(docIDs),
				})
			}
		}
	}

	r.SetIdentifiers(identifiers)
	return attachmentKey, nil
}

// uploadBlobs uploads every blob independently and returns the document ids
// in blob order.
func (s *recordService) uploadBlobs(ctx context.Context, userID string, blobs [][]byte) ([]string, error) {
	ids := make([]string, len(blobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, b := range blobs {
		g.Go(func() error {
			id, err := s.docs.UploadDocument(gctx, userID, b)
			if err != nil {
				return fmt.Errorf("upload document %d: %w", i, err)
			}
			ids[i] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return ids, nil
}

// mergeIdentifiers keeps non-attachment identifiers of the resource and the
// packed identifiers of attachments that are still present.
func mergeIdentifiers(current, previous []models.Identifier, kept []*models.Attachment) []models.Identifier {
	keep := make(map[string]struct{}, len(kept))
	for _, a := range kept {
		keep[a.ID] = struct{}{}
	}

	seen := map[string]struct{}{}
	var out []models.Identifier
	add := func(id models.Identifier) {
		if _, ok := seen[id.Value]; ok {
			return
		}
		seen[id.Value] = struct{}{}
		out = append(out, id)
	}

	for _, id := range current {
		if !attachments.IsAttachmentIdentifier(id) {
			add(id)
		}
	}
	for _, id := range append(append([]models.Identifier(nil), current...), previous...) {
		full, _, _, ok := attachments.ParseIdentifierValue(id.Value)
		if !ok {
			continue
		}
		if _, ok := keep[full]; ok {
			add(id)
		}
	}
	return out
}

// DownloadAttachments fetches and decrypts the given attachments of a
// record in the requested size. An empty id list selects every attachment.
func (s *recordService) DownloadAttachments(ctx context.Context, userID, recordID string, attachmentIDs []string, size models.ImageSize) ([]*models.Attachment, error) {
	userID, err := s.resolveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	rec, err := s.FetchRecord(ctx, userID, recordID)
	if err != nil {
		return nil, err
	}
	selected, err := selectAttachments(rec.Resource.Attachments(), attachmentIDs)
	if err != nil {
		return nil, err
	}
	return s.downloadAll(ctx, userID, rec, selected, size)
}

// DownloadResource returns the record with the full size data of every
// attachment filled in.
func (s *recordService) DownloadResource(ctx context.Context, userID, recordID string) (*models.Record, error) {
	userID, err := s.resolveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	rec, err := s.FetchRecord(ctx, userID, recordID)
	if err != nil {
		return nil, err
	}
	atts := rec.Resource.Attachments()
	if len(atts) == 0 {
		return rec, nil
	}
	downloaded, err := s.downloadAll(ctx, userID, rec, atts, models.ImageSizeFull)
	if err != nil {
		return nil, err
	}
	for i, a := range atts {
		a.Data = downloaded[i].Data
	}
	return rec, nil
}

func selectAttachments(all []*models.Attachment, ids []string) ([]*models.Attachment, error) {
	if len(ids) == 0 {
		return all, nil
	}
	byID := make(map[string]*models.Attachment, len(all))
	for _, a := range all {
		byID[a.ID] = a
	}
	out := make([]*models.Attachment, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrAttachmentNotFound, id)
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *recordService) downloadAll(ctx context.Context, userID string, rec *models.Record, atts []*models.Attachment, size models.ImageSize) ([]*models.Attachment, error) {
	if len(atts) == 0 {
		return nil, nil
	}
	if rec.AttachmentKey.IsZero() {
		return nil, ErrNoAttachmentKey
	}
	env := s.envelopeFor(userID)
	identifiers := rec.Resource.Identifiers()

	out := make([]*models.Attachment, len(atts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, a := range atts {
		g.Go(func() error {
			docID := attachments.GetAttachmentIDToDownload(identifiers, size, a)
			isFull := docID == a.ID

			encrypted, err := s.docs.DownloadDocument(gctx, userID, docID)
			if err != nil {
				return fmt.Errorf("download attachment %s: %w", a.ID, err)
			}
			data, err := env.DecryptData(gctx, rec.AttachmentKey, encrypted)
			if err != nil {
				return fmt.Errorf("decrypt attachment %s: %w", a.ID, err)
			}
			if _, err := attachments.CheckFile(data); err != nil {
				return fmt.Errorf("attachment %s: %w", a.ID, err)
			}
			if !attachments.VerifyAttachmentPayload(s.crypto, a, data, isFull) {
				return &models.InvalidAttachmentPayloadError{AttachmentID: a.ID, Title: a.Title}
			}

			c := a.Clone()
			c.Data = data
			if !isFull {
				c.Size = int64(len(data))
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
