// Package services contains the record sync engine of the phrkeeper client:
// encrypted create, update, fetch, search and delete of health records and
// their attachments.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/phrkeeper/internal/client/client"
	"github.com/dmitrijs2005/phrkeeper/internal/client/envelope"
	"github.com/dmitrijs2005/phrkeeper/internal/client/models"
	"github.com/dmitrijs2005/phrkeeper/internal/client/tags"
	"github.com/dmitrijs2005/phrkeeper/internal/common"
	"github.com/dmitrijs2005/phrkeeper/internal/cryptox"
	"github.com/dmitrijs2005/phrkeeper/internal/logging"
)

const defaultConcurrency = 4

var (
	ErrAttachmentNotFound = errors.New("attachment not found in record")
	ErrNoAttachmentKey    = errors.New("record has no attachment key")
)

// RecordAPI is the records part of the REST surface.
type RecordAPI interface {
	CreateRecord(ctx context.Context, userID string, rec *models.EncryptedRecord) (*models.EncryptedRecord, error)
	UpdateRecord(ctx context.Context, userID, recordID string, rec *models.EncryptedRecord) (*models.EncryptedRecord, error)
	FetchRecord(ctx context.Context, userID, recordID string) (*models.EncryptedRecord, error)
	DeleteRecord(ctx context.Context, userID, recordID string) error
	SearchRecords(ctx context.Context, userID string, q *models.EncryptedQuery) ([]*models.EncryptedRecord, int, error)
	CountRecords(ctx context.Context, userID string, q *models.EncryptedQuery) (int, error)
}

// DocumentStore keeps encrypted attachment blobs.
type DocumentStore interface {
	UploadDocument(ctx context.Context, userID string, data []byte) (string, error)
	DownloadDocument(ctx context.Context, userID, documentID string) ([]byte, error)
}

// KeyVault is the key state the engine borrows per call.
type KeyVault interface {
	envelope.KeySource
	CurrentUserID(ctx context.Context) (string, error)
}

// WriteOptions carries caller supplied metadata of a write.
//
// Tags are extra plaintext tags. On update a nil Tags keeps the previous
// tag set; a nil Annotations keeps the previous annotations.
type WriteOptions struct {
	Tags        []string
	Annotations []string
	Date        time.Time
}

// RecordService is the record sync engine. An empty userID addresses the
// signed-in user.
type RecordService interface {
	CreateResource(ctx context.Context, userID string, r models.Resource, opts WriteOptions) (*models.Record, error)
	UpdateResource(ctx context.Context, userID string, r models.Resource, opts WriteOptions) (*models.Record, error)
	UpdateRecord(ctx context.Context, userID, recordID string, partial models.Resource, opts WriteOptions) (*models.Record, error)
	FetchRecord(ctx context.Context, userID, recordID string) (*models.Record, error)
	SearchRecords(ctx context.Context, userID string, params *models.SearchParams, countOnly bool) (*models.SearchResult, error)
	CountRecords(ctx context.Context, userID string, params *models.SearchParams) (int, error)
	DeleteRecord(ctx context.Context, userID, recordID string) error
	DownloadAttachments(ctx context.Context, userID, recordID string, attachmentIDs []string, size models.ImageSize) ([]*models.Attachment, error)
	DownloadResource(ctx context.Context, userID, recordID string) (*models.Record, error)
}

type recordService struct {
	api         RecordAPI
	docs        DocumentStore
	keys        KeyVault
	crypto      cryptox.Provider
	validator   Validator
	tagGen      tags.Generator
	log         logging.Logger
	concurrency int
	now         func() time.Time
}

type Option func(*recordService)

func WithValidator(v Validator) Option {
	return func(s *recordService) { s.validator = v }
}

func WithTagGenerator(g tags.Generator) Option {
	return func(s *recordService) { s.tagGen = g }
}

func WithLogger(l logging.Logger) Option {
	return func(s *recordService) { s.log = l }
}

// WithConcurrency bounds parallel uploads, downloads and decryptions.
func WithConcurrency(n int) Option {
	return func(s *recordService) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func NewRecordService(api RecordAPI, docs DocumentStore, keys KeyVault, crypto cryptox.Provider, opts ...Option) RecordService {
	s := &recordService{
		api:         api,
		docs:        docs,
		keys:        keys,
		crypto:      crypto,
		validator:   DefaultValidator{},
		log:         logging.Discard(),
		concurrency: defaultConcurrency,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *recordService) resolveUser(ctx context.Context, userID string) (string, error) {
	if userID != "" {
		return userID, nil
	}
	return s.keys.CurrentUserID(ctx)
}

func (s *recordService) envelopeFor(userID string) *envelope.Service {
	return envelope.New(userID, s.keys, s.crypto)
}

func (s *recordService) CreateResource(ctx context.Context, userID string, r models.Resource, opts WriteOptions) (*models.Record, error) {
	if err := s.validate(r, opts); err != nil {
		return nil, err
	}
	userID, err := s.resolveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.write(ctx, userID, r, nil, opts)
}

func (s *recordService) UpdateResource(ctx context.Context, userID string, r models.Resource, opts WriteOptions) (*models.Record, error) {
	if err := s.validate(r, opts); err != nil {
		return nil, err
	}
	if r.ResourceID() == "" {
		return nil, &models.ValidationError{Field: "id", Msg: "is required for update"}
	}
	userID, err := s.resolveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	prev, err := s.FetchRecord(ctx, userID, r.ResourceID())
	if err != nil {
		return nil, err
	}
	return s.write(ctx, userID, r, prev, opts)
}

// UpdateRecord downloads the current version, overlays the top-level fields
// of partial and writes the result.
func (s *recordService) UpdateRecord(ctx context.Context, userID, recordID string, partial models.Resource, opts WriteOptions) (*models.Record, error) {
	if partial == nil {
		return nil, &models.ValidationError{Field: "resource", Msg: "is required"}
	}
	userID, err := s.resolveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	prev, err := s.FetchRecord(ctx, userID, recordID)
	if err != nil {
		return nil, err
	}
	merged, err := models.MergeResource(prev.Resource, partial)
	if err != nil {
		return nil, &models.ValidationError{Field: "resourceType", Msg: err.Error()}
	}
	merged.SetResourceID(recordID)
	if err := s.validate(merged, opts); err != nil {
		return nil, err
	}
	return s.write(ctx, userID, merged, prev, opts)
}

func (s *recordService) validate(r models.Resource, opts WriteOptions) error {
	if err := s.validator.Validate(r); err != nil {
		return err
	}
	return validateAnnotations(opts.Annotations)
}

// write runs the write state machine: attachments, body, tags, key sync,
// submission.
func (s *recordService) write(ctx context.Context, userID string, r models.Resource, prev *models.Record, opts WriteOptions) (*models.Record, error) {
	userTags, err := tags.CanonicalSet(opts.Tags)
	if err != nil {
		return nil, &models.ValidationError{Field: "tags", Msg: err.Error(), Err: err}
	}
	opts.Tags = userTags

	env := s.envelopeFor(userID)
	models.Normalize(r)

	var prevDataKey, attachmentKey *models.EncryptedDataKey
	if prev != nil {
		prevDataKey, attachmentKey = prev.DataKey, prev.AttachmentKey
	}

	if len(r.Attachments()) > 0 {
		attachmentKey, err = s.uploadAttachments(ctx, env, userID, r, prev, attachmentKey)
		if err != nil {
			return nil, err
		}
	}

	recordID := r.ResourceID()
	// the record id is the resource id; it is never part of the body
	r.SetResourceID("")
	body, dataKey, err := env.EncryptObject(ctx, r, prevDataKey)
	r.SetResourceID(recordID)
	if err != nil {
		return nil, fmt.Errorf("encrypt resource: %w", err)
	}

	tagSet := s.tagsFor(r, prev, opts)
	encTags, err := env.EncryptTags(ctx, tagSet)
	if err != nil {
		return nil, err
	}

	keys, err := env.UpdateKeys(ctx, dataKey, attachmentKey)
	if err != nil {
		return nil, fmt.Errorf("sync keys: %w", err)
	}
	dataKey, attachmentKey = keys[0], keys[1]

	date := opts.Date
	if date.IsZero() && prev != nil {
		date = prev.CustomCreationDate
	}
	if date.IsZero() {
		date = s.now()
	}

	wire := &models.EncryptedRecord{
		Date:          date.Format(common.DateLayout),
		EncryptedBody: body,
		EncryptedTags: encTags,
		EncryptedKey:  dataKey.EncryptedKey,
		CommonKeyID:   dataKey.CommonKeyID,
		ModelVersion:  models.ModelVersion,
	}
	if !attachmentKey.IsZero() {
		wire.AttachmentKey = attachmentKey.EncryptedKey
	}

	var saved *models.EncryptedRecord
	if prev == nil {
		saved, err = s.api.CreateRecord(ctx, userID, wire)
	} else {
		saved, err = s.api.UpdateRecord(ctx, userID, recordID, wire)
	}
	if err != nil {
		return nil, err
	}

	rec := &models.Record{
		ID:                 saved.RecordID,
		Resource:           r,
		Tags:               tags.Without(tagSet, tags.KeyCustom),
		Annotations:        tags.Annotations(tagSet),
		DataKey:            dataKey,
		AttachmentKey:      attachmentKey,
		CustomCreationDate: parseDate(wire.Date),
		UpdatedDate:        parseTimestamp(saved.CreatedAt),
		CommonKeyID:        dataKey.CommonKeyID,
	}
	if rec.ID == "" {
		rec.ID = recordID
	}
	if rec.UpdatedDate.IsZero() {
		rec.UpdatedDate = s.now().UTC()
	}
	r.SetResourceID(rec.ID)
	return rec, nil
}

func (s *recordService) tagsFor(r models.Resource, prev *models.Record, opts WriteOptions) []string {
	var out []string
	if prev == nil {
		out = s.tagGen.ForCreate(r.ResourceType())
		out = append(out, opts.Tags...)
	} else {
		base := prev.Tags
		if opts.Tags != nil {
			base = append(tags.Only(prev.Tags, tags.GeneratedKeys...), opts.Tags...)
		}
		out = s.tagGen.ForUpdate(base)
	}

	annotations := opts.Annotations
	if annotations == nil && prev != nil {
		annotations = prev.Annotations
	}
	for _, a := range annotations {
		out = append(out, tags.Annotation(a))
	}
	return tags.Unique(out)
}

func (s *recordService) FetchRecord(ctx context.Context, userID, recordID string) (*models.Record, error) {
	userID, err := s.resolveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	wire, err := s.api.FetchRecord(ctx, userID, recordID)
	if err != nil {
		return nil, err
	}
	return s.decryptRecord(ctx, s.envelopeFor(userID), wire)
}

func (s *recordService) decryptRecord(ctx context.Context, env *envelope.Service, wire *models.EncryptedRecord) (*models.Record, error) {
	dataKey := &models.EncryptedDataKey{CommonKeyID: wire.CommonKeyID, EncryptedKey: wire.EncryptedKey}

	body, err := env.DecryptString(ctx, dataKey, wire.EncryptedBody)
	if err != nil {
		return nil, fmt.Errorf("decrypt record %s: %w", wire.RecordID, err)
	}
	res, err := models.DecodeResource([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", wire.RecordID, err)
	}
	res.SetResourceID(wire.RecordID)

	tagSet, err := env.DecryptTags(ctx, wire.EncryptedTags)
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", wire.RecordID, err)
	}

	rec := &models.Record{
		ID:                 wire.RecordID,
		Resource:           res,
		Tags:               tags.Without(tagSet, tags.KeyCustom),
		Annotations:        tags.Annotations(tagSet),
		DataKey:            dataKey,
		CustomCreationDate: parseDate(wire.Date),
		UpdatedDate:        parseTimestamp(wire.CreatedAt),
		CommonKeyID:        wire.CommonKeyID,
	}
	if wire.AttachmentKey != "" {
		rec.AttachmentKey = &models.EncryptedDataKey{CommonKeyID: wire.CommonKeyID, EncryptedKey: wire.AttachmentKey}
	}
	return rec, nil
}

// SearchRecords encrypts the tag filters, fetches matches and decrypts them
// independently. Records that fail to decrypt are logged and left out.
func (s *recordService) SearchRecords(ctx context.Context, userID string, params *models.SearchParams, countOnly bool) (*models.SearchResult, error) {
	userID, err := s.resolveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = &models.SearchParams{}
	}
	env := s.envelopeFor(userID)

	q, err := s.encryptQuery(ctx, env, params)
	if err != nil {
		return nil, err
	}

	if countOnly {
		n, err := s.api.CountRecords(ctx, userID, q)
		if err != nil {
			return nil, err
		}
		return &models.SearchResult{TotalCount: n}, nil
	}

	wires, total, err := s.api.SearchRecords(ctx, userID, q)
	if err != nil {
		return nil, err
	}

	decrypted := make([]*models.Record, len(wires))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, w := range wires {
		g.Go(func() error {
			rec, err := s.decryptRecord(gctx, env, w)
			if err != nil {
				if isSystemic(err) {
					return err
				}
				s.log.Warn(gctx, "dropping undecryptable record", "record_id", w.RecordID, "err", err)
				return nil
			}
			decrypted[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	records := make([]*models.Record, 0, len(decrypted))
	for _, r := range decrypted {
		if r != nil {
			records = append(records, r)
		}
	}
	return &models.SearchResult{Records: records, TotalCount: total}, nil
}

// isSystemic separates failures of the whole search (auth, setup,
// cancellation) from a single corrupt record.
func isSystemic(err error) bool {
	var setupErr *models.SetupError
	return errors.Is(err, client.ErrUnauthorized) ||
		errors.Is(err, client.ErrUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &setupErr)
}

func (s *recordService) encryptQuery(ctx context.Context, env *envelope.Service, p *models.SearchParams) (*models.EncryptedQuery, error) {
	include, err := tags.CanonicalSet(p.Tags)
	if err != nil {
		return nil, &models.ValidationError{Field: "tags", Msg: err.Error(), Err: err}
	}
	exclude, err := tags.CanonicalSet(p.ExcludeTags)
	if err != nil {
		return nil, &models.ValidationError{Field: "excludeTags", Msg: err.Error(), Err: err}
	}
	if p.ResourceType != "" {
		include = append(include, tags.Build(tags.KeyResourceType, p.ResourceType))
	}
	for _, a := range p.Annotations {
		include = append(include, tags.Annotation(a))
	}

	encInclude, err := env.EncryptTags(ctx, tags.Unique(include))
	if err != nil {
		return nil, err
	}
	encExclude, err := env.EncryptTags(ctx, tags.Unique(exclude))
	if err != nil {
		return nil, err
	}

	q := &models.EncryptedQuery{
		Tags:        encInclude,
		ExcludeTags: encExclude,
		Limit:       p.Limit,
		Offset:      p.Offset,
	}
	if !p.StartDate.IsZero() {
		q.StartDate = p.StartDate.Format(common.DateLayout)
	}
	if !p.EndDate.IsZero() {
		q.EndDate = p.EndDate.Format(common.DateLayout)
	}
	return q, nil
}

func (s *recordService) CountRecords(ctx context.Context, userID string, params *models.SearchParams) (int, error) {
	res, err := s.SearchRecords(ctx, userID, params, true)
	if err != nil {
		return 0, err
	}
	return res.TotalCount, nil
}

func (s *recordService) DeleteRecord(ctx context.Context, userID, recordID string) error {
	userID, err := s.resolveUser(ctx, userID)
	if err != nil {
		return err
	}
	return s.api.DeleteRecord(ctx, userID, recordID)
}

func parseDate(s string) time.Time {
	t, err := time.Parse(common.DateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
