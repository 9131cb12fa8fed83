// Package ingest accepts one uploaded recording batch: an audio file, its
// metadata document, and optional attachments. It streams everything to the
// artifact store, indexes the batch, and queues it for processing.
package ingest

import (
	"bytes"
	"context"
	"log/slog"
	"mime/multipart"
	"path/filepath"
	"time"

	"audiobatch/internal/artifact"
	"audiobatch/internal/batchid"
	"audiobatch/internal/blobstore"
	"audiobatch/internal/config"
	"audiobatch/internal/index"
	"audiobatch/internal/jobqueue"
	"audiobatch/internal/logging"
	"audiobatch/internal/services"
	"audiobatch/internal/textutil"
)

// Request is one parsed upload. The API layer extracts it from the
// multipart form; validation happens here.
type Request struct {
	OwnerID     string
	Audio       *multipart.FileHeader
	Metadata    []byte
	Attachments []*multipart.FileHeader
	Notes       []byte
	Priority    string
}

// Result is returned to the uploader. Processing happens asynchronously.
type Result struct {
	BatchID    string
	Status     index.Status
	UploadedAt time.Time
}

// Service wires the ingestion side effects together.
type Service struct {
	store  blobstore.Store
	idx    *index.Store
	queue  *jobqueue.Queue
	cfg    config.Ingest
	logger *slog.Logger
}

func NewService(store blobstore.Store, idx *index.Store, queue *jobqueue.Queue, cfg config.Ingest, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		store:  store,
		idx:    idx,
		queue:  queue,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "ingest"),
	}
}

// Ingest validates the request, then applies side effects in a fixed order:
// store objects first, index row second, queue job last. A store failure
// aborts; an index failure logs every written key as orphaned (raw input is
// never deleted); a queue failure still returns success since the batch is
// fully indexed and the janitor or an operator can requeue it.
func (s *Service) Ingest(ctx context.Context, req Request) (Result, error) {
	if err := s.validateAudio(req.Audio); err != nil {
		return Result{}, err
	}
	metadata, err := parseMetadata(req.Metadata)
	if err != nil {
		return Result{}, err
	}
	if err := s.validateAttachments(req.Attachments); err != nil {
		return Result{}, err
	}
	if err := validateNotes(req.Notes); err != nil {
		return Result{}, err
	}
	priority, err := index.ParsePriority(req.Priority)
	if err != nil {
		return Result{}, services.Wrap(services.ErrValidation, "", "ingest", "priority must be normal or immediate", err)
	}

	id := batchid.New(metadata.Recording.StartedAt)
	log := s.logger.With(
		logging.String(logging.FieldBatchID, id),
		logging.String(logging.FieldOwnerID, req.OwnerID),
	)

	written, attachments, err := s.writeObjects(ctx, req, id)
	if err != nil {
		return Result{}, err
	}

	batch := &index.Batch{
		ID:                 id,
		OwnerID:            req.OwnerID,
		Priority:           priority,
		Artifacts:          written,
		Metrics:            index.Metrics{RawAudioSizeBytes: req.Audio.Size},
		RecordingStartedAt: metadata.Recording.StartedAt,
		RecordingEndedAt:   metadata.Recording.EndedAt,
	}
	if err := s.idx.CreateBatch(ctx, batch, attachments); err != nil {
		for _, key := range written {
			log.Error("orphaned store object", logging.String(logging.FieldStoreKey, key))
		}
		for _, attachment := range attachments {
			log.Error("orphaned store object", logging.String(logging.FieldStoreKey, attachment.StoreKey))
		}
		return Result{}, services.Wrap(services.ErrTransient, "", "ingest.index", "index batch", err)
	}

	result := Result{BatchID: id, Status: index.StatusUploaded, UploadedAt: batch.CreatedAt}

	lane := jobqueue.LaneNormal
	if priority == index.PriorityImmediate {
		lane = jobqueue.LaneImmediate
	}
	if _, err := s.queue.Enqueue(ctx, jobqueue.Job{BatchID: id, OwnerID: req.OwnerID, Lane: lane}); err != nil {
		log.Error("batch indexed but unqueued", logging.Error(err))
		return result, nil
	}
	if err := s.idx.MarkQueued(ctx, id); err != nil {
		log.Error("batch queued but status update failed", logging.Error(err))
		return result, nil
	}
	result.Status = index.StatusQueued

	log.Info("batch accepted",
		logging.String("priority", string(priority)),
		logging.Int64("audio_bytes", req.Audio.Size),
		logging.Int("attachments", len(attachments)),
	)
	return result, nil
}

// writeObjects streams every part to the blobstore and returns the artifact
// key map plus attachment rows for the index.
func (s *Service) writeObjects(ctx context.Context, req Request, id string) (map[artifact.Type]string, []index.Attachment, error) {
	written := map[artifact.Type]string{}

	audioKey, err := s.putFile(ctx, req.OwnerID, id, artifact.TypeRawAudio, req.Audio)
	if err != nil {
		return nil, nil, err
	}
	written[artifact.TypeRawAudio] = audioKey

	metadataKey, err := s.putBytes(ctx, req.OwnerID, id, artifact.TypeMetadata, "metadata.json", req.Metadata)
	if err != nil {
		return nil, nil, err
	}
	written[artifact.TypeMetadata] = metadataKey

	var attachments []index.Attachment
	for _, header := range req.Attachments {
		key, err := s.putFile(ctx, req.OwnerID, id, artifact.TypeAttachment, header)
		if err != nil {
			return nil, nil, err
		}
		attachments = append(attachments, index.Attachment{
			BatchID:   id,
			Kind:      index.AttachmentImage,
			Filename:  textutil.SanitizeFileName(filepath.Base(header.Filename)),
			StoreKey:  key,
			SizeBytes: header.Size,
		})
	}

	if len(req.Notes) > 0 {
		key, err := s.putBytes(ctx, req.OwnerID, id, artifact.TypeNotes, "notes.json", req.Notes)
		if err != nil {
			return nil, nil, err
		}
		written[artifact.TypeNotes] = key
		attachments = append(attachments, index.Attachment{
			BatchID:   id,
			Kind:      index.AttachmentNote,
			Filename:  "notes.json",
			StoreKey:  key,
			SizeBytes: int64(len(req.Notes)),
		})
	}

	return written, attachments, nil
}

func (s *Service) putFile(ctx context.Context, ownerID, id string, typ artifact.Type, header *multipart.FileHeader) (string, error) {
	filename := textutil.SanitizeFileName(filepath.Base(header.Filename))
	key, err := artifact.BuildKey(ownerID, id, typ, filename)
	if err != nil {
		return "", err
	}
	file, err := header.Open()
	if err != nil {
		return "", services.Wrap(services.ErrValidation, "", "ingest.store", filename, err)
	}
	defer file.Close()

	if err := s.store.Put(ctx, key, file, header.Size, contentTypeFor(filename)); err != nil {
		return "", services.Wrap(services.ErrTransient, "", "ingest.store", key, err)
	}
	return key, nil
}

func (s *Service) putBytes(ctx context.Context, ownerID, id string, typ artifact.Type, filename string, body []byte) (string, error) {
	key, err := artifact.BuildKey(ownerID, id, typ, filename)
	if err != nil {
		return "", err
	}
	if err := s.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
		return "", services.Wrap(services.ErrTransient, "", "ingest.store", key, err)
	}
	return key, nil
}
