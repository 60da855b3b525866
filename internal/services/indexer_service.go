package services

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/AurelienDEMEUSY/SUI-patreon/internal/cache"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/checkpoint"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/events"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/metrics"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/models"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/projection"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/repositories"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/tracing"
)

// CacheInvalidator drops cached read responses
type CacheInvalidator interface {
	Invalidate(ctx context.Context, keys []string, prefixes []string) error
}

// SearchIndexer keeps the search index in step with the store
type SearchIndexer interface {
	IndexCreator(ctx context.Context, creator *models.Creator) error
	IndexPost(ctx context.Context, post *models.Post) error
}

// Outcome describes what happened to one checkpoint
type Outcome struct {
	Sequence uint64
	Skipped  bool
	Rows     int64
	Stats    checkpoint.Stats
}

// IndexerService decodes checkpoints and commits their mutations
type IndexerService struct {
	db            *gorm.DB
	processor     *checkpoint.Processor
	writer        *projection.Writer
	watermarkRepo *repositories.WatermarkRepository
	creatorRepo   *repositories.CreatorRepository
	postRepo      *repositories.PostRepository
	pipeline      string
	decodeWorkers int
	cache         CacheInvalidator
	search        SearchIndexer
	metrics       *metrics.Metrics
	tracer        tracing.Tracer
	now           func() time.Time
}

// NewIndexerService creates a new indexer service. cache, search and m may be nil
func NewIndexerService(
	db *gorm.DB,
	ns events.Namespace,
	pipeline string,
	decodeWorkers int,
	cache CacheInvalidator,
	search SearchIndexer,
	m *metrics.Metrics,
	tracer tracing.Tracer,
) *IndexerService {
	if decodeWorkers < 1 {
		decodeWorkers = 1
	}
	if tracer == nil {
		tracer = tracing.Noop()
	}

	return &IndexerService{
		db:            db,
		processor:     checkpoint.NewProcessor(ns),
		writer:        projection.NewWriter(),
		watermarkRepo: repositories.NewWatermarkRepository(db),
		creatorRepo:   repositories.NewCreatorRepository(db, db),
		postRepo:      repositories.NewPostRepository(db, db),
		pipeline:      pipeline,
		decodeWorkers: decodeWorkers,
		cache:         cache,
		search:        search,
		metrics:       m,
		tracer:        tracer,
		now:           time.Now,
	}
}

// ProcessCheckpoint decodes and commits a single checkpoint
func (s *IndexerService) ProcessCheckpoint(ctx context.Context, cp *checkpoint.Checkpoint) (*Outcome, error) {
	return s.commit(ctx, s.processor.Process(cp))
}

// ProcessBatch decodes the checkpoints concurrently, then commits them one at
// a time in ascending sequence order. It returns how many checkpoints, in that
// order, were committed or skipped before the first failure.
func (s *IndexerService) ProcessBatch(ctx context.Context, cps []*checkpoint.Checkpoint) (int, error) {
	ordered := make([]*checkpoint.Checkpoint, len(cps))
	copy(ordered, cps)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SequenceNumber < ordered[j].SequenceNumber
	})

	results := make([]*checkpoint.Result, len(ordered))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.decodeWorkers)
	for i, cp := range ordered {
		i, cp := i, cp
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.processor.Process(cp)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, errors.Wrap(err, "decode batch")
	}

	for i, res := range results {
		if _, err := s.commit(ctx, res); err != nil {
			return i, err
		}
	}
	return len(results), nil
}

// commit applies res and advances the watermark in one transaction.
// Checkpoints at or below the watermark are skipped.
func (s *IndexerService) commit(ctx context.Context, res *checkpoint.Result) (*Outcome, error) {
	txn := s.tracer.StartTransaction("commit-checkpoint")
	defer s.tracer.EndTransaction(txn)
	s.tracer.AddAttribute(txn, "checkpoint", res.Sequence)

	out := &Outcome{Sequence: res.Sequence, Stats: res.Stats}
	seq := int64(res.Sequence)
	start := time.Now()

	span := s.tracer.StartSpan("store-transaction", txn)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		hi, ok, err := s.watermarkRepo.Get(ctx, tx, s.pipeline)
		if err != nil {
			return projection.StoreFailure(errors.Wrap(err, "read watermark"))
		}
		if ok && seq <= hi {
			out.Skipped = true
			return nil
		}

		rows, err := s.writer.Apply(ctx, tx, res)
		if err != nil {
			return err
		}
		out.Rows = rows

		if err := s.watermarkRepo.Advance(ctx, tx, s.pipeline, seq, res.Timestamp.UnixMilli()); err != nil {
			return projection.StoreFailure(errors.Wrap(err, "advance watermark"))
		}
		return nil
	})
	span.End()

	if err != nil {
		s.tracer.RecordError(txn, err)
		s.metrics.Checkpoint("failed")
		log.Error().
			Err(err).
			Uint64("checkpoint", res.Sequence).
			Msg("Checkpoint commit failed")
		return nil, errors.Wrapf(err, "commit checkpoint %d", res.Sequence)
	}

	if out.Skipped {
		s.metrics.Checkpoint("skipped")
		log.Debug().Uint64("checkpoint", res.Sequence).Msg("Checkpoint already committed, skipping")
		return out, nil
	}

	s.record(res, out.Rows, time.Since(start))
	log.Info().
		Uint64("checkpoint", res.Sequence).
		Int("transactions", res.Stats.Transactions).
		Int("mutations", len(res.Mutations)).
		Int64("rows", out.Rows).
		Msg("Checkpoint committed")

	syncSpan := s.tracer.StartSpan("post-commit-sync", txn)
	s.afterCommit(ctx, res)
	syncSpan.End()

	return out, nil
}

func (s *IndexerService) record(res *checkpoint.Result, rows int64, took time.Duration) {
	if s.metrics == nil {
		return
	}
	s.metrics.Checkpoint("committed")
	s.metrics.Commit(res.Sequence, rows, took)
	for kind, n := range res.Stats.Decoded {
		s.metrics.Decoded(string(kind), n)
	}
	s.metrics.Dropped("decode_error", res.Stats.DecodeErrors)
	s.metrics.Dropped("unresolved_object", res.Stats.Unresolved)
	for _, m := range res.Mutations {
		s.metrics.Mutation(m.Kind().String())
	}
}

type postKey struct {
	serviceObjectID string
	postID          int64
}

// touched lists what a result changed, for cache and search upkeep
type touched struct {
	serviceObjectIDs []string
	addresses        []string
	posts            []postKey
}

func collect(res *checkpoint.Result) touched {
	var t touched
	seenIDs := map[string]bool{}
	seenAddrs := map[string]bool{}
	seenPosts := map[postKey]bool{}

	addID := func(id string) {
		if !seenIDs[id] {
			seenIDs[id] = true
			t.serviceObjectIDs = append(t.serviceObjectIDs, id)
		}
	}
	addAddr := func(addr string) {
		if !seenAddrs[addr] {
			seenAddrs[addr] = true
			t.addresses = append(t.addresses, addr)
		}
	}
	addPost := func(id string, postID uint64) {
		k := postKey{serviceObjectID: id, postID: int64(postID)}
		if !seenPosts[k] {
			seenPosts[k] = true
			t.posts = append(t.posts, k)
		}
		addID(id)
	}

	for _, m := range res.Mutations {
		switch v := m.(type) {
		case checkpoint.CreatorCreate:
			addID(v.ServiceObjectID)
		case checkpoint.CreatorSoftDelete:
			addAddr(v.CreatorAddress)
		case checkpoint.CreatorPatch:
			addAddr(v.CreatorAddress)
		case checkpoint.PostUpsert:
			addPost(v.ServiceObjectID, v.PostID)
		case checkpoint.PostSoftDelete:
			addPost(v.ServiceObjectID, v.PostID)
		}
	}
	return t
}

// afterCommit refreshes the cache and search index. Failures are logged and
// never undo the commit.
func (s *IndexerService) afterCommit(ctx context.Context, res *checkpoint.Result) {
	t := collect(res)
	if len(t.serviceObjectIDs) == 0 && len(t.addresses) == 0 {
		return
	}

	creators, err := s.creatorRepo.FindForSync(ctx, t.serviceObjectIDs, t.addresses)
	if err != nil {
		log.Warn().Err(err).Uint64("checkpoint", res.Sequence).Msg("Failed to load creators for sync")
	}

	if s.cache != nil {
		seen := map[string]bool{}
		var keys []string
		add := func(id string) {
			if !seen[id] {
				seen[id] = true
				keys = append(keys, cache.CreatorKey(id), cache.PostsKey(id))
			}
		}
		for _, id := range t.serviceObjectIDs {
			add(id)
		}
		for i := range creators {
			add(creators[i].ServiceObjectID)
		}
		if err := s.cache.Invalidate(ctx, keys, []string{cache.CreatorListPrefix}); err != nil {
			log.Warn().Err(err).Uint64("checkpoint", res.Sequence).Msg("Cache invalidation failed")
		}
	}

	if s.search == nil {
		return
	}
	for i := range creators {
		if err := s.search.IndexCreator(ctx, &creators[i]); err != nil {
			log.Warn().Err(err).Str("service_object_id", creators[i].ServiceObjectID).Msg("Creator indexing failed")
		}
	}
	for _, k := range t.posts {
		post, err := s.postRepo.GetForSync(ctx, k.serviceObjectID, k.postID)
		if err != nil {
			if !errors.Is(err, repositories.ErrNotFound) {
				log.Warn().Err(err).Str("service_object_id", k.serviceObjectID).Int64("post_id", k.postID).Msg("Failed to load post for sync")
			}
			continue
		}
		if err := s.search.IndexPost(ctx, post); err != nil {
			log.Warn().Err(err).Str("service_object_id", k.serviceObjectID).Int64("post_id", k.postID).Msg("Post indexing failed")
		}
	}
}

// ReconcileCounts recomputes the creators' denormalized post and subscriber
// counts
func (s *IndexerService) ReconcileCounts(ctx context.Context) (int64, error) {
	txn := s.tracer.StartTransaction("reconcile-counts")
	defer s.tracer.EndTransaction(txn)

	rows, err := s.creatorRepo.ReconcileCounts(ctx, s.now().UnixMilli())
	if err != nil {
		s.tracer.RecordError(txn, err)
		s.metrics.Reconcile("failed")
		return 0, err
	}
	s.metrics.Reconcile("ok")

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, nil, []string{cache.CreatorListPrefix, "creator:"}); err != nil {
			log.Warn().Err(err).Msg("Cache invalidation after reconcile failed")
		}
	}

	log.Info().Int64("creators", rows).Msg("Creator counts reconciled")
	return rows, nil
}

// Watermark returns the highest committed checkpoint of the pipeline
func (s *IndexerService) Watermark(ctx context.Context) (int64, bool, error) {
	return s.watermarkRepo.Get(ctx, nil, s.pipeline)
}
