package jobs

import (
	"context"
	"time"

	"github.com/emrgen/cdr/internal/doc"
	"github.com/emrgen/cdr/internal/doctype"
	"github.com/emrgen/cdr/internal/session"
	"github.com/sirupsen/logrus"
)

// ReindexTask rebuilds the search index of every document of the
// configured doctypes.
type ReindexTask struct {
	sess     *session.Session
	env      *doc.Env
	docTypes []string
	cron     string
}

type ReindexStats struct {
	Documents int
	Failed    int
}

func NewReindexTask(schedule string, sess *session.Session, env *doc.Env, docTypes []string) *ReindexTask {
	return &ReindexTask{
		sess:     sess,
		env:      env,
		docTypes: docTypes,
		cron:     schedule,
	}
}

func (r *ReindexTask) Name() string {
	return "reindex"
}

func (r *ReindexTask) Schedule() string {
	return r.cron
}

func (r *ReindexTask) Run() {
	start := time.Now()
	stats, err := r.Reindex(context.Background())
	if err != nil {
		logrus.Errorf("reindex stopped: %v", err)
		return
	}
	logrus.Infof("reindexed %d documents (%d failed) in %s", stats.Documents, stats.Failed, time.Since(start))
}

// Reindex walks the doctypes in order. A document that fails is logged
// and skipped; failing to list a doctype stops the run.
func (r *ReindexTask) Reindex(ctx context.Context) (ReindexStats, error) {
	var stats ReindexStats
	for _, name := range r.docTypes {
		dt, err := doctype.Get(ctx, r.sess.Store, name)
		if err != nil {
			return stats, err
		}
		ids, err := r.sess.Store.ListDocumentIDs(ctx, dt.ID)
		if err != nil {
			return stats, err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			stats.Documents++
			d, err := doc.Open(ctx, r.sess, r.env, id, "")
			if err == nil {
				err = d.Reindex(ctx)
			}
			if err != nil {
				stats.Failed++
				logrus.Warnf("reindexing %d: %v", id, err)
			}
		}
	}
	return stats, nil
}
