package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/beevik/etree"
	"github.com/emrgen/cdr/internal/cache"
	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/emrgen/cdr/internal/compress"
	"github.com/emrgen/cdr/internal/config"
	"github.com/emrgen/cdr/internal/doc"
	"github.com/emrgen/cdr/internal/filter"
	"github.com/emrgen/cdr/internal/linktype"
	"github.com/emrgen/cdr/internal/queue"
	"github.com/emrgen/cdr/internal/session"
	"github.com/emrgen/cdr/internal/store"
	"github.com/emrgen/cdr/internal/xslt"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// app holds the collaborators of one command run.
type app struct {
	cfg   *config.Config
	db    *gorm.DB
	st    *store.GormStore
	queue queue.DocumentQueue
	lib   *filter.Library
	env   *doc.Env
	sess  *session.Session
}

func openApp() (*app, error) {
	cfg := config.LoadConfig()
	db := config.GetDb(cfg)
	st := store.NewGormStore(db)

	codec, err := compress.ByName(cfg.BlobCompression)
	if err != nil {
		return nil, err
	}

	var shared cache.Shared = cache.NopShared{}
	if cfg.RedisAddr != "" {
		shared = cache.NewRedisShared(cache.NewRedis(cfg.RedisAddr, cfg.RedisPassword), codec)
	}

	var q queue.DocumentQueue = queue.NopQueue{}
	if cfg.KafkaBrokers != "" {
		kq, err := queue.NewKafkaQueue(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		q = kq
	}

	lib := filter.NewLibrary(st, filter.Options{
		Tier:          cfg.Tier,
		CacheSize:     cfg.FilterCacheSize,
		TermCacheSize: cfg.TermCacheSize,
		Shared:        shared,
	})

	env := &doc.Env{
		Engine:       newEngine(),
		Filters:      lib,
		Queue:        q,
		LinkTypes:    linktype.NewRegistry(),
		Codec:        codec,
		AuditPoll:    cfg.AuditPoll,
		AuditTimeout: cfg.AuditTimeout,
	}

	sess := session.New(st, User, session.NewStoreAuthorizer(st))
	sess.Program = "cdr-cli"

	return &app{cfg: cfg, db: db, st: st, queue: q, lib: lib, env: env, sess: sess}, nil
}

func (a *app) Close() {
	a.queue.Close()
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// run opens the app, calls f and reports its error.
func run(f func(ctx context.Context, a *app) error) {
	a, err := openApp()
	if err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
	defer a.Close()

	if err := f(context.Background(), a); err != nil {
		logrus.Error(err)
		a.Close()
		os.Exit(1)
	}
}

func (a *app) open(ctx context.Context, id, version string) (*doc.Doc, error) {
	n, err := cdrid.Parse(id)
	if err != nil {
		return nil, err
	}
	return doc.Open(ctx, a.sess, a.env, n, version)
}

// newEngine binds the transforms the CLI can run without an XSLT
// processor. Filters with other stylesheet ids fail to compile, except
// title and revision markup filters, which are skipped.
func newEngine() *xslt.FuncEngine {
	engine := xslt.NewFuncEngine()
	engine.Register("identity", identity)
	doc.RegisterNative(engine)
	return engine
}

func identity(ctx context.Context, d *etree.Document, params map[string]string, r xslt.Resolver) (*etree.Document, []xslt.Message, error) {
	return d.Copy(), nil, nil
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
}

func printField(name, value string) {
	fmt.Printf("%-14s %s\n", name+":", value)
}

func printErrors(errs []*doc.Error) {
	if len(errs) == 0 {
		return
	}
	w := newTable()
	fmt.Fprintln(w, "LEVEL\tTYPE\tLOCATION\tMESSAGE")
	for _, e := range errs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Level, e.Type, e.Location, e.Message)
	}
	_ = w.Flush()
}
