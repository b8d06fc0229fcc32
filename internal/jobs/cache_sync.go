package jobs

import (
	"github.com/emrgen/cdr/internal/filter"
	"github.com/sirupsen/logrus"
)

// CacheSyncTask empties the filter caches so that changed filter sets and
// Terms are picked up by a long-running process.
type CacheSyncTask struct {
	lib  *filter.Library
	cron string
}

func NewCacheSyncTask(interval string, lib *filter.Library) *CacheSyncTask {
	return &CacheSyncTask{
		lib:  lib,
		cron: interval,
	}
}

func (c *CacheSyncTask) Name() string {
	return "cache_sync"
}

func (c *CacheSyncTask) Schedule() string {
	return c.cron
}

func (c *CacheSyncTask) Run() {
	c.lib.Purge()
	logrus.Debugf("filter caches purged")
}
