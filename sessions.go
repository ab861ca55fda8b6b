package main

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"dispatch-board/api"
	"dispatch-board/board"
	"dispatch-board/domain"
	"dispatch-board/syncer"
)

// sessionManager holds one hydrated board per site. Sites hydrate lazily
// on first request; a failed hydrate is retried on the next one.
type sessionManager struct {
	remote       syncer.Remote
	visibleWeeks int

	mu    sync.Mutex
	sites map[string]*siteSession
}

type siteSession struct {
	mu      sync.Mutex
	store   *board.Store
	adapter *syncer.Adapter
}

func newSessionManager(remote syncer.Remote, visibleWeeks int) *sessionManager {
	return &sessionManager{
		remote:       remote,
		visibleWeeks: visibleWeeks,
		sites:        make(map[string]*siteSession),
	}
}

func (m *sessionManager) session(site string) *siteSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sites[site]
	if s == nil {
		s = &siteSession{}
		m.sites[site] = s
	}
	return s
}

// Board implements api.Sessions.
func (m *sessionManager) Board(ctx context.Context, site string) (api.Board, error) {
	s := m.session(site)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil {
		return s.store, nil
	}

	store := board.NewStore()
	adapter := syncer.New(syncer.Config{
		Site:         site,
		Anchor:       weekStart(time.Now()),
		VisibleWeeks: m.visibleWeeks,
	}, store, m.remote, func(msg string) {
		log.WithField("site", site).Warn(msg)
	})
	store.SetMirror(adapter)
	if err := adapter.Load(ctx); err != nil {
		adapter.Close()
		return nil, err
	}
	s.store = store
	s.adapter = adapter
	return s.store, nil
}

// rehydrate refreshes a site that is already loaded. Sites nobody has
// requested yet have nothing to refresh.
func (m *sessionManager) rehydrate(ctx context.Context, site string) {
	m.mu.Lock()
	s := m.sites[site]
	m.mu.Unlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	adapter := s.adapter
	s.mu.Unlock()
	if adapter != nil {
		adapter.Rehydrate(ctx)
	}
}

// close drains every site's mirror queue and stops its worker.
func (m *sessionManager) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sites {
		s.mu.Lock()
		if s.adapter != nil {
			s.adapter.Flush()
			s.adapter.Close()
		}
		s.mu.Unlock()
	}
}

// weekStart returns the Monday of the week containing t.
func weekStart(t time.Time) domain.Date {
	d := domain.DateOf(t)
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	return d.AddDays(1 - wd)
}

// watchUpdates relays board change signals from the push channel: loaded
// sites re-hydrate and their stream subscribers get woken. Blocks until
// ctx is cancelled.
func watchUpdates(ctx context.Context, rc *redis.Client, channel string, mgr *sessionManager, broker *api.UpdateBroker) {
	for {
		sub := rc.Subscribe(ctx, channel)
		for msg := range sub.Channel() {
			var ev struct {
				Site string `json:"site"`
			}
			if err := sonic.UnmarshalString(msg.Payload, &ev); err != nil || ev.Site == "" {
				log.WithField("payload", msg.Payload).Warn("unparseable board update")
				continue
			}
			mgr.rehydrate(ctx, ev.Site)
			broker.Notify(ev.Site)
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		log.Error("board update channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
