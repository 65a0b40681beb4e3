package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"readersync/internal/client/readwise"
	"readersync/internal/models"
)

type stubRepo struct {
	mu        sync.Mutex
	docs      map[string]models.Document
	state     *models.SyncState
	saves     int
	upsertErr map[string]error
	// upsertErrs is consumed one entry per call before upsertErr applies.
	upsertErrs  map[string][]error
	upsertCalls map[string]int
	stateErr  error
	countErr  error
	saveErr   error
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		docs:        map[string]models.Document{},
		upsertErr:   map[string]error{},
		upsertErrs:  map[string][]error{},
		upsertCalls: map[string]int{},
	}
}

func (s *stubRepo) UpsertDocument(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls[doc.ID]++
	if queued := s.upsertErrs[doc.ID]; len(queued) > 0 {
		s.upsertErrs[doc.ID] = queued[1:]
		return queued[0]
	}
	if err := s.upsertErr[doc.ID]; err != nil {
		return err
	}
	s.docs[doc.ID] = *doc
	return nil
}

func (s *stubRepo) GetDocument(_ context.Context, id string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, nil
	}
	return &doc, nil
}

func (s *stubRepo) CountDocuments(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.countErr != nil {
		return 0, s.countErr
	}
	return int64(len(s.docs)), nil
}

func (s *stubRepo) GetSyncState(context.Context) (*models.SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stateErr != nil {
		return nil, s.stateErr
	}
	if s.state == nil {
		return nil, nil
	}
	cp := *s.state
	return &cp, nil
}

func (s *stubRepo) SaveSyncState(_ context.Context, state *models.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	cp := *state
	s.state = &cp
	s.saves++
	return nil
}

func (s *stubRepo) checkpoint() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil
	}
	return s.state.LastSyncAt
}

type fetchCall struct {
	cursor       string
	updatedAfter *time.Time
}

// stubFetcher serves pages in order; errs[i] replaces page i with an error.
type stubFetcher struct {
	pages  []readwise.Page
	errs   map[int]error
	calls  []fetchCall
	onCall func(n int)
}

func (f *stubFetcher) FetchPage(_ context.Context, cursor string, updatedAfter *time.Time) (readwise.Page, error) {
	n := len(f.calls)
	f.calls = append(f.calls, fetchCall{cursor: cursor, updatedAfter: updatedAfter})
	if f.onCall != nil {
		f.onCall(n)
	}
	if err := f.errs[n]; err != nil {
		return readwise.Page{}, err
	}
	if n >= len(f.pages) {
		return readwise.Page{}, errors.New("unexpected fetch")
	}
	return f.pages[n], nil
}
