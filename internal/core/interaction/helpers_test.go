package interaction_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samirrijal/planb/internal/core/domain"
	"github.com/samirrijal/planb/internal/core/interaction"
	"github.com/samirrijal/planb/internal/core/reconcile"
)

var errBoom = errors.New("boom")

type fakeStore struct {
	mu        sync.Mutex
	places    map[string]domain.Place
	nextID    int
	fetchErr  error
	saveErr   error
	deleteErr error
	fetched   []string
	saved     []domain.Place
	deleted   []string
}

func newFakeStore(places ...domain.Place) *fakeStore {
	s := &fakeStore{places: map[string]domain.Place{}}
	for _, p := range places {
		s.places[p.ID] = p
	}
	return s
}

func (s *fakeStore) FetchPlace(_ context.Context, id string) (*domain.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetched = append(s.fetched, id)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	p, ok := s.places[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (s *fakeStore) SavePlace(_ context.Context, place *domain.Place) (*domain.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	p := place.Clone()
	if p.ID == "" {
		s.nextID++
		p.ID = fmt.Sprintf("new-%d", s.nextID)
	}
	s.places[p.ID] = p
	s.saved = append(s.saved, p)
	return &p, nil
}

func (s *fakeStore) DeletePlace(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	delete(s.places, id)
	s.deleted = append(s.deleted, id)
	return nil
}

// taskQueue is a manual executor: tasks run only when the test says so.
type taskQueue struct {
	tasks []func()
}

func (q *taskQueue) exec(task func()) { q.tasks = append(q.tasks, task) }

func (q *taskQueue) runAll() {
	for len(q.tasks) > 0 {
		t := q.tasks[0]
		q.tasks = q.tasks[1:]
		t()
	}
}

// runAt runs and removes the task at index i.
func (q *taskQueue) runAt(t *testing.T, i int) {
	t.Helper()
	require.Less(t, i, len(q.tasks))
	task := q.tasks[i]
	q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
	task()
}

type countingObserver struct {
	transitions []string
	stale       map[string]int
}

func (o *countingObserver) Transition(trigger string, _, _ interaction.Mode) {
	o.transitions = append(o.transitions, trigger)
}

func (o *countingObserver) StaleResult(kind string) {
	if o.stale == nil {
		o.stale = map[string]int{}
	}
	o.stale[kind]++
}

type fixture struct {
	m     *interaction.Machine
	store *fakeStore
	queue *taskQueue
	obs   *countingObserver
	eng   *reconcile.Engine
}

func newFixture(t *testing.T, places ...domain.Place) *fixture {
	t.Helper()
	f := &fixture{
		store: newFakeStore(places...),
		queue: &taskQueue{},
		obs:   &countingObserver{},
		eng:   reconcile.New(reconcile.WithRandSource(rand.NewPCG(1, 2))),
	}
	f.m = interaction.New(f.store, f.eng,
		interaction.WithExecutor(f.queue.exec),
		interaction.WithObserver(f.obs),
		interaction.WithDefaultCategory("Hütte"),
	)
	t.Cleanup(f.m.Close)
	return f
}

func place(id, name string, lon, lat float64) domain.Place {
	return domain.Place{
		ID: id,
		Properties: map[string]any{
			domain.PropName:        name,
			domain.PropDescription: name + " description",
			domain.PropCategory:    "Gasthaus",
		},
		Geometry: domain.GeoPoint{Lon: lon, Lat: lat},
	}
}
