package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/movie-catalog/internal/assets"
	"github.com/Clark-Hu/movie-catalog/internal/cache"
	"github.com/Clark-Hu/movie-catalog/internal/domain"
	"github.com/Clark-Hu/movie-catalog/internal/logging"
)

func ptr[T any](v T) *T { return &v }

// fakeStore is an in-memory MovieStore that counts calls.
type fakeStore struct {
	mu     sync.Mutex
	movies map[int64]domain.Movie
	nextID int64
	calls  map[string]int
}

func newFakeStore(movies ...domain.Movie) *fakeStore {
	s := &fakeStore{movies: make(map[int64]domain.Movie), calls: make(map[string]int)}
	for _, m := range movies {
		s.movies[m.ID] = m
		if m.ID > s.nextID {
			s.nextID = m.ID
		}
	}
	return s
}

func (s *fakeStore) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *fakeStore) put(movie domain.Movie) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movies[movie.ID] = movie
}

func (s *fakeStore) FindByID(_ context.Context, id int64) (domain.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["FindByID"]++
	m, ok := s.movies[id]
	if !ok {
		return domain.Movie{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *fakeStore) FindByExternalID(_ context.Context, externalID int64) (domain.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["FindByExternalID"]++
	for _, m := range s.movies {
		if m.ExternalID != nil && *m.ExternalID == externalID {
			return m, nil
		}
	}
	return domain.Movie{}, domain.ErrNotFound
}

func (s *fakeStore) FindAll(context.Context) ([]domain.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["FindAll"]++
	return s.sorted(), nil
}

func (s *fakeStore) FindMany(_ context.Context, filter domain.MovieFilter) ([]domain.Movie, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["FindMany"]++
	out := make([]domain.Movie, 0)
	for _, m := range s.sorted() {
		if filter.MinPopularity != nil && m.Popularity <= *filter.MinPopularity {
			continue
		}
		out = append(out, m)
	}
	return out, int64(len(out)), nil
}

func (s *fakeStore) Insert(_ context.Context, movie domain.Movie) (domain.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Insert"]++
	s.nextID++
	movie.ID = s.nextID
	s.movies[movie.ID] = movie
	return movie, nil
}

func (s *fakeStore) Save(_ context.Context, movie domain.Movie) (domain.Movie, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Save"]++
	if _, ok := s.movies[movie.ID]; !ok {
		return domain.Movie{}, domain.ErrNotFound
	}
	s.movies[movie.ID] = movie
	return movie, nil
}

func (s *fakeStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["Delete"]++
	if _, ok := s.movies[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.movies, id)
	return nil
}

func (s *fakeStore) sorted() []domain.Movie {
	out := make([]domain.Movie, 0, len(s.movies))
	for _, m := range s.movies {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// fakeAssets records uploads and destroys.
type fakeAssets struct {
	mu         sync.Mutex
	uploads    int
	destroyed  []string
	failUpload string
	failErr    error
}

func (a *fakeAssets) Upload(_ context.Context, file assets.File) (domain.ImageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if file.Name == a.failUpload {
		return domain.ImageRef{}, fmt.Errorf("image upload failed: %w", domain.ErrUpstream)
	}
	a.uploads++
	return domain.ImageRef{URL: "https://cdn.example/" + file.Name, AssetID: "ProfileImage/" + file.Name}, nil
}

func (a *fakeAssets) Destroy(_ context.Context, assetID string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.destroyed = append(a.destroyed, assetID)
	if a.failErr != nil {
		return "", a.failErr
	}
	return assets.ResultOK, nil
}

func (a *fakeAssets) Destroyed() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.destroyed...)
}

// recordingBackend logs mutating cache operations in order.
type recordingBackend struct {
	*cache.MemoryBackend
	mu  sync.Mutex
	ops []string
}

func (r *recordingBackend) Delete(ctx context.Context, keys ...string) error {
	r.mu.Lock()
	for _, k := range keys {
		r.ops = append(r.ops, "del "+k)
	}
	r.mu.Unlock()
	return r.MemoryBackend.Delete(ctx, keys...)
}

func (r *recordingBackend) InvalidateTag(ctx context.Context, tag string) error {
	r.mu.Lock()
	r.ops = append(r.ops, "tag "+tag)
	r.mu.Unlock()
	return r.MemoryBackend.InvalidateTag(ctx, tag)
}

func (r *recordingBackend) Ops() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ops...)
}

func (r *recordingBackend) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}

type fixture struct {
	store   *fakeStore
	assets  *fakeAssets
	backend *recordingBackend
	cache   *cache.Cache
	svc     *Service
}

func newFixture(t *testing.T, movies ...domain.Movie) *fixture {
	t.Helper()
	mem, err := cache.NewMemoryBackend(1 << 20)
	require.NoError(t, err)
	backend := &recordingBackend{MemoryBackend: mem}
	c := cache.New(backend, cache.Options{Name: "memory", Logger: logging.Nop()})
	t.Cleanup(func() { _ = c.Close() })

	store := newFakeStore(movies...)
	fa := &fakeAssets{}
	return &fixture{
		store:   store,
		assets:  fa,
		backend: backend,
		cache:   c,
		svc:     NewService(store, c, fa, logging.Nop()),
	}
}

func TestFilterSecondCallServedFromCache(t *testing.T) {
	f := newFixture(t,
		domain.Movie{ID: 1, Title: "Low", Popularity: 10},
		domain.Movie{ID: 2, Title: "High", Popularity: 80},
	)
	ctx := context.Background()
	filter := domain.MovieFilter{MinPopularity: ptr(50.0)}

	first, err := f.svc.Filter(ctx, filter)
	require.NoError(t, err)
	second, err := f.svc.Filter(ctx, domain.MovieFilter{MinPopularity: ptr(50.0)})
	require.NoError(t, err)

	assert.Equal(t, 1, f.store.count("FindMany"))
	assert.Equal(t, int64(1), first.Total)
	assert.Equal(t, 1, first.Page)
	assert.Equal(t, 10, first.Limit)
	assert.Equal(t, first.Total, second.Total)
	require.Len(t, second.Data, 1)
	assert.Equal(t, "High", second.Data[0].Title)
}

func TestFilterRejectsInvalidSort(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Filter(context.Background(), domain.MovieFilter{SortBy: ptr("budget")})
	assert.True(t, errors.Is(err, domain.ErrInvalid))
	assert.Zero(t, f.store.count("FindMany"))
}

func TestGetByIDServesStaleUntilInvalidated(t *testing.T) {
	f := newFixture(t, domain.Movie{ID: 4, Title: "Original"})
	ctx := context.Background()

	got, err := f.svc.GetByID(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "Original", got.Title)

	var cached domain.Movie
	require.True(t, f.cache.Get(ctx, cache.MovieKey(4), &cached))

	f.store.put(domain.Movie{ID: 4, Title: "Changed out of band"})

	got, err = f.svc.GetByID(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "Original", got.Title)
	assert.Equal(t, 1, f.store.count("FindByID"))

	f.svc.Invalidate(ctx, 4)
	got, err = f.svc.GetByID(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "Changed out of band", got.Title)
}

func TestGetByIDNotFoundIsNotCached(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetByID(ctx, 77)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	_, err = f.svc.GetByID(ctx, 77)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Equal(t, 2, f.store.count("FindByID"))
}

func TestFindAllCached(t *testing.T) {
	f := newFixture(t, domain.Movie{ID: 1, Title: "A"}, domain.Movie{ID: 2, Title: "B"})
	ctx := context.Background()

	first, err := f.svc.FindAll(ctx)
	require.NoError(t, err)
	second, err := f.svc.FindAll(ctx)
	require.NoError(t, err)
	assert.Len(t, first, 2)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, f.store.count("FindAll"))
}

func TestUpdateUnknownMovieTouchesNoKeys(t *testing.T) {
	f := newFixture(t, domain.Movie{ID: 1, Title: "Only"})
	ctx := context.Background()

	_, err := f.svc.FindAll(ctx)
	require.NoError(t, err)
	f.backend.Reset()

	_, err = f.svc.Update(ctx, 9, domain.MovieFields{Title: ptr("X")}, Images{})
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	assert.Empty(t, f.backend.Ops())
	assert.Zero(t, f.store.count("Save"))

	var all []domain.Movie
	assert.True(t, f.cache.Get(ctx, cache.AllMoviesKey, &all))
}

func TestUpdateInvalidatesInOrder(t *testing.T) {
	f := newFixture(t, domain.Movie{ID: 1, Title: "Before", Popularity: 60})
	ctx := context.Background()

	_, err := f.svc.GetByID(ctx, 1)
	require.NoError(t, err)
	_, err = f.svc.FindAll(ctx)
	require.NoError(t, err)
	_, err = f.svc.Filter(ctx, domain.MovieFilter{})
	require.NoError(t, err)
	f.backend.Reset()

	updated, err := f.svc.Update(ctx, 1, domain.MovieFields{Title: ptr("After")}, Images{})
	require.NoError(t, err)
	assert.Equal(t, "After", updated.Title)
	assert.Equal(t, []string{"del movie:1", "del movies:all", "tag collection:movies"}, f.backend.Ops())

	got, err := f.svc.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "After", got.Title)

	page, err := f.svc.Filter(ctx, domain.MovieFilter{})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	assert.Equal(t, "After", page.Data[0].Title)
}

func TestUpdateReplacesImagesAfterUpload(t *testing.T) {
	f := newFixture(t, domain.Movie{
		ID:           1,
		Title:        "Imaged",
		PosterPath:   domain.ImageRef{URL: "https://cdn.example/old-poster", AssetID: "ProfileImage/old-poster"},
		BackdropPath: domain.ImageRef{URL: "https://cdn.example/old-backdrop", AssetID: "ProfileImage/old-backdrop"},
	})

	updated, err := f.svc.Update(context.Background(), 1, domain.MovieFields{}, Images{
		Poster: &assets.File{Name: "new-poster", Content: []byte("p")},
	})
	require.NoError(t, err)
	assert.Equal(t, "ProfileImage/new-poster", updated.PosterPath.AssetID)
	assert.Equal(t, "ProfileImage/old-backdrop", updated.BackdropPath.AssetID)
	assert.Equal(t, []string{"ProfileImage/old-poster"}, f.assets.Destroyed())
}

func TestUploadFailureKeepsPriorAsset(t *testing.T) {
	f := newFixture(t, domain.Movie{
		ID:         1,
		ExternalID: ptr(int64(550)),
		Title:      "Imaged",
		PosterPath: domain.ImageRef{URL: "https://cdn.example/old", AssetID: "ProfileImage/old"},
	})
	f.assets.failUpload = "broken"
	f.backend.Reset()

	_, err := f.svc.CreateOrUpdate(context.Background(), domain.MovieFields{ExternalID: ptr(int64(550))}, Images{
		Poster: &assets.File{Name: "broken", Content: []byte("p")},
	})
	assert.True(t, errors.Is(err, domain.ErrUpstream))
	assert.Empty(t, f.assets.Destroyed())
	assert.Zero(t, f.store.count("Save"))
	assert.Empty(t, f.backend.Ops())

	stored, _ := f.store.FindByID(context.Background(), 1)
	assert.Equal(t, "ProfileImage/old", stored.PosterPath.AssetID)
}

func TestPartialUploadFailureDiscardsNewAsset(t *testing.T) {
	f := newFixture(t)
	f.assets.failUpload = "broken"

	_, err := f.svc.CreateOrUpdate(context.Background(), domain.MovieFields{ExternalID: ptr(int64(1)), Title: ptr("T")}, Images{
		Poster:   &assets.File{Name: "fine", Content: []byte("p")},
		Backdrop: &assets.File{Name: "broken", Content: []byte("b")},
	})
	require.Error(t, err)
	assert.Zero(t, f.store.count("Insert"))
	// The poster may or may not have finished before the group was cancelled.
	for _, id := range f.assets.Destroyed() {
		assert.Equal(t, "ProfileImage/fine", id)
	}
}

func TestCreateOrUpdateRequiresExternalID(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateOrUpdate(context.Background(), domain.MovieFields{Title: ptr("No id")}, Images{})
	assert.True(t, errors.Is(err, domain.ErrInvalid))
	assert.Zero(t, f.store.count("FindByExternalID"))
}

func TestCreateOrUpdateInsertsThenMerges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Filter(ctx, domain.MovieFilter{})
	require.NoError(t, err)
	_, err = f.svc.FindAll(ctx)
	require.NoError(t, err)
	f.backend.Reset()

	created, err := f.svc.CreateOrUpdate(ctx, domain.MovieFields{
		ExternalID: ptr(int64(603)),
		Title:      ptr("The Matrix"),
		Popularity: ptr(88.0),
		Genre:      ptr(domain.GenreAction),
	}, Images{Poster: &assets.File{Name: "matrix", Content: []byte("p")}})
	require.NoError(t, err)
	assert.Equal(t, "ProfileImage/matrix", created.PosterPath.AssetID)
	assert.Equal(t, []string{"del movies:all", "tag collection:movies"}, f.backend.Ops())

	page, err := f.svc.Filter(ctx, domain.MovieFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)

	f.backend.Reset()
	merged, err := f.svc.CreateOrUpdate(ctx, domain.MovieFields{
		ExternalID: ptr(int64(603)),
		Overview:   ptr("Neo"),
	}, Images{})
	require.NoError(t, err)
	assert.Equal(t, created.ID, merged.ID)
	assert.Equal(t, "The Matrix", merged.Title)
	assert.Equal(t, "Neo", merged.Overview)
	assert.Equal(t, "ProfileImage/matrix", merged.PosterPath.AssetID)
	assert.Equal(t, 1, f.store.count("Insert"))
	assert.Equal(t, 1, f.store.count("Save"))
	assert.Equal(t, []string{fmt.Sprintf("del movie:%d", created.ID), "del movies:all", "tag collection:movies"}, f.backend.Ops())
	assert.Empty(t, f.assets.Destroyed())
}

func TestDeleteDestroysAssetsAndInvalidates(t *testing.T) {
	f := newFixture(t, domain.Movie{
		ID:           3,
		Title:        "Doomed",
		PosterPath:   domain.ImageRef{AssetID: "ProfileImage/p"},
		BackdropPath: domain.ImageRef{AssetID: "ProfileImage/b"},
	})
	f.assets.failErr = errors.New("host unreachable")

	msg, err := f.svc.Delete(context.Background(), 3)
	require.NoError(t, err, "destroy failures must not fail the delete")
	assert.Equal(t, DeletedMessage, msg)
	assert.ElementsMatch(t, []string{"ProfileImage/p", "ProfileImage/b"}, f.assets.Destroyed())
	assert.Equal(t, []string{"del movie:3", "del movies:all", "tag collection:movies"}, f.backend.Ops())

	_, err = f.svc.Delete(context.Background(), 3)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestCacheOutageFallsThroughToStore(t *testing.T) {
	store := newFakeStore(domain.Movie{ID: 1, Title: "Survivor"})
	c := cache.New(downBackend{}, cache.Options{Name: "down", FailureThreshold: 1, OpenTimeout: time.Hour, Logger: logging.Nop()})
	svc := NewService(store, c, &fakeAssets{}, logging.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := svc.GetByID(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "Survivor", got.Title)
	}
	_, err := svc.Update(ctx, 1, domain.MovieFields{Title: ptr("Still here")}, Images{})
	require.NoError(t, err)
	assert.Equal(t, 4, store.count("FindByID"))
}

type downBackend struct{}

var errDown = errors.New("connection refused")

func (downBackend) Get(context.Context, string) ([]byte, bool, error) { return nil, false, errDown }
func (downBackend) Set(context.Context, string, []byte, time.Duration, ...string) error {
	return errDown
}
func (downBackend) Delete(context.Context, ...string) error { return errDown }
func (downBackend) InvalidateTag(context.Context, string) error { return errDown }
func (downBackend) Close() error { return nil }
