package app_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tsdataclinic/mta/internal/app"
	"github.com/tsdataclinic/mta/internal/archive"
	"github.com/tsdataclinic/mta/internal/browser"
	ckmemory "github.com/tsdataclinic/mta/internal/checkpoint/memory"
	"github.com/tsdataclinic/mta/internal/config"
	"github.com/tsdataclinic/mta/internal/driver"
	"github.com/tsdataclinic/mta/internal/notify"
	pubmemory "github.com/tsdataclinic/mta/internal/notify/memory"
	"github.com/tsdataclinic/mta/internal/planner"
)

// fakeArchive serves two pages for January and an empty grid otherwise.
type fakeArchive struct {
	mu      sync.Mutex
	starts  int
	opens   int
	closed  int
	failFor string
}

func (f *fakeArchive) factory(_ browser.Config, _ *zap.Logger) (app.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f, nil
}

func (f *fakeArchive) Open(context.Context) (archive.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	return &fakeSession{archive: f, page: 1}, nil
}

func (f *fakeArchive) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

type fakeSession struct {
	archive *fakeArchive
	start   string
	page    int
}

func (s *fakeSession) Navigate(context.Context, string) error { return nil }

func (s *fakeSession) SetField(_ context.Context, selector, text string) error {
	if selector == archive.DefaultSelectors().StartDate {
		s.start = text
	}
	return nil
}

func (s *fakeSession) Click(_ context.Context, selector string) error {
	if selector == archive.DefaultSelectors().NextPage {
		s.page++
	}
	return nil
}

func (s *fakeSession) WaitForSettle(context.Context) error {
	if s.start != "" && s.start == s.archive.failFor {
		return errors.New("settle timeout")
	}
	return nil
}

func (s *fakeSession) HTML(context.Context) (string, error) {
	if s.start != "01/01/2018" {
		return grid("1", "1"), nil
	}
	return grid(fmt.Sprint(s.page), "2", fmt.Sprintf("row-%d", s.page)), nil
}

func (s *fakeSession) Close() error { return nil }

func grid(current, total string, cells ...string) string {
	var b strings.Builder
	b.WriteString(`<html><body><table class="rgMasterTable"><tfoot><tr><td>`)
	fmt.Fprintf(&b, `<a class="rgCurrentPage"><span>%s</span></a>`, current)
	fmt.Fprintf(&b, `<div class="rgInfoPart">Page <strong>%s</strong> of <strong>%s</strong></div>`, current, total)
	b.WriteString(`</td></tr></tfoot><tbody>`)
	if len(cells) == 0 {
		b.WriteString(`<tr class="rgNoRecords"><td>No records to display.</td></tr>`)
	}
	for _, c := range cells {
		fmt.Fprintf(&b, `<tr><td>%s</td><td>NYCT Subway</td></tr>`, c)
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.LoadWithEnvFile("", "")
	require.NoError(t, err)
	cfg.Storage.Backend = config.BackendMemory
	cfg.Browser.ActionsPerSecond = 0
	return cfg
}

func TestRunCollectsYearAndResumes(t *testing.T) {
	t.Parallel()

	fa := &fakeArchive{}
	store := ckmemory.New()
	pub := pubmemory.New()
	var out bytes.Buffer
	cfg := testConfig(t)
	cfg.Metrics.Textfile = filepath.Join(t.TempDir(), "mtaalerts.prom")

	a, err := app.Build(context.Background(), cfg, zap.NewNop(),
		app.WithStore(store),
		app.WithBrowserFactory(fa.factory),
		app.WithPublisher(pub, "checkpoints"),
		app.WithOutput(&out),
	)
	require.NoError(t, err)
	defer a.Close()

	outcomes, err := a.Run(context.Background(), 2018)
	require.NoError(t, err)
	require.Len(t, outcomes, planner.Months)
	assert.Equal(t, 1, fa.starts)
	assert.Equal(t, planner.Months, fa.opens)
	assert.Equal(t, 1, fa.closed)

	jan, ok := store.Get("01_01_2018-01_31_2018")
	require.True(t, ok)
	assert.JSONEq(t, `[["row-1","NYCT Subway"],["row-2","NYCT Subway"]]`, string(jan))
	feb, ok := store.Get("02_01_2018-02_28_2018")
	require.True(t, ok)
	assert.Equal(t, "[]", string(feb))
	assert.Equal(t, 2, outcomes[0].Pages)

	msgs := pub.Messages()
	require.Len(t, msgs, planner.Months)
	event, ok := msgs[0].Payload.(notify.CheckpointEvent)
	require.True(t, ok)
	assert.NotEmpty(t, event.RunID)

	assert.Contains(t, out.String(), "01/01/2018 - 01/31/2018")
	prom, err := os.ReadFile(cfg.Metrics.Textfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "archive_ranges_total")

	outcomes, err = a.Run(context.Background(), 2018)
	require.NoError(t, err)
	for _, o := range outcomes {
		assert.Equal(t, driver.StatusSkipped, o.Status)
	}
	assert.Equal(t, 1, fa.starts, "fully checkpointed year must not start a browser")
	assert.Equal(t, planner.Months, fa.opens)
}

func TestRunStopsAtFailingMonth(t *testing.T) {
	t.Parallel()

	fa := &fakeArchive{failFor: "04/01/2018"}
	store := ckmemory.New()
	a, err := app.Build(context.Background(), testConfig(t), nil,
		app.WithStore(store),
		app.WithBrowserFactory(fa.factory),
		app.WithOutput(&bytes.Buffer{}),
	)
	require.NoError(t, err)
	defer a.Close()

	outcomes, err := a.Run(context.Background(), 2018)
	require.ErrorContains(t, err, "04_01_2018-04_30_2018")
	assert.Len(t, outcomes, 3)
	assert.Equal(t, 3, store.Len())
}

func TestRunBrowserStartFailure(t *testing.T) {
	t.Parallel()

	failing := func(browser.Config, *zap.Logger) (app.Browser, error) {
		return nil, errors.New("chrome not found")
	}
	a, err := app.Build(context.Background(), testConfig(t), nil,
		app.WithStore(ckmemory.New()),
		app.WithBrowserFactory(failing),
		app.WithOutput(&bytes.Buffer{}),
	)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Run(context.Background(), 2018)
	require.ErrorContains(t, err, "chrome not found")
}

func TestPlanReportsCheckpoints(t *testing.T) {
	t.Parallel()

	store := ckmemory.New()
	_, err := store.Write(context.Background(), "03_01_2018-03_31_2018", []byte("[]"))
	require.NoError(t, err)
	fa := &fakeArchive{}
	a, err := app.Build(context.Background(), testConfig(t), nil,
		app.WithStore(store),
		app.WithBrowserFactory(fa.factory),
	)
	require.NoError(t, err)
	defer a.Close()

	entries, err := a.Plan(context.Background(), 2018)
	require.NoError(t, err)
	require.Len(t, entries, planner.Months)
	assert.True(t, entries[2].Done)
	assert.False(t, entries[0].Done)
	assert.Zero(t, fa.starts)
}

func TestBuildLocalStore(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.Dir = filepath.Join(t.TempDir(), "data")

	a, err := app.Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	ok, err := a.Store().Exists(context.Background(), "01_01_2018-01_31_2018")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = os.Stat(cfg.Storage.Dir)
	require.NoError(t, err)
}

func TestBuildUnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Backend = "s3"
	_, err := app.Build(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "s3")
}
