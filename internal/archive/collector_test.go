package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSession struct {
	pages      []string
	idx        int
	calls      []string
	fields     map[string]string
	nextClicks int
	missing    string
	shot       []byte
	closed     bool
}

func newFakeSession(pages ...string) *fakeSession {
	return &fakeSession{pages: pages, fields: map[string]string{}}
}

func (f *fakeSession) Navigate(_ context.Context, url string) error {
	f.calls = append(f.calls, "navigate "+url)
	return nil
}

func (f *fakeSession) SetField(_ context.Context, selector, text string) error {
	if selector == f.missing {
		return fmt.Errorf("selector %s not found", selector)
	}
	f.calls = append(f.calls, "set "+selector)
	f.fields[selector] = text
	return nil
}

func (f *fakeSession) Click(_ context.Context, selector string) error {
	if selector == f.missing {
		return fmt.Errorf("selector %s not found", selector)
	}
	f.calls = append(f.calls, "click "+selector)
	if selector == DefaultSelectors().NextPage {
		f.nextClicks++
		f.idx++
	}
	return nil
}

func (f *fakeSession) WaitForSettle(context.Context) error {
	f.calls = append(f.calls, "settle")
	return nil
}

func (f *fakeSession) HTML(context.Context) (string, error) {
	if f.idx >= len(f.pages) {
		return "", errors.New("page index out of range")
	}
	return f.pages[f.idx], nil
}

func (f *fakeSession) Screenshot(context.Context) ([]byte, error) {
	f.calls = append(f.calls, "screenshot")
	return f.shot, nil
}

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

type fakeOpener struct {
	session *fakeSession
	err     error
	opened  int
}

func (o *fakeOpener) Open(context.Context) (Session, error) {
	o.opened++
	if o.err != nil {
		return nil, o.err
	}
	return o.session, nil
}

type recordingObserver struct {
	markers []PageMarker
}

func (r *recordingObserver) PageCollected(_ DateRange, marker PageMarker, _ int) {
	r.markers = append(r.markers, marker)
}

// gridHTML renders a minimal RadGrid page.
func gridHTML(current, total string, rows ...Row) string {
	var b strings.Builder
	b.WriteString(`<html><body><table class="rgMasterTable"><tfoot><tr><td>`)
	fmt.Fprintf(&b, `<a class="rgCurrentPage"><span>%s</span></a>`, current)
	fmt.Fprintf(&b, `<div class="rgInfoPart">Page <strong>%s</strong> of <strong>%s</strong></div>`, current, total)
	b.WriteString(`<input type="submit" class="rgPageNext"></td></tr></tfoot><tbody>`)
	if len(rows) == 0 {
		b.WriteString(`<tr class="rgNoRecords"><td>No records to display.</td></tr>`)
	}
	for _, row := range rows {
		b.WriteString("<tr>")
		for _, cell := range row {
			fmt.Fprintf(&b, "<td>%s</td>", cell)
		}
		b.WriteString("</tr>")
	}
	b.WriteString(`</tbody></table></body></html>`)
	return b.String()
}

func feb2021() DateRange {
	return DateRange{
		Start:        time.Date(2021, time.February, 1, 0, 0, 0, 0, time.UTC),
		End:          time.Date(2021, time.February, 28, 0, 0, 0, 0, time.UTC),
		StartLabel:   "02/01/2021",
		EndLabel:     "02/28/2021",
		CheckpointID: "02_01_2021-02_28_2021",
	}
}

func newTestCollector(t *testing.T, opener SessionOpener, cfg Config, obs Observer) *Collector {
	t.Helper()
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Selectors == (Selectors{}) {
		cfg.Selectors = DefaultSelectors()
	}
	c, err := NewCollector(opener, cfg, obs, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestCollectorThreePages(t *testing.T) {
	t.Parallel()

	session := newFakeSession(
		gridHTML("1", "3", Row{"A"}),
		gridHTML("2", "3", Row{"B"}),
		gridHTML("3", "3", Row{"C"}),
	)
	obs := &recordingObserver{}
	c := newTestCollector(t, &fakeOpener{session: session}, Config{}, obs)

	got, err := c.Collect(context.Background(), feb2021())
	require.NoError(t, err)
	if diff := cmp.Diff([]Row{{"A"}, {"B"}, {"C"}}, got.Rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 3, got.Pages)
	require.Equal(t, feb2021(), got.Range)
	require.Equal(t, 2, session.nextClicks)
	require.Len(t, obs.markers, 3)
	require.True(t, session.closed)
}

func TestCollectorFillsFormBeforeFetching(t *testing.T) {
	t.Parallel()

	sel := DefaultSelectors()
	session := newFakeSession(gridHTML("1", "1", Row{"only"}))
	c := newTestCollector(t, &fakeOpener{session: session}, Config{}, nil)

	_, err := c.Collect(context.Background(), feb2021())
	require.NoError(t, err)

	require.Equal(t, []string{
		"navigate " + DefaultURL,
		"set " + sel.StartDate,
		"set " + sel.EndDate,
		"click " + sel.Fetch,
		"settle",
	}, session.calls)
	require.Equal(t, "02/01/2021", session.fields[sel.StartDate])
	require.Equal(t, "02/28/2021", session.fields[sel.EndDate])
	require.Zero(t, session.nextClicks)
}

func TestCollectorEmptyRange(t *testing.T) {
	t.Parallel()

	session := newFakeSession(gridHTML("1", "1"))
	c := newTestCollector(t, &fakeOpener{session: session}, Config{}, nil)

	got, err := c.Collect(context.Background(), feb2021())
	require.NoError(t, err)
	require.NotNil(t, got.Rows)
	require.Empty(t, got.Rows)
	require.Equal(t, 1, got.Pages)
}

func TestCollectorMissingSelectorIsFatal(t *testing.T) {
	t.Parallel()

	session := newFakeSession(gridHTML("1", "1"))
	session.missing = DefaultSelectors().EndDate
	c := newTestCollector(t, &fakeOpener{session: session}, Config{}, nil)

	_, err := c.Collect(context.Background(), feb2021())
	require.Error(t, err)
	require.Contains(t, err.Error(), "set end date")
	require.True(t, session.closed)
}

func TestCollectorOpenError(t *testing.T) {
	t.Parallel()

	c := newTestCollector(t, &fakeOpener{err: errors.New("chrome not found")}, Config{}, nil)
	_, err := c.Collect(context.Background(), feb2021())
	require.ErrorContains(t, err, "open session")
}

func TestCollectorPageCap(t *testing.T) {
	t.Parallel()

	session := newFakeSession(
		gridHTML("1", "9", Row{"A"}),
		gridHTML("2", "9", Row{"B"}),
		gridHTML("3", "9", Row{"C"}),
	)
	c := newTestCollector(t, &fakeOpener{session: session}, Config{MaxPages: 2}, nil)
	_, err := c.Collect(context.Background(), feb2021())
	require.ErrorIs(t, err, ErrPageLimit)
	require.Equal(t, 1, session.nextClicks)
}

func TestCollectorSavesFormScreenshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	session := newFakeSession(gridHTML("1", "1"))
	session.shot = []byte("png-bytes")
	c := newTestCollector(t, &fakeOpener{session: session}, Config{ScreenshotDir: dir}, nil)

	_, err := c.Collect(context.Background(), feb2021())
	require.NoError(t, err)

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(filepath.Join(dir, "02_01_2021-02_28_2021-before_get_data.png"))
	require.NoError(t, err)
	require.Equal(t, "png-bytes", string(data))
}

func TestNewCollectorValidation(t *testing.T) {
	t.Parallel()

	_, err := NewCollector(nil, Config{URL: DefaultURL}, nil, nil)
	require.Error(t, err)
	_, err = NewCollector(&fakeOpener{}, Config{}, nil, nil)
	require.Error(t, err)
	_, err = NewCollector(&fakeOpener{}, Config{URL: DefaultURL}, nil, nil)
	require.ErrorContains(t, err, "start_date")
	_, err = NewCollector(&fakeOpener{}, Config{URL: DefaultURL, Selectors: DefaultSelectors(), MaxPages: -1}, nil, nil)
	require.Error(t, err)
	_, err = NewCollector(&fakeOpener{}, Config{URL: DefaultURL, Selectors: DefaultSelectors()}, nil, nil)
	require.NoError(t, err)
}
