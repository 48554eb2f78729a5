package archive

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func loadFixture(t *testing.T, name string) *goquery.Document {
	t.Helper()
	// #nosec G304 -- fixtures live in the package testdata directory.
	f, err := os.Open(filepath.Join("testdata", name))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	doc, err := goquery.NewDocumentFromReader(f)
	require.NoError(t, err)
	return doc
}

func TestParsePageExtractsRowsAndMarker(t *testing.T) {
	t.Parallel()

	res, err := ParsePage(loadFixture(t, "page2of3.html"), DefaultSelectors())
	require.NoError(t, err)

	want := []Row{
		{"2/3/2021 7:15 AM", "NYCT Subway", "Delays", "Northbound A trains\nare running with delays."},
		{"2/3/2021 7:42 AM", "LIRR", "Service Change", "Trains are running on or close to schedule."},
	}
	if diff := cmp.Diff(want, res.Rows); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, PageMarker{Current: "2", Total: "3"}, res.Marker)
	require.False(t, res.Marker.Last())
}

func TestParsePageSkipsNoRecordsRow(t *testing.T) {
	t.Parallel()

	res, err := ParsePage(loadFixture(t, "norecords.html"), DefaultSelectors())
	require.NoError(t, err)
	require.NotNil(t, res.Rows)
	require.Empty(t, res.Rows)
	require.True(t, res.Marker.Last())
}

func TestParsePageMissingMarker(t *testing.T) {
	t.Parallel()

	_, err := ParsePage(loadFixture(t, "nopager.html"), DefaultSelectors())
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrMarkerNotFound))
}

func TestParsePageMissingTable(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><body><p>maintenance</p></body></html>"))
	require.NoError(t, err)
	_, err = ParsePage(doc, DefaultSelectors())
	require.ErrorIs(t, err, ErrTableNotFound)
}

func TestPageMarkerLastIsStringEquality(t *testing.T) {
	t.Parallel()

	cases := []struct {
		marker PageMarker
		last   bool
	}{
		{PageMarker{Current: "1", Total: "1"}, true},
		{PageMarker{Current: "3", Total: "3"}, true},
		{PageMarker{Current: "2", Total: "3"}, false},
		{PageMarker{Current: "01", Total: "1"}, false},
		{PageMarker{Current: "", Total: ""}, true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.last, tc.marker.Last(), "marker %+v", tc.marker)
	}
}
