package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrevell/slotstream/internal/errs"
)

const catalogPage = `<!DOCTYPE html>
<html><body>
<h2 id="husky">Pixel 8 Pro</h2>
<table>
  <tr><th>Version</th><th>Download</th></tr>
  <tr><td>15.0.0 (AP4A.231231.001)</td><td><a href="/dl/husky-old.zip">Link</a></td></tr>
  <tr><td>15.0.0 (AP4A.240101.002)</td><td><a href="/dl/husky-same.zip">Link</a></td></tr>
  <tr><td>15.0.0 (AP4A.240102.003)</td><td><a href="https://dl.example.com/husky-new.zip">Link</a></td></tr>
</table>
<h2 id="shiba">Pixel 8</h2>
<table>
  <tr><th>Version</th><th>Download</th></tr>
  <tr><td>15.0.0 (AP4A.240110.004)</td><td><a href="/dl/shiba.zip">Link</a></td></tr>
</table>
</body></html>`

func TestScrape_DateFilter(t *testing.T) {
	tests := []struct {
		name           string
		allowReinstall bool
		wantVersions   []string
	}{
		{
			name:           "reinstall disallowed drops equal date",
			allowReinstall: false,
			wantVersions:   []string{"15.0.0 (AP4A.240102.003)"},
		},
		{
			name:           "reinstall allowed keeps equal date",
			allowReinstall: true,
			wantVersions:   []string{"15.0.0 (AP4A.240101.002)", "15.0.0 (AP4A.240102.003)"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Scrape([]byte(catalogPage), "https://ota.example.com/catalog",
				"husky", "AP4A.240101.002", tt.allowReinstall)
			require.NoError(t, err)

			var versions []string
			for _, c := range got {
				versions = append(versions, c.Version)
			}
			assert.Equal(t, tt.wantVersions, versions)
		})
	}
}

func TestScrape_ResolvesRelativeLinks(t *testing.T) {
	got, err := Scrape([]byte(catalogPage), "https://ota.example.com/catalog",
		"husky", "AP4A.230101.001", false)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "https://ota.example.com/dl/husky-old.zip", got[0].URL)
	assert.Equal(t, "https://dl.example.com/husky-new.zip", got[2].URL)
	assert.Equal(t, "231231", got[0].Date)
}

func TestScrape_OtherDeviceSectionIgnored(t *testing.T) {
	got, err := Scrape([]byte(catalogPage), "", "shiba", "AP4A.240101.002", false)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "15.0.0 (AP4A.240110.004)", got[0].Version)
}

func TestScrape_UnknownDevice(t *testing.T) {
	_, err := Scrape([]byte(catalogPage), "", "tangorpro", "AP4A.240101.002", false)
	require.Error(t, err)
	assert.Equal(t, errs.KindFormat, errs.KindOf(err))
}

func TestScrape_UnparseableBuildDate(t *testing.T) {
	_, err := Scrape([]byte(catalogPage), "", "husky", "no-date-here", false)
	require.Error(t, err)
	assert.Equal(t, errs.KindFormat, errs.KindOf(err))
}

func TestScrape_UnparseableCandidateDate(t *testing.T) {
	page := `<h2 id="husky">x</h2><table>
	<tr><th>V</th><th>D</th></tr>
	<tr><td>version-without-token</td><td><a href="/x.zip">L</a></td></tr>
	</table>`
	_, err := Scrape([]byte(page), "", "husky", "AP4A.240101.002", false)
	require.Error(t, err)
	assert.Equal(t, errs.KindFormat, errs.KindOf(err))
}
