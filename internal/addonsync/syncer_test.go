package addonsync

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const catalogXML = `<downloads>
  <track id="abyss" name="Abyss" designer="Auria" uploader="Auria" rating="2.3" revision="3" version="2" file="%[1]s/abyss.zip" min-include-version="" max-include-version="" status="1" soccer="N" arena="N" ctf="N"/>
  <track id="abyss" name="Abyss" designer="Auria" uploader="Auria" rating="2.3" revision="5" version="3" file="%[1]s/abyss.zip" min-include-version="" max-include-version="" status="1" soccer="N" arena="N" ctf="N"/>
  <track id="future-kart" name="Future Kart" designer="X" uploader="X" rating="3.0" revision="1" version="1" file="%[1]s/future.zip" min-include-version="99.0" max-include-version="" status="1" soccer="N" arena="N" ctf="N"/>
  <kart id="speedkart" name="Speedy" designer="Y" uploader="Y" rating="3.5" revision="1" version="1" file="%[1]s/speedkart.zip" min-include-version="" max-include-version="" status="1" soccer="N" arena="N" ctf="N"/>
</downloads>`

func buildTrackZip(t *testing.T, id string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("track.xml")
	require.NoError(t, err)
	_, err = fmt.Fprintf(f, `<track name=%q designer="Auria" revision="5" version="3" soccer="N" arena="N" ctf="N"/>`, id)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	var mux http.ServeMux
	mux.HandleFunc("/online_assets.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, catalogXML, "http://"+r.Host)
	})
	mux.HandleFunc("/abyss.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Write(buildTrackZip(t, "Abyss"))
	})
	return httptest.NewServer(&mux)
}

func newTestSyncer(t *testing.T) (*Syncer, string) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "addons", "tracks"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "addons", "karts"), 0o755))

	s, err := New(filepath.Join(dir, "stkswrapper.conf"), "1.4")
	require.NoError(t, err)
	s.cfg.DownloadPath = filepath.Join(dir, "downloads")
	s.cfg.AddonPath = filepath.Join(dir, "addons")
	require.NoError(t, os.MkdirAll(s.cfg.DownloadPath, 0o755))
	return s, dir
}

func TestFetchCatalogDedupsVersionGatesAndKartGates(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	s, _ := newTestSyncer(t)
	s.cfg.OnlineAssetsURL = srv.URL + "/online_assets.xml"

	require.NoError(t, s.FetchCatalog(context.Background()))

	abyss, ok := s.CatalogAddon("abyss")
	require.True(t, ok)
	assert.Equal(t, 5, abyss.Revision, "duplicate id keeps the highest revision")

	_, ok = s.CatalogAddon("future-kart")
	assert.False(t, ok, "entries requiring a newer stk_version than configured are dropped")

	_, ok = s.CatalogAddon("speedkart")
	assert.False(t, ok, "karts are dropped unless fetch_karts is enabled")

	s.cfg.FetchKarts = true
	require.NoError(t, s.FetchCatalog(context.Background()))
	_, ok = s.CatalogAddon("speedkart")
	assert.True(t, ok)
}

func TestInstallAddonDownloadsUnpacksAndClassifies(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	s, dir := newTestSyncer(t)
	s.cfg.OnlineAssetsURL = srv.URL + "/online_assets.xml"
	require.NoError(t, s.FetchCatalog(context.Background()))

	addon, ok := s.CatalogAddon("abyss")
	require.True(t, ok)

	ok2, err := s.InstallAddon(context.Background(), addon, false)
	require.NoError(t, err)
	assert.True(t, ok2)

	installed, ok := s.InstalledAddon("abyss")
	require.True(t, ok)
	assert.Equal(t, 5, installed.Revision)

	list, _ := s.ListInstalled(1, "track")
	assert.Len(t, list, 1)

	xmlPath := filepath.Join(dir, "addons", "tracks", "abyss", "track.xml")
	_, err = os.Stat(xmlPath)
	assert.NoError(t, err)
}

func TestInstallAddonVetoedByHandlerDoesNothing(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	s, _ := newTestSyncer(t)
	s.cfg.OnlineAssetsURL = srv.URL + "/online_assets.xml"
	require.NoError(t, s.FetchCatalog(context.Background()))
	addon, _ := s.CatalogAddon("abyss")

	s.AddonInstalled.AddHandler(func(context.Context, *Addon, map[string]any) bool { return false })
	ok, err := s.InstallAddon(context.Background(), addon, false)
	require.NoError(t, err)
	assert.False(t, ok)
	_, installed := s.InstalledAddon("abyss")
	assert.False(t, installed)
}

func TestUninstallAddonWithBanAddsToBanlist(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	s, _ := newTestSyncer(t)
	s.cfg.OnlineAssetsURL = srv.URL + "/online_assets.xml"
	require.NoError(t, s.FetchCatalog(context.Background()))
	addon, _ := s.CatalogAddon("abyss")
	_, err := s.InstallAddon(context.Background(), addon, false)
	require.NoError(t, err)

	ok, err := s.UninstallAddon(context.Background(), "abyss", true)
	require.NoError(t, err)
	assert.True(t, ok)

	_, installed := s.InstalledAddon("abyss")
	assert.False(t, installed)
	assert.Contains(t, s.cfg.AutoinstallBanlist, "abyss")
}

func TestBanAddonThenUnban(t *testing.T) {
	s, _ := newTestSyncer(t)
	assert.True(t, s.BanAddon("foo"))
	assert.False(t, s.BanAddon("foo"), "re-banning an already banned id is a no-op")
	assert.True(t, s.UnbanAddon("foo"))
	assert.False(t, s.UnbanAddon("foo"))
}

func TestUpdateAllInstallMoreBroadcastsRestartWhenModified(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()
	s, _ := newTestSyncer(t)
	s.cfg.OnlineAssetsURL = srv.URL + "/online_assets.xml"
	require.NoError(t, s.FetchCatalog(context.Background()))

	restartChan := s.restartSignal.Chan()

	require.NoError(t, s.UpdateAllInstallMore(context.Background(), true))

	select {
	case <-restartChan:
	default:
		t.Fatal("expected a restart broadcast after installing new addons")
	}
}
