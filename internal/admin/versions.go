package admin

import (
	"archive/zip"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qpackt/qpackt/internal/applog"
	"github.com/qpackt/qpackt/internal/qpackterr"
	"github.com/qpackt/qpackt/internal/registry"
	"github.com/qpackt/qpackt/internal/store"
	"github.com/qpackt/qpackt/internal/strategy"
)

// handleListVersions returns every registered version.
func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	if !RequirePermission(w, r) {
		return
	}
	versions, err := s.store.ListVersions(r.Context())
	if err != nil {
		applog.Error("unable to list versions: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

type versionUpdateRequest struct {
	Name     string            `json:"name"`
	Strategy strategy.Strategy `json:"strategy"`
}

// handleUpdateVersions applies new strategies to the named versions,
// leaving every other version's strategy untouched.
func (s *Server) handleUpdateVersions(w http.ResponseWriter, r *http.Request) {
	if !RequirePermission(w, r) {
		return
	}
	var reqs []versionUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}
	applog.Debug("received versions update: %+v", reqs)

	current, err := s.store.ListVersions(r.Context())
	if err != nil {
		applog.Error("unable to list versions: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	for i := range current {
		for _, u := range reqs {
			if current[i].Name == u.Name {
				current[i].Strategy = u.Strategy
				break
			}
		}
	}
	if err := s.store.SaveVersions(r.Context(), current); err != nil {
		applog.Error("unable to save new versions: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	updates := make([]registry.Version, len(current))
	for i, v := range current {
		updates[i] = registry.Version{Name: v.Name, WebRoot: v.WebRoot, Strategy: v.Strategy}
	}
	s.registry.UpdateStrategies(updates)
	applog.Info("saved new versions: %+v", current)
	w.WriteHeader(http.StatusCreated)
}

// handleDeleteVersion removes a version from the database, stops its file
// server, and deletes its extracted files.
func (s *Server) handleDeleteVersion(w http.ResponseWriter, r *http.Request) {
	if !RequirePermission(w, r) {
		return
	}
	name := r.PathValue("name")
	applog.Debug("deleting version %s", name)

	webRoot, err := s.store.DeleteVersion(r.Context(), name)
	if err != nil {
		applog.Warn("unable to delete version %s: %v", name, err)
		http.Error(w, err.Error(), qpackterr.StatusCode(err))
		return
	}
	s.registry.DeleteVersion(name)
	path := filepath.Join(s.config.VersionsDir(), webRoot)
	if err := os.RemoveAll(path); err != nil {
		applog.Warn("unable to delete path %s for version %s: %v", path, name, err)
		http.Error(w, "unable to delete site files", http.StatusInternalServerError)
		return
	}
	applog.Info("removed version %s and path %s", name, path)
	io.WriteString(w, "OK")
}

// handleUploadVersion accepts a zipped site as the first part of a
// multipart/form-data body or, for any other content type, as the raw
// request body, extracts it under a timestamp-named directory, and
// registers it as a new version with Weight(0) so it serves no traffic
// until an admin opts it in via handleUpdateVersions.
func (s *Server) handleUploadVersion(w http.ResponseWriter, r *http.Request) {
	if !RequirePermission(w, r) {
		return
	}
	body := io.Reader(r.Body)
	if mr, err := r.MultipartReader(); err == nil {
		part, err := mr.NextPart()
		if err != nil {
			applog.Warn("unable to read multipart upload: %v", err)
			http.Error(w, "unable to read multipart upload", http.StatusBadRequest)
			return
		}
		defer part.Close()
		body = part
	}
	name := newVersionName()
	target := filepath.Join(s.config.VersionsDir(), name)
	if err := os.MkdirAll(target, 0o755); err != nil {
		applog.Warn("unable to create version directory: %v", err)
		http.Error(w, "unable to process site", http.StatusBadRequest)
		return
	}

	webRoot, err := receiveAndUnzip(body, target, s.config.VersionsDir())
	if err != nil {
		applog.Warn("unable to upload site: %v", err)
		_ = os.RemoveAll(target)
		http.Error(w, err.Error(), qpackterr.StatusCode(err))
		return
	}

	v := store.Version{Name: name, WebRoot: webRoot, Strategy: strategy.NewWeight(0)}
	if err := s.store.RegisterVersion(r.Context(), v); err != nil {
		applog.Warn("unable to register version %s: %v", name, err)
		_ = os.RemoveAll(target)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.registry.AddVersion(registry.Version{Name: v.Name, WebRoot: v.WebRoot, Strategy: v.Strategy})
	applog.Info("registered new version: %s", name)
	w.WriteHeader(http.StatusAccepted)
}

func newVersionName() string {
	return time.Now().UTC().Format("2006_01_02__15_04_05")
}

// receiveAndUnzip streams body to a temporary zip file under target,
// extracts it, and returns the version's web root relative to
// versionsDir — collapsing a single top-level directory the way a
// typical "zip the site folder" export produces one.
func receiveAndUnzip(body io.Reader, target, versionsDir string) (string, error) {
	zipPath := filepath.Join(target, "in_progress.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		return "", qpackterr.Wrap(qpackterr.IO, "creating upload file", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return "", qpackterr.Wrap(qpackterr.MultipartUpload, "receiving upload", err)
	}
	f.Close()

	root, err := unzipSite(zipPath, target)
	if err != nil {
		return "", err
	}
	webRoot, err := filepath.Rel(versionsDir, root)
	if err != nil {
		return "", qpackterr.Wrap(qpackterr.SiteProcessing, "computing web root relative to versions directory", err)
	}
	return webRoot, nil
}

func unzipSite(zipPath, target string) (string, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return "", qpackterr.Wrap(qpackterr.SiteProcessing, "reading zip archive", err)
	}
	defer r.Close()

	for _, f := range r.File {
		dest := filepath.Join(target, f.Name)
		if !isWithin(target, dest) {
			return "", qpackterr.New(qpackterr.SiteProcessing, "zip entry escapes target directory: "+f.Name)
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return "", qpackterr.Wrap(qpackterr.IO, "creating directory from zip", err)
			}
			continue
		}
		if err := extractZipFile(f, dest); err != nil {
			return "", err
		}
	}
	if err := os.Remove(zipPath); err != nil {
		applog.Warn("unable to remove uploaded zip %s: %v", zipPath, err)
	}
	return findWebRoot(target)
}

func extractZipFile(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return qpackterr.Wrap(qpackterr.IO, "creating directory from zip", err)
	}
	src, err := f.Open()
	if err != nil {
		return qpackterr.Wrap(qpackterr.SiteProcessing, "opening zip entry "+f.Name, err)
	}
	defer src.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return qpackterr.Wrap(qpackterr.IO, "writing extracted file "+dest, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return qpackterr.Wrap(qpackterr.IO, "writing extracted file "+dest, err)
	}
	return nil
}

func isWithin(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

// findWebRoot collapses a single top-level directory: if the extracted
// archive contains exactly one directory and nothing else at its root,
// that directory becomes the web root. Any other shape uses target
// itself.
func findWebRoot(target string) (string, error) {
	entries, err := os.ReadDir(target)
	if err != nil {
		return "", qpackterr.Wrap(qpackterr.IO, "reading extracted site directory", err)
	}
	webRoot := target
	dirCount := 0
	for _, e := range entries {
		if e.IsDir() {
			dirCount++
			if dirCount > 1 {
				return target, nil
			}
			webRoot = filepath.Join(target, e.Name())
		} else {
			return target, nil
		}
	}
	return webRoot, nil
}
