// Command asset-mock is a local stand-in for the image host. It accepts the
// same signed upload and destroy calls as the real API, keeps images in
// memory and serves them back under the returned secure_url.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/Clark-Hu/movie-catalog/internal/assets"
	"github.com/Clark-Hu/movie-catalog/internal/logging"
)

const maxUpload = 10 << 20

func main() {
	var (
		port      = flag.String("port", "9099", "port to listen on")
		apiSecret = flag.String("secret", os.Getenv("ASSET_API_SECRET"), "secret used to verify request signatures")
		publicURL = flag.String("public-url", "", "base URL used in secure_url (defaults to http://localhost:<port>)")
		logLevel  = flag.String("log-level", "info", "log level")
	)
	flag.Parse()

	logger := logging.New(logging.Config{Level: *logLevel, Format: "console"})
	base := *publicURL
	if base == "" {
		base = "http://localhost:" + *port
	}

	addr := ":" + *port
	logger.Info().Str("addr", addr).Msg("mock asset store listening")
	if err := http.ListenAndServe(addr, newMockStore(base, *apiSecret, logger).routes()); err != nil {
		logger.Fatal().Err(err).Msg("server error")
	}
}

type storedImage struct {
	contentType string
	content     []byte
}

type mockStore struct {
	baseURL string
	secret  string
	logger  zerolog.Logger

	mu     sync.RWMutex
	images map[string]storedImage
}

func newMockStore(baseURL, secret string, logger zerolog.Logger) *mockStore {
	return &mockStore{
		baseURL: baseURL,
		secret:  secret,
		logger:  logger,
		images:  make(map[string]storedImage),
	}
}

func (m *mockStore) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/{cloud}/image/upload", m.handleUpload)
	r.Post("/{cloud}/image/destroy", m.handleDestroy)
	r.Get("/{cloud}/image/files/*", m.handleServe)
	return r
}

func (m *mockStore) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+1<<20)
	if err := r.ParseMultipartForm(maxUpload); err != nil {
		m.fail(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	params := signedParams(r.MultipartForm.Value, "public_id", "timestamp", "folder")
	if !m.verify(params, r.FormValue("signature")) {
		m.fail(w, http.StatusUnauthorized, "Invalid Signature")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		m.fail(w, http.StatusBadRequest, "Missing required parameter - file")
		return
	}
	defer file.Close()
	content, err := io.ReadAll(file)
	if err != nil {
		m.fail(w, http.StatusBadRequest, "unreadable file")
		return
	}

	publicID := params["public_id"]
	if folder := params["folder"]; folder != "" {
		publicID = path.Join(folder, publicID)
	}
	m.mu.Lock()
	m.images[publicID] = storedImage{contentType: header.Header.Get("Content-Type"), content: content}
	m.mu.Unlock()

	cloud := chi.URLParam(r, "cloud")
	m.logger.Info().Str("public_id", publicID).Int("bytes", len(content)).Msg("stored image")
	m.respond(w, http.StatusOK, map[string]string{
		"public_id":  publicID,
		"secure_url": fmt.Sprintf("%s/%s/image/files/%s", m.baseURL, cloud, publicID),
	})
}

func (m *mockStore) handleDestroy(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		m.fail(w, http.StatusBadRequest, "invalid form body")
		return
	}
	params := signedParams(r.PostForm, "public_id", "timestamp")
	if !m.verify(params, r.PostForm.Get("signature")) {
		m.fail(w, http.StatusUnauthorized, "Invalid Signature")
		return
	}

	result := assets.ResultNotFound
	m.mu.Lock()
	if _, ok := m.images[params["public_id"]]; ok {
		delete(m.images, params["public_id"])
		result = assets.ResultOK
	}
	m.mu.Unlock()

	m.logger.Info().Str("public_id", params["public_id"]).Str("result", result).Msg("destroy image")
	m.respond(w, http.StatusOK, map[string]string{"result": result})
}

func (m *mockStore) handleServe(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	img, ok := m.images[chi.URLParam(r, "*")]
	m.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	if img.contentType != "" {
		w.Header().Set("Content-Type", img.contentType)
	}
	_, _ = w.Write(img.content)
}

// verify accepts everything when no secret is configured.
func (m *mockStore) verify(params map[string]string, signature string) bool {
	if m.secret == "" {
		return true
	}
	return assets.Sign(params, m.secret) == signature
}

func signedParams(values map[string][]string, keys ...string) map[string]string {
	params := make(map[string]string, len(keys))
	for _, key := range keys {
		if v := values[key]; len(v) > 0 && v[0] != "" {
			params[key] = v[0]
		}
	}
	return params
}

func (m *mockStore) respond(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		m.logger.Error().Err(err).Msg("encode response")
	}
}

func (m *mockStore) fail(w http.ResponseWriter, status int, message string) {
	m.respond(w, status, map[string]map[string]string{"error": {"message": message}})
}
