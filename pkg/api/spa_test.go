package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const indexContent = `<!DOCTYPE html><html><body>Index Page</body></html>`

func writeSPA(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(indexContent), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app-3f9a.js"), []byte("console.log(1)"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "favicon.svg"), []byte("<svg/>"), 0o644))
	return dir
}

func TestServeSPA(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := writeSPA(t)

	tests := []struct {
		name         string
		urlPrefix    string
		path         string
		wantStatus   int
		wantBody     string
		wantCacheHdr string
	}{
		{
			name:         "hashed asset",
			urlPrefix:    "/",
			path:         "/assets/app-3f9a.js",
			wantStatus:   http.StatusOK,
			wantBody:     "console.log(1)",
			wantCacheHdr: "public, max-age=31536000, immutable",
		},
		{
			name:         "unhashed file",
			urlPrefix:    "/",
			path:         "/favicon.svg",
			wantStatus:   http.StatusOK,
			wantBody:     "<svg/>",
			wantCacheHdr: "public, max-age=3600, must-revalidate",
		},
		{
			name:         "client route falls back to index",
			urlPrefix:    "/",
			path:         "/password-reset/confirm",
			wantStatus:   http.StatusOK,
			wantBody:     indexContent,
			wantCacheHdr: "no-cache, must-revalidate",
		},
		{
			name:         "root",
			urlPrefix:    "/",
			path:         "/",
			wantStatus:   http.StatusOK,
			wantBody:     indexContent,
			wantCacheHdr: "no-cache, must-revalidate",
		},
		{
			name:       "different prefix",
			urlPrefix:  "/app",
			path:       "/app/",
			wantStatus: http.StatusOK,
			wantBody:   indexContent,
		},
		{
			name:       "unknown api path is not the page",
			urlPrefix:  "/",
			path:       "/api/nope",
			wantStatus: http.StatusNotFound,
			wantBody:   `"code":"NOT_FOUND"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.NoRoute(ServeSPA(tt.urlPrefix, dir))

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantBody)
			if tt.wantCacheHdr != "" {
				assert.Equal(t, tt.wantCacheHdr, w.Header().Get("Cache-Control"))
			}
		})
	}
}

func TestServeSPA_EmptyPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.NoRoute(ServeSPA("", writeSPA(t)))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), indexContent)
}

func TestServeSPA_NonExistentDirectory(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.NoRoute(ServeSPA("/", "/non/existent/directory"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.NotEqual(t, http.StatusOK, w.Code)
}

func TestCacheControlFor(t *testing.T) {
	assert.Equal(t, "no-cache, must-revalidate", cacheControlFor("/"))
	assert.Equal(t, "no-cache, must-revalidate", cacheControlFor("/index.html"))
	assert.Equal(t, "public, max-age=31536000, immutable", cacheControlFor("/assets/x.css"))
	assert.Equal(t, "public, max-age=3600, must-revalidate", cacheControlFor("/robots.txt"))
}
