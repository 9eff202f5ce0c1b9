package bucket_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cavefire/Tapo-Directory/internal/bucket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// newTestGCSLister creates a GCSLister pointed at a test server. The handler
// must answer the bucket attrs probe made during construction.
func newTestGCSLister(t *testing.T, handler http.Handler) (*bucket.GCSLister, func()) {
	t.Helper()

	server := httptest.NewServer(handler)

	lister, err := bucket.NewGCSLister(
		context.Background(),
		bucket.GCSConfig{Bucket: "test-bucket", Prefix: "firmware/"},
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	if err != nil {
		server.Close()
		t.Fatalf("NewGCSLister: %v", err)
	}

	return lister, func() {
		lister.Close()
		server.Close()
	}
}

// gcsListHandler simulates the GCS JSON API for bucket attrs and paginated
// object listings.
func gcsListHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "/b/test-bucket/o"):
			assert.Equal(t, "firmware/", r.URL.Query().Get("prefix"))
			if r.URL.Query().Get("pageToken") == "" {
				fmt.Fprint(w, `{
  "kind": "storage#objects",
  "nextPageToken": "page-2",
  "items": [
    {"name": "firmware/", "size": "0", "timeCreated": "2016-03-08T11:42:49Z"},
    {"name": "firmware/Tapo C200 1.0.bin", "size": "4154", "timeCreated": "2016-03-08T11:42:49Z"}
  ]
}`)
				return
			}
			assert.Equal(t, "page-2", r.URL.Query().Get("pageToken"))
			fmt.Fprint(w, `{
  "kind": "storage#objects",
  "items": [
    {"name": "firmware/tapo/Tapo_C210_v2_en_1.3.5.bin", "size": "9000000", "timeCreated": "2023-01-15T08:00:00Z"}
  ]
}`)
		case strings.Contains(r.URL.Path, "/b/test-bucket"):
			fmt.Fprint(w, `{"name": "test-bucket", "location": "US"}`)
		default:
			t.Errorf("unexpected request path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func TestGCSLister_List(t *testing.T) {
	lister, cleanup := newTestGCSLister(t, gcsListHandler(t))
	defer cleanup()

	objects, err := lister.List(context.Background())
	require.NoError(t, err)

	// The folder marker is dropped; both pages contribute files.
	require.Len(t, objects, 2)
	assert.Equal(t, "firmware/Tapo C200 1.0.bin", objects[0].Path)
	assert.Equal(t, int64(4154), objects[0].Size)
	assert.Equal(t, time.Date(2016, 3, 8, 11, 42, 49, 0, time.UTC), objects[0].Created.UTC())
	assert.Equal(t, "firmware/tapo/Tapo_C210_v2_en_1.3.5.bin", objects[1].Path)
}

func TestGCSLister_List_ServerError(t *testing.T) {
	// 404 rather than 500 because the client retries 5xx with backoff.
	var attrsServed bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !attrsServed {
			attrsServed = true
			fmt.Fprint(w, `{"name": "test-bucket"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	lister, cleanup := newTestGCSLister(t, handler)
	defer cleanup()

	_, err := lister.List(context.Background())
	require.ErrorIs(t, err, bucket.ErrUnavailable)
}

func TestNewGCSLister_BucketMissing(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(handler)
	defer server.Close()

	_, err := bucket.NewGCSLister(
		context.Background(),
		bucket.GCSConfig{Bucket: "test-bucket"},
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	assert.Error(t, err)
}

func TestNewGCSLister_RequiresBucketName(t *testing.T) {
	_, err := bucket.NewGCSLister(context.Background(), bucket.GCSConfig{})
	assert.Error(t, err)
}
