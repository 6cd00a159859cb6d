package upscale

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daijiaran/cinegrid/internal/domain"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func TestEnhanceBinaryPayload(t *testing.T) {
	var got enhanceRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		resp := map[string]any{
			"code": 10000,
			"data": map[string]any{"data": map[string]any{
				"binary_data_base64": []string{base64.StdEncoding.EncodeToString(pngHeader)},
			}},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient(Options{Endpoint: srv.URL + "/enhance", Quality: "HQ"})
	data, mime, err := client.Enhance(context.Background(), []byte("data:image/png;base64,QUJD"))
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, "QUJD", got.ImageBase64)
	assert.Equal(t, "HQ", got.ModelQuality)
}

func TestEnhanceDownloadsImageURL(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/enhance", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"code": 10000,
			"data": map[string]any{"data": map[string]any{"image_urls": []string{srv.URL + "/out.png"}}},
		})
	})
	mux.HandleFunc("/out.png", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngHeader)
	})

	client := NewClient(Options{Endpoint: srv.URL + "/enhance"})
	data, mime, err := client.Enhance(context.Background(), pngHeader)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, data)
	assert.Equal(t, "image/png", mime)
}

func TestEnhanceEnvelopeFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":50001,"message":"model busy"}`))
	}))
	defer srv.Close()

	client := NewClient(Options{Endpoint: srv.URL})
	_, _, err := client.Enhance(context.Background(), pngHeader)
	var remote *domain.RemoteFailureError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "model busy", remote.Reason)
	assert.Equal(t, "50001", remote.Code)
}

func TestEnhanceRequiresEndpoint(t *testing.T) {
	_, _, err := NewClient(Options{}).Enhance(context.Background(), pngHeader)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestEncodeImage(t *testing.T) {
	assert.Equal(t, "QUJD", encodeImage([]byte("ABC")))
	assert.Equal(t, "QUJD", encodeImage([]byte("data:image/png;base64,QUJD")))
}
