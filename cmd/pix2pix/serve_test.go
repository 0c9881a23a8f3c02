package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pix2pix "pix2pix/src"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func smallModel(t *testing.T) *pix2pix.Model {
	t.Helper()
	o := pix2pix.DefaultOptions()
	o.NGF = 4
	o.NDF = 4
	o.NumDowns = 5
	o.Seed = 3
	m, err := pix2pix.NewModel(o)
	require.NoError(t, err)
	return m
}

func multipartImage(t *testing.T, field string, w, h int) (*bytes.Buffer, string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: 90, A: 0xff})
		}
	}
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, "input.png")
	require.NoError(t, err)
	require.NoError(t, png.Encode(part, img))
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestTranslateHandler(t *testing.T) {
	s, err := NewServer(smallModel(t), 32)
	require.NoError(t, err)
	router := s.GenerateRoutes()

	body, contentType := multipartImage(t, "image", 40, 24)
	req := httptest.NewRequest(http.MethodPost, "/api/translate", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	out, err := png.Decode(w.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 32, 32), out.Bounds())
}

func TestTranslateHandlerMissingImage(t *testing.T) {
	s, err := NewServer(smallModel(t), 32)
	require.NoError(t, err)
	router := s.GenerateRoutes()

	body, contentType := multipartImage(t, "photo", 8, 8)
	req := httptest.NewRequest(http.MethodPost, "/api/translate", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing image field")
}

func TestHealthHandler(t *testing.T) {
	m := smallModel(t)
	s, err := NewServer(m, 64)
	require.NoError(t, err)
	router := s.GenerateRoutes()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, m.RunID(), resp["run"])
	assert.Equal(t, "AtoB", resp["direction"])
	assert.False(t, m.Training())
}

func TestNewServerRejectsSize(t *testing.T) {
	_, err := NewServer(smallModel(t), 48)
	assert.Error(t, err)
}
