package downloads_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fetcharr/fetcharr/internal/api/downloads"
	"github.com/fetcharr/fetcharr/internal/download"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDownloadService struct {
	items     map[uuid.UUID]*download.DownloadItem
	createErr error
}

func newFakeService(items ...*download.DownloadItem) *fakeDownloadService {
	service := &fakeDownloadService{items: make(map[uuid.UUID]*download.DownloadItem)}
	for _, item := range items {
		service.items[item.ID] = item
	}

	return service
}

func (service *fakeDownloadService) NewDownload(sourceUrl string) (*download.DownloadItem, error) {
	if service.createErr != nil {
		return nil, service.createErr
	}

	item := &download.DownloadItem{ID: uuid.New(), SourceUrl: sourceUrl, State: download.PENDING, CreatedAt: time.Now()}
	service.items[item.ID] = item
	return item, nil
}

func (service *fakeDownloadService) GetAllDownloads() []*download.DownloadItem {
	items := make([]*download.DownloadItem, 0, len(service.items))
	for _, item := range service.items {
		items = append(items, item)
	}

	return items
}

func (service *fakeDownloadService) GetDownload(id uuid.UUID) *download.DownloadItem {
	return service.items[id]
}

func (service *fakeDownloadService) CancelDownload(id uuid.UUID) error {
	if _, ok := service.items[id]; !ok {
		return download.ErrDownloadNotFound
	}

	service.items[id].State = download.CANCELLED
	return nil
}

func (service *fakeDownloadService) ResolveTroubledDownload(id uuid.UUID, method download.ResolutionType) error {
	if _, ok := service.items[id]; !ok {
		return download.ErrDownloadNotFound
	}

	return nil
}

func performRequest(service downloads.DownloadService, method string, target string, body string) *httptest.ResponseRecorder {
	ec := echo.New()
	controller := downloads.New(validator.New(), service)
	controller.SetRoutes(ec.Group(""))

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}

	rec := httptest.NewRecorder()
	ec.ServeHTTP(rec, req)
	return rec
}

func Test_CreateDownload_Success(t *testing.T) {
	service := newFakeService()
	rec := performRequest(service, http.MethodPost, "/", `{"url": "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`)

	require.Equal(t, http.StatusCreated, rec.Code)

	var dto downloads.Dto
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, "https://www.youtube.com/watch?v=dQw4w9WgXcQ", dto.SourceUrl)
	assert.Equal(t, downloads.PENDING, dto.State)
}

func Test_CreateDownload_RejectsBadBody(t *testing.T) {
	tests := []struct {
		Summary string
		Body    string
	}{
		{"empty body", ``},
		{"missing url", `{}`},
		{"blank url", `{"url": ""}`},
		{"not a url", `{"url": "hello"}`},
	}

	for _, test := range tests {
		t.Run(test.Summary, func(t *testing.T) {
			rec := performRequest(newFakeService(), http.MethodPost, "/", test.Body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func Test_CreateDownload_ServiceRejectionsMapTo400(t *testing.T) {
	service := newFakeService()
	service.createErr = download.ErrDownloadAlreadyExists

	rec := performRequest(service, http.MethodPost, "/", `{"url": "https://www.youtube.com/watch?v=abc"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_GetDownload(t *testing.T) {
	item := &download.DownloadItem{ID: uuid.New(), SourceUrl: "https://youtu.be/abc", State: download.DOWNLOADING, CreatedAt: time.Now()}
	service := newFakeService(item)

	rec := performRequest(service, http.MethodGet, fmt.Sprintf("/%s/", item.ID), "")
	require.Equal(t, http.StatusOK, rec.Code)

	var dto downloads.Dto
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, item.ID, dto.Id)
	assert.Equal(t, downloads.DOWNLOADING, dto.State)

	t.Run("UnknownID", func(t *testing.T) {
		rec := performRequest(service, http.MethodGet, fmt.Sprintf("/%s/", uuid.New()), "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("IllegalID", func(t *testing.T) {
		rec := performRequest(service, http.MethodGet, "/not-a-uuid/", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func Test_ListDownloads(t *testing.T) {
	itemA := &download.DownloadItem{ID: uuid.New(), SourceUrl: "https://youtu.be/abc", State: download.PENDING, CreatedAt: time.Now()}
	itemB := &download.DownloadItem{ID: uuid.New(), SourceUrl: "https://youtu.be/def", State: download.COMPLETE, CreatedAt: time.Now()}
	service := newFakeService(itemA, itemB)

	rec := performRequest(service, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var dtos []downloads.Dto
	require.Nil(t, json.Unmarshal(rec.Body.Bytes(), &dtos))
	assert.Len(t, dtos, 2)
}

func Test_DeleteDownload(t *testing.T) {
	item := &download.DownloadItem{ID: uuid.New(), SourceUrl: "https://youtu.be/abc", State: download.DOWNLOADING, CreatedAt: time.Now()}
	service := newFakeService(item)

	rec := performRequest(service, http.MethodDelete, fmt.Sprintf("/%s/", item.ID), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, download.CANCELLED, item.State)

	t.Run("UnknownID", func(t *testing.T) {
		rec := performRequest(service, http.MethodDelete, fmt.Sprintf("/%s/", uuid.New()), "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func Test_TroubleResolution(t *testing.T) {
	item := &download.DownloadItem{ID: uuid.New(), SourceUrl: "https://youtu.be/abc", State: download.TROUBLED, CreatedAt: time.Now()}
	service := newFakeService(item)

	rec := performRequest(service, http.MethodPost, fmt.Sprintf("/%s/trouble-resolution/", item.ID), `{"method": "retry"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	t.Run("MissingMethod", func(t *testing.T) {
		rec := performRequest(service, http.MethodPost, fmt.Sprintf("/%s/trouble-resolution/", item.ID), `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("UnknownMethod", func(t *testing.T) {
		rec := performRequest(service, http.MethodPost, fmt.Sprintf("/%s/trouble-resolution/", item.ID), `{"method": "explode"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func Test_TroubledItemDto_CarriesTroubleDetails(t *testing.T) {
	trouble := downloads.TroubleDto{
		Type:                   downloads.UNKNOWN_FAILURE,
		Message:                "something went wrong",
		AllowedResolutionTypes: []downloads.ResolutionTypeWrapper{{Value: download.ABORT}, {Value: download.RETRY}},
	}

	serialized, err := json.Marshal(trouble)
	require.Nil(t, err)
	assert.JSONEq(t, `{"type": "UNKNOWN_FAILURE", "message": "something went wrong", "allowed_resolution_types": ["abort", "retry"]}`, string(serialized))
}
