package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

func TestClientPartitions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/package_show", r.URL.Path)
		assert.Equal(t, "english-prescribing-data-epd", r.URL.Query().Get("id"))
		w.Write([]byte(`{"result":{"resources":[
			{"bq_table_name":"EPD_202401","name":"January"},
			{"bq_table_name":"EPD_SNOMED","name":"Lookup"},
			{"name":"no table"}
		]}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", 5*time.Second, zap.NewNop())
	parts, err := client.Partitions(context.Background(), "english-prescribing-data-epd")
	require.NoError(t, err)
	require.Len(t, parts, 2)

	assert.Equal(t, "EPD_202401", parts[0].ID)
	assert.True(t, parts[0].Dated)
	assert.Equal(t, model.Period{Year: 2024, Month: 1}, parts[0].Period)
	assert.False(t, parts[1].Dated)
}

func TestClientDatasetsFiltersFOI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/package_list", r.URL.Path)
		w.Write([]byte(`{"result":["english-prescribing-data-epd","foi-01234","secondary-care"]}`))
	}))
	defer srv.Close()

	datasets, err := NewClient(srv.URL, 5*time.Second, zap.NewNop()).Datasets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"english-prescribing-data-epd", "secondary-care"}, datasets)
}

func TestClientFailuresAreCatalogUnavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed json", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"result":`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := NewClient(srv.URL, 5*time.Second, zap.NewNop()).Partitions(context.Background(), "x")
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrCatalogUnavailable))
		})
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	_, err := NewClient(srv.URL, time.Second, zap.NewNop()).Partitions(context.Background(), "x")
	assert.True(t, errors.Is(err, model.ErrCatalogUnavailable), "transport error")
}
