package fetch

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/David-Botos/epd-ingress/pkg/model"
)

func TestBuildQuery(t *testing.T) {
	query, err := BuildQuery(testTemplate, "EPD_202401")
	require.NoError(t, err)
	assert.Equal(t, "SELECT DISTINCT BNF_CODE, BNF_DESCRIPTION, CHEMICAL_SUBSTANCE_BNF_DESCR FROM `EPD_202401`", query)
}

func TestValidateTemplate(t *testing.T) {
	tests := []struct {
		name     string
		template string
		wantErr  bool
	}{
		{"single marker", "SELECT 1 {FROM_TABLE}", false},
		{"no marker", "SELECT 1", true},
		{"two markers", "SELECT 1 {FROM_TABLE} UNION SELECT 2 {FROM_TABLE}", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTemplate(tt.template)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, model.ErrTemplate))
		})
	}
}

func TestRequestURL(t *testing.T) {
	raw := RequestURL("https://opendata.nhsbsa.net/api/3/action/", "EPD_202401", "SELECT * FROM `EPD_202401` WHERE x = 'a&b'")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/api/3/action/datastore_search_sql", u.Path)
	assert.Equal(t, "EPD_202401", u.Query().Get("resource_id"))
	assert.Equal(t, "SELECT * FROM `EPD_202401` WHERE x = 'a&b'", u.Query().Get("sql"))
}

func TestAssembleDeduplicatesAcrossSources(t *testing.T) {
	cached := model.NewRowSet(paracetamol, ibuprofen)
	fetched := []*model.RowSet{model.NewRowSet(ibuprofen, omeprazole), nil}

	from := model.Period{Year: 2014, Month: 1}
	to := model.Period{Year: 2024, Month: 3}
	set := Assemble(cached, fetched, from, to)

	assert.Equal(t, []model.Row{paracetamol, ibuprofen, omeprazole}, set.Rows())
	assert.Equal(t, "2014-01", set.FromLabel())
	assert.Equal(t, "2024-03", set.ToLabel())

	empty := Assemble(nil, nil, from, to)
	assert.Zero(t, empty.Count())
}

func TestErrorCategoryRetryable(t *testing.T) {
	assert.True(t, ErrorCategoryTransport.Retryable())
	assert.True(t, ErrorCategoryHTTPStatus.Retryable())
	assert.True(t, ErrorCategoryDownload.Retryable())
	assert.False(t, ErrorCategorySchema.Retryable())
	assert.False(t, ErrorCategoryStorage.Retryable())
	assert.False(t, ErrorCategoryCancelled.Retryable())
}
