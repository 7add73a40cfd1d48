package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/David-Botos/epd-ingress/pkg/cache"
	"github.com/David-Botos/epd-ingress/pkg/connector"
	"github.com/David-Botos/epd-ingress/pkg/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("github.com/godbus/dbus.(*Conn).inWorker"))
}

const testTemplate = "SELECT DISTINCT BNF_CODE, BNF_DESCRIPTION, CHEMICAL_SUBSTANCE_BNF_DESCR {FROM_TABLE}"

var (
	paracetamol = model.Row{Code: "0407010H0AAAMAM", Description: "Paracetamol 500mg tablets", ChemicalSubstance: "Paracetamol"}
	ibuprofen   = model.Row{Code: "1001010J0AAAEAE", Description: "Ibuprofen 400mg tablets", ChemicalSubstance: "Ibuprofen"}
	omeprazole  = model.Row{Code: "0103050P0AAAAAA", Description: "Omeprazole 20mg capsules", ChemicalSubstance: "Omeprazole"}
)

// fakeAPI serves datastore_search_sql responses keyed by resource_id
type fakeAPI struct {
	t        *testing.T
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]func(w http.ResponseWriter, call int)
	srv      *httptest.Server
}

func newFakeAPI(t *testing.T) *fakeAPI {
	f := &fakeAPI{
		t:        t,
		calls:    make(map[string]int),
		handlers: make(map[string]func(w http.ResponseWriter, call int)),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/export.csv.gz" {
		writeGzipCSV(f.t, w, r.URL.Query().Get("part"))
		return
	}

	assert.Equal(f.t, "/datastore_search_sql", r.URL.Path)
	id := r.URL.Query().Get("resource_id")
	assert.Contains(f.t, r.URL.Query().Get("sql"), fmt.Sprintf("FROM `%s`", id))

	f.mu.Lock()
	f.calls[id]++
	call := f.calls[id]
	handler := f.handlers[id]
	f.mu.Unlock()

	if handler == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	handler(w, call)
}

func (f *fakeAPI) on(id string, handler func(w http.ResponseWriter, call int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[id] = handler
}

func (f *fakeAPI) callCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeAPI) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func inlineRecords(rows ...model.Row) func(w http.ResponseWriter, call int) {
	return func(w http.ResponseWriter, call int) {
		records := make([]map[string]interface{}, 0, len(rows))
		for _, r := range rows {
			records = append(records, map[string]interface{}{
				model.HeaderCode:              r.Code,
				model.HeaderDescription:       r.Description,
				model.HeaderChemicalSubstance: r.ChemicalSubstance,
			})
		}
		body := map[string]interface{}{
			"result": map[string]interface{}{
				"result": map[string]interface{}{"records": records},
			},
		}
		json.NewEncoder(w).Encode(body)
	}
}

func failing(status int) func(w http.ResponseWriter, call int) {
	return func(w http.ResponseWriter, call int) {
		w.WriteHeader(status)
	}
}

var exportRows = map[string][]model.Row{
	"EPD_202402": {paracetamol, ibuprofen, paracetamol},
}

func writeGzipCSV(t *testing.T, w http.ResponseWriter, part string) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	fmt.Fprintln(zw, "BNF_CODE,BNF_DESCRIPTION,CHEMICAL_SUBSTANCE_BNF_DESCR")
	for _, r := range exportRows[part] {
		fmt.Fprintf(zw, "%s,\"%s\",%s\n", r.Code, r.Description, r.ChemicalSubstance)
	}
	require.NoError(t, zw.Close())
	w.Write(buf.Bytes())
}

func newTestEngine(t *testing.T, store cache.Store) *Engine {
	client := NewAPIClient(5*time.Second, zap.NewNop())
	t.Cleanup(client.Close)
	return NewEngine(client, store, nil, zap.NewNop())
}

func testOptions(baseURL string) Options {
	opts := DefaultOptions(baseURL)
	opts.BackoffBase = time.Millisecond
	opts.CacheEnabled = false
	return opts
}

func newTestStore(t *testing.T) cache.Store {
	t.Helper()
	ctx := context.Background()

	conn, err := connector.NewSQLiteConnector(ctx, filepath.Join(t.TempDir(), "cache.sqlite"), time.Second)
	require.NoError(t, err)

	store, err := cache.NewSQLStore(ctx, conn, "cache", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFetchInlineRecords(t *testing.T) {
	api := newFakeAPI(t)
	api.on("EPD_202401", inlineRecords(paracetamol, ibuprofen, paracetamol))

	res, err := newTestEngine(t, nil).Fetch(context.Background(), []string{"EPD_202401"}, testTemplate, testOptions(api.srv.URL))
	require.NoError(t, err)

	assert.Equal(t, []string{"EPD_202401"}, res.FetchedIDs)
	assert.Empty(t, res.Failed)
	if diff := cmp.Diff([]model.Row{paracetamol, ibuprofen}, res.Fetched["EPD_202401"].Rows()); diff != "" {
		t.Errorf("fetched rows mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1, res.Metrics.FetchedPartitions)
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	api := newFakeAPI(t)
	api.on("EPD_202401", func(w http.ResponseWriter, call int) {
		if call < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		inlineRecords(paracetamol)(w, call)
	})

	res, err := newTestEngine(t, nil).Fetch(context.Background(), []string{"EPD_202401"}, testTemplate, testOptions(api.srv.URL))
	require.NoError(t, err)

	require.Len(t, res.Jobs, 1)
	job := res.Jobs[0]
	assert.True(t, job.Success)
	assert.Equal(t, 3, job.Attempts)
	require.Len(t, job.Errors, 2)
	assert.Equal(t, ErrorCategoryHTTPStatus, job.Errors[0].Category)
	assert.Equal(t, http.StatusBadGateway, job.Errors[0].StatusCode)
	assert.Equal(t, 2, res.Metrics.ErrorCounts[ErrorCategoryHTTPStatus])
}

func TestFetchExhaustedPartitionDoesNotStopRun(t *testing.T) {
	api := newFakeAPI(t)
	api.on("EPD_202401", failing(http.StatusInternalServerError))
	api.on("EPD_202402", inlineRecords(omeprazole))

	opts := testOptions(api.srv.URL)
	opts.MaxAttempts = 2

	res, err := newTestEngine(t, nil).Fetch(context.Background(), []string{"EPD_202401", "EPD_202402"}, testTemplate, opts)
	require.NoError(t, err)

	assert.Equal(t, 3, api.callCount("EPD_202401"), "one attempt plus two retries")
	assert.Equal(t, []string{"EPD_202401"}, res.Failed)
	assert.Equal(t, []string{"EPD_202402"}, res.FetchedIDs)

	assembled := res.Assemble(model.Period{Year: 2024, Month: 1}, model.Period{Year: 2024, Month: 2})
	assert.Equal(t, []model.Row{omeprazole}, assembled.Rows())
	assert.Equal(t, "2024-01", assembled.FromLabel())
	assert.Equal(t, "2024-02", assembled.ToLabel())
}

func TestFetchTruncatedResultDownloadsExport(t *testing.T) {
	tests := []struct {
		name string
		flag interface{}
	}{
		{"string flag", "true"},
		{"bool flag", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t)
			api.on("EPD_202402", func(w http.ResponseWriter, call int) {
				json.NewEncoder(w).Encode(map[string]interface{}{
					"result": map[string]interface{}{
						"result":            map[string]interface{}{"records": []interface{}{}},
						"records_truncated": tt.flag,
						"gc_urls":           []map[string]string{
							{"url": api.srv.URL + "/export.csv.gz?part=EPD_202402"},
						},
					},
				})
			})

			res, err := newTestEngine(t, nil).Fetch(context.Background(), []string{"EPD_202402"}, testTemplate, testOptions(api.srv.URL))
			require.NoError(t, err)
			require.Len(t, res.Jobs, 1)

			assert.True(t, res.Jobs[0].Truncated)
			assert.Equal(t, 3, res.Jobs[0].RowsRead)
			assert.Equal(t, []model.Row{paracetamol, ibuprofen}, res.Fetched["EPD_202402"].Rows())
		})
	}
}

func TestFetchTruncatedWithoutExportURLFails(t *testing.T) {
	api := newFakeAPI(t)
	api.on("EPD_202402", func(w http.ResponseWriter, call int) {
		w.Write([]byte(`{"result":{"result":{"records":[]},"records_truncated":"true"}}`))
	})

	opts := testOptions(api.srv.URL)
	opts.MaxAttempts = 1

	res, err := newTestEngine(t, nil).Fetch(context.Background(), []string{"EPD_202402"}, testTemplate, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"EPD_202402"}, res.Failed)
	assert.Equal(t, ErrorCategoryDecode, res.Jobs[0].Errors[0].Category)
}

func TestFetchMissingColumnIsNotRetried(t *testing.T) {
	api := newFakeAPI(t)
	api.on("EPD_202401", func(w http.ResponseWriter, call int) {
		w.Write([]byte(`{"result":{"result":{"records":[{"BNF_CODE":"01"}]}}}`))
	})

	res, err := newTestEngine(t, nil).Fetch(context.Background(), []string{"EPD_202401"}, testTemplate, testOptions(api.srv.URL))
	require.NoError(t, err)
	assert.Equal(t, 1, api.callCount("EPD_202401"))
	assert.Equal(t, ErrorCategorySchema, res.Jobs[0].Errors[0].Category)
}

func TestFetchTemplateErrorMakesNoRequests(t *testing.T) {
	api := newFakeAPI(t)
	api.on("EPD_202401", inlineRecords(paracetamol))

	_, err := newTestEngine(t, nil).Fetch(context.Background(), []string{"EPD_202401"}, "SELECT * FROM x", testOptions(api.srv.URL))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrTemplate))
	assert.Zero(t, api.totalCalls())
}

func TestFetchServesCachedPartitions(t *testing.T) {
	ctx := context.Background()
	api := newFakeAPI(t)
	api.on("EPD_202401", inlineRecords(paracetamol))
	api.on("EPD_202402", inlineRecords(ibuprofen))

	store := newTestStore(t)
	engine := newTestEngine(t, store)
	opts := testOptions(api.srv.URL)
	opts.CacheEnabled = true

	first, err := engine.Fetch(ctx, []string{"EPD_202401"}, testTemplate, opts)
	require.NoError(t, err)
	require.True(t, first.Jobs[0].Saved)
	assert.Empty(t, first.Jobs[0].Warnings, "verification should pass")

	second, err := engine.Fetch(ctx, []string{"EPD_202401", "EPD_202402"}, testTemplate, opts)
	require.NoError(t, err)

	assert.Equal(t, 1, api.callCount("EPD_202401"), "cached partition is not requested again")
	assert.Equal(t, []string{"EPD_202401"}, second.CachedIDs)
	assert.Equal(t, []string{"EPD_202402"}, second.FetchedIDs)

	all := second.Assemble(model.Period{Year: 2024, Month: 1}, model.Period{Year: 2024, Month: 2})
	assert.Equal(t, 2, all.Count())
	assert.True(t, all.Contains(paracetamol))
	assert.True(t, all.Contains(ibuprofen))
}

// brokenStore fails every write
type brokenStore struct {
	appends atomic.Int32
}

func (s *brokenStore) Has(ctx context.Context, id string) (bool, error) { return false, nil }
func (s *brokenStore) Append(ctx context.Context, id string, rows []model.Row) error {
	s.appends.Add(1)
	return errors.New("disk I/O error")
}
func (s *brokenStore) Read(ctx context.Context, ids []string) (*model.RowSet, error) {
	return model.NewRowSet(), nil
}
func (s *brokenStore) PartitionIDs(ctx context.Context) ([]string, error) { return nil, nil }
func (s *brokenStore) SyntheticCutoffYear(ctx context.Context) (int, error) { return 0, model.ErrConfiguration }
func (s *brokenStore) Count(ctx context.Context, id string) (int64, error) { return 0, nil }
func (s *brokenStore) Close() error { return nil }

func TestFetchStorageFailureAbortsRun(t *testing.T) {
	api := newFakeAPI(t)
	api.on("EPD_202401", inlineRecords(paracetamol))
	api.on("EPD_202402", inlineRecords(ibuprofen))

	store := &brokenStore{}
	opts := testOptions(api.srv.URL)
	opts.CacheEnabled = true

	res, err := newTestEngine(t, store).Fetch(context.Background(), []string{"EPD_202401", "EPD_202402"}, testTemplate, opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrStorage))
	assert.Equal(t, int32(1), store.appends.Load(), "the run stops after the first failed write")
	assert.Contains(t, res.Failed, "EPD_202401")
}

func TestFetchCancellationStopsBeforeNextSleep(t *testing.T) {
	api := newFakeAPI(t)
	requested := make(chan struct{}, 1)
	api.on("EPD_202401", func(w http.ResponseWriter, call int) {
		w.WriteHeader(http.StatusServiceUnavailable)
		select {
		case requested <- struct{}{}:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := testOptions(api.srv.URL)
	opts.BackoffBase = time.Hour

	go func() {
		<-requested
		cancel()
	}()

	start := time.Now()
	res, err := newTestEngine(t, nil).Fetch(ctx, []string{"EPD_202401"}, testTemplate, opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Less(t, time.Since(start), time.Minute)

	assert.Equal(t, []string{"EPD_202401"}, res.Failed)
	assert.Equal(t, 1, api.callCount("EPD_202401"))
	errs := res.Jobs[0].Errors
	assert.Equal(t, ErrorCategoryCancelled, errs[len(errs)-1].Category)
}

func TestFetchConcurrentWorkersKeepRequestOrder(t *testing.T) {
	api := newFakeAPI(t)
	ids := []string{"EPD_202401", "EPD_202402", "EPD_202403", "EPD_202404"}
	rows := []model.Row{paracetamol, ibuprofen, omeprazole, {Code: "0205051R0AAAAAA", Description: "Ramipril 2.5mg capsules", ChemicalSubstance: "Ramipril"}}
	for i, id := range ids {
		api.on(id, inlineRecords(rows[i]))
	}

	opts := testOptions(api.srv.URL)
	opts.Concurrency = 3

	res, err := newTestEngine(t, nil).Fetch(context.Background(), append(ids, ids[0]), testTemplate, opts)
	require.NoError(t, err)
	assert.Equal(t, ids, res.FetchedIDs)
	assert.Equal(t, 1, api.callCount(ids[0]), "duplicate ids are fetched once")

	sets := res.FetchedRowSets()
	for i := range ids {
		assert.Equal(t, []model.Row{rows[i]}, sets[i].Rows())
	}
}

func TestFetchBackoffDoublesBetweenAttempts(t *testing.T) {
	api := newFakeAPI(t)
	var (
		mu     sync.Mutex
		stamps []time.Time
	)
	api.on("EPD_202401", func(w http.ResponseWriter, call int) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusInternalServerError)
	})

	opts := testOptions(api.srv.URL)
	opts.BackoffBase = 50 * time.Millisecond
	opts.MaxAttempts = 3

	res, err := newTestEngine(t, nil).Fetch(context.Background(), []string{"EPD_202401"}, testTemplate, opts)
	returned := time.Now()
	require.NoError(t, err)
	assert.Equal(t, []string{"EPD_202401"}, res.Failed)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 4, "one attempt plus three retries")
	assert.Equal(t, 4, res.Jobs[0].Attempts)

	for i, want := range []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond} {
		gap := stamps[i+1].Sub(stamps[i])
		assert.GreaterOrEqual(t, gap, want, "gap before retry %d", i+1)
		assert.Less(t, gap, want+150*time.Millisecond, "gap before retry %d", i+1)
	}

	// No sleep follows the final failure
	assert.Less(t, returned.Sub(stamps[3]), 150*time.Millisecond)
}

func TestFetchLogsErrorSamplesForFailedPartitions(t *testing.T) {
	api := newFakeAPI(t)
	api.on("EPD_202401", failing(http.StatusInternalServerError))
	api.on("EPD_202402", inlineRecords(omeprazole))

	core, logs := observer.New(zap.WarnLevel)
	client := NewAPIClient(5*time.Second, zap.NewNop())
	t.Cleanup(client.Close)
	engine := NewEngine(client, nil, nil, zap.New(core))

	opts := testOptions(api.srv.URL)
	opts.MaxAttempts = 1

	res, err := engine.Fetch(context.Background(), []string{"EPD_202401", "EPD_202402"}, testTemplate, opts)
	require.NoError(t, err)
	require.Equal(t, []string{"EPD_202401"}, res.Failed)

	failed := logs.FilterMessage("Partition failed").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "EPD_202401", failed[0].ContextMap()["partitionID"])
	assert.Equal(t, int64(2), failed[0].ContextMap()["errors"])

	samples := logs.FilterMessage("Fetch error samples").All()
	require.Len(t, samples, 1)
	assert.Equal(t, "HTTPStatus", samples[0].ContextMap()["category"])
	messages, ok := samples[0].ContextMap()["samples"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Contains(t, messages[0], "[HTTPStatus] Partition: EPD_202401 Status: 500")
	assert.Contains(t, messages[1], "(Attempt: 2)")
}

func TestFetchQuietWhenNothingFails(t *testing.T) {
	api := newFakeAPI(t)
	api.on("EPD_202401", inlineRecords(paracetamol))

	core, logs := observer.New(zap.WarnLevel)
	client := NewAPIClient(5*time.Second, zap.NewNop())
	t.Cleanup(client.Close)

	_, err := NewEngine(client, nil, nil, zap.New(core)).
		Fetch(context.Background(), []string{"EPD_202401"}, testTemplate, testOptions(api.srv.URL))
	require.NoError(t, err)
	assert.Zero(t, logs.FilterMessage("Partition failed").Len())
	assert.Zero(t, logs.FilterMessage("Fetch error samples").Len())
}

func TestFetchExportDownloadTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(slow.Close)

	api := newFakeAPI(t)
	api.on("EPD_202402", func(w http.ResponseWriter, call int) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"result":            map[string]interface{}{"records": []interface{}{}},
				"records_truncated": true,
				"gc_urls":           []map[string]string{{"url": slow.URL + "/export.csv.gz"}},
			},
		})
	})

	client := NewAPIClient(5*time.Second, zap.NewNop()).WithDownloadTimeout(50 * time.Millisecond)
	t.Cleanup(client.Close)

	opts := testOptions(api.srv.URL)
	opts.MaxAttempts = 0

	start := time.Now()
	res, err := NewEngine(client, nil, nil, zap.NewNop()).
		Fetch(context.Background(), []string{"EPD_202402"}, testTemplate, opts)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, []string{"EPD_202402"}, res.Failed)
	require.Len(t, res.Jobs[0].Errors, 1)
	assert.Equal(t, ErrorCategoryDownload, res.Jobs[0].Errors[0].Category)
}

// readCountingStore counts partition reads and can pretend rows went missing
type readCountingStore struct {
	cache.Store
	reads    atomic.Int32
	loseRows bool
}

func (s *readCountingStore) Read(ctx context.Context, ids []string) (*model.RowSet, error) {
	s.reads.Add(1)
	if s.loseRows {
		return model.NewRowSet(), nil
	}
	return s.Store.Read(ctx, ids)
}

func TestFetchVerificationSkipsReadBackByDefault(t *testing.T) {
	api := newFakeAPI(t)
	api.on("EPD_202401", inlineRecords(paracetamol, ibuprofen))

	store := &readCountingStore{Store: newTestStore(t), loseRows: true}
	opts := testOptions(api.srv.URL)
	opts.CacheEnabled = true

	res, err := newTestEngine(t, store).Fetch(context.Background(), []string{"EPD_202401"}, testTemplate, opts)
	require.NoError(t, err)
	require.True(t, res.Jobs[0].Saved)

	assert.Zero(t, store.reads.Load(), "the row count check does not load the partition")
	assert.Empty(t, res.Jobs[0].Warnings)
}

func TestFetchVerificationSamplesRowsWhenEnabled(t *testing.T) {
	tests := []struct {
		name     string
		loseRows bool
		warning  string
	}{
		{"rows readable", false, ""},
		{"rows missing", true, "2 of 2 sampled rows missing from cache"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeAPI(t)
			api.on("EPD_202401", inlineRecords(paracetamol, ibuprofen))

			store := &readCountingStore{Store: newTestStore(t), loseRows: tt.loseRows}
			opts := testOptions(api.srv.URL)
			opts.CacheEnabled = true
			opts.VerifySample = true

			res, err := newTestEngine(t, store).Fetch(context.Background(), []string{"EPD_202401"}, testTemplate, opts)
			require.NoError(t, err)

			assert.Equal(t, int32(1), store.reads.Load())
			if tt.warning == "" {
				assert.Empty(t, res.Jobs[0].Warnings)
			} else {
				assert.Equal(t, []string{tt.warning}, res.Jobs[0].Warnings)
			}
		})
	}
}

func TestMetricsReportAndJSON(t *testing.T) {
	api := newFakeAPI(t)
	api.on("EPD_202401", inlineRecords(paracetamol))
	api.on("EPD_202402", failing(http.StatusBadGateway))

	opts := testOptions(api.srv.URL)
	opts.MaxAttempts = 1

	res, err := newTestEngine(t, nil).Fetch(context.Background(), []string{"EPD_202401", "EPD_202402"}, testTemplate, opts)
	require.NoError(t, err)

	report := res.Metrics.GenerateMetricsReport()
	assert.Contains(t, report, "Fetched Partitions:      1")
	assert.Contains(t, report, "Failed Partitions:       1")
	assert.Contains(t, report, "- EPD_202401: 1 rows, 1 attempts")
	assert.Contains(t, report, "- EPD_202402: failed after 2 attempts")
	assert.Contains(t, report, "- HTTPStatus: 2 (100.0%)")

	data, err := res.Metrics.ToJSON()
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, float64(1), decoded["fetchedPartitions"])
	assert.Equal(t, float64(1), decoded["failedPartitions"])
}
