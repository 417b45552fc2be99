package api

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forest-reshaper/backend/internal/config"
	"github.com/forest-reshaper/backend/internal/models"
	"github.com/forest-reshaper/backend/internal/refdata"
	"github.com/forest-reshaper/backend/internal/session"
	"github.com/forest-reshaper/backend/internal/storage"
)

const summaryFixture = `line1
line2
line3
line4
line5
Step	Subplot	Sdl Abs Den: SpA	Adt Abs Den: SpA
1	0	4	2
`

const treemapFixture = `<timestepOutput>
  <treemap>
    <speciesList>
      <species speciesName="Balsam_Fir"/>
    </speciesList>
    <treeSettings sp="Balsam_Fir" tp="2">
      <floatCodes>
        <code label="DBH">0</code>
      </floatCodes>
    </treeSettings>
    <tree sp="0" tp="2"><fl c="0">2.5</fl></tree>
  </treemap>
</timestepOutput>`

const templateFixture = `<paramFile>
  <plot><timesteps>10</timesteps></plot>
  <trees><tr_initialDensities/></trees>
  <output><ou_filename>x</ou_filename></output>
  <shortoutput><so_filename>y</so_filename></shortoutput>
</paramFile>`

const surveyFixture = `plot_id,year,species_id,status_id,dbh_class,count
P1,1991,1,1,0.5,6
`

func newTestHandler(t *testing.T) (*Handler, *echo.Echo) {
	t.Helper()

	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	cfg.Storage.OutputDirectory = t.TempDir()

	sessions := session.NewManager(t.TempDir(), 2)
	h := NewHandler(store, sessions, cfg, refdata.Default())
	return h, echo.New()
}

func uploadFixture(t *testing.T, h *Handler, e *echo.Echo, name, content string) *models.FileInfo {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/files/upload", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.HandleUploadFile(c))
	require.Equal(t, http.StatusCreated, rec.Code)

	var info models.FileInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	return &info
}

func postJSON(t *testing.T, h func(echo.Context) error, e *echo.Echo, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))
	return rec
}

func TestHandleHealth(t *testing.T) {
	h, e := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, h.HandleHealth(e.NewContext(req, rec)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestSummaryPipeline(t *testing.T) {
	h, e := newTestHandler(t)
	info := uploadFixture(t, h, e, "summary.out", summaryFixture)

	rec := postJSON(t, h.HandleReshapeSummary, e, "/api/summary/reshape",
		map[string]any{"fileId": info.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sess models.ResultSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, "summary", sess.Pipeline)
	assert.Equal(t, []string{"summary"}, sess.TableNames)
	assert.Equal(t, 2, sess.RowCount) // one row per stage

	t.Run("get result as JSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/results/"+sess.ID, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(sess.ID)
		require.NoError(t, h.HandleGetResult(c))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"Abs Den"`)
	})

	t.Run("get result as msgpack", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/results/"+sess.ID+"?format=msgpack", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(sess.ID)
		require.NoError(t, h.HandleGetResult(c))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/x-msgpack", rec.Header().Get(echo.HeaderContentType))
		assert.NotEmpty(t, rec.Body.Bytes())
	})

	t.Run("export result as CSV", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/results/"+sess.ID+"/export?table=summary", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(sess.ID)
		require.NoError(t, h.HandleExportResult(c))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, strings.HasPrefix(rec.Body.String(), "Step,Subplot,Stage,Species"),
			"unexpected CSV header: %s", rec.Body.String())
	})
}

func TestTreeMapPipeline(t *testing.T) {
	h, e := newTestHandler(t)
	info := uploadFixture(t, h, e, "timestep_1.xml", treemapFixture)

	rec := postJSON(t, h.HandleExtractTreeMap, e, "/api/treemap/extract",
		map[string]any{"fileId": info.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sess models.ResultSession
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sess))
	assert.Equal(t, "treemap", sess.Pipeline)
	assert.Equal(t, []string{"sapling"}, sess.TableNames)
	assert.Equal(t, 1, sess.RowCount)
}

func TestGenerateParams(t *testing.T) {
	h, e := newTestHandler(t)
	template := uploadFixture(t, h, e, "template.xml", templateFixture)
	survey := uploadFixture(t, h, e, "survey.csv", surveyFixture)

	rec := postJSON(t, h.HandleGenerateParams, e, "/api/params/generate", map[string]any{
		"templateFileId": template.ID,
		"surveyFileId":   survey.ID,
		"plotId":         "P1",
		"timesteps":      50,
		"outDir":         "/remote/out",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := rec.Body.String()
	assert.Contains(t, body, "<timesteps>50</timesteps>")
	assert.Contains(t, body, "/remote/out/FP1.gz.tar")
	assert.Contains(t, body, `whatSpecies="Balsam_Fir"`)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "FP1_no_epi.xml")
}

func TestPipelineErrors(t *testing.T) {
	h, e := newTestHandler(t)

	t.Run("missing fileId", func(t *testing.T) {
		rec := postJSON(t, h.HandleReshapeSummary, e, "/api/summary/reshape", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
	})

	t.Run("unknown fileId", func(t *testing.T) {
		rec := postJSON(t, h.HandleReshapeSummary, e, "/api/summary/reshape",
			map[string]any{"fileId": "nope"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("malformed summary file", func(t *testing.T) {
		info := uploadFixture(t, h, e, "bad.out", "1\n2\n3\n4\n5\nStep\tSubplot\tBadColumn\n1\t0\t4\n")
		rec := postJSON(t, h.HandleReshapeSummary, e, "/api/summary/reshape",
			map[string]any{"fileId": info.ID})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "DATA_CONTRACT_VIOLATION")
	})

	t.Run("treemap with unknown stage code", func(t *testing.T) {
		doc := strings.Replace(treemapFixture, `tp="2"><fl`, `tp="4"><fl`, 1)
		info := uploadFixture(t, h, e, "bad.xml", doc)
		rec := postJSON(t, h.HandleExtractTreeMap, e, "/api/treemap/extract",
			map[string]any{"fileId": info.ID})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("unknown result session", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/results/nope", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues("nope")
		require.NoError(t, h.HandleGetResult(c))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
