package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/RinNiko/TalkToDBAgent/internal/metrics"
	"github.com/RinNiko/TalkToDBAgent/internal/repository"
	"github.com/RinNiko/TalkToDBAgent/internal/service"
)

// fakeConnectionRepo 内存连接注册表，只实现测试路径需要的读操作
type fakeConnectionRepo struct {
	connections map[int64]*repository.DatabaseConnection
}

func (f *fakeConnectionRepo) Create(_ context.Context, _ *repository.DatabaseConnection) error {
	return nil
}

func (f *fakeConnectionRepo) GetByID(_ context.Context, id int64) (*repository.DatabaseConnection, error) {
	connection, ok := f.connections[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return connection, nil
}

func (f *fakeConnectionRepo) List(_ context.Context) ([]*repository.DatabaseConnection, error) {
	return nil, nil
}

func (f *fakeConnectionRepo) Update(_ context.Context, _ *repository.DatabaseConnection) error {
	return nil
}

func (f *fakeConnectionRepo) Delete(_ context.Context, _ int64) error { return nil }

func (f *fakeConnectionRepo) UpdateStatus(_ context.Context, _ int64, _ repository.ConnectionStatus) error {
	return nil
}

func (f *fakeConnectionRepo) ExistsByName(_ context.Context, _ string) (bool, error) {
	return false, nil
}

// fakeHistoryRepo 记录写入的历史条目
type fakeHistoryRepo struct {
	created []*repository.QueryHistory
}

func (f *fakeHistoryRepo) Create(_ context.Context, entry *repository.QueryHistory) error {
	f.created = append(f.created, entry)
	return nil
}

func (f *fakeHistoryRepo) GetByID(_ context.Context, _ int64) (*repository.QueryHistory, error) {
	return nil, repository.ErrNotFound
}

func (f *fakeHistoryRepo) List(_ context.Context, _, _ int) ([]*repository.QueryHistory, error) {
	return nil, nil
}

func (f *fakeHistoryRepo) ListByConnection(_ context.Context, _ int64, _, _ int) ([]*repository.QueryHistory, error) {
	return nil, nil
}

func (f *fakeHistoryRepo) SetPinned(_ context.Context, _ int64, _ bool) error { return nil }

func (f *fakeHistoryRepo) Delete(_ context.Context, _ int64) error { return nil }

func (f *fakeHistoryRepo) CountByConnection(_ context.Context, _ int64) (int64, error) {
	return 0, nil
}

// trackingAcquirer 记录是否有执行路径真的去取了目标库连接
type trackingAcquirer struct {
	db         *sql.DB
	connection *repository.DatabaseConnection
	acquired   bool
}

func (f *trackingAcquirer) Acquire(_ context.Context, _ int64) (*sql.DB, *repository.DatabaseConnection, error) {
	f.acquired = true
	return f.db, f.connection, nil
}

type queryHandlerFixture struct {
	handler     *QueryHandler
	router      *gin.Engine
	acquirer    *trackingAcquirer
	historyRepo *fakeHistoryRepo
	schemaCache *service.SchemaCache
	mock        sqlmock.Sqlmock
}

func newQueryHandlerFixture(t *testing.T, policy *service.GuardrailPolicy) *queryHandlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	connection := &repository.DatabaseConnection{
		ID:      1,
		Name:    "target",
		Dialect: repository.DialectPostgres,
	}

	acquirer := &trackingAcquirer{db: db, connection: connection}
	historyRepo := &fakeHistoryRepo{}
	schemaCache := service.NewSchemaCache(zap.NewNop())

	handler := NewQueryHandler(
		nil, // generator：这些用例不触发生成
		nil, // llmClient
		service.NewGuardrailValidator(policy, zap.NewNop()),
		service.NewSQLExecutor(acquirer, zap.NewNop()),
		nil, // introspector
		schemaCache,
		&fakeConnectionRepo{connections: map[int64]*repository.DatabaseConnection{1: connection}},
		historyRepo,
		service.NewChartAdvisor(zap.NewNop()),
		metrics.NewPrometheusMetrics(nil, zap.NewNop()),
		10*time.Minute,
		zap.NewNop(),
	)

	router := gin.New()
	router.POST("/execute", handler.Execute)
	router.POST("/suggest-chart", handler.SuggestChart)

	return &queryHandlerFixture{
		handler:     handler,
		router:      router,
		acquirer:    acquirer,
		historyRepo: historyRepo,
		schemaCache: schemaCache,
		mock:        mock,
	}
}

func postJSON(t *testing.T, router *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestExecute_GuardrailDeny(t *testing.T) {
	fixture := newQueryHandlerFixture(t, nil)

	recorder := postJSON(t, fixture.router, "/execute", gin.H{
		"sql":           "DELETE FROM orders WHERE 1=1",
		"connection_id": 1,
	})

	assert.Equal(t, http.StatusForbidden, recorder.Code)

	var body struct {
		Code    string `json:"code"`
		Verdict struct {
			Decision string   `json:"decision"`
			Reasons  []string `json:"reasons"`
		} `json:"verdict"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, CodeGuardrailDenied, body.Code)
	assert.Equal(t, string(service.DecisionDeny), body.Verdict.Decision)
	require.NotEmpty(t, body.Verdict.Reasons)
	assert.Contains(t, body.Verdict.Reasons[0], "data-modifying statement")

	// 被拒绝的语句绝不触达目标库，也不写历史
	assert.False(t, fixture.acquirer.acquired)
	assert.Empty(t, fixture.historyRepo.created)
}

func TestExecute_NeedsApprovalWithoutConfirmation(t *testing.T) {
	policy := service.DefaultGuardrailPolicy()
	policy.SensitiveTables = []string{"salaries"}
	fixture := newQueryHandlerFixture(t, policy)

	fixture.schemaCache.Store(&service.SchemaSnapshot{
		ConnectionID: 1,
		DatabaseName: "hr",
		CapturedAt:   time.Now().UTC(),
		Tables: []service.Table{
			{Name: "salaries", EstimatedRows: 100, Columns: []service.Column{
				{Name: "id", DeclaredType: "bigint", IsPrimaryKey: true},
				{Name: "amount", DeclaredType: "numeric"},
			}},
		},
	})

	recorder := postJSON(t, fixture.router, "/execute", gin.H{
		"sql":           "SELECT amount FROM salaries LIMIT 10",
		"connection_id": 1,
	})

	assert.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Verdict struct {
			Decision string `json:"decision"`
		} `json:"verdict"`
		Executed  bool            `json:"executed"`
		Execution json.RawMessage `json:"execution"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Equal(t, string(service.DecisionNeedsApproval), body.Verdict.Decision)
	assert.False(t, body.Executed)
	assert.Empty(t, body.Execution)

	// 未确认就不执行
	assert.False(t, fixture.acquirer.acquired)
	assert.Empty(t, fixture.historyRepo.created)
}

func TestExecute_NeedsApprovalConfirmed(t *testing.T) {
	policy := service.DefaultGuardrailPolicy()
	policy.SensitiveTables = []string{"salaries"}
	fixture := newQueryHandlerFixture(t, policy)

	fixture.schemaCache.Store(&service.SchemaSnapshot{
		ConnectionID: 1,
		DatabaseName: "hr",
		CapturedAt:   time.Now().UTC(),
		Tables: []service.Table{
			{Name: "salaries", EstimatedRows: 100, Columns: []service.Column{
				{Name: "amount", DeclaredType: "numeric"},
			}},
		},
	})

	fixture.mock.ExpectQuery("SELECT amount FROM salaries").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(100.0))

	recorder := postJSON(t, fixture.router, "/execute", gin.H{
		"sql":              "SELECT amount FROM salaries LIMIT 10",
		"connection_id":    1,
		"require_approval": true,
	})

	assert.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Executed  bool `json:"executed"`
		Execution struct {
			Success  bool `json:"success"`
			RowCount int  `json:"row_count"`
		} `json:"execution"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.True(t, body.Executed)
	assert.True(t, body.Execution.Success)
	assert.Equal(t, 1, body.Execution.RowCount)
}

func TestExecute_AllowedWithLimitInjection(t *testing.T) {
	fixture := newQueryHandlerFixture(t, nil)

	fixture.mock.ExpectQuery(`SELECT id FROM customers\s+LIMIT 1000`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))

	recorder := postJSON(t, fixture.router, "/execute", gin.H{
		"sql":           "SELECT id FROM customers",
		"connection_id": 1,
	})

	assert.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Verdict struct {
			NormalizedSQL string `json:"normalized_sql"`
		} `json:"verdict"`
		Executed  bool `json:"executed"`
		Execution struct {
			SQLExecuted string `json:"sql_executed"`
			Success     bool   `json:"success"`
		} `json:"execution"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))

	// 执行的是守卫改写后的语句，不是原始输入
	assert.Contains(t, body.Verdict.NormalizedSQL, "LIMIT 1000")
	assert.Equal(t, body.Verdict.NormalizedSQL, body.Execution.SQLExecuted)
	assert.True(t, body.Executed)
	assert.True(t, body.Execution.Success)
	assert.NoError(t, fixture.mock.ExpectationsWereMet())

	// 成功执行写入一条历史
	require.Len(t, fixture.historyRepo.created, 1)
	assert.Equal(t, body.Execution.SQLExecuted, fixture.historyRepo.created[0].SQL)
	assert.True(t, fixture.historyRepo.created[0].Success)
}

func TestExecute_UnknownConnection(t *testing.T) {
	fixture := newQueryHandlerFixture(t, nil)

	recorder := postJSON(t, fixture.router, "/execute", gin.H{
		"sql":           "SELECT 1",
		"connection_id": 404,
	})

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestSuggestChart_Endpoint(t *testing.T) {
	fixture := newQueryHandlerFixture(t, nil)

	recorder := postJSON(t, fixture.router, "/suggest-chart", gin.H{
		"columns": []gin.H{{"name": "category"}, {"name": "total"}},
		"rows": []gin.H{
			{"category": "食品", "total": 120.0},
			{"category": "电子", "total": 300.0},
		},
		"prompt": "各分类销售额占比",
	})

	assert.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Chart *service.ChartRecommendation `json:"chart"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	require.NotNil(t, body.Chart)
	assert.Equal(t, service.ChartTypePie, body.Chart.Type)
	assert.Equal(t, "category", body.Chart.XKey)
	assert.Equal(t, "total", body.Chart.YKey)
}

func TestSuggestChart_Degenerate(t *testing.T) {
	fixture := newQueryHandlerFixture(t, nil)

	recorder := postJSON(t, fixture.router, "/suggest-chart", gin.H{
		"columns": []gin.H{{"name": "total"}},
		"rows":    []gin.H{{"total": 42.0}},
		"prompt":  "总销售额",
	})

	assert.Equal(t, http.StatusOK, recorder.Code)

	var body struct {
		Chart *service.ChartRecommendation `json:"chart"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &body))
	assert.Nil(t, body.Chart)
}
