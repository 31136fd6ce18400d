package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"reflect"
	"strings"
	"testing"

	"github.com/alanmaizon/taskplan/internal/config"
	"github.com/alanmaizon/taskplan/internal/domain"
	"github.com/alanmaizon/taskplan/internal/llm"
	"github.com/alanmaizon/taskplan/internal/metrics"
	"github.com/alanmaizon/taskplan/internal/middleware"
	"github.com/alanmaizon/taskplan/internal/planner"
	"github.com/gin-gonic/gin"
)

const failureBody = `{"error":"Task generation failed"}`

func defaultPlannerConfig() config.PlannerConfig {
	return config.PlannerConfig{
		Provider:        "deepseek",
		QueryDefaults:   true,
		DefaultIdentity: config.DefaultIdentity,
		DefaultCoreNum:  config.DefaultCoreNum,
		DefaultSubNum:   config.DefaultSubNum,
	}
}

func testRegistry() *llm.Registry {
	return llm.NewRegistry(llm.Credentials{DeepSeekAPIKey: "ds-key"})
}

func testRouter(deps Dependencies) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Logging())
	RegisterRoutes(router, deps)
	return router
}

func routerWithCompleter(completer llm.Completer, settings config.PlannerConfig) *gin.Engine {
	registry := testRegistry()
	return testRouter(Dependencies{
		Generator: planner.NewGenerator(registry, completer),
		Registry:  registry,
		Planner:   settings,
	})
}

func generateURL(identity string, coreNum string, subNum string) string {
	query := url.Values{}
	query.Set("identity", identity)
	query.Set("coreNum", coreNum)
	query.Set("subNum", subNum)
	return "/generate_tasks?" + query.Encode()
}

func planOfSize(core int, sub int) string {
	coreTasks := make([]string, core)
	subTasksList := make([][]string, core)
	for i := range coreTasks {
		coreTasks[i] = fmt.Sprintf("core %d", i+1)
		subTasksList[i] = make([]string, sub)
		for j := range subTasksList[i] {
			subTasksList[i][j] = fmt.Sprintf("sub %d-%d", i+1, j+1)
		}
	}
	encoded, _ := json.Marshal(map[string]any{"core_tasks": coreTasks, "sub_tasks_list": subTasksList})
	return string(encoded)
}

func TestGenerateTasksReturnsProviderObjectVerbatim(t *testing.T) {
	stub := `{"core_tasks": ["A","B"], "sub_tasks_list": [["a1","a2"],["b1","b2"]]}`
	router := routerWithCompleter(llm.NewMockCompleter(stub, nil), defaultPlannerConfig())

	req := httptest.NewRequest(http.MethodGet, generateURL("小明 CS本科生", "2", "2"), nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}

	var got, expected map[string]any
	if err := json.Unmarshal(res.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	_ = json.Unmarshal([]byte(stub), &expected)
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

func TestGenerateTasksShapeMatchesCounts(t *testing.T) {
	for _, size := range [][2]int{{1, 3}, {4, 2}, {5, 7}} {
		router := routerWithCompleter(llm.NewMockCompleter(planOfSize(size[0], size[1]), nil), defaultPlannerConfig())

		req := httptest.NewRequest(http.MethodGet, generateURL("tester", fmt.Sprint(size[0]), fmt.Sprint(size[1])), nil)
		res := httptest.NewRecorder()
		router.ServeHTTP(res, req)

		var plan struct {
			CoreTasks    []string   `json:"core_tasks"`
			SubTasksList [][]string `json:"sub_tasks_list"`
		}
		if err := json.Unmarshal(res.Body.Bytes(), &plan); err != nil {
			t.Fatalf("failed to decode response: %v", err)
		}
		if len(plan.CoreTasks) != size[0] || len(plan.SubTasksList) != size[0] {
			t.Fatalf("expected %d core tasks, got %s", size[0], res.Body.String())
		}
		for _, subTasks := range plan.SubTasksList {
			if len(subTasks) != size[1] {
				t.Fatalf("expected %d sub tasks, got %s", size[1], res.Body.String())
			}
		}
	}
}

func TestGenerateTasksTransportFailure(t *testing.T) {
	completer := llm.NewMockCompleter("", &llm.ProviderCallError{Provider: "deepseek", Err: errors.New("connection reset by peer")})
	router := routerWithCompleter(completer, defaultPlannerConfig())

	req := httptest.NewRequest(http.MethodGet, generateURL("tester", "2", "2"), nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	if strings.TrimSpace(res.Body.String()) != failureBody {
		t.Fatalf("unexpected body: %s", res.Body.String())
	}
}

func TestGenerateTasksInvalidJSONLooksLikeAnyFailure(t *testing.T) {
	router := routerWithCompleter(llm.NewMockCompleter("Sure! Here is the plan:", nil), defaultPlannerConfig())

	req := httptest.NewRequest(http.MethodGet, generateURL("tester", "2", "2"), nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK || strings.TrimSpace(res.Body.String()) != failureBody {
		t.Fatalf("unexpected response %d: %s", res.Code, res.Body.String())
	}
}

func TestGenerateTasksUpstreamHTTPFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer upstream.Close()

	rewrite := &http.Client{Transport: rewriteTransport{target: upstream.URL}}
	router := routerWithCompleter(llm.NewChatClient(llm.ClientOptions{HTTPClient: rewrite}), defaultPlannerConfig())

	req := httptest.NewRequest(http.MethodGet, generateURL("tester", "2", "2"), nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if strings.TrimSpace(res.Body.String()) != failureBody {
		t.Fatalf("unexpected body: %s", res.Body.String())
	}
}

func TestGenerateTasksUnsupportedProvider(t *testing.T) {
	completer := llm.NewMockCompleter(planOfSize(2, 2), nil)
	settings := defaultPlannerConfig()
	settings.Provider = "openai"
	router := routerWithCompleter(completer, settings)

	req := httptest.NewRequest(http.MethodGet, generateURL("tester", "2", "2"), nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if strings.TrimSpace(res.Body.String()) != failureBody {
		t.Fatalf("unexpected body: %s", res.Body.String())
	}
	if completer.Calls() != 0 {
		t.Fatalf("expected no provider call, got %d", completer.Calls())
	}
}

func TestGenerateTasksQueryDefaults(t *testing.T) {
	completer := llm.NewMockCompleter(planOfSize(5, 7), nil)
	router := routerWithCompleter(completer, defaultPlannerConfig())

	req := httptest.NewRequest(http.MethodGet, "/generate_tasks", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	messages := completer.LastMessages()
	if len(messages) != 2 {
		t.Fatalf("expected provider to be called")
	}
	expected := "用户身份：小明 CS本科生\n核心任务数量：5\n每个核心任务的子任务数量：7"
	if messages[1].Content != expected {
		t.Fatalf("unexpected user prompt: %q", messages[1].Content)
	}
}

func TestGenerateTasksMissingParamWithoutDefaults(t *testing.T) {
	completer := llm.NewMockCompleter(planOfSize(2, 2), nil)
	settings := defaultPlannerConfig()
	settings.QueryDefaults = false
	router := routerWithCompleter(completer, settings)

	req := httptest.NewRequest(http.MethodGet, "/generate_tasks?identity=tester&coreNum=2", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", res.Code)
	}
	if strings.TrimSpace(res.Body.String()) != `{"error":"missing query parameter: subNum"}` {
		t.Fatalf("unexpected body: %s", res.Body.String())
	}
	if completer.Calls() != 0 {
		t.Fatalf("expected no provider call")
	}
}

func TestGenerateTasksInvalidInteger(t *testing.T) {
	router := routerWithCompleter(llm.NewMockCompleter(planOfSize(2, 2), nil), defaultPlannerConfig())

	req := httptest.NewRequest(http.MethodGet, generateURL("tester", "two", "2"), nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", res.Code)
	}
	if strings.TrimSpace(res.Body.String()) != `{"error":"invalid query parameter: coreNum"}` {
		t.Fatalf("unexpected body: %s", res.Body.String())
	}
}

func TestGenerateTasksPassesUnboundedCounts(t *testing.T) {
	completer := llm.NewMockCompleter(`{"core_tasks": [], "sub_tasks_list": []}`, nil)
	router := routerWithCompleter(completer, defaultPlannerConfig())

	req := httptest.NewRequest(http.MethodGet, generateURL("tester", "0", "-3"), nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	if !strings.Contains(completer.LastMessages()[1].Content, "每个核心任务的子任务数量：-3") {
		t.Fatalf("expected negative count to reach the prompt")
	}
}

type contextRecorder struct {
	err       error
	requestID string
}

func (r *contextRecorder) Generate(ctx context.Context, req domain.PlanRequest) (*domain.TaskPlan, bool) {
	r.err = ctx.Err()
	r.requestID = middleware.GetRequestIDFromContext(ctx)
	return nil, false
}

func TestGenerateTasksDetachesClientCancellation(t *testing.T) {
	recorder := &contextRecorder{}
	router := testRouter(Dependencies{Generator: recorder, Registry: testRegistry(), Planner: defaultPlannerConfig()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, generateURL("tester", "1", "1"), nil).WithContext(ctx)
	req.Header.Set("X-Request-Id", "req-42")
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if recorder.err != nil {
		t.Fatalf("expected generator context to ignore client cancellation, got %v", recorder.err)
	}
	if recorder.requestID != "req-42" {
		t.Fatalf("expected request id to propagate, got %q", recorder.requestID)
	}
	if res.Header().Get("X-Request-Id") != "req-42" {
		t.Fatalf("expected request id header echoed")
	}
}

func TestHealth(t *testing.T) {
	router := routerWithCompleter(llm.NewMockCompleter("", nil), defaultPlannerConfig())

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	if strings.TrimSpace(res.Body.String()) != "{\"ok\":true}" {
		t.Fatalf("unexpected body: %s", res.Body.String())
	}
}

func TestProviders(t *testing.T) {
	settings := defaultPlannerConfig()
	settings.Provider = "SiliconFlow"
	router := routerWithCompleter(llm.NewMockCompleter("", nil), settings)

	req := httptest.NewRequest(http.MethodGet, "/api/providers", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	var payload domain.ProvidersResponse
	if err := json.Unmarshal(res.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Active != "siliconflow" {
		t.Fatalf("expected active siliconflow, got %q", payload.Active)
	}
	if len(payload.Providers) != 2 || !payload.Providers[0].Configured || payload.Providers[1].Configured {
		t.Fatalf("unexpected providers: %+v", payload.Providers)
	}
	if strings.Contains(res.Body.String(), "ds-key") {
		t.Fatalf("providers response leaked a credential")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.ResetForTests()
	router := routerWithCompleter(llm.NewMockCompleter(planOfSize(1, 1), nil), defaultPlannerConfig())

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, generateURL("tester", "1", "1"), nil))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	res := httptest.NewRecorder()
	router.ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", res.Code)
	}
	body := res.Body.String()
	for _, substring := range []string{
		`taskplan_http_requests_total{method="GET",route="/generate_tasks",status="200"} 1`,
		`taskplan_provider_requests_total{error_category="none",operation="chat_completion",provider="mock",status="success"} 1`,
	} {
		if !strings.Contains(body, substring) {
			t.Fatalf("expected metrics output to contain %q\noutput:\n%s", substring, body)
		}
	}
}

// rewriteTransport sends every request to the test upstream, keeping the path.
type rewriteTransport struct {
	target string
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	target, err := url.Parse(t.target)
	if err != nil {
		return nil, err
	}
	clone := req.Clone(req.Context())
	clone.URL.Scheme = target.Scheme
	clone.URL.Host = target.Host
	clone.Host = target.Host
	return http.DefaultTransport.RoundTrip(clone)
}
