package routes

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vocabnest/vocabnest/config"
	"github.com/vocabnest/vocabnest/models"
	"github.com/vocabnest/vocabnest/utils"
)

func TestMain(m *testing.M) {
	logDir, err := os.MkdirTemp("", "vocabnest-routes")
	if err != nil {
		panic(err)
	}
	config.Set(config.AppConfig{
		GinPath:            filepath.Join(logDir, "gin.log"),
		JWTSecret:          "router-test-secret",
		RedisDisabled:      true,
		GinMode:            "test",
		RateLimitPerMinute: 10000,
		LogLevel:           "silent",
	})
	code := m.Run()
	_ = os.RemoveAll(logDir)
	os.Exit(code)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testAPI struct {
	t      *testing.T
	router *gin.Engine
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db, err := config.OpenDatabase(config.AppConfig{
		DBDriver:    "sqlite",
		DatabaseURI: filepath.Join(t.TempDir(), "api.db"),
		LogLevel:    "silent",
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := config.Migrate(db, &models.User{}, &models.WorkPointsRecord{}, &models.WorkPointsCredit{}, &models.VocabEntry{}, &models.StudyText{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &testAPI{t: t, router: NewRouter(db, utils.NewMemoryCache())}
}

func (a *testAPI) do(method, path, token string, body interface{}) (int, envelope) {
	a.t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			a.t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return a.send(req, token)
}

func (a *testAPI) send(req *http.Request, token string) (int, envelope) {
	a.t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		a.t.Fatalf("%s %s: undecodable body %q", req.Method, req.URL.Path, w.Body.String())
	}
	return w.Code, env
}

func (a *testAPI) register(username string) string {
	a.t.Helper()
	status, env := a.do(http.MethodPost, "/api/auth/register", "", gin.H{"username": username, "password": "correct-horse"})
	if status != http.StatusOK {
		a.t.Fatalf("register %s: %d %s", username, status, env.Message)
	}
	var data struct {
		Token string `json:"token"`
	}
	decode(a.t, env, &data)
	return data.Token
}

func decode(t *testing.T, env envelope, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode data %s: %v", env.Data, err)
	}
}

func TestHealthMetricsAndNoRoute(t *testing.T) {
	api := newTestAPI(t)

	if status, env := api.do(http.MethodGet, "/health", "", nil); status != http.StatusOK || env.Code != 0 {
		t.Errorf("health = %d %+v", status, env)
	}
	if status, env := api.do(http.MethodGet, "/api/nope", "", nil); status != http.StatusNotFound || env.Code != 40400 {
		t.Errorf("no route = %d %+v", status, env)
	}

	w := httptest.NewRecorder()
	api.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "vocabnest_http_requests_total") {
		t.Errorf("metrics endpoint = %d", w.Code)
	}
}

func TestAuthFlow(t *testing.T) {
	api := newTestAPI(t)
	token := api.register("ana_l")

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"duplicate username", gin.H{"username": "ana_l", "password": "correct-horse"}, http.StatusConflict},
		{"short password", gin.H{"username": "bea", "password": "short"}, http.StatusBadRequest},
		{"bad username", gin.H{"username": "a b", "password": "correct-horse"}, http.StatusBadRequest},
		{"bad email", gin.H{"username": "carl", "password": "correct-horse", "email": "nope"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if status, env := api.do(http.MethodPost, "/api/auth/register", "", tt.body); status != tt.want {
				t.Errorf("status = %d (%s), want %d", status, env.Message, tt.want)
			}
		})
	}

	if status, _ := api.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "ana_l", "password": "wrong-horse"}); status != http.StatusUnauthorized {
		t.Errorf("wrong password login = %d", status)
	}
	status, env := api.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "ana_l", "password": "correct-horse"})
	if status != http.StatusOK {
		t.Fatalf("login = %d %s", status, env.Message)
	}

	status, env = api.do(http.MethodPatch, "/api/auth/profile", token, gin.H{"display_name": "<b>Ana</b>", "target_language": "ES"})
	if status != http.StatusOK {
		t.Fatalf("profile = %d %s", status, env.Message)
	}
	var profile struct {
		DisplayName    string `json:"display_name"`
		TargetLanguage string `json:"target_language"`
	}
	decode(t, env, &profile)
	if profile.DisplayName != "Ana" || profile.TargetLanguage != "es" {
		t.Errorf("profile = %+v", profile)
	}

	if status, _ := api.do(http.MethodGet, "/api/auth/me", token, nil); status != http.StatusOK {
		t.Errorf("me = %d", status)
	}
	if status, _ := api.do(http.MethodPost, "/api/auth/logout", token, nil); status != http.StatusOK {
		t.Errorf("logout = %d", status)
	}
	if status, _ := api.do(http.MethodGet, "/api/auth/me", token, nil); status != http.StatusUnauthorized {
		t.Errorf("me after logout = %d, want 401", status)
	}
}

func TestWorkPointsSync(t *testing.T) {
	api := newTestAPI(t)
	token := api.register("dora")
	today := time.Now().UTC().Format("2006-01-02")

	sync := func(points interface{}) (int, envelope) {
		body := gin.H{"date": today, "deviceFingerprint": "device-1"}
		if points != nil {
			body["workPoints"] = points
		}
		return api.do(http.MethodPost, "/api/users/work-points/sync", token, body)
	}

	type result struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Data    struct {
			DayTotal        int64 `json:"dayTotal"`
			TotalWorkPoints int64 `json:"totalWorkPoints"`
		} `json:"data"`
	}

	steps := []struct {
		points    int64
		wantTotal int64
	}{
		{12, 12},
		{8, 12}, // a lower resend replaces the row but never decrements the total
		{15, 15},
		{0, 15},
		{15, 15}, // raising back to an already credited sum pays nothing
	}
	for _, step := range steps {
		status, env := sync(step.points)
		if status != http.StatusOK {
			t.Fatalf("sync %d = %d %s", step.points, status, env.Message)
		}
		var res result
		decode(t, env, &res)
		if !res.Success || res.Data.DayTotal != step.points || res.Data.TotalWorkPoints != step.wantTotal {
			t.Errorf("sync %d = %+v", step.points, res)
		}
	}

	status, env := sync(nil)
	if status != http.StatusBadRequest {
		t.Fatalf("missing workPoints = %d", status)
	}
	var res result
	decode(t, env, &res)
	if res.Success || res.Message == "" {
		t.Errorf("failed sync result = %+v", res)
	}

	if status, _ := sync(int64(-1)); status != http.StatusBadRequest {
		t.Errorf("negative workPoints = %d", status)
	}
	if status, _ := api.do(http.MethodPost, "/api/users/work-points/sync", "", gin.H{"date": today, "workPoints": 1}); status != http.StatusUnauthorized {
		t.Errorf("unauthenticated sync = %d", status)
	}

	month := today[:7]
	status, env = api.do(http.MethodGet, "/api/users/work-points/calendar/"+month+"?tz=UTC", token, nil)
	if status != http.StatusOK {
		t.Fatalf("calendar = %d %s", status, env.Message)
	}
	var cal struct {
		Month string `json:"month"`
		Days  []struct {
			Date             string `json:"date"`
			WorkPointsEarned int64  `json:"workPointsEarned"`
			IsToday          bool   `json:"isToday"`
		} `json:"days"`
	}
	decode(t, env, &cal)
	found := false
	for _, d := range cal.Days {
		if d.Date == today {
			found = d.IsToday && d.WorkPointsEarned == 15
		}
	}
	if cal.Month != month || !found {
		t.Errorf("calendar = %+v", cal)
	}

	if status, _ := api.do(http.MethodGet, "/api/users/work-points/calendar/2024-13", token, nil); status != http.StatusBadRequest {
		t.Errorf("bad month = %d", status)
	}
	if status, _ := api.do(http.MethodGet, "/api/users/work-points/status?tz=Mars/Olympus", token, nil); status != http.StatusBadRequest {
		t.Errorf("bad tz = %d", status)
	}
}

func TestVocabularyAndTexts(t *testing.T) {
	api := newTestAPI(t)
	token := api.register("emil")

	status, env := api.do(http.MethodPost, "/api/vocabEntries", token, gin.H{"front": "Casa", "back": "house", "tags": "home; nouns"})
	if status != http.StatusCreated {
		t.Fatalf("create = %d %s", status, env.Message)
	}
	var created struct {
		Entry models.VocabEntry `json:"entry"`
	}
	decode(t, env, &created)
	if created.Entry.EntryKey != "casa" || created.Entry.Tags != "home,nouns" {
		t.Errorf("created = %+v", created.Entry)
	}
	if status, _ := api.do(http.MethodPost, "/api/vocabEntries", token, gin.H{"front": "casa", "back": "home"}); status != http.StatusConflict {
		t.Errorf("duplicate create = %d", status)
	}
	if status, _ := api.do(http.MethodPost, "/api/vocabEntries", token, gin.H{"front": "perro"}); status != http.StatusBadRequest {
		t.Errorf("missing back = %d", status)
	}

	// CSV import
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "deck.csv")
	_, _ = fw.Write([]byte("front,back,tags\nperro,dog,animals\ngato,cat,animals\ncasa,home,\n"))
	_ = mw.WriteField("updateExisting", "true")
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/vocabEntries/import", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	status, env = api.send(req, token)
	if status != http.StatusOK {
		t.Fatalf("import = %d %s", status, env.Message)
	}
	var imported struct {
		JobID   string `json:"jobId"`
		Status  string `json:"status"`
		Results struct {
			Total    int `json:"total"`
			Inserted int `json:"inserted"`
			Updated  int `json:"updated"`
		} `json:"results"`
	}
	decode(t, env, &imported)
	if imported.Results.Total != 3 || imported.Results.Inserted != 2 || imported.Results.Updated != 1 {
		t.Errorf("import results = %+v", imported)
	}
	if status, _ := api.do(http.MethodGet, "/api/vocabEntries/import/"+imported.JobID, token, nil); status != http.StatusOK {
		t.Errorf("import status = %d", status)
	}

	status, env = api.do(http.MethodGet, "/api/vocabEntries?tag=animals", token, nil)
	if status != http.StatusOK {
		t.Fatalf("list = %d", status)
	}
	var list struct {
		Items []models.VocabEntry `json:"items"`
	}
	decode(t, env, &list)
	if len(list.Items) != 2 {
		t.Errorf("tag filter returned %d items", len(list.Items))
	}

	status, env = api.do(http.MethodGet, "/api/vocabEntries/lookup?words=Perro,luna", token, nil)
	if status != http.StatusOK {
		t.Fatalf("lookup = %d", status)
	}
	var hits struct {
		Matches map[string][]struct {
			Back string `json:"back"`
		} `json:"matches"`
	}
	decode(t, env, &hits)
	if len(hits.Matches) != 1 || hits.Matches["perro"][0].Back != "dog" {
		t.Errorf("lookup = %+v", hits)
	}

	status, env = api.do(http.MethodPost, "/api/texts", token, gin.H{
		"title":   "Mi casa",
		"content": "<p>El perro y el gato</p><script>alert(1)</script>",
	})
	if status != http.StatusCreated {
		t.Fatalf("create text = %d %s", status, env.Message)
	}
	var text struct {
		Text models.StudyText `json:"text"`
	}
	decode(t, env, &text)
	if strings.Contains(text.Text.Content, "script") {
		t.Errorf("content not sanitized: %q", text.Text.Content)
	}

	status, env = api.do(http.MethodGet, "/api/texts/"+itoa(text.Text.ID)+"/lookup", token, nil)
	if status != http.StatusOK {
		t.Fatalf("text lookup = %d", status)
	}
	var match struct {
		Lookup struct {
			TotalTokens int `json:"totalTokens"`
			Known       []struct {
				Token string `json:"token"`
			} `json:"known"`
		} `json:"lookup"`
	}
	decode(t, env, &match)
	if match.Lookup.TotalTokens != 7 || len(match.Lookup.Known) != 3 {
		t.Errorf("text lookup = %+v", match.Lookup)
	}

	// another user cannot see the text
	other := api.register("fran")
	if status, _ := api.do(http.MethodGet, "/api/texts/"+itoa(text.Text.ID), other, nil); status != http.StatusNotFound {
		t.Errorf("foreign text = %d, want 404", status)
	}
}

func TestDeleteAccount(t *testing.T) {
	api := newTestAPI(t)
	token := api.register("gus")
	api.do(http.MethodPost, "/api/vocabEntries", token, gin.H{"front": "sol", "back": "sun"})

	if status, env := api.do(http.MethodDelete, "/api/auth/account", token, nil); status != http.StatusOK {
		t.Fatalf("delete account = %d %s", status, env.Message)
	}
	if status, _ := api.do(http.MethodGet, "/api/auth/me", token, nil); status != http.StatusUnauthorized {
		t.Errorf("token still valid after delete: %d", status)
	}
	if status, _ := api.do(http.MethodPost, "/api/auth/login", "", gin.H{"username": "gus", "password": "correct-horse"}); status != http.StatusUnauthorized {
		t.Errorf("login after delete = %d", status)
	}
	// the username is free again
	api.register("gus")
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
