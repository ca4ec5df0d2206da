package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return WithLocalizer(context.Background(), NewLocalizer(lang))
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "AppTitle"); got != "Exam Grader" {
		t.Errorf("T(AppTitle) = %q, want 'Exam Grader'", got)
	}
	if got := T(ctx, "NoTest"); got != "No test has been set up yet." {
		t.Errorf("T(NoTest) = %q", got)
	}
}

func TestTranslateChinese(t *testing.T) {
	ctx := initLang(t, "zh")

	if got := T(ctx, "AppTitle"); got != "考试评分系统" {
		t.Errorf("T(AppTitle) = %q, want '考试评分系统'", got)
	}
	if got := T(ctx, "LoginError"); got != "用户名或密码错误。" {
		t.Errorf("T(LoginError) = %q", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	if got := Tp(ctx, "QuestionsImported", 1); got != "1 question imported." {
		t.Errorf("Tp(QuestionsImported, 1) = %q", got)
	}
	if got := Tp(ctx, "QuestionsImported", 5); got != "5 questions imported." {
		t.Errorf("Tp(QuestionsImported, 5) = %q", got)
	}

	zh := initLang(t, "zh")
	if got := Tp(zh, "QuestionsImported", 3); got != "已导入 3 道题目。" {
		t.Errorf("Tp(zh QuestionsImported, 3) = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "MissingColumns", map[string]any{"Columns": "stem, answer"})
	if got != "The file is missing required columns: stem, answer." {
		t.Errorf("Td(MissingColumns) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestLanguages(t *testing.T) {
	initLang(t, "en")
	got := Languages()
	sort.Strings(got)
	if len(got) != 2 || got[0] != "en" || got[1] != "zh" {
		t.Errorf("Languages() = %v, want [en zh]", got)
	}
}

func TestMiddlewareNegotiatesLanguage(t *testing.T) {
	initLang(t, "en")
	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "NotFound")
	}))

	tests := []struct {
		name   string
		url    string
		accept string
		want   string
	}{
		{"default", "/", "", "Not found."},
		{"accept header", "/", "zh-CN,zh;q=0.9,en;q=0.8", "未找到。"},
		{"query wins", "/?lang=en", "zh-CN", "Not found."},
		{"unsupported falls back", "/", "fr-FR", "Not found."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
