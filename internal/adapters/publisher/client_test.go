package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ig-automation/internal/domain"
)

func TestPublishReelSendsOptions(t *testing.T) {
	var got struct {
		Path    string             `json:"path"`
		Caption string             `json:"caption"`
		Options domain.ReelOptions `json:"options"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/ig/api/v1/accounts/7/reel" {
			t.Errorf("неожиданный запрос %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("нет токена авторизации")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("не удалось разобрать тело: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"media_id": "reel-1"})
	}))
	defer srv.Close()

	client, err := New(srv.URL+"/ig/", WithToken("secret"))
	if err != nil {
		t.Fatalf("не удалось создать клиент: %v", err)
	}
	id, err := client.PublishReel(context.Background(), 7, "/media/r.mp4", "подпись", domain.ReelOptions{Usertags: []string{"friend"}, CoverTime: 2})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if id != "reel-1" {
		t.Fatalf("ожидали reel-1, получили %q", id)
	}
	if got.Path != "/media/r.mp4" || got.Caption != "подпись" || got.Options.CoverTime != 2 || len(got.Options.Usertags) != 1 {
		t.Fatalf("сервер получил неверные данные: %+v", got)
	}
}

func TestValidateBeforeUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/v1/accounts/3/validate" {
			t.Errorf("неожиданный запрос %s %s", r.Method, r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"valid":false}`))
	}))
	defer srv.Close()

	client, _ := New(srv.URL)
	valid, err := client.ValidateBeforeUse(context.Background(), 3)
	if err != nil || valid {
		t.Fatalf("ожидали невалидный аккаунт без ошибки, получили %v, %v", valid, err)
	}
}

func TestWarmSendsDuration(t *testing.T) {
	var seconds int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Duration int `json:"duration_seconds"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		seconds = body.Duration
		_, _ = w.Write([]byte(`{"message":"просмотрено 12 историй"}`))
	}))
	defer srv.Close()

	client, _ := New(srv.URL)
	msg, err := client.Warm(context.Background(), 5, 15*time.Minute)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if seconds != 900 || msg != "просмотрено 12 историй" {
		t.Fatalf("неверный прогрев: %d секунд, %q", seconds, msg)
	}
}

func TestAPIErrorsMapped(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		body    string
		check   func(error) bool
		message string
	}{
		{"аккаунт не найден", http.StatusNotFound, `{"code":"account_not_found","error":"no account"}`,
			func(err error) bool { return errors.Is(err, domain.ErrNotFound) }, "ожидали ErrNotFound"},
		{"ограничение Instagram", http.StatusTooManyRequests, `{"code":"feedback_required","error":"try later"}`,
			domain.IsRefusal, "ожидали штатный отказ"},
		{"текст без JSON", http.StatusBadGateway, `upstream down`,
			func(err error) bool { return err != nil && !domain.IsRefusal(err) }, "ожидали обычную ошибку"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			client, _ := New(srv.URL)
			_, err := client.PublishPhoto(context.Background(), 1, "a.jpg", "")
			if !tc.check(err) {
				t.Fatalf("%s, получили %v", tc.message, err)
			}
		})
	}
}

func TestPublishRequiresPaths(t *testing.T) {
	client, _ := New("http://localhost")
	if _, err := client.PublishCarousel(context.Background(), 1, nil, ""); err == nil {
		t.Fatal("карусель без файлов должна отклоняться")
	}
	if _, err := client.PublishStory(context.Background(), 1, nil, "", domain.StoryOptions{}); err == nil {
		t.Fatal("история без файлов должна отклоняться")
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("пустой адрес должен давать ошибку")
	}
}
