package deploy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAuthorize(t *testing.T) {
	b := New([]string{"https://preview.example"})
	b.Update("var actions = {};", "tok-1")

	t.Run("key and origin match", func(t *testing.T) {
		p, ok := b.Authorize(b.Key(), "https://preview.example")
		if !ok {
			t.Fatal("expected payload")
		}
		if p.Code != "var actions = {};" || p.Token != "tok-1" {
			t.Fatalf("unexpected payload: %+v", p)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		if _, ok := b.Authorize("nope", "https://preview.example"); ok {
			t.Fatal("expected refusal")
		}
	})

	t.Run("origin not allow-listed", func(t *testing.T) {
		if _, ok := b.Authorize(b.Key(), "https://evil.example"); ok {
			t.Fatal("expected refusal")
		}
	})

	t.Run("empty allow-list refuses everything", func(t *testing.T) {
		closed := New(nil)
		if _, ok := closed.Authorize(closed.Key(), ""); ok {
			t.Fatal("expected refusal")
		}
	})
}

func TestUpdateReplacesPayload(t *testing.T) {
	b := New([]string{"https://preview.example"})
	b.Update("one", "t1")
	b.Update("two", "t2")

	p, ok := b.Authorize(b.Key(), "https://preview.example")
	if !ok {
		t.Fatal("expected payload")
	}
	if p.Code != "two" || p.Token != "t2" {
		t.Fatalf("got stale payload: %+v", p)
	}
}

func TestKeysDiffer(t *testing.T) {
	a, b := New(nil), New(nil)
	if a.Key() == "" || a.Key() == b.Key() {
		t.Fatalf("keys must be random and non-empty: %q vs %q", a.Key(), b.Key())
	}
}

func TestServeHTTP(t *testing.T) {
	b := New([]string{"https://preview.example"})
	b.Update("code", "tok")
	srv := httptest.NewServer(b)
	defer srv.Close()

	post := func(t *testing.T, key, origin string) *http.Response {
		t.Helper()
		req, err := http.NewRequest(http.MethodPost, srv.URL, strings.NewReader(`{"key":"`+key+`"}`))
		if err != nil {
			t.Fatal(err)
		}
		if origin != "" {
			req.Header.Set("Origin", origin)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	t.Run("authorized", func(t *testing.T) {
		resp := post(t, b.Key(), "https://preview.example")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		var p Payload
		if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
			t.Fatal(err)
		}
		if p.Code != "code" || p.Token != "tok" {
			t.Fatalf("unexpected payload: %+v", p)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		resp := post(t, "nope", "https://preview.example")
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	})

	t.Run("missing origin", func(t *testing.T) {
		resp := post(t, b.Key(), "")
		resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	})

	t.Run("get refused", func(t *testing.T) {
		resp, err := http.Get(srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	})
}
