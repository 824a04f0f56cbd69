package integration

import (
	"net/http"
	"testing"
	"time"
)

func TestAssetStaleWhileRevalidateConverges(t *testing.T) {
	stub := newSiteStub(t)
	env := startEdge(t, stub, nil)

	style := map[string]string{"Sec-Fetch-Dest": "style"}

	// 预热已把 /css/style.css 写入 core 分区，首个请求即命中。
	resp := env.get(t, "/css/style.css", style)
	if hit := resp.Header.Get("X-Site-Edge-Cache-Hit"); hit != "true" {
		t.Fatalf("expected core partition hit, got hit=%s", hit)
	}
	if body := readBody(t, resp); body != "body { color: gray }" {
		t.Fatalf("unexpected body: %s", body)
	}

	// 源站内容更新后，下一请求仍可能返回旧副本，但后台刷新最终收敛。
	stub.set("/css/style.css", "body { color: teal }")
	resp = env.get(t, "/css/style.css", style)
	readBody(t, resp)
	env.waitForRuntimeBody(t, "/css/style.css", "body { color: teal }")

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp = env.get(t, "/css/style.css", style)
		if body := readBody(t, resp); body == "body { color: teal }" {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("SWR 刷新后应最终返回新副本")
}

func TestMediaCacheFirstAvoidsRepeatFetches(t *testing.T) {
	stub := newSiteStub(t)
	env := startEdge(t, stub, nil)

	image := map[string]string{"Sec-Fetch-Dest": "image"}
	const path = "/img/team-photo.jpg"
	stub.set(path, "team-bytes")

	resp := env.get(t, path, image)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if hit := resp.Header.Get("X-Site-Edge-Cache-Hit"); hit != "false" {
		t.Fatalf("expected cold miss, got hit=%s", hit)
	}
	readBody(t, resp)
	env.waitForRuntimeBody(t, path, "team-bytes")

	// 缓存就绪后断网也能持续服务。
	stub.Close()
	for i := 0; i < 3; i++ {
		resp = env.get(t, path, image)
		if hit := resp.Header.Get("X-Site-Edge-Cache-Hit"); hit != "true" {
			t.Fatalf("expected cache hit on repeat fetch, got hit=%s", hit)
		}
		if body := readBody(t, resp); body != "team-bytes" {
			t.Fatalf("unexpected cached body: %s", body)
		}
	}
}
