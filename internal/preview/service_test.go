package preview

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticResolver разрешает любой хост в заданные адреса.
type staticResolver struct {
	ips []string
	err error
}

func (r staticResolver) LookupIPAddr(context.Context, string) ([]net.IPAddr, error) {
	if r.err != nil {
		return nil, r.err
	}
	out := make([]net.IPAddr, 0, len(r.ips))
	for _, ip := range r.ips {
		out = append(out, net.IPAddr{IP: net.ParseIP(ip)})
	}
	return out, nil
}

type countingMetrics struct {
	mu      sync.Mutex
	hits    int
	misses  int
	fetches []string
}

func (m *countingMetrics) ObserveCache(hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hit {
		m.hits++
	} else {
		m.misses++
	}
}

func (m *countingMetrics) ObserveFetch(provider string, _ time.Duration, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches = append(m.fetches, provider)
}

// newTestService направляет все исходящие соединения на тестовый сервер,
// а имена разрешает в публичный адрес.
func newTestService(t *testing.T, handler http.Handler, opts ...Option) (*Service, *httptest.Server) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, network, ts.Listener.Addr().String())
		},
	}
	all := append([]Option{
		WithHTTPClient(&http.Client{Transport: transport, Timeout: 2 * time.Second}),
		WithResolver(staticResolver{ips: []string{"93.184.216.34"}}),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}, opts...)
	return NewService(all...), ts
}

func TestNormalize(t *testing.T) {
	t.Run("Схема https добавляется при отсутствии", func(t *testing.T) {
		u, err := Normalize("example.com/page")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/page", u.String())
	})

	t.Run("Фрагмент отбрасывается", func(t *testing.T) {
		u, err := Normalize("HTTP://example.com/a#top")
		require.NoError(t, err)
		assert.Equal(t, "http://example.com/a", u.String())
	})

	t.Run("Пустая ссылка и чужие схемы отклоняются", func(t *testing.T) {
		for _, raw := range []string{"", "   ", "ftp://example.com", "javascript://alert(1)", "https://"} {
			_, err := Normalize(raw)
			assert.ErrorIs(t, err, ErrInvalidURL, raw)
		}
	})
}

func TestDetectProvider(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/watch?v=abc": ProviderYouTube,
		"https://youtu.be/abc":                ProviderYouTube,
		"https://m.tiktok.com/@a/video/1":     ProviderTikTok,
		"https://open.spotify.com/track/1":    ProviderSpotify,
		"https://soundcloud.com/a/b":          ProviderSoundCloud,
		"https://x.com/a/status/1":            ProviderTwitter,
		"https://twitter.com/a/status/1":      ProviderTwitter,
		"https://www.instagram.com/p/1":       ProviderInstagram,
		"https://example.com/box.com":         ProviderGeneric,
		"https://notyoutube.com/watch?v=abc":  ProviderGeneric,
	}
	for raw, want := range cases {
		t.Run(raw, func(t *testing.T) {
			u, err := url.Parse(raw)
			require.NoError(t, err)
			assert.Equal(t, want, DetectProvider(u))
		})
	}
}

func TestYouTubeID(t *testing.T) {
	cases := map[string]string{
		"https://youtu.be/dQw4w9WgXcQ":                "dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ": "dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/abc123/":      "abc123",
		"https://www.youtube.com/channel/UC123":       "",
	}
	for raw, want := range cases {
		u, _ := url.Parse(raw)
		assert.Equal(t, want, YouTubeID(u), raw)
	}
}

func TestServiceFetch(t *testing.T) {
	ctx := context.Background()

	t.Run("Метаданные OpenGraph разбираются со страницы", func(t *testing.T) {
		svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, userAgent, r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(`<html><head>
				<title>Fallback title</title>
				<meta property="og:title" content="Real title">
				<meta name="description" content="About the page">
				<meta property="og:image" content="/img/cover.png">
			</head><body><meta property="og:title" content="ignored"></body></html>`))
		}))

		p, err := svc.Fetch(ctx, "http://example.test/article")
		require.NoError(t, err)
		assert.Equal(t, ProviderGeneric, p.Provider)
		assert.Equal(t, "Real title", p.Title)
		assert.Equal(t, "About the page", p.Description)
		assert.Equal(t, []string{"http://example.test/img/cover.png"}, p.Images)
		assert.Equal(t, MediaLink, p.MediaType)
	})

	t.Run("Не HTML дает минимальный предпросмотр", func(t *testing.T) {
		svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write([]byte("%PDF"))
		}))

		p, err := svc.Fetch(ctx, "http://example.test/doc.pdf")
		require.NoError(t, err)
		assert.Empty(t, p.Title)
		assert.Equal(t, "http://example.test/doc.pdf", p.URL)
	})

	t.Run("Ответ с ошибкой страницы дает ErrFetch", func(t *testing.T) {
		svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

		_, err := svc.Fetch(ctx, "http://example.test/missing")
		assert.ErrorIs(t, err, ErrFetch)
	})

	t.Run("Повторный запрос обслуживается из кэша", func(t *testing.T) {
		var calls int
		var mu sync.Mutex
		metrics := &countingMetrics{}
		svc, _ := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			calls++
			mu.Unlock()
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte(`<title>Cached</title>`))
		}), WithMetrics(metrics))

		for i := 0; i < 3; i++ {
			p, err := svc.Fetch(ctx, "http://example.test/x")
			require.NoError(t, err)
			assert.Equal(t, "Cached", p.Title)
		}
		assert.Equal(t, 1, calls)
		assert.Equal(t, 2, metrics.hits)
		assert.Equal(t, 1, metrics.misses)
		assert.Equal(t, []string{ProviderGeneric}, metrics.fetches)
	})

	t.Run("YouTube использует oEmbed и обложки по идентификатору", func(t *testing.T) {
		svc, ts := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/oembed", r.URL.Path)
			assert.Equal(t, "https://youtu.be/abc123", r.URL.Query().Get("url"))
			assert.Equal(t, "json", r.URL.Query().Get("format"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"title":"Cat video","author_name":"Cat channel","html":"<iframe></iframe>"}`))
		}))
		svc = NewService(
			WithHTTPClient(svc.httpClient),
			WithResolver(svc.resolver),
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			WithOEmbedEndpoint(ProviderYouTube, ts.URL+"/oembed"),
		)

		p, err := svc.Fetch(ctx, "https://youtu.be/abc123")
		require.NoError(t, err)
		assert.Equal(t, ProviderYouTube, p.Provider)
		assert.Equal(t, "Cat video", p.Title)
		assert.Equal(t, "Cat channel", p.Description)
		assert.Equal(t, "<iframe></iframe>", p.HTML)
		assert.Equal(t, MediaVideo, p.MediaType)
		assert.Equal(t, YouTubeThumbnails("abc123"), p.Images)
	})

	t.Run("Сбой oEmbed не мешает предпросмотру", func(t *testing.T) {
		svc, ts := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		svc = NewService(
			WithHTTPClient(svc.httpClient),
			WithResolver(svc.resolver),
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
			WithOEmbedEndpoint(ProviderSpotify, ts.URL+"/oembed"),
		)

		p, err := svc.Fetch(ctx, "https://open.spotify.com/track/1")
		require.NoError(t, err)
		assert.Equal(t, ProviderSpotify, p.Provider)
		assert.Equal(t, MediaAudio, p.MediaType)
		assert.Empty(t, p.Title)
	})

	t.Run("Внутренние адреса блокируются", func(t *testing.T) {
		svc := NewService(
			WithResolver(staticResolver{ips: []string{"93.184.216.34", "10.0.0.5"}}),
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		)

		_, err := svc.Fetch(ctx, "https://intranet.example/")
		assert.ErrorIs(t, err, ErrBlocked)

		for _, raw := range []string{"http://127.0.0.1/", "http://[::1]:8080/", "http://169.254.169.254/latest", "http://192.168.1.1"} {
			_, err := svc.Fetch(ctx, raw)
			assert.ErrorIs(t, err, ErrBlocked, raw)
		}
	})

	t.Run("Ошибка разрешения имени дает ErrFetch", func(t *testing.T) {
		svc := NewService(
			WithResolver(staticResolver{err: errors.New("no such host")}),
			WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		)

		_, err := svc.Fetch(ctx, "https://nowhere.invalid/")
		assert.ErrorIs(t, err, ErrFetch)
	})
}

func TestDialControl(t *testing.T) {
	t.Run("Соединение с внутренним адресом запрещено", func(t *testing.T) {
		assert.ErrorIs(t, dialControl("tcp4", "127.0.0.1:80", nil), ErrBlocked)
		assert.ErrorIs(t, dialControl("tcp4", "172.16.3.4:443", nil), ErrBlocked)
		assert.ErrorIs(t, dialControl("tcp6", "[fe80::1]:443", nil), ErrBlocked)
	})

	t.Run("Служебные диапазоны запрещены", func(t *testing.T) {
		assert.ErrorIs(t, dialControl("tcp4", "100.64.1.1:80", nil), ErrBlocked)
		assert.ErrorIs(t, dialControl("tcp4", "100.127.255.254:80", nil), ErrBlocked)
		assert.ErrorIs(t, dialControl("tcp4", "0.1.2.3:80", nil), ErrBlocked)
		assert.False(t, IsBlockedIP(net.ParseIP("100.128.0.1")))
	})

	t.Run("Публичный адрес разрешен", func(t *testing.T) {
		assert.NoError(t, dialControl("tcp4", "93.184.216.34:443", nil))
	})

	t.Run("Прокси из окружения не используется", func(t *testing.T) {
		t.Setenv("HTTP_PROXY", "http://93.184.216.34:3128")
		t.Setenv("HTTPS_PROXY", "http://93.184.216.34:3128")

		transport, ok := newGuardedClient(time.Second).Transport.(*http.Transport)
		require.True(t, ok)
		assert.Nil(t, transport.Proxy)
	})

	t.Run("Клиент по умолчанию не ходит во внутреннюю сеть", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		defer ts.Close()

		_, err := newGuardedClient(time.Second).Get(ts.URL)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrBlocked) || strings.Contains(err.Error(), ErrBlocked.Error()))
	})
}
