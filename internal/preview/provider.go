package preview

import (
	"net/url"
	"strings"
)

// Поставщики, для которых известен формат предпросмотра.
const (
	ProviderYouTube    = "youtube"
	ProviderTikTok     = "tiktok"
	ProviderSpotify    = "spotify"
	ProviderSoundCloud = "soundcloud"
	ProviderTwitter    = "twitter"
	ProviderInstagram  = "instagram"
	ProviderGeneric    = "generic"
)

// Типы медиа предпросмотра.
const (
	MediaVideo = "video"
	MediaAudio = "audio"
	MediaLink  = "link"
)

// provider описывает oEmbed точку поставщика.
type provider struct {
	endpoint  string
	extra     url.Values
	mediaType string
}

var defaultProviders = map[string]provider{
	ProviderYouTube:    {endpoint: "https://www.youtube.com/oembed", extra: url.Values{"format": {"json"}}, mediaType: MediaVideo},
	ProviderTikTok:     {endpoint: "https://www.tiktok.com/oembed", mediaType: MediaVideo},
	ProviderSpotify:    {endpoint: "https://open.spotify.com/oembed", mediaType: MediaAudio},
	ProviderSoundCloud: {endpoint: "https://soundcloud.com/oembed", extra: url.Values{"format": {"json"}}, mediaType: MediaAudio},
	ProviderTwitter:    {endpoint: "https://publish.twitter.com/oembed", extra: url.Values{"omit_script": {"1"}}, mediaType: MediaLink},
}

// DetectProvider определяет поставщика по хосту ссылки.
func DetectProvider(u *url.URL) string {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch {
	case hostIs(host, "youtube.com"), hostIs(host, "youtu.be"):
		return ProviderYouTube
	case hostIs(host, "tiktok.com"):
		return ProviderTikTok
	case host == "open.spotify.com":
		return ProviderSpotify
	case hostIs(host, "soundcloud.com"):
		return ProviderSoundCloud
	case hostIs(host, "twitter.com"), hostIs(host, "x.com"):
		return ProviderTwitter
	case hostIs(host, "instagram.com"):
		return ProviderInstagram
	default:
		return ProviderGeneric
	}
}

func hostIs(host, domain string) bool {
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// YouTubeID извлекает идентификатор видео из ссылки YouTube.
func YouTubeID(u *url.URL) string {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	switch {
	case host == "youtu.be":
		return strings.Trim(u.Path, "/")
	case hostIs(host, "youtube.com"):
		if v := u.Query().Get("v"); v != "" {
			return v
		}
		for _, prefix := range []string{"/shorts/", "/embed/", "/live/"} {
			if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
				return strings.SplitN(rest, "/", 2)[0]
			}
		}
	}
	return ""
}

// YouTubeThumbnails возвращает ссылки на обложки видео по убыванию качества.
func YouTubeThumbnails(id string) []string {
	return []string{
		"https://i.ytimg.com/vi/" + id + "/maxresdefault.jpg",
		"https://i.ytimg.com/vi/" + id + "/hqdefault.jpg",
	}
}
