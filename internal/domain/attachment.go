package domain

import (
	"path"
	"strings"
)

// AttachmentKind не хранится, а выводится из URL.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentVideo AttachmentKind = "video"
	AttachmentAudio AttachmentKind = "audio"
	AttachmentOther AttachmentKind = "other"
)

// Порядок проверки важен: webm считается аудио (голосовые сообщения записываются в webm).
var (
	audioExtensions = map[string]struct{}{"mp3": {}, "wav": {}, "ogg": {}, "m4a": {}, "flac": {}, "webm": {}, "aac": {}}
	videoExtensions = map[string]struct{}{"mp4": {}, "mov": {}, "avi": {}, "mkv": {}, "ts": {}}
	imageExtensions = map[string]struct{}{"jpg": {}, "jpeg": {}, "png": {}, "gif": {}, "webp": {}, "bmp": {}, "svg": {}}
)

// AttachmentKindOf определяет категорию вложения по расширению в URL.
// Query и fragment отбрасываются.
func AttachmentKindOf(url string) AttachmentKind {
	if url == "" {
		return AttachmentOther
	}
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(url), "."))

	if _, ok := audioExtensions[ext]; ok {
		return AttachmentAudio
	}
	if _, ok := videoExtensions[ext]; ok {
		return AttachmentVideo
	}
	if _, ok := imageExtensions[ext]; ok {
		return AttachmentImage
	}
	return AttachmentOther
}

// File — содержимое вложения перед загрузкой в хранилище.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Ext возвращает расширение файла без точки в нижнем регистре.
func (f File) Ext() string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(f.Name), "."))
}

// LocalPreviewURL возвращает ссылку, которой временное сообщение ссылается на файл до загрузки.
func (f File) LocalPreviewURL() string {
	return "local://" + f.Name
}
