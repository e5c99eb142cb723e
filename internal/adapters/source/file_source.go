package source

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
)

// ErrTooLarge возвращается, если файл превышает допустимый размер вложения.
var ErrTooLarge = errors.New("attachment is too large")

// FileSource реализует интерфейс AttachmentSource для чтения вложения с диска.
type FileSource struct {
	filePath string
	maxSize  int64
}

// NewFileSource создает новый экземпляр FileSource. Неположительный maxSize снимает ограничение.
func NewFileSource(filePath string, maxSize int64) ports.AttachmentSource {
	return &FileSource{filePath: filePath, maxSize: maxSize}
}

// Fetch читает файл по указанному пути и определяет его тип.
func (s *FileSource) Fetch() (domain.File, error) {
	if s.filePath == "" {
		return domain.File{}, fmt.Errorf("не указан путь к файлу")
	}

	info, err := os.Stat(s.filePath)
	if err != nil {
		return domain.File{}, fmt.Errorf("failed to stat file %s: %w", s.filePath, err)
	}
	if info.IsDir() {
		return domain.File{}, fmt.Errorf("%s is a directory", s.filePath)
	}
	if s.maxSize > 0 && info.Size() > s.maxSize {
		return domain.File{}, fmt.Errorf("%w: %s of %s allowed",
			ErrTooLarge, humanize.IBytes(uint64(info.Size())), humanize.IBytes(uint64(s.maxSize)))
	}

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return domain.File{}, fmt.Errorf("failed to read file %s: %w", s.filePath, err)
	}

	name := filepath.Base(s.filePath)
	return domain.File{
		Name:        name,
		ContentType: contentType(name, data),
		Data:        data,
	}, nil
}

// contentType определяет тип по расширению, а при неудаче по содержимому.
func contentType(name string, data []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}
