package source

import (
	"fmt"

	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
)

// MemorySource реализует интерфейс AttachmentSource для вложения из памяти.
type MemorySource struct {
	file domain.File
}

// NewMemorySource создает новый экземпляр MemorySource.
func NewMemorySource(name string, data []byte) ports.AttachmentSource {
	return &MemorySource{file: domain.File{Name: name, Data: data}}
}

// Fetch возвращает вложение из памяти.
func (s *MemorySource) Fetch() (domain.File, error) {
	if s.file.Data == nil {
		return domain.File{}, fmt.Errorf("данные не установлены")
	}

	// Возвращаем копию данных, чтобы избежать изменений оригинальных данных
	dataCopy := make([]byte, len(s.file.Data))
	copy(dataCopy, s.file.Data)

	return domain.File{
		Name:        s.file.Name,
		ContentType: contentType(s.file.Name, dataCopy),
		Data:        dataCopy,
	}, nil
}
