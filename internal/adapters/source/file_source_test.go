package source

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileSource(t *testing.T) {
	t.Run("NewFileSource создает корректный экземпляр", func(t *testing.T) {
		source := NewFileSource("photo.jpg", 0)
		if source == nil {
			t.Error("Ожидался экземпляр FileSource, получен nil")
		}
	})

	t.Run("Fetch возвращает ошибку для пустого пути к файлу", func(t *testing.T) {
		source := &FileSource{filePath: ""}

		_, err := source.Fetch()
		if err == nil {
			t.Fatal("Ожидалась ошибка для пустого пути к файлу, получено nil")
		}
		if err.Error() != "не указан путь к файлу" {
			t.Errorf("Ожидалось сообщение об ошибке 'не указан путь к файлу', получено '%s'", err.Error())
		}
	})

	t.Run("Fetch возвращает ошибку для несуществующего файла", func(t *testing.T) {
		source := &FileSource{filePath: "non_existing_file.png"}

		file, err := source.Fetch()
		if err == nil {
			t.Error("Ожидалась ошибка для несуществующего файла, получено nil")
		}
		if file.Data != nil {
			t.Error("Ожидались nil данные для несуществующего файла, получены данные")
		}
	})

	t.Run("Fetch возвращает вложение для существующего файла", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "voice.mp3")
		testData := []byte("ID3 fake audio")
		if err := os.WriteFile(path, testData, 0o600); err != nil {
			t.Fatal("Не удалось записать во временный файл")
		}

		source := NewFileSource(path, 1024)
		file, err := source.Fetch()
		if err != nil {
			t.Fatalf("Неожиданная ошибка: %v", err)
		}
		if string(file.Data) != string(testData) {
			t.Errorf("Ожидались данные %q, получены %q", testData, file.Data)
		}
		if file.Name != "voice.mp3" {
			t.Errorf("Ожидалось имя 'voice.mp3', получено '%s'", file.Name)
		}
		if file.Ext() != "mp3" {
			t.Errorf("Ожидалось расширение 'mp3', получено '%s'", file.Ext())
		}
	})

	t.Run("Fetch отклоняет слишком большой файл", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "big.bin")
		if err := os.WriteFile(path, make([]byte, 2048), 0o600); err != nil {
			t.Fatal("Не удалось записать во временный файл")
		}

		_, err := NewFileSource(path, 1024).Fetch()
		if !errors.Is(err, ErrTooLarge) {
			t.Errorf("Ожидалась ErrTooLarge, получено %v", err)
		}
	})

	t.Run("Fetch отклоняет каталог", func(t *testing.T) {
		_, err := NewFileSource(t.TempDir(), 0).Fetch()
		if err == nil {
			t.Error("Ожидалась ошибка для каталога")
		}
	})
}
