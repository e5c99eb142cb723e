package services

import (
	"voxio-chat/internal/core/tokenizer"
	"voxio-chat/internal/domain"
	"voxio-chat/internal/ports"
)

// ExtractionServiceImpl реализует интерфейс ExtractionService.
type ExtractionServiceImpl struct{}

// NewExtractionService создает новый экземпляр ExtractionServiceImpl.
func NewExtractionService() ports.ExtractionService {
	return &ExtractionServiceImpl{}
}

// Extract извлекает из текста уникальные упоминания, хэштеги и ссылки в порядке появления.
func (s *ExtractionServiceImpl) Extract(content string) domain.Extracted {
	var out domain.Extracted
	// Мапы для отслеживания уникальных значений
	uniqueMentions := make(map[string]bool)
	uniqueTags := make(map[string]bool)
	uniqueLinks := make(map[string]bool)

	for _, t := range tokenizer.Tokenize(content) {
		switch t.Kind {
		case domain.TokenMention:
			if !uniqueMentions[t.Username] {
				uniqueMentions[t.Username] = true
				out.Mentions = append(out.Mentions, t.Username)
			}
		case domain.TokenHashtag:
			if !uniqueTags[t.Tag] {
				uniqueTags[t.Tag] = true
				out.Hashtags = append(out.Hashtags, t.Tag)
			}
		case domain.TokenURL:
			if !uniqueLinks[t.Href] {
				uniqueLinks[t.Href] = true
				out.Links = append(out.Links, t.Href)
			}
		}
	}

	return out
}

// Mentions сообщает, упомянут ли username в тексте.
func Mentions(e domain.Extracted, username string) bool {
	for _, m := range e.Mentions {
		if m == username {
			return true
		}
	}
	return false
}
