package domain

// MessagePatch — частичное изменение сохраненной строки.
type MessagePatch struct {
	Content *string
	// ReplaceReactions отличает пустой набор реакций от отсутствия изменения.
	ReplaceReactions bool
	Reactions        []Reaction
}

// EditPatch меняет текст; строка при этом помечается как отредактированная.
func EditPatch(content string) MessagePatch {
	return MessagePatch{Content: &content}
}

// ReactionsPatch заменяет набор реакций целиком.
func ReactionsPatch(groups []Reaction) MessagePatch {
	return MessagePatch{ReplaceReactions: true, Reactions: CloneReactions(groups)}
}

// Apply применяет изменение к сообщению.
func (p MessagePatch) Apply(m Message) Message {
	out := m.Clone()
	if p.Content != nil {
		out.Content = *p.Content
		out.IsEdited = true
	}
	if p.ReplaceReactions {
		out.Reactions = CloneReactions(p.Reactions)
	}
	return out
}

// Extracted содержит сущности, найденные в тексте сообщения.
type Extracted struct {
	Mentions []string
	Hashtags []string
	Links    []string
}
