package domain

// Reaction — группа реакций одним эмодзи на одно сообщение.
// Count всегда равен len(UserIDs), пользователь встречается в группе не более одного раза.
type Reaction struct {
	Emoji   string   `json:"emoji"`
	UserIDs []string `json:"user_ids"`
	Count   int      `json:"count"`
}

// CloneReactions возвращает глубокую копию набора групп.
func CloneReactions(groups []Reaction) []Reaction {
	if groups == nil {
		return nil
	}
	out := make([]Reaction, len(groups))
	for i, g := range groups {
		out[i] = Reaction{
			Emoji:   g.Emoji,
			UserIDs: append([]string(nil), g.UserIDs...),
			Count:   g.Count,
		}
	}
	return out
}

// ToggleReaction переключает участие userID в группе emoji и возвращает новый набор групп.
// Исходный срез не изменяется. Группа создается при первой реакции
// и удаляется вместе с последним пользователем.
func ToggleReaction(groups []Reaction, emoji, userID string) []Reaction {
	out := CloneReactions(groups)
	for i := range out {
		if out[i].Emoji != emoji {
			continue
		}
		for j, id := range out[i].UserIDs {
			if id == userID {
				out[i].UserIDs = append(out[i].UserIDs[:j], out[i].UserIDs[j+1:]...)
				out[i].Count = len(out[i].UserIDs)
				if out[i].Count == 0 {
					out = append(out[:i], out[i+1:]...)
				}
				return out
			}
		}
		out[i].UserIDs = append(out[i].UserIDs, userID)
		out[i].Count = len(out[i].UserIDs)
		return out
	}
	return append(out, Reaction{Emoji: emoji, UserIDs: []string{userID}, Count: 1})
}

// HasReacted сообщает, поставил ли userID реакцию emoji.
func HasReacted(groups []Reaction, emoji, userID string) bool {
	for _, g := range groups {
		if g.Emoji != emoji {
			continue
		}
		for _, id := range g.UserIDs {
			if id == userID {
				return true
			}
		}
	}
	return false
}

// NormalizeReactions приводит набор, пришедший извне, к инвариантам:
// одна группа на эмодзи, без повторов пользователей, без пустых групп, Count = len(UserIDs).
func NormalizeReactions(groups []Reaction) []Reaction {
	if len(groups) == 0 {
		return nil
	}
	index := make(map[string]int, len(groups))
	var out []Reaction
	for _, g := range groups {
		if g.Emoji == "" {
			continue
		}
		pos, ok := index[g.Emoji]
		if !ok {
			pos = len(out)
			index[g.Emoji] = pos
			out = append(out, Reaction{Emoji: g.Emoji})
		}
		for _, id := range g.UserIDs {
			if id == "" || containsString(out[pos].UserIDs, id) {
				continue
			}
			out[pos].UserIDs = append(out[pos].UserIDs, id)
		}
	}

	result := out[:0]
	for _, g := range out {
		g.Count = len(g.UserIDs)
		if g.Count > 0 {
			result = append(result, g)
		}
	}
	if len(result) == 0 {
		return nil
	}
	return result
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
