package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/mcdev12/cardsync/go/internal/models"
)

// ErrMalformedMessage is returned for frames that cannot be turned into an event
var ErrMalformedMessage = errors.New("malformed message")

var typeAliases = map[string]string{
	"MATCH_UPDATE":        TypeFullSnapshot,
	"MATCH_STATE":         TypeFullSnapshot,
	"MATCH_SNAPSHOT":      TypeFullSnapshot,
	"SNAPSHOT":            TypeFullSnapshot,
	"STATE":               TypeFullSnapshot,
	"GAME_STATE":          TypeFullSnapshot,
	"TURN_CHANGED":        TypeTurnChanged,
	"NEXT_TURN":           TypeTurnChanged,
	"TURN":                TypeTurnChanged,
	"CARD_PLAYED":         TypeCardPlayed,
	"PLAYED_CARD":         TypeCardPlayed,
	"ATTRIBUTE_SELECTED":  TypeAttributeSelected,
	"ATTRIBUTE_CHOSEN":    TypeAttributeSelected,
	"ROUND_RESOLVED":      TypeRoundResolved,
	"ROUND_RESULT":        TypeRoundResolved,
	"ROUND_END":           TypeRoundResolved,
	"PLAYER_JOINED":       TypePlayerJoined,
	"PLAYER_LEFT":         TypePlayerLeft,
	"PLAYER_DISCONNECTED": TypePlayerLeft,
	"PLAYER_KICKED":       TypePlayerLeft,
	"ERROR":               TypeUserError,
	"USER_ERROR":          TypeUserError,
}

// containers whose members are lifted to the top level before classification
var containers = []string{"data", "payload"}

// Classify parses one push frame into an Event
func Classify(data []byte) (Event, error) {
	doc, err := decode(data)
	if err != nil {
		return nil, err
	}
	raw, ok := str(doc, "type", "eventType", "event_type", "event")
	if !ok || raw == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	return classify(raw, flatten(doc))
}

// ClassifyUserError parses a frame from the per-user error channel. Those frames usually
// carry only a message; typed frames are classified normally.
func ClassifyUserError(data []byte) (Event, error) {
	doc, err := decode(data)
	if err != nil {
		return nil, err
	}
	f := flatten(doc)
	if raw, ok := str(doc, "type", "eventType", "event_type", "event"); ok && raw != "" {
		if canonical := typeAliases[normalizeType(raw)]; canonical != "" && canonical != TypeUserError {
			return classify(raw, f)
		}
	}
	return userError(f), nil
}

// ParseSnapshot reads a pull response as a full snapshot. Every field found is marked
// present.
func ParseSnapshot(data []byte) (FullSnapshot, error) {
	doc, err := decode(data)
	if err != nil {
		return FullSnapshot{}, err
	}
	return snapshot(flatten(doc)), nil
}

func classify(raw string, f map[string]any) (Event, error) {
	canonical, ok := typeAliases[normalizeType(raw)]
	if !ok {
		return Unrecognized{RawType: raw, Fields: f}, nil
	}

	switch canonical {
	case TypeFullSnapshot:
		return snapshot(f), nil

	case TypeTurnChanged:
		id, _ := str(f, "expectedPlayerId", "expected_player_id", "currentPlayerId", "current_player_id",
			"currentTurnPlayerId", "current_turn_player_id", "playerId", "player_id")
		if id == "" {
			return nil, fmt.Errorf("%w: %s without expected player", ErrMalformedMessage, raw)
		}
		return TurnChanged{ExpectedPlayerID: id}, nil

	case TypeCardPlayed:
		ev := CardPlayed{
			PlayerID:       playerID(f),
			CardCode:       cardCode(f),
			Attribute:      attribute(f),
			AttributeValue: intPtr(f, "attributeValue", "attribute_value", "value"),
		}
		if ev.PlayerID == "" || ev.CardCode == "" {
			return nil, fmt.Errorf("%w: %s without player or card", ErrMalformedMessage, raw)
		}
		return ev, nil

	case TypeAttributeSelected:
		ev := AttributeSelected{PlayerID: playerID(f), CardCode: cardCode(f), Attribute: attribute(f)}
		if ev.Attribute == "" {
			return nil, fmt.Errorf("%w: %s without attribute", ErrMalformedMessage, raw)
		}
		return ev, nil

	case TypeRoundResolved:
		winner, _ := str(f, "winnerId", "winner_id", "winnerPlayerId", "winner_player_id", "winner")
		cnt := counts(f)
		if cnt == nil {
			if list, ok := players(f); ok {
				cnt = countsFromPlayers(list)
			}
		}
		return RoundResolved{WinnerID: winner, Counts: cnt}, nil

	case TypePlayerJoined:
		ev := PlayerJoined{}
		if list, ok := players(f); ok {
			ev.Players = list
		}
		if nested, ok := f["player"].(map[string]any); ok {
			ev.Player, _ = parsePlayer(nested)
		} else {
			ev.Player, _ = parsePlayer(f)
		}
		if ev.Player.ID == "" && ev.Players == nil {
			return nil, fmt.Errorf("%w: %s without player", ErrMalformedMessage, raw)
		}
		return ev, nil

	case TypePlayerLeft:
		ev := PlayerLeft{PlayerID: playerID(f)}
		if nested, ok := f["player"].(map[string]any); ok && ev.PlayerID == "" {
			p, _ := parsePlayer(nested)
			ev.PlayerID = p.ID
		}
		ev.Removed = normalizeType(raw) == "PLAYER_KICKED" ||
			boolean(f, "removed", "kicked", "evicted")
		if list, ok := players(f); ok {
			ev.Players = list
		}
		if ev.PlayerID == "" && ev.Players == nil {
			return nil, fmt.Errorf("%w: %s without player", ErrMalformedMessage, raw)
		}
		return ev, nil

	case TypeUserError:
		return userError(f), nil
	}

	return Unrecognized{RawType: raw, Fields: f}, nil
}

func snapshot(f map[string]any) FullSnapshot {
	s := FullSnapshot{}
	s.Code, _ = str(f, "code", "matchCode", "match_code")

	if raw, ok := str(f, "state", "status", "matchState", "match_state", "matchStatus"); ok {
		if st := models.MatchStatus(normalizeType(raw)); st.Known() {
			s.Status = st
			s.Present |= FieldStatus
		}
	}
	if list, ok := players(f); ok {
		s.Players = list
		s.Present |= FieldPlayers
	}
	if id, ok := str(f, "currentTurnPlayerId", "current_turn_player_id", "currentPlayerId",
		"current_player_id", "turnPlayerId", "turn_player_id"); ok {
		s.CurrentTurnPlayerID = id
		s.Present |= FieldCurrentTurn
	}
	if attr, ok := str(f, "selectedAttribute", "selected_attribute", "roundAttribute", "round_attribute"); ok {
		s.SelectedAttribute = attr
		s.Present |= FieldSelectedAttribute
	}
	if h, ok := hand(f); ok {
		s.MyHandOrder = h
		s.Present |= FieldHand
	}
	if tbl, ok := table(f); ok {
		s.TableEntries = tbl
		s.Present |= FieldTable
	}
	return s
}

func userError(f map[string]any) UserError {
	msg, _ := str(f, "message", "error", "detail", "reason")
	code, _ := str(f, "errorCode", "error_code", "code")
	return UserError{Message: msg, Code: code}
}

func decode(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedMessage)
	}
	return doc, nil
}

// flatten lifts container members to the top level. Nested values win over top-level ones.
func flatten(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	for _, c := range containers {
		nested, ok := doc[c].(map[string]any)
		if !ok {
			continue
		}
		delete(out, c)
		for k, v := range nested {
			out[k] = v
		}
	}
	if match, ok := out["match"].(map[string]any); ok {
		delete(out, "match")
		for k, v := range match {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
	}
	return out
}

// normalizeType turns "turnChanged", "turn-changed" and "turn changed" into "TURN_CHANGED"
func normalizeType(raw string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range strings.TrimSpace(raw) {
		switch {
		case r == '-' || r == ' ' || r == '.':
			b.WriteByte('_')
			prevLower = false
			continue
		case unicode.IsUpper(r) && prevLower:
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
		prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
	}
	return b.String()
}

func lookup(f map[string]any, keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := f[k]; ok {
			return v, true
		}
	}
	return nil, false
}

// str returns the first alias present. A JSON null counts as present and empty.
func str(f map[string]any, keys ...string) (string, bool) {
	v, ok := lookup(f, keys...)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case nil:
		return "", true
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func number(v any) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		if fl, err := t.Float64(); err == nil {
			return int(fl), true
		}
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func intPtr(f map[string]any, keys ...string) *int {
	for _, k := range keys {
		if n, ok := number(f[k]); ok {
			return models.IntPtr(n)
		}
	}
	return nil
}

func boolean(f map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch t := f[k].(type) {
		case bool:
			if t {
				return true
			}
		case string:
			if strings.EqualFold(t, "true") {
				return true
			}
		}
	}
	return false
}

func playerID(f map[string]any) string {
	id, _ := str(f, "playerId", "player_id")
	return id
}

func cardCode(f map[string]any) string {
	if card, ok := f["card"].(map[string]any); ok {
		code, _ := str(card, "cardCode", "card_code", "code", "id")
		return code
	}
	code, _ := str(f, "cardCode", "card_code", "cardId", "card_id", "card")
	return code
}

func attribute(f map[string]any) string {
	attr, _ := str(f, "attribute", "attributeSelected", "attribute_selected", "selectedAttribute", "selected_attribute")
	return attr
}

func players(f map[string]any) ([]models.Player, bool) {
	v, ok := lookup(f, "players", "playerList", "player_list")
	if !ok {
		return nil, false
	}
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]models.Player, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if p, ok := parsePlayer(obj); ok {
			out = append(out, p)
		}
	}
	return out, true
}

func parsePlayer(obj map[string]any) (models.Player, bool) {
	id, _ := str(obj, "id", "playerId", "player_id")
	if id == "" {
		return models.Player{}, false
	}
	p := models.Player{ID: id, Connected: true}
	p.DisplayName, _ = str(obj, "displayName", "display_name", "name", "nickname", "username")
	if n := intPtr(obj, "turnOrder", "turn_order", "order", "seat"); n != nil {
		p.TurnOrder = *n
	}
	p.CardCount = intPtr(obj, "cardCount", "card_count", "cardsCount", "cards_count", "handSize", "hand_size", "cards")
	if v, ok := lookup(obj, "connected", "isConnected", "is_connected", "online"); ok {
		if b, ok := v.(bool); ok {
			p.Connected = b
		}
	}
	return p, true
}

func countsFromPlayers(list []models.Player) map[string]int {
	out := make(map[string]int)
	for _, p := range list {
		if p.CardCount != nil {
			out[p.ID] = *p.CardCount
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// counts accepts either {"p1": 3} or [{"playerId": "p1", "cardCount": 3}]
func counts(f map[string]any) map[string]int {
	v, ok := lookup(f, "counts", "cardCounts", "card_counts")
	if !ok {
		return nil
	}
	out := make(map[string]int)
	switch t := v.(type) {
	case map[string]any:
		for id, raw := range t {
			if n, ok := number(raw); ok {
				out[id] = n
			}
		}
	case []any:
		for _, item := range t {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if p, ok := parsePlayer(obj); ok && p.CardCount != nil {
				out[p.ID] = *p.CardCount
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func hand(f map[string]any) ([]string, bool) {
	v, ok := lookup(f, "myHandOrder", "my_hand_order", "myHand", "my_hand", "handOrder", "hand_order", "hand")
	if !ok {
		return nil, false
	}
	if v == nil {
		return []string{}, true
	}
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch t := item.(type) {
		case string:
			out = append(out, t)
		case map[string]any:
			if code, _ := str(t, "cardCode", "card_code", "code", "id"); code != "" {
				out = append(out, code)
			}
		}
	}
	return out, true
}

func table(f map[string]any) ([]models.TableEntry, bool) {
	v, ok := lookup(f, "tableEntries", "table_entries", "tableCards", "table_cards", "table")
	if !ok {
		return nil, false
	}
	if v == nil {
		return []models.TableEntry{}, true
	}
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]models.TableEntry, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		e := models.TableEntry{
			PlayerID:          playerID(obj),
			CardCode:          cardCode(obj),
			AttributeSelected: attribute(obj),
			AttributeValue:    intPtr(obj, "attributeValue", "attribute_value", "value"),
		}
		if e.CardCode == "" {
			continue
		}
		out = append(out, e)
	}
	return out, true
}
