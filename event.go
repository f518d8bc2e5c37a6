package scorecard

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nbd-wtf/go-nostr"
	g "github.com/pandodao/generic"
	"github.com/spf13/cast"
)

// KindRoundUpdate is a parameterized replaceable event carrying one
// player's card, addressed by the round id in its "d" tag.
const KindRoundUpdate = 31501

// RoundUpdate is the decoded payload of a round event.
type RoundUpdate struct {
	RoundID string
	// Sender signed the event; Player is whose card it carries. They differ
	// when the host publishes for a player without keys.
	Sender        string
	Player        string
	Name          string
	Scores        map[int]int
	EntrySelected bool
	AceSelected   bool
	Paid          bool
	AcePaid       bool
	UpdatedAt     time.Time
}

// NewRoundEvent builds the unsigned event publishing p's card.
func NewRoundEvent(roundID string, p *Player) *nostr.Event {
	scores := make(map[string]int, len(p.Scores))
	for h, s := range p.Scores {
		scores[strconv.Itoa(h)] = s
	}

	content := map[string]any{
		"round":    roundID,
		"player":   p.PubKey,
		"name":     p.Name,
		"scores":   scores,
		"entry":    p.EntrySelected,
		"ace":      p.AceSelected,
		"paid":     p.Paid,
		"ace_paid": p.AcePaid,
	}

	return &nostr.Event{
		Kind:      KindRoundUpdate,
		CreatedAt: nostr.Timestamp(now().Unix()),
		Tags:      nostr.Tags{{"d", roundID}},
		Content:   string(g.Must(json.Marshal(content))),
	}
}

func eventRoundID(e *nostr.Event) string {
	if tag := e.Tags.GetFirst([]string{"d", ""}); tag != nil && len(*tag) > 1 {
		return (*tag)[1]
	}

	return ""
}

// DecodeRoundEvent reads a round event leniently. Payloads written by
// other clients may carry numbers as strings.
func DecodeRoundEvent(e *nostr.Event) (*RoundUpdate, error) {
	if e.Kind != KindRoundUpdate {
		return nil, fmt.Errorf("unexpected event kind %d", e.Kind)
	}

	var content map[string]any
	if err := json.Unmarshal([]byte(e.Content), &content); err != nil {
		return nil, fmt.Errorf("decode round event content failed: %w", err)
	}

	u := &RoundUpdate{
		RoundID:       eventRoundID(e),
		Sender:        e.PubKey,
		Name:          cast.ToString(content["name"]),
		EntrySelected: cast.ToBool(content["entry"]),
		AceSelected:   cast.ToBool(content["ace"]),
		Paid:          cast.ToBool(content["paid"]),
		AcePaid:       cast.ToBool(content["ace_paid"]),
		Scores:        map[int]int{},
		UpdatedAt:     eventTime(e.CreatedAt),
	}

	if u.RoundID == "" {
		u.RoundID = cast.ToString(content["round"])
	}

	u.Player = cast.ToString(content["player"])
	if u.Player == "" {
		u.Player = u.Sender
	}

	for k, v := range cast.ToStringMap(content["scores"]) {
		hole, err := cast.ToIntE(k)
		if err != nil {
			return nil, fmt.Errorf("%w: hole %q", ErrInvalidScore, k)
		}

		strokes, err := cast.ToIntE(v)
		if err != nil {
			return nil, fmt.Errorf("%w: strokes %v", ErrInvalidScore, v)
		}

		if strokes > 0 {
			u.Scores[hole] = strokes
		}
	}

	if u.Player == "" {
		return nil, fmt.Errorf("%w: event has no sender", ErrUnknownPlayer)
	}

	return u, nil
}
