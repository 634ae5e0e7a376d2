package broadcast

import (
	"encoding/json"

	"github.com/MrWong99/glyphcap/internal/roster"
)

// Message type discriminators.
const (
	TypePrefs          = "prefs"
	TypeSetPrefs       = "setPrefs"
	TypeSpeakersGet    = "speakers:get"
	TypeSpeakersSnap   = "speakers:snapshot"
	TypeSpeakersUpdate = "speakers:update"
	TypeSetInputLang   = "speakers:set-inlang"
	TypeInputLangAck   = "speakers:inlang-ack"
	TypeCaption        = "caption"
	TypeUpdate         = "update"
	TypeFinalize       = "finalize"
	TypeError          = "error"
)

// Error reasons sent to the offending subscriber.
const (
	ReasonBadJSON      = "bad_json"
	ReasonBadPrefs     = "bad_prefs"
	ReasonBadUser      = "bad_user"
	ReasonBadLang      = "bad_lang"
	ReasonPinFailed    = "pin_failed"
	ReasonPinsDisabled = "pins_disabled"
	ReasonUnknownType  = "unknown_type"
)

// Caption opens an utterance on subscribers.
type Caption struct {
	EventID  string `json:"eventId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Color    string `json:"color"`
	Avatar   string `json:"avatar,omitempty"`
	Text     string `json:"text"`
	// UttSeq is the speaker's utterance counter.
	UttSeq int `json:"uttSeq,omitempty"`
}

// Update is an interim text revision.
type Update struct {
	EventID string
	UserID  string
	Seq     int
	Text    string
}

// Final is a finalized utterance before per-subscriber translation.
type Final struct {
	EventID  string
	UserID   string
	Username string
	Color    string
	Text     string
	SrcLang  string
}

type captionMsg struct {
	Type string `json:"type"`
	Caption
}

type updateMsg struct {
	Type       string `json:"type"`
	EventID    string `json:"eventId"`
	Text       string `json:"text"`
	Seq        int    `json:"seq,omitempty"`
	Translated string `json:"translated,omitempty"`
	TargetLang string `json:"targetLang,omitempty"`
}

type finalizeMeta struct {
	SrcText string `json:"srcText"`
	SrcLang string `json:"srcLang"`
}

type finalizeMsg struct {
	Type     string       `json:"type"`
	EventID  string       `json:"eventId"`
	UserID   string       `json:"userId"`
	Username string       `json:"username"`
	Color    string       `json:"color"`
	Text     string       `json:"text"`
	Meta     finalizeMeta `json:"meta"`
}

type prefsMsg struct {
	Type  string `json:"type"`
	Prefs Prefs  `json:"prefs"`
}

type snapshotMsg struct {
	Type     string           `json:"type"`
	Speakers []roster.Speaker `json:"speakers"`
}

type speakerUpdateMsg struct {
	Type   string       `json:"type"`
	UserID string       `json:"userId"`
	Patch  roster.Patch `json:"patch"`
}

type inputLangAckMsg struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	Lang   string `json:"lang"`
}

type inbound struct {
	Type   string                     `json:"type"`
	Prefs  map[string]json.RawMessage `json:"prefs"`
	UserID string                     `json:"userId"`
	Lang   string                     `json:"lang"`
}

type errorMsg struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}
