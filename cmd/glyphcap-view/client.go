package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"

	"github.com/MrWong99/glyphcap/internal/broadcast"
	"github.com/MrWong99/glyphcap/internal/roster"
)

// serverMessage is the union of every message the caption server sends.
type serverMessage struct {
	Type string `json:"type"`

	EventID    string `json:"eventId"`
	UserID     string `json:"userId"`
	Username   string `json:"username"`
	Color      string `json:"color"`
	Text       string `json:"text"`
	Seq        int    `json:"seq"`
	Translated string `json:"translated"`
	Meta       struct {
		SrcText string `json:"srcText"`
		SrcLang string `json:"srcLang"`
	} `json:"meta"`

	Prefs    *broadcast.Prefs `json:"prefs"`
	Speakers []roster.Speaker `json:"speakers"`
	Patch    *roster.Patch    `json:"patch"`
	Lang     string           `json:"lang"`

	Reason string `json:"reason"`
	Detail string `json:"detail"`
}

// transport is the subscriber connection as seen by the model.
type transport interface {
	Next(ctx context.Context) (serverMessage, error)
	SetPrefs(ctx context.Context, patch map[string]any) error
	Close() error
}

// wsTransport is a transport over a caption server websocket.
type wsTransport struct {
	conn *websocket.Conn
}

func dial(ctx context.Context, url string) (*wsTransport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(1 << 20)
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) Next(ctx context.Context) (serverMessage, error) {
	var msg serverMessage
	for {
		typ, data, err := t.conn.Read(ctx)
		if err != nil {
			return msg, err
		}
		if typ != websocket.MessageText {
			continue
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return msg, fmt.Errorf("decode %q: %w", data, err)
		}
		return msg, nil
	}
}

func (t *wsTransport) SetPrefs(ctx context.Context, patch map[string]any) error {
	data, err := json.Marshal(map[string]any{"type": broadcast.TypeSetPrefs, "prefs": patch})
	if err != nil {
		return err
	}
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "viewer closed")
}
