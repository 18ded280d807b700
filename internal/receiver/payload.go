package receiver

import (
	"encoding/json"

	"go.uber.org/zap"
)

// pushPayload is the wire shape the gateway sends over web push.
type pushPayload struct {
	Title string                 `json:"title"`
	Body  string                 `json:"body"`
	Icon  string                 `json:"icon"`
	URL   string                 `json:"url"`
	Tag   string                 `json:"tag"`
	Data  map[string]interface{} `json:"data"`
}

// decodePayload turns raw push bytes into a displayable notification.
// Missing or unreadable payloads fall back to the configured defaults; a
// readable payload overrides defaults field by field, and its data map is
// merged key-wise over the default data.
func (w *Worker) decodePayload(raw []byte) Notification {
	// Every rendered notification stays visible until the user acts; the
	// payload cannot opt out.
	n := Notification{
		Title:              w.cfg.DefaultTitle,
		Body:               w.cfg.DefaultBody,
		Icon:               w.cfg.DefaultIcon,
		URL:                w.cfg.DefaultURL,
		RequireInteraction: true,
	}

	if len(raw) == 0 {
		return n
	}

	var p pushPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		w.logger.Warn("unreadable push payload, using defaults", zap.Error(err))
		return n
	}

	if p.Title != "" {
		n.Title = p.Title
	}
	if p.Body != "" {
		n.Body = p.Body
	}
	if p.Icon != "" {
		n.Icon = p.Icon
	}
	if p.URL != "" {
		n.URL = p.URL
	}
	n.Tag = p.Tag

	if len(p.Data) > 0 {
		if n.Data == nil {
			n.Data = make(map[string]interface{}, len(p.Data))
		}
		for k, v := range p.Data {
			n.Data[k] = v
		}
	}

	return n
}
