package roster

// Speaker is one voice participant as shown to subscribers.
type Speaker struct {
	UserID          string `json:"userId"`
	Username        string `json:"username"`
	Color           string `json:"color"`
	Avatar          string `json:"avatar,omitempty"`
	PinnedInputLang string `json:"pinnedInputLang,omitempty"`
	DetectedLang    string `json:"detectedLang,omitempty"`
	IsSpeaking      bool   `json:"isSpeaking"`
	// LastHeardAt is Unix milliseconds, zero if never heard.
	LastHeardAt int64 `json:"lastHeardAt,omitempty"`
}

// Patch is a partial update for one speaker. Nil fields are unchanged.
// Removed marks the speaker as gone; other fields are then ignored.
type Patch struct {
	UserID          string  `json:"userId"`
	Username        *string `json:"username,omitempty"`
	Color           *string `json:"color,omitempty"`
	Avatar          *string `json:"avatar,omitempty"`
	PinnedInputLang *string `json:"pinnedInputLang,omitempty"`
	DetectedLang    *string `json:"detectedLang,omitempty"`
	IsSpeaking      *bool   `json:"isSpeaking,omitempty"`
	LastHeardAt     *int64  `json:"lastHeardAt,omitempty"`
	Removed         bool    `json:"removed,omitempty"`
}

// Merge returns p with the fields set in later applied on top. A removal
// followed by any other change is a re-join: the removal is cleared.
func (p Patch) Merge(later Patch) Patch {
	if later.Removed {
		return Patch{UserID: p.UserID, Removed: true}
	}
	if p.Removed {
		p = Patch{UserID: p.UserID}
	}
	setIf(&p.Username, later.Username)
	setIf(&p.Color, later.Color)
	setIf(&p.Avatar, later.Avatar)
	setIf(&p.PinnedInputLang, later.PinnedInputLang)
	setIf(&p.DetectedLang, later.DetectedLang)
	setIf(&p.IsSpeaking, later.IsSpeaking)
	setIf(&p.LastHeardAt, later.LastHeardAt)
	return p
}

// Empty reports whether the patch carries no change.
func (p Patch) Empty() bool {
	return !p.Removed && p.Username == nil && p.Color == nil && p.Avatar == nil &&
		p.PinnedInputLang == nil && p.DetectedLang == nil && p.IsSpeaking == nil && p.LastHeardAt == nil
}

func setIf[T any](dst **T, src *T) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func ptr[T any](v T) *T { return &v }
