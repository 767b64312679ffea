package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList stores an ordered list of strings as a JSON column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*l = StringList{}
		return nil
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	default:
		return fmt.Errorf("cannot scan %T into StringList", value)
	}
}

// StorySegment is the local copy of one generation step of a story.
// ImageURL and AudioURL are filled in later, when the async image/audio
// generation for the segment completes.
type StorySegment struct {
	ID             string     `json:"id" gorm:"primaryKey"`
	StoryID        string     `json:"story_id" gorm:"index"`
	SequenceNumber int        `json:"sequence_number" gorm:"index"`
	SegmentText    string     `json:"segment_text" gorm:"type:text"`
	Choices        StringList `json:"choices" gorm:"type:text"`
	ImageURL       string     `json:"image_url"`
	AudioURL       string     `json:"audio_url"`
	IsEnd          bool       `json:"is_end" gorm:"index"`
	IsSynced       bool       `json:"is_synced" gorm:"index"`
}

func (StorySegment) TableName() string { return "story_segments" }

func (s *StorySegment) Key() string { return s.ID }
