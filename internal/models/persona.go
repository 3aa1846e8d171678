package models

import (
	"fmt"
	"strings"
)

type MBTIType string

const (
	INTJ MBTIType = "INTJ"
	INTP MBTIType = "INTP"
	ENTJ MBTIType = "ENTJ"
	ENTP MBTIType = "ENTP"
	INFJ MBTIType = "INFJ"
	INFP MBTIType = "INFP"
	ENFJ MBTIType = "ENFJ"
	ENFP MBTIType = "ENFP"
	ISTJ MBTIType = "ISTJ"
	ISFJ MBTIType = "ISFJ"
	ESTJ MBTIType = "ESTJ"
	ESFJ MBTIType = "ESFJ"
	ISTP MBTIType = "ISTP"
	ISFP MBTIType = "ISFP"
	ESTP MBTIType = "ESTP"
	ESFP MBTIType = "ESFP"
)

// MBTITypes lists every supported code in the order the setup wizard shows them.
var MBTITypes = []MBTIType{
	INTJ, INTP, ENTJ, ENTP,
	INFJ, INFP, ENFJ, ENFP,
	ISTJ, ISFJ, ESTJ, ESFJ,
	ISTP, ISFP, ESTP, ESFP,
}

func (m MBTIType) IsValid() bool {
	for _, t := range MBTITypes {
		if t == m {
			return true
		}
	}
	return false
}

// IsExtravert reports whether the code starts with E.
func (m MBTIType) IsExtravert() bool {
	return strings.HasPrefix(string(m), "E")
}

type Gender string

const (
	Male   Gender = "male"
	Female Gender = "female"
)

func (g Gender) IsValid() bool {
	return g == Male || g == Female
}

type Relationship string

const (
	Lover     Relationship = "lover"
	Friend    Relationship = "friend"
	Parent    Relationship = "parent"
	Child     Relationship = "child"
	Colleague Relationship = "colleague"
	Crush     Relationship = "crush"
)

var Relationships = []Relationship{Parent, Child, Lover, Crush, Friend, Colleague}

func (r Relationship) IsValid() bool {
	for _, rel := range Relationships {
		if rel == r {
			return true
		}
	}
	return false
}

// ChatbotConfig is the persona chosen in the setup wizard. It does not change
// while a chat is running; choosing a new one restarts the conversation.
type ChatbotConfig struct {
	MBTI         MBTIType     `json:"mbti"`
	Gender       Gender       `json:"gender"`
	Relationship Relationship `json:"relationship"`
	Name         string       `json:"name,omitempty"`
}

func (c ChatbotConfig) Validate() error {
	if !c.MBTI.IsValid() {
		return fmt.Errorf("invalid mbti type %q", c.MBTI)
	}
	if !c.Gender.IsValid() {
		return fmt.Errorf("invalid gender %q", c.Gender)
	}
	if !c.Relationship.IsValid() {
		return fmt.Errorf("invalid relationship %q", c.Relationship)
	}
	return nil
}

// GenderWord returns the Korean word used in prompts.
func (c ChatbotConfig) GenderWord() string {
	if c.Gender == Male {
		return "남성"
	}
	return "여성"
}
