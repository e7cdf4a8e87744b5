package model

import (
	"fmt"

	pkgerrors "github.com/Skryldev/affect-lab/pkg/errors"
)

// Emotion is one of the eight affect categories.
type Emotion string

const (
	EmotionNeutral   Emotion = "neutral"
	EmotionCalm      Emotion = "calm"
	EmotionHappy     Emotion = "happy"
	EmotionSad       Emotion = "sad"
	EmotionAngry     Emotion = "angry"
	EmotionFearful   Emotion = "fearful"
	EmotionDisgust   Emotion = "disgust"
	EmotionSurprised Emotion = "surprised"
)

// labels is the classifier's output order. Position i is output unit i;
// reordering it breaks every trained model.
var labels = [...]Emotion{
	EmotionNeutral,
	EmotionCalm,
	EmotionHappy,
	EmotionSad,
	EmotionAngry,
	EmotionFearful,
	EmotionDisgust,
	EmotionSurprised,
}

// NumClasses is the width of the classifier output.
const NumClasses = len(labels)

// Labels returns the classifier's output order. The slice is a copy.
func Labels() []Emotion {
	out := make([]Emotion, NumClasses)
	copy(out, labels[:])
	return out
}

// LabelFor maps a class index to its emotion.
func LabelFor(index int) (Emotion, error) {
	if index < 0 || index >= NumClasses {
		return "", pkgerrors.NewUnmappedLabelError(index, "")
	}
	return labels[index], nil
}

// IndexOf returns the class index of e, or -1.
func IndexOf(e Emotion) int {
	for i, l := range labels {
		if l == e {
			return i
		}
	}
	return -1
}

// ScoreRecord is the fixed affect profile shown for a predicted label.
type ScoreRecord struct {
	Neutral            float64 `json:"score_neutral" yaml:"score_neutral"`
	Calm               float64 `json:"score_calm" yaml:"score_calm"`
	Happy              float64 `json:"score_happy" yaml:"score_happy"`
	Sad                float64 `json:"score_sad" yaml:"score_sad"`
	Angry              float64 `json:"score_angry" yaml:"score_angry"`
	Fearful            float64 `json:"score_fearful" yaml:"score_fearful"`
	Disgust            float64 `json:"score_disgust" yaml:"score_disgust"`
	Surprised          float64 `json:"score_surprised" yaml:"score_surprised"`
	ProminentSentiment Emotion `json:"prominent_sentiment" yaml:"prominent_sentiment"`
}

// Score returns the score for one emotion.
func (r ScoreRecord) Score(e Emotion) float64 {
	switch e {
	case EmotionNeutral:
		return r.Neutral
	case EmotionCalm:
		return r.Calm
	case EmotionHappy:
		return r.Happy
	case EmotionSad:
		return r.Sad
	case EmotionAngry:
		return r.Angry
	case EmotionFearful:
		return r.Fearful
	case EmotionDisgust:
		return r.Disgust
	case EmotionSurprised:
		return r.Surprised
	}
	return 0
}

// Hand-authored profiles, one per label.
var (
	NeutralScores = ScoreRecord{
		Neutral: 0.9, Calm: 0.8, Happy: 0.7, Sad: 0.2,
		Angry: 0.2, Fearful: 0.0, Disgust: 0.1, Surprised: 0.2,
		ProminentSentiment: EmotionNeutral,
	}
	CalmScores = ScoreRecord{
		Neutral: 0.6, Calm: 0.9, Happy: 0.7, Sad: 0.4,
		Angry: 0.2, Fearful: 0.0, Disgust: 0.1, Surprised: 0.1,
		ProminentSentiment: EmotionCalm,
	}
	HappyScores = ScoreRecord{
		Neutral: 0.4, Calm: 0.4, Happy: 0.9, Sad: 0.0,
		Angry: 0.0, Fearful: 0.0, Disgust: 0.0, Surprised: 0.2,
		ProminentSentiment: EmotionHappy,
	}
	SadScores = ScoreRecord{
		Neutral: 0.4, Calm: 0.2, Happy: 0.0, Sad: 0.9,
		Angry: 0.3, Fearful: 0.2, Disgust: 0.2, Surprised: 0.1,
		ProminentSentiment: EmotionSad,
	}
	AngryScores = ScoreRecord{
		Neutral: 0.1, Calm: 0.09, Happy: 0.0, Sad: 0.12,
		Angry: 0.7, Fearful: 0.2, Disgust: 0.0, Surprised: 0.1,
		ProminentSentiment: EmotionAngry,
	}
	FearfulScores = ScoreRecord{
		Neutral: 0.2, Calm: 0.1, Happy: 0.0, Sad: 0.2,
		Angry: 0.1, Fearful: 0.9, Disgust: 0.3, Surprised: 0.6,
		ProminentSentiment: EmotionFearful,
	}
	DisgustScores = ScoreRecord{
		Neutral: 0.4, Calm: 0.1, Happy: 0.2, Sad: 0.2,
		Angry: 0.5, Fearful: 0.0, Disgust: 0.9, Surprised: 0.2,
		ProminentSentiment: EmotionDisgust,
	}
	SurprisedScores = ScoreRecord{
		Neutral: 0.3, Calm: 0.2, Happy: 0.3, Sad: 0.0,
		Angry: 0.2, Fearful: 0.0, Disgust: 0.1, Surprised: 0.9,
		ProminentSentiment: EmotionSurprised,
	}
)

var scoreTable = map[Emotion]ScoreRecord{
	EmotionNeutral:   NeutralScores,
	EmotionCalm:      CalmScores,
	EmotionHappy:     HappyScores,
	EmotionSad:       SadScores,
	EmotionAngry:     AngryScores,
	EmotionFearful:   FearfulScores,
	EmotionDisgust:   DisgustScores,
	EmotionSurprised: SurprisedScores,
}

// ScoresFor returns the fixed profile for label. The table is closed:
// anything outside Labels is an UnmappedLabelError.
func ScoresFor(label Emotion) (ScoreRecord, error) {
	rec, ok := scoreTable[label]
	if !ok {
		return ScoreRecord{}, pkgerrors.NewUnmappedLabelError(IndexOf(label), string(label))
	}
	return rec, nil
}

// MustScoresFor is ScoresFor for labels taken from Labels.
func MustScoresFor(label Emotion) ScoreRecord {
	rec, err := ScoresFor(label)
	if err != nil {
		panic(fmt.Sprintf("model: %v", err))
	}
	return rec
}
