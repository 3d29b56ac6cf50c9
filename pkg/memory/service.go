package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// frequentCollectionLimit bounds the profile's frequent-collections list.
const frequentCollectionLimit = 10

// Service is the memory layer the pipeline talks to. Store write failures
// are logged and swallowed so they never mask a user-visible response.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates the memory service.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger.Named("memory"), now: time.Now}
}

// RecordTurn persists the turn's record and folds it into the user profile:
// pattern counters, frequent collections, skill promotion on success, and
// deduplicated common mistakes on failure.
func (s *Service) RecordTurn(ctx context.Context, rec *Record) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	if err := s.store.InsertRecord(ctx, rec); err != nil {
		s.logger.Warn("memory record write failed", zap.String("userId", rec.UserID), zap.Error(err))
		return
	}

	if err := s.updateProfile(ctx, rec); err != nil {
		s.logger.Warn("profile update failed", zap.String("userId", rec.UserID), zap.Error(err))
	}
}

func (s *Service) updateProfile(ctx context.Context, rec *Record) error {
	p, err := s.store.GetProfile(ctx, rec.UserID)
	if err != nil {
		return err
	}
	if p == nil {
		p = &Profile{
			UserID:          rec.UserID,
			SkillLevel:      SkillBeginner,
			PreferredDetail: "brief",
		}
	}

	bumpPattern(p, rec.PatternLabel, rec.Timestamp)
	mergeCollections(p, rec.CollectionsOrTables)

	if rec.Succeeded {
		p.SuccessfulQueries++
		promote(p)
	} else if rec.PatternLabel != "" {
		addMistake(p, rec.PatternLabel)
	}

	p.UpdatedAt = rec.Timestamp
	return s.store.SaveProfile(ctx, p)
}

// promote advances skill level once the successful-record count strictly
// exceeds a threshold. Transitions are forward-only.
func promote(p *Profile) {
	switch {
	case p.SuccessfulQueries > advancedThreshold:
		p.SkillLevel = SkillAdvanced
	case p.SuccessfulQueries > intermediateThreshold && p.SkillLevel == SkillBeginner:
		p.SkillLevel = SkillIntermediate
	}
}

func bumpPattern(p *Profile, label string, when time.Time) {
	if label == "" {
		return
	}
	for i := range p.PatternCounters {
		if p.PatternCounters[i].Label == label {
			p.PatternCounters[i].Count++
			p.PatternCounters[i].LastUsed = when
			return
		}
	}
	p.PatternCounters = append(p.PatternCounters, PatternCounter{
		Label: label, Count: 1, LastUsed: when,
	})
}

func mergeCollections(p *Profile, names []string) {
	for _, name := range names {
		if name == "" || name == "n/a" || contains(p.FrequentCollections, name) {
			continue
		}
		p.FrequentCollections = append(p.FrequentCollections, name)
	}
	if len(p.FrequentCollections) > frequentCollectionLimit {
		p.FrequentCollections = p.FrequentCollections[len(p.FrequentCollections)-frequentCollectionLimit:]
	}
}

func addMistake(p *Profile, label string) {
	if contains(p.CommonMistakes, label) {
		return
	}
	p.CommonMistakes = append(p.CommonMistakes, label)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// InsightsFor returns personalization context for a turn. Read failures
// degrade to zero-value insights.
func (s *Service) InsightsFor(ctx context.Context, userID, dbKey, patternLabel string) *Insights {
	out := &Insights{SkillLevel: SkillBeginner, PatternLabel: patternLabel}

	if n, err := s.store.CountSimilar(ctx, userID, dbKey, patternLabel); err != nil {
		s.logger.Warn("similar-query count failed", zap.String("userId", userID), zap.Error(err))
	} else {
		out.SimilarQueries = int(n)
	}

	p, err := s.store.GetProfile(ctx, userID)
	if err != nil {
		s.logger.Warn("profile read failed", zap.String("userId", userID), zap.Error(err))
		return out
	}
	if p != nil {
		out.SkillLevel = p.SkillLevel
		out.FrequentCollections = p.FrequentCollections
	}
	return out
}

// SetFeedback attaches thumbs-up/down feedback to a persisted record.
func (s *Service) SetFeedback(ctx context.Context, recordID, feedback string) error {
	if feedback != FeedbackPositive && feedback != FeedbackNegative {
		return fmt.Errorf("feedback must be %q or %q", FeedbackPositive, FeedbackNegative)
	}
	return s.store.SetFeedback(ctx, recordID, feedback)
}
