package services

import (
	"context"

	"github.com/Patraschu/mbtichatbotori/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*GenerateResult)
	return result, args.Error(1)
}

// stubRules is a fixed SegmentRules for patterns no built-in persona has.
type stubRules struct {
	pattern      CommaPattern
	keepsPeriods bool
	usesTypos    bool
}

func (s stubRules) CommaPattern(models.MBTIType) CommaPattern { return s.pattern }
func (s stubRules) KeepsPeriods(models.ChatbotConfig) bool { return s.keepsPeriods }
func (s stubRules) UsesTypos(models.Relationship) bool { return s.usesTypos }
